package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"gopkg.in/yaml.v3"
)

var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle     = lipgloss.NewStyle().Padding(0, 1)
	activeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	inactiveStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

// printOutput writes v as json, yaml, or the table rendering.
func printOutput(w io.Writer, format string, v any, render func() string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		// round trip through json so yaml keys follow the json tags
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return err
		}
		return enc.Close()
	case "table", "":
		_, err := fmt.Fprintln(w, render())
		return err
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func activeLabel(active bool) string {
	if active {
		return activeStyle.Render("active")
	}
	return inactiveStyle.Render("inactive")
}

func formatTime(seconds float64) string {
	if seconds == 0 {
		return "-"
	}
	sec := int64(seconds)
	return time.Unix(sec, int64((seconds-float64(sec))*1e9)).UTC().Format(time.RFC3339)
}

func formatFloatPtr(f *float64) string {
	if f == nil {
		return "-"
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

// Package hdsmodel maps data item keys to the platform streams and event
// types that hold them.
package hdsmodel

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

//go:embed model.json
var defaultCatalog []byte

var (
	ErrUnknownItem   = errors.New("unknown item key")
	ErrUnknownStream = errors.New("unknown stream")
)

// Item is one data item of the catalog.
type Item struct {
	Key       string `json:"-"`
	StreamID  string `json:"streamId"`
	EventType string `json:"eventType"`
	Label     string `json:"label"`
}

// StreamNode is a node of the catalog's stream tree.
type StreamNode struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Children []StreamNode `json:"children,omitempty"`
}

// StreamRef is a flat stream description, ready to be created on the platform.
type StreamRef struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	ParentID *string `json:"parentId"`
}

type catalog struct {
	Items   map[string]Item `json:"items"`
	Streams []StreamNode    `json:"streams"`
}

// Model is an immutable, parsed catalog.
type Model struct {
	items   map[string]Item
	streams map[string]StreamRef
}

// Default returns the embedded catalog.
func Default() (*Model, error) {
	return Parse(defaultCatalog)
}

// Parse builds a Model from catalog JSON.
func Parse(data []byte) (*Model, error) {
	var c catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("invalid model catalog: %w", err)
	}
	m := &Model{items: make(map[string]Item, len(c.Items)), streams: map[string]StreamRef{}}
	if err := m.index(c.Streams, nil); err != nil {
		return nil, err
	}
	for key, item := range c.Items {
		if _, ok := m.streams[item.StreamID]; !ok {
			return nil, fmt.Errorf("%w %q referenced by item %q", ErrUnknownStream, item.StreamID, key)
		}
		item.Key = key
		m.items[key] = item
	}
	return m, nil
}

func (m *Model) index(nodes []StreamNode, parent *string) error {
	for _, n := range nodes {
		if n.ID == "" {
			return errors.New("invalid model catalog: stream without id")
		}
		if _, dup := m.streams[n.ID]; dup {
			return fmt.Errorf("invalid model catalog: duplicate stream %q", n.ID)
		}
		m.streams[n.ID] = StreamRef{ID: n.ID, Name: n.Name, ParentID: parent}
		id := n.ID
		if err := m.index(n.Children, &id); err != nil {
			return err
		}
	}
	return nil
}

// Load reads a catalog from source: empty means the embedded catalog, an
// http(s) URL is fetched, anything else is read as a file path.
func Load(ctx context.Context, source string, client *http.Client) (*Model, error) {
	switch {
	case source == "":
		return Default()
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		if client == nil {
			client = http.DefaultClient
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed fetching model from %s: %w", source, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("failed fetching model from %s: status %d", source, resp.StatusCode)
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		return Parse(data)
	default:
		data, err := os.ReadFile(source)
		if err != nil {
			return nil, fmt.Errorf("failed reading model: %w", err)
		}
		return Parse(data)
	}
}

// Item looks up an item by key.
func (m *Model) Item(key string) (Item, bool) {
	item, ok := m.items[key]
	return item, ok
}

// StreamsForItems returns the streams needed to hold the given items,
// parents before children, each stream once.
func (m *Model) StreamsForItems(keys []string) ([]StreamRef, error) {
	var out []StreamRef
	seen := map[string]bool{}
	for _, key := range keys {
		item, ok := m.items[key]
		if !ok {
			return nil, fmt.Errorf("%w %q", ErrUnknownItem, key)
		}
		var chain []StreamRef
		for id := item.StreamID; ; {
			ref := m.streams[id]
			chain = append(chain, ref)
			if ref.ParentID == nil {
				break
			}
			id = *ref.ParentID
		}
		for i := len(chain) - 1; i >= 0; i-- {
			if seen[chain[i].ID] {
				continue
			}
			seen[chain[i].ID] = true
			out = append(out, chain[i])
		}
	}
	return out, nil
}

// RootStreamOf returns the top level ancestor of streamID.
func (m *Model) RootStreamOf(streamID string) (string, bool) {
	ref, ok := m.streams[streamID]
	if !ok {
		return "", false
	}
	for ref.ParentID != nil {
		ref = m.streams[*ref.ParentID]
	}
	return ref.ID, true
}

// Package cmd holds the bridgectl commands.
package cmd

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pilab-dev/bridge-hds/cmd/bridgectl/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// AppName is the CLI name, also used for its config file and env prefix.
const AppName = "bridgectl"

type options struct {
	v   *viper.Viper
	out io.Writer
}

func (o *options) client() (*client.Client, error) {
	server := o.v.GetString("server")
	if server == "" {
		return nil, errors.New("no bridge server configured, use --server or BRIDGECTL_SERVER")
	}
	httpClient := &http.Client{Timeout: o.v.GetDuration("timeout")}
	return client.New(server, o.v.GetString("token"), httpClient), nil
}

func (o *options) print(v any, table func() string) error {
	return printOutput(o.out, o.v.GetString("output"), v, table)
}

// NewRootCmd builds the command tree writing results to out.
func NewRootCmd(out io.Writer) *cobra.Command {
	o := &options{v: viper.New(), out: out}
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:           AppName,
		Short:         "bridgectl drives a bridge server from the partner side",
		Long:          `A command-line interface for onboarding partner users, inspecting and changing their status, and reading the bridge audit records.`,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig(o.v, cfgFile)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", fmt.Sprintf("config file (default is $HOME/.%s/config.yaml)", AppName))
	flags.String("server", "http://127.0.0.1:7432", "bridge base URL")
	flags.String("token", "", "partner auth token")
	flags.StringP("output", "o", "table", "output format: table, json or yaml")
	flags.Duration("timeout", 30*time.Second, "request timeout")
	for _, name := range []string{"server", "token", "output", "timeout"} {
		_ = o.v.BindPFlag(name, flags.Lookup(name))
	}

	rootCmd.AddCommand(
		newOnboardCmd(o),
		newUserCmd(o),
		newAccountCmd(o),
		newHealthCmd(o),
	)
	return rootCmd
}

func initConfig(v *viper.Viper, cfgFile string) error {
	v.SetEnvPrefix(strings.ToUpper(AppName))
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("$HOME/." + AppName)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("reading config: %w", err)
		}
	}
	return nil
}

func newHealthCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the bridge is serving",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := o.client()
			if err != nil {
				return err
			}
			if err := c.Health(cmd.Context()); err != nil {
				return err
			}
			_, err = fmt.Fprintln(o.out, "ok")
			return err
		},
	}
}

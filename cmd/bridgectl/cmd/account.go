package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/pilab-dev/bridge-hds/domain"
	"github.com/pilab-dev/bridge-hds/platform"
	"github.com/spf13/cobra"
)

func newAccountCmd(o *options) *cobra.Command {
	accountCmd := &cobra.Command{
		Use:   "account",
		Short: "Read the bridge account",
	}
	accountCmd.AddCommand(newAccountErrorsCmd(o), newAccountBootstrapCmd(o))
	return accountCmd
}

func newAccountErrorsCmd(o *options) *cobra.Command {
	var (
		fromTime, toTime float64
		limit            int
	)
	errorsCmd := &cobra.Command{
		Use:   "errors",
		Short: "List the audit records of failed onboardings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := o.client()
			if err != nil {
				return err
			}
			events, err := c.Errors(cmd.Context(), fromTime, toTime, limit)
			if err != nil {
				return err
			}
			return o.print(events, func() string {
				t := newTable("TIME", "MESSAGE", "DETAILS")
				for _, ev := range events {
					var record domain.ErrorRecord
					_ = ev.DecodeContent(&record)
					details, _ := json.Marshal(record.ErrorObject)
					t.Row(formatTime(ev.Time), record.Message, string(details))
				}
				return t.String()
			})
		},
	}
	errorsCmd.Flags().Float64Var(&fromTime, "from", 0, "only records after this epoch time (seconds)")
	errorsCmd.Flags().Float64Var(&toTime, "to", 0, "only records before this epoch time (seconds)")
	errorsCmd.Flags().IntVar(&limit, "limit", 0, "maximum number of records")
	return errorsCmd
}

// bootstrapResult is printed by account bootstrap.
type bootstrapResult struct {
	Username      string `json:"username"`
	UserCreated   bool   `json:"userCreated"`
	Password      string `json:"password,omitempty"`
	AccessCreated bool   `json:"accessCreated"`
	APIEndpoint   string `json:"apiEndpoint"`
}

func newAccountBootstrapCmd(o *options) *cobra.Command {
	bootstrapCmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Create the bridge platform user if needed and print its bridge_api_endpoint",
		Long: `Logs in to the bridge user on the platform, or registers it when the username is free,
then finds or creates the app access named after the bridge app id with manage on every stream.
The printed apiEndpoint is the bridge_api_endpoint of the server configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			serviceInfoURL := o.v.GetString("service-info-url")
			appID := o.v.GetString("app-id")
			username := o.v.GetString("username")
			password := o.v.GetString("password")
			if serviceInfoURL == "" || appID == "" || username == "" {
				return errors.New("--service-info-url, --app-id and --username are required")
			}

			ctx := cmd.Context()
			svc := platform.NewService(serviceInfoURL, &http.Client{Timeout: o.v.GetDuration("timeout")})
			res := bootstrapResult{Username: username}

			exists, err := svc.UserExists(ctx, username)
			if err != nil {
				return err
			}
			var personalEndpoint string
			if exists {
				if password == "" {
					return errors.New("--password is required to log in to an existing user")
				}
				personalEndpoint, err = svc.Login(ctx, username, password, appID+"-personal")
				if err != nil {
					return err
				}
			} else {
				created, err := svc.CreateUser(ctx, platform.NewUser{
					AppID:    appID,
					Username: username,
					Password: password,
					Email:    o.v.GetString("email"),
				})
				if err != nil {
					return err
				}
				personalEndpoint = created.APIEndpoint
				res.UserCreated = true
				if password == "" {
					res.Password = created.Password
				}
			}

			conn, err := platform.NewConnection(personalEndpoint, nil)
			if err != nil {
				return err
			}
			access, created, err := platform.EnsureAppAccess(ctx, conn, appID)
			if err != nil {
				return err
			}
			res.AccessCreated = created
			res.APIEndpoint = access.APIEndpoint

			return o.print(res, func() string {
				t := newTable("USER", "USER CREATED", "ACCESS CREATED", "API ENDPOINT").
					Row(res.Username, fmt.Sprint(res.UserCreated), fmt.Sprint(res.AccessCreated), res.APIEndpoint)
				if res.Password != "" {
					return t.String() + "\ngenerated password: " + res.Password
				}
				return t.String()
			})
		},
	}

	flags := bootstrapCmd.Flags()
	flags.String("service-info-url", "", "platform service info URL")
	flags.String("app-id", "", "bridge app id, also the name of the app access")
	flags.String("username", "", "bridge platform username")
	flags.String("password", "", "bridge platform password, generated for a new user when empty")
	flags.String("email", "", "email of a new user")
	for _, name := range []string{"service-info-url", "app-id", "username", "password", "email"} {
		_ = o.v.BindPFlag(name, flags.Lookup(name))
	}
	return bootstrapCmd
}

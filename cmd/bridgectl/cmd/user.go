package cmd

import (
	"fmt"

	"github.com/pilab-dev/bridge-hds/domain"
	"github.com/spf13/cobra"
)

func newUserCmd(o *options) *cobra.Command {
	userCmd := &cobra.Command{
		Use:     "user",
		Short:   "Inspect and manage onboarded users",
		Aliases: []string{"users"},
	}
	userCmd.AddCommand(
		newUserStatusCmd(o),
		newUserSetStatusCmd(o, "activate", true),
		newUserSetStatusCmd(o, "deactivate", false),
		newUserListCmd(o),
	)
	return userCmd
}

func newUserStatusCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status <partnerUserId>",
		Short: "Show a user's status and last synchronization",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.client()
			if err != nil {
				return err
			}
			status, err := c.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return o.print(status, func() string {
				return newTable("USER", "STATUS", "API ENDPOINT", "CREATED", "LAST SYNC").
					Row(status.User.PartnerUserID, activeLabel(status.User.Active), status.User.APIEndpoint,
						formatTime(status.User.Created), formatFloatPtr(status.SyncStatus.LastSync)).
					String()
			})
		},
	}
}

func newUserSetStatusCmd(o *options, use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <partnerUserId>",
		Short: fmt.Sprintf("Mark a user %s", activeWord(active)),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.client()
			if err != nil {
				return err
			}
			state, err := c.SetStatus(cmd.Context(), args[0], active)
			if err != nil {
				return err
			}
			res := map[string]any{"partnerUserId": args[0], "active": state}
			return o.print(res, func() string {
				return fmt.Sprintf("%s is now %s", args[0], activeLabel(state))
			})
		},
	}
}

func activeWord(active bool) string {
	if active {
		return "active"
	}
	return "inactive"
}

func newUserListCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every onboarded user with its API endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := o.client()
			if err != nil {
				return err
			}
			users, err := c.Users(cmd.Context())
			if err != nil {
				return err
			}
			if users == nil {
				users = []domain.UserInfo{}
			}
			return o.print(users, func() string {
				t := newTable("USER", "STATUS", "API ENDPOINT", "MODIFIED")
				for _, u := range users {
					t.Row(u.PartnerUserID, activeLabel(u.Active), u.APIEndpoint, formatTime(u.Modified))
				}
				return t.String()
			})
		},
	}
}

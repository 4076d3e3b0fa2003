package cmd

import (
	"fmt"
	"strings"

	"github.com/pilab-dev/bridge-hds/cmd/bridgectl/client"
	"github.com/pilab-dev/bridge-hds/domain"
	"github.com/spf13/cobra"
)

func newOnboardCmd(o *options) *cobra.Command {
	var (
		success, cancel string
		clientData      []string
	)
	onboardCmd := &cobra.Command{
		Use:   "onboard <partnerUserId>",
		Short: "Start onboarding a user and print the consent URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := parseKeyValues(clientData)
			if err != nil {
				return err
			}
			c, err := o.client()
			if err != nil {
				return err
			}
			res, err := c.Onboard(cmd.Context(), client.OnboardRequest{
				PartnerUserID: args[0],
				RedirectURLs:  domain.RedirectURLs{Success: success, Cancel: cancel},
				ClientData:    data,
			})
			if err != nil {
				return err
			}
			return o.print(res, func() string {
				if res.Type == domain.OnboardTypeUserExists && res.User != nil {
					return fmt.Sprintf("%s is already onboarded (%s)", args[0], activeLabel(res.User.Active))
				}
				return newTable("USER", "ONBOARDING SECRET", "CONSENT URL").
					Row(args[0], res.OnboardingSecret, res.RedirectUserURL).
					String()
			})
		},
	}
	onboardCmd.Flags().StringVar(&success, "success", "", "redirect URL after consent (required)")
	onboardCmd.Flags().StringVar(&cancel, "cancel", "", "redirect URL after refusal (required)")
	onboardCmd.Flags().StringArrayVar(&clientData, "client-data", nil, "key=value echoed back in the webhooks, repeatable")
	_ = onboardCmd.MarkFlagRequired("success")
	_ = onboardCmd.MarkFlagRequired("cancel")
	return onboardCmd
}

func parseKeyValues(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --client-data %q, expected key=value", p)
		}
		out[k] = v
	}
	return out, nil
}

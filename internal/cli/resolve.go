package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"alchemy/internal/identity"
)

func newResolveCommand(a *app) *cobra.Command {
	var (
		kind  string
		attrs map[string]string
	)
	cmd := &cobra.Command{
		Use:   "resolve <experiment>",
		Short: "Resolve the treatment an identity receives",
		Long: `Resolve the active treatment of an experiment for one identity.

Examples:
  alchemy resolve checkout --type user --attr name=alice
  alchemy resolve onboarding --type device --attr id=abc123`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := identity.DefaultRegistry().New(kind, attrs)
			if err != nil {
				return err
			}
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				t, ok, err := s.experiments.GetActiveTreatment(ctx, args[0], id)
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "no treatment")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), t.Name)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kind, "type", identity.TypeUser, "identity type")
	cmd.Flags().StringToStringVar(&attrs, "attr", nil, "identity attribute as key=value (repeatable)")
	return cmd
}

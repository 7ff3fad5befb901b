package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"alchemy/internal/archive"
)

func newExportCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export <key>",
		Short: "Write every experiment to the archive under key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dst, err := archive.Open(cmd.Context(), a.cfg.Archive)
			if err != nil {
				return err
			}
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				doc, info, err := archive.Export(ctx, s.experiments, dst, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "exported %d experiments to %s (%d bytes, id %s)\n", len(doc.Experiments), info.Key, info.Size, doc.ID)
				return nil
			})
		},
	}
}

func newImportCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <key>",
		Short: "Save every experiment of an archived document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := archive.Open(cmd.Context(), a.cfg.Archive)
			if err != nil {
				return err
			}
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				saved, err := archive.Import(ctx, src, args[0], s.experiments)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d experiments from %s\n", len(saved), args[0])
				return nil
			})
		},
	}
}

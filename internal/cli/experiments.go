package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"alchemy/internal/api"
)

func newExperimentsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "experiments",
		Aliases: []string{"exp"},
		Short:   "Manage experiments",
	}
	cmd.AddCommand(newListCommand(a), newApplyCommand(a), newDeleteCommand(a))
	return cmd
}

func newListCommand(a *app) *cobra.Command {
	var (
		filters       []string
		sort          string
		offset, limit int
		asJSON        bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List experiments",
		Long: `List experiments in store order.

Examples:
  alchemy experiments list --filter active=true --sort -created
  alchemy experiments list --filter name=checkout --limit 10 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			values := url.Values{}
			for _, f := range filters {
				k, v, ok := strings.Cut(f, "=")
				if !ok || k == "" {
					return fmt.Errorf("invalid filter %q, want key=value", f)
				}
				values.Add(k, v)
			}
			if sort != "" {
				values.Set("sort", sort)
			}
			if cmd.Flags().Changed("offset") {
				values.Set("offset", strconv.Itoa(offset))
			}
			if cmd.Flags().Changed("limit") {
				values.Set("limit", strconv.Itoa(limit))
			}
			q, err := api.ParseQuery(values)
			if err != nil {
				return err
			}
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				found, err := s.experiments.Find(ctx, q)
				if err != nil {
					return err
				}
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(found)
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tACTIVE\tIDENTITY\tTREATMENTS\tALLOCATED\tSEQUENCE")
				for _, e := range found {
					identity := e.IdentityType
					if identity == "" {
						identity = "*"
					}
					fmt.Fprintf(w, "%s\t%t\t%s\t%d\t%d\t%d\n", e.Name, e.Active, identity, len(e.Treatments), e.AllocatedWeight(), e.Sequence)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().StringArrayVar(&filters, "filter", nil, "filter as field=value (name, description, identity_type, active)")
	cmd.Flags().StringVar(&sort, "sort", "", "comma separated sort fields, '-' prefix for descending")
	cmd.Flags().IntVar(&offset, "offset", 0, "stored experiments to skip before filtering")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of results")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newApplyCommand(a *app) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "apply <name>",
		Short: "Create or replace an experiment from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read %s: %w", file, err)
			}
			var req api.ExperimentRequest
			if err := json.Unmarshal(data, &req); err != nil {
				return fmt.Errorf("decode %s: %w", file, err)
			}
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				saved, err := s.experiments.Save(ctx, req.Experiment(args[0]))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "saved %s (sequence %d)\n", saved.Name, saved.Sequence)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "experiment JSON file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newDeleteCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete an experiment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				if err := s.experiments.Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return nil
			})
		},
	}
}

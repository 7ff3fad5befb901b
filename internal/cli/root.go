// Package cli implements the alchemy command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"alchemy/internal/cache"
	"alchemy/internal/config"
	"alchemy/internal/core"
	"alchemy/pkg/domain"
)

type app struct {
	configPath string
	cfg        config.Config
	logger     *slog.Logger
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "alchemy",
		Short: "Experiment treatment assignment service",
		Long: `alchemy stores experiment definitions and resolves, for any identity,
which treatment of each active experiment applies.

Configuration is read from --config (YAML) and ALCHEMY_* environment variables.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = cfg.Log.NewLogger(cmd.ErrOrStderr())
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to a YAML config file")
	root.AddCommand(
		newServeCommand(a),
		newExperimentsCommand(a),
		newResolveCommand(a),
		newExportCommand(a),
		newImportCommand(a),
	)
	return root
}

// session is an opened store with the facade over it.
type session struct {
	store       domain.ExperimentStore
	experiments *core.Experiments
}

func (s *session) Close() error {
	return errors.Join(s.experiments.Close(), s.store.Close())
}

func (a *app) open(ctx context.Context, reg prometheus.Registerer) (*session, error) {
	store, err := core.OpenStore(ctx, a.cfg.Storage, a.logger)
	if err != nil {
		return nil, err
	}
	x, err := core.New(ctx, store,
		core.WithRefreshStrategy(strategy(a.cfg.Refresh)),
		core.WithLogger(a.logger),
		core.WithRegisterer(reg),
	)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return &session{store: store, experiments: x}, nil
}

func strategy(cfg config.Refresh) cache.Strategy {
	switch cfg.Strategy {
	case config.RefreshNone:
		return cache.NoRefresh{}
	case config.RefreshPeriodic:
		return cache.NewPeriodicRefresh(cfg.Interval)
	default:
		return cache.RefreshOnStale{}
	}
}

func (a *app) withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) (err error) {
	ctx := cmd.Context()
	s, err := a.open(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close: %w", cerr)
		}
	}()
	return fn(ctx, s)
}

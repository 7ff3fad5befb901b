package core

import (
	"context"
	"fmt"
	"log/slog"

	"alchemy/internal/config"
	badgerstore "alchemy/internal/infra/persistence/badger"
	"alchemy/internal/infra/persistence/memory"
	"alchemy/internal/infra/persistence/postgres"
	"alchemy/internal/infra/persistence/sqlite"
	"alchemy/pkg/domain"
)

// StorageDriver identifies a concrete experiment store implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = config.DriverMemory   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = config.DriverSQLite   // embedded sqlite file
	StoragePostgres StorageDriver = config.DriverPostgres // PostgreSQL server
	StorageBadger   StorageDriver = config.DriverBadger   // embedded BadgerDB directory
)

// OpenStore selects a backend from cfg. An empty driver defaults to sqlite.
// The logger receives badger's internal output and may be nil.
func OpenStore(ctx context.Context, cfg config.Storage, logger *slog.Logger) (domain.ExperimentStore, error) {
	driver := StorageDriver(cfg.Driver)
	if driver == "" {
		driver = StorageSQLite
	}
	var (
		store domain.ExperimentStore
		err   error
	)
	switch driver {
	case StorageMemory:
		return memory.NewStore(), nil
	case StorageSQLite:
		store, err = sqlite.NewStore(ctx, cfg.SQLitePath)
	case StoragePostgres:
		store, err = postgres.NewStore(ctx, cfg.PostgresDSN)
	case StorageBadger:
		bc := badgerstore.DefaultConfig(cfg.BadgerPath)
		if cfg.BadgerInMemory {
			bc = badgerstore.InMemoryConfig()
		}
		bc.Logger = logger
		store, err = badgerstore.NewStore(bc)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}
	return store, nil
}

// Package config loads process configuration from an optional YAML file and
// ALCHEMY_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverBadger   = "badger"
)

// Refresh strategies.
const (
	RefreshNone     = "none"
	RefreshOnStale  = "on_stale"
	RefreshPeriodic = "periodic"
)

// Archive drivers.
const (
	ArchiveFS     = "fs"
	ArchiveMemory = "memory"
	ArchiveS3     = "s3"
)

// Config is the root configuration.
type Config struct {
	Log     Log     `yaml:"log"`
	Storage Storage `yaml:"storage"`
	Refresh Refresh `yaml:"refresh"`
	HTTP    HTTP    `yaml:"http"`
	Archive Archive `yaml:"archive"`
}

// Log selects the slog handler.
type Log struct {
	Level  string `yaml:"level"  env:"ALCHEMY_LOG_LEVEL"`
	Format string `yaml:"format" env:"ALCHEMY_LOG_FORMAT"`
}

// Storage selects and configures the experiment store.
type Storage struct {
	Driver         string `yaml:"driver"           env:"ALCHEMY_STORAGE_DRIVER"`
	SQLitePath     string `yaml:"sqlite_path"      env:"ALCHEMY_SQLITE_PATH"`
	PostgresDSN    string `yaml:"postgres_dsn"     env:"ALCHEMY_POSTGRES_DSN"`
	BadgerPath     string `yaml:"badger_path"      env:"ALCHEMY_BADGER_PATH"`
	BadgerInMemory bool   `yaml:"badger_in_memory" env:"ALCHEMY_BADGER_IN_MEMORY"`
}

// Refresh selects the cache refresh strategy.
type Refresh struct {
	Strategy string        `yaml:"strategy" env:"ALCHEMY_REFRESH_STRATEGY"`
	Interval time.Duration `yaml:"interval" env:"ALCHEMY_REFRESH_INTERVAL"`
}

// HTTP configures the API listener.
type HTTP struct {
	Addr            string        `yaml:"addr"             env:"ALCHEMY_HTTP_ADDR"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"ALCHEMY_HTTP_SHUTDOWN_TIMEOUT"`
}

// Archive configures where export documents are written.
type Archive struct {
	Driver       string `yaml:"driver"         env:"ALCHEMY_ARCHIVE_DRIVER"`
	Root         string `yaml:"root"           env:"ALCHEMY_ARCHIVE_ROOT"`
	Bucket       string `yaml:"bucket"         env:"ALCHEMY_ARCHIVE_S3_BUCKET"`
	Region       string `yaml:"region"         env:"ALCHEMY_ARCHIVE_S3_REGION"`
	Endpoint     string `yaml:"endpoint"       env:"ALCHEMY_ARCHIVE_S3_ENDPOINT"`
	Prefix       string `yaml:"prefix"         env:"ALCHEMY_ARCHIVE_S3_PREFIX"`
	UsePathStyle bool   `yaml:"use_path_style" env:"ALCHEMY_ARCHIVE_S3_PATH_STYLE"`
	AccessKey    string `yaml:"access_key"     env:"ALCHEMY_ARCHIVE_S3_ACCESS_KEY"`
	SecretKey    string `yaml:"secret_key"     env:"ALCHEMY_ARCHIVE_S3_SECRET_KEY"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Log:     Log{Level: "info", Format: "text"},
		Storage: Storage{Driver: DriverSQLite, SQLitePath: "alchemy.db"},
		Refresh: Refresh{Strategy: RefreshOnStale, Interval: time.Minute},
		HTTP:    HTTP{Addr: ":8080", ShutdownTimeout: 10 * time.Second},
		Archive: Archive{Driver: ArchiveFS, Root: "./archive"},
	}
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config %s: %w", path, err)
		}
	}
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseEnv applies environment variables onto target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate reports unknown drivers and strategies.
func (c Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case DriverMemory, DriverSQLite, DriverPostgres:
	case DriverBadger:
		if c.Storage.BadgerPath == "" && !c.Storage.BadgerInMemory {
			errs = append(errs, errors.New("storage: badger_path required unless badger_in_memory is set"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage: unknown driver %q", c.Storage.Driver))
	}
	switch c.Refresh.Strategy {
	case RefreshNone, RefreshOnStale:
	case RefreshPeriodic:
		if c.Refresh.Interval <= 0 {
			errs = append(errs, errors.New("refresh: periodic strategy requires a positive interval"))
		}
	default:
		errs = append(errs, fmt.Errorf("refresh: unknown strategy %q", c.Refresh.Strategy))
	}
	switch c.Archive.Driver {
	case ArchiveFS, ArchiveMemory:
	case ArchiveS3:
		if c.Archive.Bucket == "" {
			errs = append(errs, errors.New("archive: s3 driver requires a bucket"))
		}
	default:
		errs = append(errs, fmt.Errorf("archive: unknown driver %q", c.Archive.Driver))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log: unknown format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alchemy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  driver: badger
  badger_path: /var/lib/alchemy
refresh:
  strategy: periodic
  interval: 30s
http:
  addr: ":9090"
`), 0o600))
	t.Setenv("ALCHEMY_HTTP_ADDR", ":7070")
	t.Setenv("ALCHEMY_LOG_FORMAT", "json")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DriverBadger, cfg.Storage.Driver)
	assert.Equal(t, "/var/lib/alchemy", cfg.Storage.BadgerPath)
	assert.Equal(t, RefreshPeriodic, cfg.Refresh.Strategy)
	assert.Equal(t, 30*time.Second, cfg.Refresh.Interval)
	assert.Equal(t, ":7070", cfg.HTTP.Addr, "env overrides file")
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "alchemy.db", cfg.Storage.SQLitePath, "unset keys keep defaults")
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("ALCHEMY_STORAGE_DRIVER", "cassandra")
	t.Setenv("ALCHEMY_REFRESH_STRATEGY", "sometimes")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver")
	assert.Contains(t, err.Error(), "unknown strategy")
}

func TestValidateDriverRequirements(t *testing.T) {
	cfg := Default()
	cfg.Storage.Driver = DriverBadger
	assert.Error(t, cfg.Validate())
	cfg.Storage.BadgerInMemory = true
	assert.NoError(t, cfg.Validate())

	cfg.Archive.Driver = ArchiveS3
	assert.Error(t, cfg.Validate())
	cfg.Archive.Bucket = "exports"
	assert.NoError(t, cfg.Validate())

	cfg.Refresh = Refresh{Strategy: RefreshPeriodic}
	assert.Error(t, cfg.Validate())
}

func TestLoadMissingAndMalformedFiles(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage: [unterminated"), 0o600))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestEnvParseError(t *testing.T) {
	t.Setenv("ALCHEMY_REFRESH_INTERVAL", "soon")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	Log{Level: "debug", Format: "json"}.NewLogger(&buf).Debug("hello", "k", "v")
	assert.Contains(t, buf.String(), `"msg":"hello"`)

	buf.Reset()
	Log{Level: "warn", Format: "text"}.NewLogger(&buf).Info("suppressed")
	assert.Empty(t, buf.String())

	assert.Equal(t, parseLevel("bogus"), parseLevel("info"))
}

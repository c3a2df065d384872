package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 25, cfg.Store.MaxOpenConns)
	assert.Equal(t, "redis://localhost:6379", cfg.Redis.URL)
	assert.Equal(t, "nota:events", cfg.Redis.Stream)
	assert.Equal(t, "ledger", cfg.Projector.SourceName)
	assert.Equal(t, 256, cfg.Projector.BatchSize)
	assert.Equal(t, 2*time.Second, cfg.Projector.PollInterval)
	assert.False(t, cfg.Projector.Strict)
	assert.True(t, cfg.Invariant.Enabled)
	assert.Equal(t, 8081, cfg.Server.AdminPort)
	assert.Equal(t, 9090, cfg.Server.MetricsPort)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("BATCH_SIZE", "64")
	t.Setenv("POLL_INTERVAL", "500ms")
	t.Setenv("STRICT_MODE", "true")
	t.Setenv("SOURCE_NAME", "mainnet")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 64, cfg.Projector.BatchSize)
	assert.Equal(t, 500*time.Millisecond, cfg.Projector.PollInterval)
	assert.True(t, cfg.Projector.Strict)
	assert.Equal(t, "mainnet", cfg.Projector.SourceName)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  driver: memory
projector:
  batch_size: 32
  strict: true
alert:
  cooldown: 90s
`), 0o644))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 32, cfg.Projector.BatchSize)
	assert.True(t, cfg.Projector.Strict)
	assert.Equal(t, 90*time.Second, cfg.Alert.Cooldown)
	// Untouched sections keep defaults.
	assert.Equal(t, "nota:events", cfg.Redis.Stream)
}

func TestLoad_EnvBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
projector:
  batch_size: 32
`), 0o644))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("BATCH_SIZE", "512")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 512, cfg.Projector.BatchSize)
}

func TestLoad_MissingConfigFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := Load()
	require.Error(t, err)
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store: [not a mapping"), 0o644))
	t.Setenv("CONFIG_FILE", path)

	_, err := Load()
	require.Error(t, err)
}

func TestValidate_UnknownDriver(t *testing.T) {
	t.Setenv("STORE_DRIVER", "cassandra")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store driver")
}

func TestValidate_MemoryDriverNeedsNoURL(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("DB_URL", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Driver)
}

func TestValidate_BadBatchSize(t *testing.T) {
	t.Setenv("BATCH_SIZE", "-1")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BATCH_SIZE")
}

func TestEnvParsing_FallbackOnGarbage(t *testing.T) {
	t.Setenv("BATCH_SIZE", "lots")
	t.Setenv("POLL_INTERVAL", "soon")
	t.Setenv("STRICT_MODE", "maybe")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 256, cfg.Projector.BatchSize)
	assert.Equal(t, 2*time.Second, cfg.Projector.PollInterval)
	assert.False(t, cfg.Projector.Strict)
}

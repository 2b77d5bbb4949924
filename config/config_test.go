package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/tabledger/errors"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	storeCfg := cfg.StoreConfig()
	assert.Equal(t, 10000, storeCfg.RetentionCeiling)
	assert.Equal(t, 5*time.Minute, storeCfg.QueryCache.TTL)
	assert.Equal(t, 1024, cfg.PersistConfig().QueueSize)
	assert.Equal(t, 30*time.Second, cfg.Backend.SyncInterval.Std())
	assert.Equal(t, "tabledger.db", cfg.Backend.LocalPath)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Nil(t, cfg.RemoteConfig(), "remote tier disabled by default")
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfigFile(t, `
store:
  retention_ceiling: 500
  cache_ttl: 1m
persist:
  queue_size: 64
  max_retries: 5
backend:
  remote_enabled: true
  remote:
    url: nats://stage:4222
    bucket: staging_events
  local_path: /var/lib/tabledger/events.db
  sync_interval: 10s
log:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	storeCfg := cfg.StoreConfig()
	assert.Equal(t, 500, storeCfg.RetentionCeiling)
	assert.Equal(t, time.Minute, storeCfg.QueryCache.TTL)

	persistCfg := cfg.PersistConfig()
	assert.Equal(t, 64, persistCfg.QueueSize)
	assert.Equal(t, 5, persistCfg.Retry.MaxRetries)

	remote := cfg.RemoteConfig()
	require.NotNil(t, remote)
	assert.Equal(t, "nats://stage:4222", remote.URL)
	assert.Equal(t, "staging_events", remote.Bucket)

	assert.Equal(t, "/var/lib/tabledger/events.db", cfg.Backend.LocalPath)
	assert.Equal(t, 10*time.Second, cfg.Backend.SyncInterval.Std())
	assert.Equal(t, slog.LevelDebug, cfg.Log.SlogLevel())
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
backend:
  local_path: /from/file.db
  sync_interval: 1m
log:
  level: info
`)
	t.Setenv("TABLEDGER_LOCAL_PATH", "/from/env.db")
	t.Setenv("TABLEDGER_LOG_LEVEL", "warn")
	t.Setenv("TABLEDGER_SYNC_INTERVAL", "45s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/from/env.db", cfg.Backend.LocalPath)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 45*time.Second, cfg.Backend.SyncInterval.Std())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestLoadMalformedFile(t *testing.T) {
	path := writeConfigFile(t, "store: [not a mapping")
	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfigFile(t, "store:\n  cache_ttl: soon\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative ceiling", func(c *Config) { c.Store.RetentionCeiling = -1 }},
		{"negative sync interval", func(c *Config) { c.Backend.SyncInterval = Duration(-time.Second) }},
		{"unknown log level", func(c *Config) { c.Log.Level = "loud" }},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.ApplyDefaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestSlogLevelMapping(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, (&LogConfig{Level: "debug"}).SlogLevel())
	assert.Equal(t, slog.LevelWarn, (&LogConfig{Level: "warn"}).SlogLevel())
	assert.Equal(t, slog.LevelError, (&LogConfig{Level: "error"}).SlogLevel())
	assert.Equal(t, slog.LevelInfo, (&LogConfig{Level: "anything"}).SlogLevel())
}

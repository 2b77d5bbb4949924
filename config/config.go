// Package config loads the process configuration: YAML file first, then
// environment overrides, then defaults for anything still unset. The file
// structs here are the serialization boundary; accessors convert them into
// the domain packages' own config types.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/c360/tabledger/backend/natsstore"
	"github.com/c360/tabledger/errors"
	"github.com/c360/tabledger/persist"
	"github.com/c360/tabledger/store"
)

// Duration wraps time.Duration so YAML can carry values like "30s" or "5m".
type Duration time.Duration

// UnmarshalYAML decodes either a Go duration string or integer nanoseconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration value on line %d", value.Line)
	}
	*d = Duration(n)
	return nil
}

// UnmarshalText supports environment-variable overrides like "45s".
func (d *Duration) UnmarshalText(b []byte) error {
	parsed, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(b), err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full process configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Persist PersistConfig `yaml:"persist"`
	Backend BackendConfig `yaml:"backend"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

// StoreConfig tunes the in-memory store.
type StoreConfig struct {
	RetentionCeiling int      `yaml:"retention_ceiling" env:"TABLEDGER_RETENTION_CEILING"`
	CacheTTL         Duration `yaml:"cache_ttl" env:"TABLEDGER_CACHE_TTL"`
	CacheSweep       Duration `yaml:"cache_sweep" env:"TABLEDGER_CACHE_SWEEP"`
	CacheMetrics     bool     `yaml:"cache_metrics" env:"TABLEDGER_CACHE_METRICS"`
}

// PersistConfig tunes the durable-write dispatcher.
type PersistConfig struct {
	QueueSize      int      `yaml:"queue_size" env:"TABLEDGER_PERSIST_QUEUE_SIZE"`
	DeadLetterSize int      `yaml:"dead_letter_size" env:"TABLEDGER_PERSIST_DEAD_LETTER_SIZE"`
	WriteTimeout   Duration `yaml:"write_timeout" env:"TABLEDGER_PERSIST_WRITE_TIMEOUT"`
	MaxRetries     int      `yaml:"max_retries" env:"TABLEDGER_PERSIST_MAX_RETRIES"`
	InitialDelay   Duration `yaml:"initial_delay"`
	MaxDelay       Duration `yaml:"max_delay"`
}

// BackendConfig selects and tunes the durable tiers.
type BackendConfig struct {
	// RemoteEnabled turns the NATS tier on. When off, hydration starts at
	// the local tier.
	RemoteEnabled bool         `yaml:"remote_enabled" env:"TABLEDGER_REMOTE_ENABLED"`
	Remote        RemoteConfig `yaml:"remote"`

	// LocalPath is the bbolt file. Empty disables the local tier.
	LocalPath string `yaml:"local_path" env:"TABLEDGER_LOCAL_PATH"`

	// SyncInterval is the background redelivery cadence.
	SyncInterval Duration `yaml:"sync_interval" env:"TABLEDGER_SYNC_INTERVAL"`
}

// RemoteConfig tunes the NATS tier.
type RemoteConfig struct {
	URL            string   `yaml:"url" env:"TABLEDGER_NATS_URL"`
	Bucket         string   `yaml:"bucket" env:"TABLEDGER_NATS_BUCKET"`
	ConnectTimeout Duration `yaml:"connect_timeout" env:"TABLEDGER_NATS_TIMEOUT"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"TABLEDGER_METRICS_ENABLED"`
	Addr    string `yaml:"addr" env:"TABLEDGER_METRICS_ADDR"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level" env:"TABLEDGER_LOG_LEVEL"`
	Format string `yaml:"format" env:"TABLEDGER_LOG_FORMAT"` // "json" or "text"
}

// Load reads the YAML file at path (optional: empty path skips the file),
// applies environment overrides, then defaults and validation.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "config", "Load", "read config file")
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapInvalid(err, "config", "Load", "parse config file")
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, errors.WrapInvalid(err, "config", "Load", "apply environment overrides")
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills in zero-valued fields across all sections
func (c *Config) ApplyDefaults() {
	if c.Backend.SyncInterval == 0 {
		c.Backend.SyncInterval = Duration(30 * time.Second)
	}
	if c.Backend.LocalPath == "" && !c.Backend.RemoteEnabled {
		c.Backend.LocalPath = "tabledger.db"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9090"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate checks every section by building the domain configs and running
// their own validation.
func (c *Config) Validate() error {
	storeCfg := c.StoreConfig()
	if err := storeCfg.Validate(); err != nil {
		return err
	}
	persistCfg := c.PersistConfig()
	if err := persistCfg.Validate(); err != nil {
		return err
	}
	if c.Backend.SyncInterval <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("sync interval must be positive, got %v", c.Backend.SyncInterval.Std()),
			"config", "Validate", "backend validation")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return errors.WrapInvalid(
			fmt.Errorf("unknown log level %q", c.Log.Level),
			"config", "Validate", "log validation")
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return errors.WrapInvalid(
			fmt.Errorf("unknown log format %q", c.Log.Format),
			"config", "Validate", "log validation")
	}
	return nil
}

// StoreConfig converts the store section to the store package's config,
// with defaults applied.
func (c *Config) StoreConfig() store.Config {
	cfg := store.Config{
		RetentionCeiling: c.Store.RetentionCeiling,
		QueryCache: store.QueryCacheConfig{
			TTL:           c.Store.CacheTTL.Std(),
			SweepInterval: c.Store.CacheSweep.Std(),
			Metrics:       c.Store.CacheMetrics,
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// PersistConfig converts the persist section to the persist package's
// config, with defaults applied.
func (c *Config) PersistConfig() persist.Config {
	cfg := persist.Config{
		QueueSize:      c.Persist.QueueSize,
		DeadLetterSize: c.Persist.DeadLetterSize,
		WriteTimeout:   c.Persist.WriteTimeout.Std(),
	}
	if c.Persist.MaxRetries != 0 || c.Persist.InitialDelay != 0 || c.Persist.MaxDelay != 0 {
		cfg.Retry = errors.DefaultRetryConfig()
		if c.Persist.MaxRetries != 0 {
			cfg.Retry.MaxRetries = c.Persist.MaxRetries
		}
		if c.Persist.InitialDelay != 0 {
			cfg.Retry.InitialDelay = c.Persist.InitialDelay.Std()
		}
		if c.Persist.MaxDelay != 0 {
			cfg.Retry.MaxDelay = c.Persist.MaxDelay.Std()
		}
	}
	cfg.ApplyDefaults()
	return cfg
}

// RemoteConfig converts the remote section to the natsstore config, or nil
// when the remote tier is disabled.
func (c *Config) RemoteConfig() *natsstore.Config {
	if !c.Backend.RemoteEnabled {
		return nil
	}
	cfg := &natsstore.Config{
		URL:            c.Backend.Remote.URL,
		Bucket:         c.Backend.Remote.Bucket,
		ConnectTimeout: c.Backend.Remote.ConnectTimeout.Std(),
	}
	cfg.ApplyDefaults()
	return cfg
}

// SlogLevel maps the configured level to slog.
func (c *LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the process logger from the log section.
func (c *LogConfig) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if strings.ToLower(c.Format) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

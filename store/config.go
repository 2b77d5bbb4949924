package store

import (
	"fmt"
	"time"

	"github.com/c360/tabledger/errors"
)

// Config configures the event store
type Config struct {
	// RetentionCeiling bounds the number of events held in memory. Once the
	// log grows past the ceiling the oldest events are evicted. Durable
	// history is unaffected.
	RetentionCeiling int `json:"retention_ceiling" yaml:"retention_ceiling"`

	// Query cache settings
	QueryCache QueryCacheConfig `json:"query_cache" yaml:"query_cache"`
}

// QueryCacheConfig configures the memoization layer over the indexes
type QueryCacheConfig struct {
	// TTL is the time-based expiry for cached query results. Entries older
	// than this are recomputed even when no dependency was touched.
	TTL time.Duration `json:"ttl" yaml:"ttl"`

	// SweepInterval is how often the background sweep discards expired
	// entries, bounding cache growth from one-shot date-range queries.
	SweepInterval time.Duration `json:"sweep_interval" yaml:"sweep_interval"`

	// Metrics enables Prometheus export of the cache statistics.
	Metrics bool `json:"metrics" yaml:"metrics"`
}

// ApplyDefaults fills in zero-valued fields with production defaults
func (c *Config) ApplyDefaults() {
	if c.RetentionCeiling == 0 {
		c.RetentionCeiling = 10000
	}
	if c.QueryCache.TTL == 0 {
		c.QueryCache.TTL = 5 * time.Minute
	}
	if c.QueryCache.SweepInterval == 0 {
		c.QueryCache.SweepInterval = 30 * time.Second
	}
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	if c.RetentionCeiling < 1 {
		return errors.WrapInvalid(
			fmt.Errorf("retention ceiling must be positive, got %d", c.RetentionCeiling),
			"store", "Validate", "config validation")
	}
	if c.QueryCache.TTL < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("query cache TTL cannot be negative, got %v", c.QueryCache.TTL),
			"store", "Validate", "config validation")
	}
	if c.QueryCache.SweepInterval < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("sweep interval cannot be negative, got %v", c.QueryCache.SweepInterval),
			"store", "Validate", "config validation")
	}
	return nil
}

package store

import (
	"context"
	"sync"

	"github.com/c360/tabledger/event"
	"github.com/c360/tabledger/metric"
	"github.com/c360/tabledger/pkg/cache"
)

// Dependency key namespaces. A cached query result records every key it
// consulted; touching any of those keys drops the entry.
const (
	depKind      = "kind:"
	depAggregate = "agg:"
	depDay       = "day:"
	depHour      = "hour:"
	depEventID   = "id:"
)

// cachedResult is a materialized query result together with the dependency
// keys it was computed from.
type cachedResult struct {
	events []*event.Event
	deps   []string
}

// queryCache memoizes query results over the indexes. Entries expire by TTL
// and are invalidated eagerly whenever an append or eviction touches one of
// their dependency keys, so readers never observe a stale result.
type queryCache struct {
	entries cache.Cache[cachedResult]

	// mu guards the reverse dependency map: dep key -> cache keys that
	// consulted it. The TTL cache has its own lock; callbacks from it
	// re-enter here, never the other way around.
	mu      sync.Mutex
	reverse map[string]map[string]struct{}
}

func newQueryCache(ctx context.Context, cfg QueryCacheConfig, registry *metric.MetricsRegistry) (*queryCache, error) {
	qc := &queryCache{
		reverse: make(map[string]map[string]struct{}),
	}

	opts := []cache.Option[cachedResult]{
		cache.WithEvictionCallback[cachedResult](qc.onEvict),
	}
	if cfg.Metrics && registry != nil {
		opts = append(opts, cache.WithMetrics[cachedResult](registry, "query"))
	}

	entries, err := cache.NewTTL(ctx, cfg.TTL, cfg.SweepInterval, opts...)
	if err != nil {
		return nil, err
	}
	qc.entries = entries
	return qc, nil
}

func (qc *queryCache) get(key string) ([]*event.Event, bool) {
	res, ok := qc.entries.Get(key)
	if !ok {
		return nil, false
	}
	return res.events, true
}

func (qc *queryCache) put(key string, events []*event.Event, deps []string) {
	qc.mu.Lock()
	for _, dep := range deps {
		addToBucket(qc.reverse, dep, key)
	}
	qc.mu.Unlock()

	// Set can only fail on an empty key, which callers never produce.
	_, _ = qc.entries.Set(key, cachedResult{events: events, deps: deps})
}

// invalidate drops every cached result that depends on any of the given keys.
func (qc *queryCache) invalidate(depKeys ...string) {
	qc.mu.Lock()
	stale := make(map[string]struct{})
	for _, dep := range depKeys {
		for key := range qc.reverse[dep] {
			stale[key] = struct{}{}
		}
	}
	qc.mu.Unlock()

	for key := range stale {
		_, _ = qc.entries.Delete(key)
	}
}

// onEvict is the TTL cache eviction callback. It prunes the reverse map so
// dependency sets never accumulate references to dead entries.
func (qc *queryCache) onEvict(key string, value cachedResult) {
	qc.mu.Lock()
	for _, dep := range value.deps {
		removeFromBucket(qc.reverse, dep, key)
	}
	qc.mu.Unlock()
}

func (qc *queryCache) clear() {
	_ = qc.entries.Clear()
	qc.mu.Lock()
	qc.reverse = make(map[string]map[string]struct{})
	qc.mu.Unlock()
}

func (qc *queryCache) stats() *cache.Statistics {
	return qc.entries.Stats()
}

func (qc *queryCache) close() error {
	return qc.entries.Close()
}

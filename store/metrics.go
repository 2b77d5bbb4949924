package store

import (
	"sync"
	"sync/atomic"
	"time"
)

// MetricsSnapshot is a point-in-time view of the store's read-path counters.
type MetricsSnapshot struct {
	QueriesExecuted  uint64            `json:"queries_executed"`
	CacheHits        uint64            `json:"cache_hits"`
	CacheMisses      uint64            `json:"cache_misses"`
	AverageQueryTime time.Duration     `json:"average_query_time"`
	IndexUsage       map[string]uint64 `json:"index_usage"`
}

// queryStats accumulates read-path counters. Counters are atomic so queries
// never contend on a stats lock; the index-usage map has its own small mutex.
type queryStats struct {
	queries    atomic.Uint64
	hits       atomic.Uint64
	misses     atomic.Uint64
	totalNanos atomic.Int64

	mu    sync.Mutex
	usage map[string]uint64
}

func newQueryStats() *queryStats {
	return &queryStats{usage: make(map[string]uint64)}
}

func (qs *queryStats) record(index string, hit bool, dur time.Duration) {
	qs.queries.Add(1)
	if hit {
		qs.hits.Add(1)
	} else {
		qs.misses.Add(1)
	}
	qs.totalNanos.Add(int64(dur))

	qs.mu.Lock()
	qs.usage[index]++
	qs.mu.Unlock()
}

func (qs *queryStats) snapshot() MetricsSnapshot {
	queries := qs.queries.Load()

	var avg time.Duration
	if queries > 0 {
		avg = time.Duration(qs.totalNanos.Load() / int64(queries))
	}

	qs.mu.Lock()
	usage := make(map[string]uint64, len(qs.usage))
	for k, v := range qs.usage {
		usage[k] = v
	}
	qs.mu.Unlock()

	return MetricsSnapshot{
		QueriesExecuted:  queries,
		CacheHits:        qs.hits.Load(),
		CacheMisses:      qs.misses.Load(),
		AverageQueryTime: avg,
		IndexUsage:       usage,
	}
}

func (qs *queryStats) reset() {
	qs.queries.Store(0)
	qs.hits.Store(0)
	qs.misses.Store(0)
	qs.totalNanos.Store(0)
	qs.mu.Lock()
	qs.usage = make(map[string]uint64)
	qs.mu.Unlock()
}

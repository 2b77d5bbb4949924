// Package store implements the embedded event store: an append-only log with
// idempotent writes, secondary indexes, a dependency-invalidated query cache
// and bounded in-memory retention.
//
// All writes go through Append and are serialized by a single mutex, so every
// reader observes exactly the appends completed so far. Reads dispatch to one
// of four indexes (kind name, aggregate id, calendar day, hour) and memoize
// their results in the query cache; any append or eviction that touches a
// cached result's dependencies drops it before the write returns.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/c360/tabledger/errors"
	"github.com/c360/tabledger/event"
	"github.com/c360/tabledger/metric"
	"github.com/c360/tabledger/pkg/cache"
	"github.com/c360/tabledger/pkg/structhash"
	"github.com/c360/tabledger/pkg/timestamp"
)

// Sink receives accepted events for durable persistence. Enqueue must never
// block; it is called inside the append critical section.
type Sink interface {
	Enqueue(ev *event.Event)
}

// AppendOptions carries the optional parts of a write.
type AppendOptions struct {
	// Key is the idempotency key. When set, a repeat append with the same
	// key and structurally equal Params returns the original event instead
	// of creating a new one.
	Key string

	// Params is the caller's intent payload for the idempotency comparison.
	// It is hashed structurally (canonical JSON), so map ordering does not
	// matter. Ignored when Key is empty.
	Params any

	// Aggregate optionally scopes the event to a business entity.
	Aggregate event.Aggregate
}

// AppendResult reports what Append did.
type AppendResult struct {
	Event   *event.Event
	Deduped bool
	IsNew   bool
}

// Filter selects events for Query. Zero fields are ignored.
type Filter struct {
	Kind          string // kind name, any version
	AggregateID   string
	AggregateType string
	From          int64 // inclusive, ms epoch
	To            int64 // inclusive, ms epoch; 0 means unbounded
}

// idemRecord is one idempotency registration. The event pointer is retained
// even after retention evicts the event from the log, so a late retry under
// the same key still gets the original event back.
type idemRecord struct {
	eventID string
	hash    string
	event   *event.Event
}

// Store is the embedded event store. Create one with New; the zero value is
// not usable.
type Store struct {
	cfg      Config
	registry *event.Registry
	logger   *slog.Logger
	sink     Sink
	now      func() int64
	metrics  *metric.Metrics

	mu          sync.Mutex
	log         []*event.Event // seq-ordered
	byID        map[string]*event.Event
	seq         uint64
	idempotency map[string]*idemRecord
	idx         *indexSet

	qcache *queryCache
	stats  *queryStats
}

// Option configures optional store collaborators.
type Option func(*Store)

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSink attaches the durable-persistence dispatcher. Without one, accepted
// events live only in memory.
func WithSink(sink Sink) Option {
	return func(s *Store) { s.sink = sink }
}

// WithClock overrides the timestamp source. Test hook.
func WithClock(now func() int64) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a store. The schema registry is required: every append is
// validated against the schema registered for its kind. Pass a metrics
// registry to mirror counters to Prometheus, or nil to keep them internal.
func New(ctx context.Context, cfg Config, registry *event.Registry, metricsReg *metric.MetricsRegistry, opts ...Option) (*Store, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if registry == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"store", "New", "schema registry is required")
	}

	s := &Store{
		cfg:         cfg,
		registry:    registry,
		logger:      slog.Default(),
		now:         timestamp.Now,
		byID:        make(map[string]*event.Event),
		idempotency: make(map[string]*idemRecord),
		idx:         newIndexSet(),
		stats:       newQueryStats(),
	}
	if metricsReg != nil {
		s.metrics = metricsReg.CoreMetrics()
	}
	for _, opt := range opts {
		opt(s)
	}

	qcache, err := newQueryCache(ctx, cfg.QueryCache, metricsReg)
	if err != nil {
		return nil, errors.Wrap(err, "store", "New", "query cache creation")
	}
	s.qcache = qcache

	return s, nil
}

// Append records a new event, or returns the original one when the
// idempotency key was already used with structurally equal params.
func (s *Store) Append(ctx context.Context, kind event.Kind, payload json.RawMessage, opts AppendOptions) (AppendResult, error) {
	if err := ctx.Err(); err != nil {
		return AppendResult{}, errors.WrapTransient(err, "store", "Append", "context check")
	}

	// Hash outside the lock; canonicalization cost should not serialize writers.
	var paramsHash string
	if opts.Key != "" {
		h, err := structhash.Hash(opts.Params)
		if err != nil {
			return AppendResult{}, errors.WrapInvalid(err, "store", "Append", "params hashing")
		}
		paramsHash = h
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if opts.Key != "" {
		if rec, ok := s.idempotency[opts.Key]; ok {
			if rec.hash == paramsHash {
				s.countAppend("deduped")
				return AppendResult{Event: rec.event, Deduped: true}, nil
			}
			s.countAppend("conflict")
			return AppendResult{}, errors.WrapInvalid(
				fmt.Errorf("%w: key %q", errors.ErrIdempotencyConflict, opts.Key),
				"store", "Append", "idempotency check")
		}
	}

	if err := s.registry.Validate(kind, payload); err != nil {
		s.countAppend("invalid")
		return AppendResult{}, err
	}

	s.seq++
	ev := &event.Event{
		ID:        structhash.NewEventID(),
		Seq:       s.seq,
		Kind:      kind,
		At:        s.now(),
		Aggregate: opts.Aggregate,
		Payload:   payload,
	}

	s.log = append(s.log, ev)
	s.byID[ev.ID] = ev
	if opts.Key != "" {
		s.idempotency[opts.Key] = &idemRecord{eventID: ev.ID, hash: paramsHash, event: ev}
	}
	s.idx.insert(ev)
	s.invalidateFor(ev)
	s.evictLocked()

	if s.sink != nil {
		s.sink.Enqueue(ev)
	}

	s.countAppend("new")
	if s.metrics != nil {
		s.metrics.LogSize.Set(float64(len(s.log)))
	}

	return AppendResult{Event: ev, IsNew: true}, nil
}

// AddDirect inserts an already-materialized event, bypassing validation,
// idempotency and the persistence sink. Hydration replay and migration are
// the only callers. Returns false when the id is already present.
func (s *Store) AddDirect(ev *event.Event) (bool, error) {
	if ev == nil || ev.ID == "" || ev.Seq == 0 || !ev.Kind.IsValid() {
		return false, errors.WrapInvalid(
			fmt.Errorf("event must carry id, seq and kind"),
			"store", "AddDirect", "event check")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[ev.ID]; exists {
		return false, nil
	}

	s.insertOrderedLocked(ev)
	s.byID[ev.ID] = ev
	if ev.Seq > s.seq {
		s.seq = ev.Seq
	}
	s.idx.insert(ev)
	s.invalidateFor(ev)
	s.evictLocked()

	if s.metrics != nil {
		s.metrics.LogSize.Set(float64(len(s.log)))
	}
	return true, nil
}

// insertOrderedLocked keeps the log seq-sorted. Replay feeds events in order,
// so the common case is a plain append.
func (s *Store) insertOrderedLocked(ev *event.Event) {
	n := len(s.log)
	if n == 0 || s.log[n-1].Seq < ev.Seq {
		s.log = append(s.log, ev)
		return
	}
	i := sort.Search(n, func(j int) bool { return s.log[j].Seq >= ev.Seq })
	s.log = append(s.log, nil)
	copy(s.log[i+1:], s.log[i:])
	s.log[i] = ev
}

// invalidateFor drops cached results that consulted any key the event touches.
func (s *Store) invalidateFor(ev *event.Event) {
	deps := []string{
		depKind + ev.Kind.Name,
		depDay + ev.DayKey(),
		depHour + ev.HourKey(),
		depEventID + ev.ID,
	}
	if !ev.Aggregate.IsZero() {
		deps = append(deps, depAggregate+ev.Aggregate.ID)
	}
	s.qcache.invalidate(deps...)
}

// evictLocked enforces the retention ceiling: the lowest-seq overage is
// removed from the log, every index bucket and the cache dependency sets in
// one pass. Idempotency records are kept so replayed intents still dedup.
func (s *Store) evictLocked() {
	over := len(s.log) - s.cfg.RetentionCeiling
	if over <= 0 {
		return
	}

	evicted := s.log[:over]
	remaining := make([]*event.Event, len(s.log)-over)
	copy(remaining, s.log[over:])
	s.log = remaining

	deps := make([]string, 0, over)
	for _, ev := range evicted {
		delete(s.byID, ev.ID)
		s.idx.remove(ev)
		deps = append(deps, depEventID+ev.ID)
	}
	s.qcache.invalidate(deps...)

	if s.metrics != nil {
		s.metrics.EvictionsTotal.Add(float64(over))
		s.metrics.LogSize.Set(float64(len(s.log)))
	}
	s.logger.Debug("retention eviction",
		"component", "store", "evicted", over, "remaining", len(s.log))
}

// GetAll returns a copy of the in-memory log in seq order.
func (s *Store) GetAll() []*event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*event.Event, len(s.log))
	copy(out, s.log)
	return out
}

// GetEventsByKind returns all in-memory events of the given kind name, any
// version, in seq order.
func (s *Store) GetEventsByKind(name string) ([]*event.Event, error) {
	return s.runQuery("kind:"+name, "kind", func() ([]*event.Event, []string, error) {
		return s.materializeLocked(s.idx.kindIDs(name), depKind+name)
	})
}

// GetEventsForAggregate returns all in-memory events scoped to the aggregate,
// in seq order.
func (s *Store) GetEventsForAggregate(aggregateID string) ([]*event.Event, error) {
	return s.runQuery("aggregate:"+aggregateID, "aggregate", func() ([]*event.Event, []string, error) {
		return s.materializeLocked(s.idx.aggregateIDs(aggregateID), depAggregate+aggregateID)
	})
}

// GetEventsForBusinessDate returns all in-memory events on the given calendar
// day ("2006-01-02", UTC), in seq order.
func (s *Store) GetEventsForBusinessDate(day string) ([]*event.Event, error) {
	if _, err := timestamp.ParseDay(day); err != nil {
		return nil, errors.WrapInvalid(err, "store", "GetEventsForBusinessDate", "day parsing")
	}
	return s.runQuery("day:"+day, "day", func() ([]*event.Event, []string, error) {
		return s.materializeLocked(s.idx.dayIDs(day), depDay+day)
	})
}

// GetEventsForHour returns all in-memory events within the given hour bucket
// ("2006-01-02-15", UTC), in seq order.
func (s *Store) GetEventsForHour(hour string) ([]*event.Event, error) {
	if _, err := time.Parse("2006-01-02-15", hour); err != nil {
		return nil, errors.WrapInvalid(err, "store", "GetEventsForHour", "hour parsing")
	}
	return s.runQuery("hour:"+hour, "hour", func() ([]*event.Event, []string, error) {
		return s.materializeLocked(s.idx.hourIDs(hour), depHour+hour)
	})
}

// GetEventsByDateRange returns all in-memory events with start <= At <= end,
// in seq order. A range ending at 23:59:59.999 includes that millisecond.
func (s *Store) GetEventsByDateRange(start, end int64) ([]*event.Event, error) {
	if start > end {
		return nil, errors.WrapInvalid(
			fmt.Errorf("range start %d after end %d", start, end),
			"store", "GetEventsByDateRange", "range check")
	}

	key := fmt.Sprintf("dateRange:%d-%d", start, end)
	return s.runQuery(key, "day", func() ([]*event.Event, []string, error) {
		days := timestamp.DayKeysBetween(start, end)

		var candidates map[string]struct{}
		deps := make([]string, 0, len(days))
		if len(days) == 1 {
			// Same-day fast path: one bucket, no merge.
			candidates = s.idx.dayIDs(days[0])
			deps = append(deps, depDay+days[0])
		} else {
			candidates = make(map[string]struct{})
			for _, day := range days {
				deps = append(deps, depDay+day)
				for id := range s.idx.dayIDs(day) {
					candidates[id] = struct{}{}
				}
			}
		}

		events, deps, err := s.materializeLocked(candidates, deps...)
		if err != nil {
			return nil, nil, err
		}
		filtered := events[:0]
		for _, ev := range events {
			if ev.At >= start && ev.At <= end {
				filtered = append(filtered, ev)
			}
		}
		return filtered, deps, nil
	})
}

// Query dispatches to the most selective index for single-dimension filters
// and falls back to a log scan for combined predicates. Scans are not cached.
func (s *Store) Query(f Filter) ([]*event.Event, error) {
	timeless := f.From == 0 && f.To == 0
	switch {
	case f.Kind != "" && f.AggregateID == "" && f.AggregateType == "" && timeless:
		return s.GetEventsByKind(f.Kind)
	case f.AggregateID != "" && f.Kind == "" && f.AggregateType == "" && timeless:
		return s.GetEventsForAggregate(f.AggregateID)
	}

	start := time.Now()
	s.mu.Lock()
	var out []*event.Event
	for _, ev := range s.log {
		if f.Kind != "" && ev.Kind.Name != f.Kind {
			continue
		}
		if f.AggregateID != "" && ev.Aggregate.ID != f.AggregateID {
			continue
		}
		if f.AggregateType != "" && ev.Aggregate.Type != f.AggregateType {
			continue
		}
		if f.From != 0 && ev.At < f.From {
			continue
		}
		if f.To != 0 && ev.At > f.To {
			continue
		}
		out = append(out, ev)
	}
	s.mu.Unlock()

	s.recordQuery("scan", false, time.Since(start))
	return out, nil
}

// runQuery is the shared cached-read path: cache hit returns immediately,
// a miss computes under the store mutex and installs the result with its
// dependency set before the mutex is released.
func (s *Store) runQuery(key, index string, compute func() ([]*event.Event, []string, error)) ([]*event.Event, error) {
	start := time.Now()

	if events, ok := s.qcache.get(key); ok {
		s.recordQuery(index, true, time.Since(start))
		return events, nil
	}

	s.mu.Lock()
	events, deps, err := compute()
	if err == nil {
		s.qcache.put(key, events, deps)
	}
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	s.recordQuery(index, false, time.Since(start))
	return events, nil
}

// materializeLocked resolves an index bucket to seq-ordered events. An id in
// a bucket with no matching log entry means the indexes and the log diverged,
// which is a loud, fatal fault.
func (s *Store) materializeLocked(ids map[string]struct{}, baseDeps ...string) ([]*event.Event, []string, error) {
	events := make([]*event.Event, 0, len(ids))
	deps := make([]string, 0, len(ids)+len(baseDeps))
	deps = append(deps, baseDeps...)

	for id := range ids {
		ev, ok := s.byID[id]
		if !ok {
			err := errors.WrapFatal(
				fmt.Errorf("%w: indexed id %s missing from log", errors.ErrEventNotFound, id),
				"store", "materialize", "index lookup")
			s.logger.Error("index and log diverged", "component", "store", "event_id", id, "error", err)
			return nil, nil, err
		}
		events = append(events, ev)
		deps = append(deps, depEventID+id)
	}

	sort.Slice(events, func(i, j int) bool { return events[i].Seq < events[j].Seq })
	return events, deps, nil
}

func (s *Store) recordQuery(index string, hit bool, dur time.Duration) {
	s.stats.record(index, hit, dur)
	if s.metrics != nil {
		s.metrics.QueriesTotal.Inc()
		s.metrics.QueryDuration.Observe(dur.Seconds())
		s.metrics.IndexUsage.WithLabelValues(index).Inc()
	}
}

func (s *Store) countAppend(outcome string) {
	if s.metrics != nil {
		s.metrics.AppendsTotal.WithLabelValues(outcome).Inc()
	}
}

// Metrics returns a snapshot of the read-path counters.
func (s *Store) Metrics() MetricsSnapshot {
	return s.stats.snapshot()
}

// CacheStats returns the query cache's own counters (hits, misses,
// evictions, current size).
func (s *Store) CacheStats() *cache.Statistics {
	return s.qcache.stats()
}

// Len returns the number of events currently in memory.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.log)
}

// LastSeq returns the highest sequence number assigned so far.
func (s *Store) LastSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Contains reports whether an event id is in the in-memory log.
func (s *Store) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byID[id]
	return ok
}

// Reset drops all state: log, indexes, idempotency records, cache and
// counters. The sequence counter restarts at zero.
func (s *Store) Reset() {
	s.mu.Lock()
	s.log = nil
	s.byID = make(map[string]*event.Event)
	s.idempotency = make(map[string]*idemRecord)
	s.seq = 0
	s.idx.clear()
	s.qcache.clear()
	s.mu.Unlock()

	s.stats.reset()
	if s.metrics != nil {
		s.metrics.LogSize.Set(0)
	}
}

// Close releases the query cache's background sweeper. The store is not
// usable afterwards.
func (s *Store) Close() error {
	return s.qcache.close()
}

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/tabledger/errors"
	"github.com/c360/tabledger/event"
)

var (
	saleKind    = event.Kind{Name: "sale.recorded", Version: 1}
	profileKind = event.Kind{Name: "customer.profile.upserted", Version: 1}
)

const saleSchema = `{
	"type": "object",
	"properties": {
		"total":    {"type": "number", "minimum": 0},
		"currency": {"type": "string"}
	},
	"required": ["total"],
	"additionalProperties": false
}`

const profileSchema = `{
	"type": "object",
	"properties": {
		"name":  {"type": "string"},
		"email": {"type": "string"}
	},
	"required": ["name"]
}`

// capturingSink records everything the store hands to the persistence layer.
type capturingSink struct {
	events []*event.Event
}

func (c *capturingSink) Enqueue(ev *event.Event) { c.events = append(c.events, ev) }

type testClock struct {
	now int64
}

func (c *testClock) Now() int64 { return c.now }

func testRegistry(t *testing.T) *event.Registry {
	t.Helper()
	reg := event.NewRegistry()
	require.NoError(t, reg.Register(saleKind, []byte(saleSchema)))
	require.NoError(t, reg.Register(profileKind, []byte(profileSchema)))
	return reg
}

func newTestStore(t *testing.T, cfg Config) (*Store, *capturingSink, *testClock) {
	t.Helper()
	sink := &capturingSink{}
	clock := &testClock{now: msAt(2026, time.March, 14, 12, 0, 0)}

	s, err := New(context.Background(), cfg, testRegistry(t), nil,
		WithSink(sink), WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, sink, clock
}

func msAt(year int, month time.Month, day, hour, minute, sec int) int64 {
	return time.Date(year, month, day, hour, minute, sec, 0, time.UTC).UnixMilli()
}

func appendSale(t *testing.T, s *Store, key string, total float64, opts ...func(*AppendOptions)) AppendResult {
	t.Helper()
	o := AppendOptions{Key: key, Params: map[string]any{"total": total}}
	for _, fn := range opts {
		fn(&o)
	}
	payload := json.RawMessage(fmt.Sprintf(`{"total": %g, "currency": "EUR"}`, total))
	res, err := s.Append(context.Background(), saleKind, payload, o)
	require.NoError(t, err)
	return res
}

func TestAppendAssignsSequentialSeqs(t *testing.T) {
	s, _, _ := newTestStore(t, Config{})

	for i := 1; i <= 5; i++ {
		res := appendSale(t, s, "", float64(i))
		assert.True(t, res.IsNew)
		assert.Equal(t, uint64(i), res.Event.Seq)
		assert.NotEmpty(t, res.Event.ID)
	}
	assert.Equal(t, uint64(5), s.LastSeq())
	assert.Equal(t, 5, s.Len())
}

func TestAppendIdempotentReplay(t *testing.T) {
	s, sink, _ := newTestStore(t, Config{})

	first := appendSale(t, s, "order-42", 19.90)
	require.True(t, first.IsNew)

	// Same key, structurally equal params in a different map shape
	res, err := s.Append(context.Background(), saleKind,
		json.RawMessage(`{"total": 19.90}`),
		AppendOptions{Key: "order-42", Params: map[string]any{"total": 19.90}})
	require.NoError(t, err)

	assert.True(t, res.Deduped)
	assert.False(t, res.IsNew)
	assert.Equal(t, first.Event.ID, res.Event.ID)
	assert.Equal(t, first.Event.Seq, res.Event.Seq)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, uint64(1), s.LastSeq(), "dedup must not consume a seq")
	assert.Len(t, sink.events, 1, "dedup must not re-enqueue for persistence")
}

func TestAppendConflictLeavesStateUntouched(t *testing.T) {
	s, _, _ := newTestStore(t, Config{})

	appendSale(t, s, "order-7", 10)
	before := s.GetAll()

	_, err := s.Append(context.Background(), saleKind,
		json.RawMessage(`{"total": 99}`),
		AppendOptions{Key: "order-7", Params: map[string]any{"total": 99.0}})
	require.Error(t, err)
	assert.True(t, errors.IsIdempotencyConflict(err))
	assert.True(t, errors.IsInvalid(err))

	assert.Equal(t, before, s.GetAll())
	assert.Equal(t, uint64(1), s.LastSeq())
}

func TestAppendValidationFailure(t *testing.T) {
	s, sink, _ := newTestStore(t, Config{})

	tests := []struct {
		name    string
		kind    event.Kind
		payload string
	}{
		{"missing required field", saleKind, `{"currency": "EUR"}`},
		{"wrong type", saleKind, `{"total": "lots"}`},
		{"negative total", saleKind, `{"total": -5}`},
		{"unexpected field", saleKind, `{"total": 5, "tip": 1}`},
		{"unregistered kind", event.Kind{Name: "ghost.kind", Version: 1}, `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Append(context.Background(), tt.kind,
				json.RawMessage(tt.payload), AppendOptions{})
			require.Error(t, err)
			assert.True(t, errors.IsValidation(err))
		})
	}

	assert.Equal(t, 0, s.Len(), "failed appends must not mutate the log")
	assert.Empty(t, sink.events)
}

func TestIndexedQueries(t *testing.T) {
	s, _, clock := newTestStore(t, Config{})

	appendSale(t, s, "", 10, func(o *AppendOptions) {
		o.Aggregate = event.Aggregate{ID: "table-1", Type: "table"}
	})
	appendSale(t, s, "", 20, func(o *AppendOptions) {
		o.Aggregate = event.Aggregate{ID: "table-2", Type: "table"}
	})

	clock.now = msAt(2026, time.March, 15, 9, 30, 0)
	_, err := s.Append(context.Background(), profileKind,
		json.RawMessage(`{"name": "Ana"}`),
		AppendOptions{Aggregate: event.Aggregate{ID: "cust-9", Type: "customer"}})
	require.NoError(t, err)

	byKind, err := s.GetEventsByKind("sale.recorded")
	require.NoError(t, err)
	require.Len(t, byKind, 2)
	assert.Equal(t, uint64(1), byKind[0].Seq)
	assert.Equal(t, uint64(2), byKind[1].Seq)

	byAgg, err := s.GetEventsForAggregate("table-2")
	require.NoError(t, err)
	require.Len(t, byAgg, 1)
	assert.Equal(t, uint64(2), byAgg[0].Seq)

	byDay, err := s.GetEventsForBusinessDate("2026-03-14")
	require.NoError(t, err)
	assert.Len(t, byDay, 2)

	byHour, err := s.GetEventsForHour("2026-03-15-09")
	require.NoError(t, err)
	require.Len(t, byHour, 1)
	assert.Equal(t, "customer.profile.upserted", byHour[0].Kind.Name)
}

func TestQueryRejectsMalformedKeys(t *testing.T) {
	s, _, _ := newTestStore(t, Config{})

	_, err := s.GetEventsForBusinessDate("14-03-2026")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	_, err = s.GetEventsForHour("2026-03-14")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	_, err = s.GetEventsByDateRange(100, 50)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestCacheTransparency(t *testing.T) {
	s, _, _ := newTestStore(t, Config{})
	appendSale(t, s, "", 10)
	appendSale(t, s, "", 20)

	cold, err := s.GetEventsByKind("sale.recorded")
	require.NoError(t, err)
	warm, err := s.GetEventsByKind("sale.recorded")
	require.NoError(t, err)
	assert.Equal(t, cold, warm)

	m := s.Metrics()
	assert.Equal(t, uint64(2), m.QueriesExecuted)
	assert.Equal(t, uint64(1), m.CacheMisses)
	assert.Equal(t, uint64(1), m.CacheHits)
	assert.Equal(t, uint64(2), m.IndexUsage["kind"])

	cs := s.CacheStats()
	assert.Equal(t, int64(1), cs.Hits())
	assert.Equal(t, int64(1), cs.Misses())
}

func TestAppendInvalidatesDependentCacheEntries(t *testing.T) {
	s, _, _ := newTestStore(t, Config{})
	appendSale(t, s, "", 10)

	initial, err := s.GetEventsByKind("sale.recorded")
	require.NoError(t, err)
	require.Len(t, initial, 1)

	appendSale(t, s, "", 20)

	after, err := s.GetEventsByKind("sale.recorded")
	require.NoError(t, err)
	assert.Len(t, after, 2, "cached result must be dropped by the append")

	m := s.Metrics()
	assert.Equal(t, uint64(2), m.CacheMisses, "second read must recompute")
}

func TestDateRangeDayBoundaries(t *testing.T) {
	s, _, clock := newTestStore(t, Config{})

	dayStart := msAt(2026, time.March, 14, 0, 0, 0)
	lastMilli := msAt(2026, time.March, 15, 0, 0, 0) - 1 // 23:59:59.999
	nextDay := msAt(2026, time.March, 15, 0, 0, 0)

	for _, at := range []int64{dayStart, lastMilli, nextDay} {
		clock.now = at
		appendSale(t, s, "", 1)
	}

	got, err := s.GetEventsByDateRange(dayStart, lastMilli)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, lastMilli, got[1].At, "last millisecond of the day is inclusive")

	full, err := s.GetEventsByDateRange(dayStart, nextDay)
	require.NoError(t, err)
	assert.Len(t, full, 3)
}

func TestDateRangeSpanningDays(t *testing.T) {
	s, _, clock := newTestStore(t, Config{})

	times := []int64{
		msAt(2026, time.March, 13, 23, 0, 0),
		msAt(2026, time.March, 14, 8, 0, 0),
		msAt(2026, time.March, 15, 8, 0, 0),
		msAt(2026, time.March, 16, 8, 0, 0),
	}
	for _, at := range times {
		clock.now = at
		appendSale(t, s, "", 1)
	}

	got, err := s.GetEventsByDateRange(
		msAt(2026, time.March, 14, 0, 0, 0),
		msAt(2026, time.March, 15, 23, 0, 0))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(2), got[0].Seq)
	assert.Equal(t, uint64(3), got[1].Seq)
}

func TestRetentionEviction(t *testing.T) {
	s, _, _ := newTestStore(t, Config{RetentionCeiling: 5})

	first := appendSale(t, s, "order-1", 1)
	for i := 2; i <= 8; i++ {
		appendSale(t, s, fmt.Sprintf("order-%d", i), float64(i))
	}

	assert.Equal(t, 5, s.Len())
	all := s.GetAll()
	assert.Equal(t, uint64(4), all[0].Seq, "lowest seqs evicted first")
	assert.Equal(t, uint64(8), all[len(all)-1].Seq)
	assert.False(t, s.Contains(first.Event.ID))

	byKind, err := s.GetEventsByKind("sale.recorded")
	require.NoError(t, err)
	assert.Len(t, byKind, 5, "index buckets must not reference evicted events")

	// Idempotency records outlive eviction: a late retry still dedups and
	// returns the original event.
	res, err := s.Append(context.Background(), saleKind,
		json.RawMessage(`{"total": 1}`),
		AppendOptions{Key: "order-1", Params: map[string]any{"total": 1.0}})
	require.NoError(t, err)
	assert.True(t, res.Deduped)
	assert.Equal(t, first.Event.ID, res.Event.ID)
	assert.Equal(t, uint64(8), s.LastSeq())
}

func TestEvictionDropsDependentCacheEntries(t *testing.T) {
	s, _, _ := newTestStore(t, Config{RetentionCeiling: 3})

	appendSale(t, s, "", 1)
	appendSale(t, s, "", 2)
	appendSale(t, s, "", 3)

	cached, err := s.GetEventsForBusinessDate("2026-03-14")
	require.NoError(t, err)
	require.Len(t, cached, 3)

	appendSale(t, s, "", 4) // evicts seq 1

	after, err := s.GetEventsForBusinessDate("2026-03-14")
	require.NoError(t, err)
	require.Len(t, after, 3)
	assert.Equal(t, uint64(2), after[0].Seq)
}

func TestQueryFilterScan(t *testing.T) {
	s, _, _ := newTestStore(t, Config{})

	appendSale(t, s, "", 10, func(o *AppendOptions) {
		o.Aggregate = event.Aggregate{ID: "table-1", Type: "table"}
	})
	_, err := s.Append(context.Background(), profileKind,
		json.RawMessage(`{"name": "Bo"}`),
		AppendOptions{Aggregate: event.Aggregate{ID: "cust-1", Type: "customer"}})
	require.NoError(t, err)

	got, err := s.Query(Filter{Kind: "sale.recorded", AggregateType: "table"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "table-1", got[0].Aggregate.ID)

	byType, err := s.Query(Filter{AggregateType: "customer"})
	require.NoError(t, err)
	assert.Len(t, byType, 1)

	m := s.Metrics()
	assert.Equal(t, uint64(2), m.IndexUsage["scan"])
}

func TestQuerySingleDimensionUsesIndex(t *testing.T) {
	s, _, _ := newTestStore(t, Config{})
	appendSale(t, s, "", 10)

	got, err := s.Query(Filter{Kind: "sale.recorded"})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	m := s.Metrics()
	assert.Equal(t, uint64(1), m.IndexUsage["kind"])
	assert.Zero(t, m.IndexUsage["scan"])
}

func TestAddDirect(t *testing.T) {
	s, sink, _ := newTestStore(t, Config{})

	ev := &event.Event{
		ID:   "replayed-1",
		Seq:  7,
		Kind: saleKind,
		At:   msAt(2026, time.March, 10, 12, 0, 0),
	}
	added, err := s.AddDirect(ev)
	require.NoError(t, err)
	assert.True(t, added)

	// Same id again is a no-op
	added, err = s.AddDirect(ev)
	require.NoError(t, err)
	assert.False(t, added)

	assert.Equal(t, uint64(7), s.LastSeq(), "seq counter advances past replayed events")
	assert.Empty(t, sink.events, "replay must not re-enter the persistence queue")

	// Next live append continues after the replayed seq
	res := appendSale(t, s, "", 5)
	assert.Equal(t, uint64(8), res.Event.Seq)
}

func TestAddDirectKeepsLogOrdered(t *testing.T) {
	s, _, _ := newTestStore(t, Config{})

	for _, seq := range []uint64{5, 2, 9} {
		_, err := s.AddDirect(&event.Event{
			ID:   fmt.Sprintf("ev-%d", seq),
			Seq:  seq,
			Kind: saleKind,
			At:   msAt(2026, time.March, 10, 12, 0, 0),
		})
		require.NoError(t, err)
	}

	all := s.GetAll()
	require.Len(t, all, 3)
	assert.Equal(t, uint64(2), all[0].Seq)
	assert.Equal(t, uint64(5), all[1].Seq)
	assert.Equal(t, uint64(9), all[2].Seq)
}

func TestAddDirectRejectsIncompleteEvents(t *testing.T) {
	s, _, _ := newTestStore(t, Config{})

	_, err := s.AddDirect(&event.Event{ID: "x", Kind: saleKind})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestReset(t *testing.T) {
	s, _, _ := newTestStore(t, Config{})
	appendSale(t, s, "order-1", 10)
	_, err := s.GetEventsByKind("sale.recorded")
	require.NoError(t, err)

	s.Reset()

	assert.Equal(t, 0, s.Len())
	assert.Equal(t, uint64(0), s.LastSeq())
	got, err := s.GetEventsByKind("sale.recorded")
	require.NoError(t, err)
	assert.Empty(t, got)

	// Idempotency records are gone too: the key is reusable
	res := appendSale(t, s, "order-1", 10)
	assert.True(t, res.IsNew)
	assert.Equal(t, uint64(1), res.Event.Seq)
}

func TestConfigValidation(t *testing.T) {
	_, err := New(context.Background(), Config{RetentionCeiling: -1}, testRegistry(t), nil)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	_, err = New(context.Background(), Config{}, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestConcurrentAppendsAndReads(t *testing.T) {
	s, _, _ := newTestStore(t, Config{})

	const writers = 8
	const perWriter = 25

	errs := make(chan error, writers)
	for w := 0; w < writers; w++ {
		go func() {
			var firstErr error
			for i := 0; i < perWriter; i++ {
				_, err := s.Append(context.Background(), saleKind,
					json.RawMessage(`{"total": 1}`), AppendOptions{})
				if err != nil && firstErr == nil {
					firstErr = err
				}
				_, _ = s.GetEventsByKind("sale.recorded")
			}
			errs <- firstErr
		}()
	}
	for w := 0; w < writers; w++ {
		require.NoError(t, <-errs)
	}

	all := s.GetAll()
	require.Len(t, all, writers*perWriter)
	seen := make(map[uint64]bool, len(all))
	for i, ev := range all {
		assert.False(t, seen[ev.Seq], "seq assigned twice")
		seen[ev.Seq] = true
		if i > 0 {
			assert.Greater(t, ev.Seq, all[i-1].Seq)
		}
	}
}

// Scenario: a point-of-sale terminal retries a sale submission after a
// network hiccup. The day's report must count the sale once.
func TestScenarioPosRetry(t *testing.T) {
	s, _, _ := newTestStore(t, Config{})

	params := map[string]any{"check": 17, "total": 42.50}
	payload := json.RawMessage(`{"total": 42.50, "currency": "EUR"}`)

	for i := 0; i < 3; i++ {
		_, err := s.Append(context.Background(), saleKind, payload,
			AppendOptions{Key: "check-17-close", Params: params})
		require.NoError(t, err)
	}

	day, err := s.GetEventsForBusinessDate("2026-03-14")
	require.NoError(t, err)
	require.Len(t, day, 1)

	var got struct {
		Total float64 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(day[0].Payload, &got))
	assert.Equal(t, 42.50, got.Total)
}

// Scenario: repeated profile upserts for one customer accumulate as an
// aggregate-scoped history, newest last.
func TestScenarioProfileHistory(t *testing.T) {
	s, _, _ := newTestStore(t, Config{})
	agg := event.Aggregate{ID: "cust-7", Type: "customer"}

	for _, name := range []string{"Ana", "Ana M.", "Ana Martins"} {
		payload, err := json.Marshal(map[string]any{"name": name})
		require.NoError(t, err)
		_, err = s.Append(context.Background(), profileKind, payload,
			AppendOptions{Aggregate: agg})
		require.NoError(t, err)
	}

	history, err := s.GetEventsForAggregate("cust-7")
	require.NoError(t, err)
	require.Len(t, history, 3)

	var last struct {
		Name string `json:"name"`
	}
	require.NoError(t, json.Unmarshal(history[2].Payload, &last))
	assert.Equal(t, "Ana Martins", last.Name)
}

// Scenario: the end-of-day report queries a business date while new sales
// keep arriving; every read reflects all appends completed before it.
func TestScenarioEndOfDayReport(t *testing.T) {
	s, _, clock := newTestStore(t, Config{})
	clock.now = msAt(2026, time.March, 14, 18, 0, 0)

	var expected float64
	for i := 0; i < 10; i++ {
		total := float64(10 + i)
		expected += total
		appendSale(t, s, "", total)

		day, err := s.GetEventsForBusinessDate("2026-03-14")
		require.NoError(t, err)
		require.Len(t, day, i+1)
	}

	day, err := s.GetEventsForBusinessDate("2026-03-14")
	require.NoError(t, err)

	var sum float64
	for _, ev := range day {
		var p struct {
			Total float64 `json:"total"`
		}
		require.NoError(t, json.Unmarshal(ev.Payload, &p))
		sum += p.Total
	}
	assert.Equal(t, expected, sum)
}

package hydrate

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/tabledger/backend/boltstore"
	"github.com/c360/tabledger/backend/memstore"
	"github.com/c360/tabledger/backend/natsstore"
	"github.com/c360/tabledger/errors"
	"github.com/c360/tabledger/event"
	"github.com/c360/tabledger/store"
)

var saleKind = event.Kind{Name: "sale.recorded", Version: 1}

const saleSchema = `{
	"type": "object",
	"properties": {"total": {"type": "number"}},
	"required": ["total"]
}`

func testRegistry(t *testing.T) *event.Registry {
	t.Helper()
	reg := event.NewRegistry()
	require.NoError(t, reg.Register(saleKind, []byte(saleSchema)))
	return reg
}

func persistedEvent(seq uint64) *event.Event {
	payload, _ := json.Marshal(map[string]float64{"total": float64(seq) * 10})
	return &event.Event{
		ID:      fmt.Sprintf("persisted-%d", seq),
		Seq:     seq,
		Kind:    saleKind,
		At:      1700000000000 + int64(seq),
		Payload: payload,
	}
}

func newCoordinator(t *testing.T, opts Options) *Coordinator {
	t.Helper()
	if opts.Registry == nil {
		opts.Registry = testRegistry(t)
	}
	c, err := NewCoordinator(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })
	return c
}

func TestOpenFallsBackToMemory(t *testing.T) {
	c := newCoordinator(t, Options{})
	assert.Equal(t, StateUninitialized, c.State())

	h, err := c.Open(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "memory", h.Backend.Name())
	assert.Equal(t, StateReady, c.State())
}

func TestOpenUsesLocalTier(t *testing.T) {
	c := newCoordinator(t, Options{
		LocalPath: filepath.Join(t.TempDir(), "events.db"),
	})

	h, err := c.Open(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "local", h.Backend.Name())
}

func TestUnreachableRemoteFallsBackToLocal(t *testing.T) {
	c := newCoordinator(t, Options{
		Remote: &natsstore.Config{
			URL:            "nats://127.0.0.1:1",
			ConnectTimeout: 200 * time.Millisecond,
		},
		LocalPath: filepath.Join(t.TempDir(), "events.db"),
	})

	h, err := c.Open(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "local", h.Backend.Name())
}

func TestOpenIsMemoized(t *testing.T) {
	c := newCoordinator(t, Options{})
	ctx := context.Background()

	first, err := c.Open(ctx)
	require.NoError(t, err)
	second, err := c.Open(ctx)
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestConcurrentOpenSharesBootstrap(t *testing.T) {
	c := newCoordinator(t, Options{})

	const callers = 16
	handles := make([]*Handle, callers)
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			h, err := c.Open(context.Background())
			assert.NoError(t, err)
			handles[i] = h
		}(i)
	}
	wg.Wait()

	for _, h := range handles[1:] {
		assert.Same(t, handles[0], h)
	}
}

func TestReplayFromLocalTier(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	ctx := context.Background()

	seed := boltstore.New(path)
	require.NoError(t, seed.Open(ctx))
	for seq := uint64(1); seq <= 3; seq++ {
		require.NoError(t, seed.WriteOne(ctx, persistedEvent(seq)))
	}
	require.NoError(t, seed.Close())

	c := newCoordinator(t, Options{LocalPath: path})
	h, err := c.Open(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, h.Store.Len())
	assert.Equal(t, uint64(3), h.Store.LastSeq())

	all := h.Store.GetAll()
	assert.Equal(t, uint64(1), all[0].Seq)

	// A live append continues the replayed numbering
	res, err := h.Store.Append(ctx, saleKind,
		json.RawMessage(`{"total": 5}`), store.AppendOptions{})
	require.NoError(t, err)
	assert.Equal(t, uint64(4), res.Event.Seq)
}

func TestMigrationImportsLegacyOnce(t *testing.T) {
	ctx := context.Background()
	legacy := memstore.NewSeeded([]*event.Event{
		persistedEvent(90),
		persistedEvent(91),
	})

	c := newCoordinator(t, Options{Legacy: legacy})
	h, err := c.Open(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, h.Store.Len())
	assert.True(t, h.Store.Contains("persisted-90"))
	assert.True(t, h.Store.Contains("persisted-91"))

	// Legacy seqs belong to the old numbering space; imports are renumbered
	all := h.Store.GetAll()
	assert.Equal(t, uint64(1), all[0].Seq)
	assert.Equal(t, uint64(2), all[1].Seq)

	// Re-running migration is a no-op: every id is already present
	migrated, err := c.migrate(ctx, h.Store, h.Dispatcher)
	require.NoError(t, err)
	assert.Zero(t, migrated)
	assert.Equal(t, 2, h.Store.Len())
}

func TestMigrationSkipsIdsAlreadyReplayed(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.db")

	shared := persistedEvent(1)
	seed := boltstore.New(path)
	require.NoError(t, seed.Open(ctx))
	require.NoError(t, seed.WriteOne(ctx, shared))
	require.NoError(t, seed.Close())

	legacy := memstore.NewSeeded([]*event.Event{shared, persistedEvent(50)})
	c := newCoordinator(t, Options{LocalPath: path, Legacy: legacy})

	h, err := c.Open(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, h.Store.Len(), "shared id imported only once")
}

func TestHandleRunPersistsAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	c := newCoordinator(t, Options{LocalPath: path, SyncInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h, err := c.Open(ctx)
	require.NoError(t, err)

	runDone := make(chan error, 1)
	go func() { runDone <- h.Run(ctx) }()

	_, err = h.Store.Append(ctx, saleKind,
		json.RawMessage(`{"total": 12.5}`), store.AppendOptions{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		events, err := h.Backend.ReadAll(context.Background())
		return err == nil && len(events) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-runDone)
}

func TestShutdownIsIdempotent(t *testing.T) {
	c := newCoordinator(t, Options{})
	_, err := c.Open(context.Background())
	require.NoError(t, err)

	require.NoError(t, c.Shutdown(context.Background()))
	require.NoError(t, c.Shutdown(context.Background()))
	assert.Equal(t, StateUninitialized, c.State())
}

func TestNewCoordinatorRequiresRegistry(t *testing.T) {
	_, err := NewCoordinator(Options{})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

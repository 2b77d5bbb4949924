// Package hydrate bootstraps the event store from durable storage. The
// Coordinator picks the first reachable backend tier (remote, then local,
// then memory), replays its history into a fresh store, migrates a legacy
// snapshot exactly once, and hands back a ready-to-run handle. Open is
// concurrency-safe: every caller during bootstrap shares one in-flight
// attempt and gets the same handle.
package hydrate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/c360/tabledger/backend"
	"github.com/c360/tabledger/backend/boltstore"
	"github.com/c360/tabledger/backend/memstore"
	"github.com/c360/tabledger/backend/natsstore"
	"github.com/c360/tabledger/errors"
	"github.com/c360/tabledger/event"
	"github.com/c360/tabledger/metric"
	"github.com/c360/tabledger/persist"
	"github.com/c360/tabledger/store"
)

// Coordinator states.
const (
	StateUninitialized = "uninitialized"
	StateBootstrapping = "bootstrapping"
	StateReady         = "ready"
)

// LegacySource supplies events from a pre-tabledger storage format for
// one-time migration.
type LegacySource interface {
	ReadAll(ctx context.Context) ([]*event.Event, error)
}

// Options configures the Coordinator.
type Options struct {
	Store   store.Config
	Persist persist.Config

	// Remote enables the NATS tier when non-nil.
	Remote *natsstore.Config

	// LocalPath enables the bbolt tier when non-empty.
	LocalPath string

	// SyncInterval is the background redelivery cadence.
	SyncInterval time.Duration

	// Registry supplies payload schemas; required.
	Registry *event.Registry

	// Legacy is migrated once during bootstrap when non-nil.
	Legacy LegacySource

	Logger  *slog.Logger
	Metrics *metric.MetricsRegistry
}

// Handle is a bootstrapped, ready-to-run store and its collaborators.
type Handle struct {
	Store      *store.Store
	Backend    backend.Backend
	Dispatcher *persist.Dispatcher

	syncInterval time.Duration
	logger       *slog.Logger
	metrics      *metric.Metrics
}

// Run drives the background machinery (durable-write dispatcher and
// redelivery sync) until ctx is cancelled.
func (h *Handle) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return h.Dispatcher.Run(ctx)
	})
	g.Go(func() error {
		syncer := backend.StartBackgroundSync(ctx, h.Backend, h.Dispatcher,
			h.syncInterval, h.logger, h.metrics)
		<-ctx.Done()
		syncer.Stop()
		return nil
	})
	return g.Wait()
}

// Coordinator owns the bootstrap lifecycle. Construct one per process; there
// is deliberately no package-level instance.
type Coordinator struct {
	opts Options

	group singleflight.Group

	mu     sync.Mutex
	state  string
	handle *Handle
}

// NewCoordinator validates the options and returns an uninitialized
// Coordinator. Call Open to bootstrap.
func NewCoordinator(opts Options) (*Coordinator, error) {
	if opts.Registry == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"hydrate", "NewCoordinator", "schema registry is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.SyncInterval == 0 {
		opts.SyncInterval = 30 * time.Second
	}
	return &Coordinator{opts: opts, state: StateUninitialized}, nil
}

// State reports the lifecycle state.
func (c *Coordinator) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Open bootstraps the store, or returns the existing handle if bootstrap
// already completed. Concurrent callers during bootstrap share one attempt.
// A failed attempt is not cached; the next call retries.
func (c *Coordinator) Open(ctx context.Context) (*Handle, error) {
	c.mu.Lock()
	if c.handle != nil {
		h := c.handle
		c.mu.Unlock()
		return h, nil
	}
	c.state = StateBootstrapping
	c.mu.Unlock()

	v, err, _ := c.group.Do("bootstrap", func() (any, error) {
		return c.bootstrap(ctx)
	})
	if err != nil {
		c.mu.Lock()
		c.state = StateUninitialized
		c.mu.Unlock()
		return nil, err
	}

	h := v.(*Handle)
	c.mu.Lock()
	c.handle = h
	c.state = StateReady
	c.mu.Unlock()
	return h, nil
}

// Shutdown closes the store and the backend tier. The dispatcher is stopped
// by cancelling the context passed to Handle.Run.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	h := c.handle
	c.handle = nil
	c.state = StateUninitialized
	c.mu.Unlock()

	if h == nil {
		return nil
	}
	var firstErr error
	if err := h.Store.Close(); err != nil {
		firstErr = errors.Wrap(err, "hydrate", "Shutdown", "close store")
	}
	if err := h.Backend.Close(); err != nil && firstErr == nil {
		firstErr = errors.Wrap(err, "hydrate", "Shutdown", "close backend")
	}
	return firstErr
}

func (c *Coordinator) bootstrap(ctx context.Context) (*Handle, error) {
	logger := c.opts.Logger

	tier := c.selectTier(ctx)
	logger.Info("storage tier selected", "component", "hydrate", "tier", tier.Name())

	dispatcher, err := persist.NewDispatcher(c.opts.Persist, tier, logger, c.opts.Metrics)
	if err != nil {
		return nil, errors.Wrap(err, "hydrate", "bootstrap", "dispatcher creation")
	}

	st, err := store.New(ctx, c.opts.Store, c.opts.Registry, c.opts.Metrics,
		store.WithLogger(logger), store.WithSink(dispatcher))
	if err != nil {
		return nil, errors.Wrap(err, "hydrate", "bootstrap", "store creation")
	}

	if err := c.replay(ctx, tier, st); err != nil {
		_ = st.Close()
		return nil, err
	}

	if c.opts.Legacy != nil {
		migrated, err := c.migrate(ctx, st, dispatcher)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		if migrated > 0 {
			logger.Info("legacy migration complete",
				"component", "hydrate", "migrated", migrated)
		}
	}

	var coreMetrics *metric.Metrics
	if c.opts.Metrics != nil {
		coreMetrics = c.opts.Metrics.CoreMetrics()
		coreMetrics.BackendUp.WithLabelValues(tier.Name()).Set(1)
	}

	return &Handle{
		Store:        st,
		Backend:      tier,
		Dispatcher:   dispatcher,
		syncInterval: c.opts.SyncInterval,
		logger:       logger,
		metrics:      coreMetrics,
	}, nil
}

// selectTier tries remote, then local, then memory. Fallbacks are expected
// in offline operation, so they log as warnings, not failures.
func (c *Coordinator) selectTier(ctx context.Context) backend.Backend {
	logger := c.opts.Logger

	if c.opts.Remote != nil {
		remote, err := natsstore.New(*c.opts.Remote)
		if err == nil {
			err = remote.Open(ctx)
		}
		if err == nil {
			return remote
		}
		c.markDown("remote")
		logger.Warn("remote tier unavailable, falling back",
			"component", "hydrate", "error",
			errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrBackendUnavailable, err),
				"hydrate", "selectTier", "open remote tier"))
	}

	if c.opts.LocalPath != "" {
		local := boltstore.New(c.opts.LocalPath)
		err := local.Open(ctx)
		if err == nil {
			return local
		}
		c.markDown("local")
		logger.Warn("local tier unavailable, falling back",
			"component", "hydrate", "path", c.opts.LocalPath, "error", err)
	}

	mem := memstore.New()
	_ = mem.Open(ctx)
	return mem
}

func (c *Coordinator) markDown(tier string) {
	if c.opts.Metrics != nil {
		c.opts.Metrics.CoreMetrics().BackendUp.WithLabelValues(tier).Set(0)
	}
}

// replay loads the tier's history into the store in Seq order.
func (c *Coordinator) replay(ctx context.Context, tier backend.Backend, st *store.Store) error {
	events, err := tier.ReadAll(ctx)
	if err != nil {
		return errors.Wrap(err, "hydrate", "replay", "read persisted events")
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Seq < events[j].Seq })

	for _, ev := range events {
		if _, err := st.AddDirect(ev); err != nil {
			return errors.Wrap(err, "hydrate", "replay",
				fmt.Sprintf("replay event seq %d", ev.Seq))
		}
	}

	if len(events) > 0 {
		c.opts.Logger.Info("replay complete",
			"component", "hydrate", "events", len(events), "last_seq", st.LastSeq())
	}
	return nil
}

// Package persist is the supervised background dispatcher between the
// in-memory store and the durable backend. Append hands every accepted event
// to Enqueue and never waits for the write: the worker goroutine drains a
// bounded queue, retries each write with backoff, and parks events it cannot
// deliver in a bounded dead-letter ring that background sync redelivers once
// the backend is reachable again.
package persist

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/tabledger/backend"
	"github.com/c360/tabledger/errors"
	"github.com/c360/tabledger/event"
	"github.com/c360/tabledger/metric"
	"github.com/c360/tabledger/pkg/retry"
)

// Config configures the dispatcher
type Config struct {
	// QueueSize bounds the in-flight channel. Enqueue on a full queue does
	// not block; the event goes straight to the dead-letter ring.
	QueueSize int `json:"queue_size" yaml:"queue_size"`

	// DeadLetterSize bounds the ring of undeliverable events. When full,
	// the oldest entry is dropped.
	DeadLetterSize int `json:"dead_letter_size" yaml:"dead_letter_size"`

	// WriteTimeout bounds a single backend write attempt.
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`

	// Retry is the per-event backoff policy.
	Retry errors.RetryConfig `json:"retry" yaml:"retry"`
}

// ApplyDefaults fills in zero-valued fields with production defaults
func (c *Config) ApplyDefaults() {
	if c.QueueSize == 0 {
		c.QueueSize = 1024
	}
	if c.DeadLetterSize == 0 {
		c.DeadLetterSize = 256
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.Retry == (errors.RetryConfig{}) {
		c.Retry = errors.DefaultRetryConfig()
	}
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	if c.QueueSize < 1 {
		return errors.WrapInvalid(
			fmt.Errorf("queue size must be positive, got %d", c.QueueSize),
			"persist", "Validate", "config validation")
	}
	if c.DeadLetterSize < 1 {
		return errors.WrapInvalid(
			fmt.Errorf("dead letter size must be positive, got %d", c.DeadLetterSize),
			"persist", "Validate", "config validation")
	}
	if c.WriteTimeout <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("write timeout must be positive, got %v", c.WriteTimeout),
			"persist", "Validate", "config validation")
	}
	return nil
}

// Dispatcher owns the durable-write queue. It satisfies store.Sink on the
// write side and backend.Source on the redelivery side.
type Dispatcher struct {
	cfg     Config
	backend backend.Backend
	logger  *slog.Logger
	metrics *metric.Metrics

	queue chan *event.Event
	ring  *deadLetterRing

	started chan struct{}
	done    chan struct{}
}

// NewDispatcher creates a dispatcher in front of the given backend tier.
// Pass a metrics registry to export queue depth and dead-letter counters, or
// nil to skip.
func NewDispatcher(cfg Config, b backend.Backend, logger *slog.Logger, metricsReg *metric.MetricsRegistry) (*Dispatcher, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"persist", "NewDispatcher", "backend is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		cfg:     cfg,
		backend: b,
		logger:  logger,
		queue:   make(chan *event.Event, cfg.QueueSize),
		ring:    newDeadLetterRing(cfg.DeadLetterSize),
		started: make(chan struct{}),
		done:    make(chan struct{}),
	}
	if metricsReg != nil {
		d.metrics = metricsReg.CoreMetrics()
	}
	return d, nil
}

// Enqueue accepts an event for durable persistence. It never blocks: a full
// queue parks the event in the dead-letter ring for redelivery.
func (d *Dispatcher) Enqueue(ev *event.Event) {
	select {
	case d.queue <- ev:
		if d.metrics != nil {
			d.metrics.PersistQueueDepth.Set(float64(len(d.queue)))
		}
	default:
		d.logger.Warn("persist queue full, parking event",
			"component", "persist", "event_id", ev.ID, "seq", ev.Seq)
		d.park(ev)
	}
}

// Run drains the queue until ctx is cancelled, then parks whatever is left
// so nothing accepted by Enqueue is silently lost. It returns nil on a clean
// shutdown and may be called once.
func (d *Dispatcher) Run(ctx context.Context) error {
	select {
	case <-d.started:
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "persist", "Run", "lifecycle check")
	default:
		close(d.started)
	}
	defer close(d.done)

	d.logger.Info("persist dispatcher started",
		"component", "persist", "tier", d.backend.Name(),
		"queue_size", d.cfg.QueueSize)

	for {
		select {
		case <-ctx.Done():
			d.drainOnShutdown()
			d.logger.Info("persist dispatcher stopped", "component", "persist")
			return nil
		case ev := <-d.queue:
			if d.metrics != nil {
				d.metrics.PersistQueueDepth.Set(float64(len(d.queue)))
			}
			d.deliver(ctx, ev)
		}
	}
}

// Done is closed once Run has returned.
func (d *Dispatcher) Done() <-chan struct{} { return d.done }

// deliver writes one event with retry. Exhausted retries park the event.
func (d *Dispatcher) deliver(ctx context.Context, ev *event.Event) {
	attempts := 0
	err := retry.Do(ctx, d.cfg.Retry.ToRetryConfig(), func() error {
		attempts++
		writeCtx, cancel := context.WithTimeout(ctx, d.cfg.WriteTimeout)
		defer cancel()

		werr := d.backend.WriteOne(writeCtx, ev)
		if werr != nil && !errors.IsTransient(werr) {
			return retry.NonRetryable(werr)
		}
		return werr
	})

	if retries := attempts - 1; retries > 0 && d.metrics != nil {
		d.metrics.PersistRetries.Add(float64(retries))
	}
	if err == nil {
		return
	}

	d.logger.Error("durable write failed, parking event",
		"component", "persist", "tier", d.backend.Name(),
		"event_id", ev.ID, "seq", ev.Seq,
		"attempts", attempts, "error", err)
	d.park(ev)
}

// drainOnShutdown moves still-queued events to the ring. A restarted process
// hydrates from the backend, so these only matter to in-process inspection,
// but dropping them silently would hide the gap.
func (d *Dispatcher) drainOnShutdown() {
	for {
		select {
		case ev := <-d.queue:
			d.park(ev)
		default:
			if d.metrics != nil {
				d.metrics.PersistQueueDepth.Set(0)
			}
			return
		}
	}
}

func (d *Dispatcher) park(ev *event.Event) {
	if dropped := d.ring.add(ev); dropped != nil {
		d.logger.Error("dead-letter ring full, dropping oldest event",
			"component", "persist", "event_id", dropped.ID, "seq", dropped.Seq)
	}
	if d.metrics != nil {
		d.metrics.DeadLettersTotal.Inc()
	}
}

// TakePending drains the dead-letter ring, oldest first. Part of the
// backend.Source contract used by background sync.
func (d *Dispatcher) TakePending() []*event.Event {
	return d.ring.drain()
}

// Requeue puts an event back on the ring after a failed redelivery.
func (d *Dispatcher) Requeue(ev *event.Event) {
	d.park(ev)
}

// DeadLetters returns a copy of the ring for inspection without draining it.
func (d *Dispatcher) DeadLetters() []*event.Event {
	return d.ring.snapshot()
}

// QueueDepth returns the number of events waiting in the queue.
func (d *Dispatcher) QueueDepth() int { return len(d.queue) }

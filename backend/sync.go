package backend

import (
	"context"
	"log/slog"
	"time"

	"github.com/c360/tabledger/event"
	"github.com/c360/tabledger/metric"
)

// Source supplies events still waiting for a durable write, typically the
// persist dispatcher's dead-letter ring.
type Source interface {
	// TakePending removes and returns the waiting events, oldest first.
	TakePending() []*event.Event

	// Requeue puts an event back after a failed redelivery attempt.
	Requeue(ev *event.Event)
}

// Syncer is a handle to a running background sync loop.
type Syncer struct {
	stop chan struct{}
	done chan struct{}
}

// StartBackgroundSync launches a loop that periodically pings the backend
// and, while it is reachable, redelivers events the dispatcher had to
// abandon. This is the offline/online reconciliation boundary: a tier that
// was down when events were written catches up on the next tick after it
// comes back.
func StartBackgroundSync(ctx context.Context, b Backend, src Source, interval time.Duration, logger *slog.Logger, metrics *metric.Metrics) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Syncer{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go s.run(ctx, b, src, interval, logger, metrics)
	return s
}

// Stop terminates the loop and waits for it to exit.
func (s *Syncer) Stop() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	<-s.done
}

func (s *Syncer) run(ctx context.Context, b Backend, src Source, interval time.Duration, logger *slog.Logger, metrics *metric.Metrics) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.tick(ctx, b, src, logger, metrics)
		}
	}
}

func (s *Syncer) tick(ctx context.Context, b Backend, src Source, logger *slog.Logger, metrics *metric.Metrics) {
	if err := b.Ping(ctx); err != nil {
		if metrics != nil {
			metrics.BackendUp.WithLabelValues(b.Name()).Set(0)
		}
		logger.Debug("backend unreachable, sync deferred",
			"component", "backend", "tier", b.Name(), "error", err)
		return
	}
	if metrics != nil {
		metrics.BackendUp.WithLabelValues(b.Name()).Set(1)
	}

	pending := src.TakePending()
	if len(pending) == 0 {
		return
	}

	delivered := 0
	for i, ev := range pending {
		if err := b.WriteOne(ctx, ev); err != nil {
			logger.Warn("redelivery failed, requeueing remainder",
				"component", "backend", "tier", b.Name(),
				"event_id", ev.ID, "error", err)
			for _, rest := range pending[i:] {
				src.Requeue(rest)
			}
			break
		}
		delivered++
	}

	if delivered > 0 {
		logger.Info("redelivered deferred events",
			"component", "backend", "tier", b.Name(), "count", delivered)
	}
}

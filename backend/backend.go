// Package backend defines the durable-storage boundary behind the in-memory
// store. Three tiers implement it: a NATS JetStream KV bucket (remote), a
// bbolt file (local) and an in-memory fallback. Hydration picks the first
// reachable tier; the persist dispatcher writes accepted events through it.
package backend

import (
	"context"

	"github.com/c360/tabledger/event"
)

// Backend is one durable storage tier.
type Backend interface {
	// Name identifies the tier in logs and metrics: "remote", "local",
	// "memory".
	Name() string

	// Open prepares the tier for use. Unreachable tiers return a
	// transient-classified error so hydration can fall through.
	Open(ctx context.Context) error

	// ReadAll returns every persisted event, sorted by Seq ascending.
	ReadAll(ctx context.Context) ([]*event.Event, error)

	// WriteOne persists a single event. Writes are keyed by Seq, so
	// rewriting the same event is idempotent.
	WriteOne(ctx context.Context, ev *event.Event) error

	// Ping reports whether the tier is currently reachable.
	Ping(ctx context.Context) error

	// Close releases the tier's resources.
	Close() error
}

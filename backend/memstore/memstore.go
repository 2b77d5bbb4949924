// Package memstore is the in-memory last-resort storage tier. Nothing
// survives a restart; it exists so the store stays writable when both the
// remote and the local tier are unavailable. It also serves as the container
// for legacy event snapshots fed into migration.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/c360/tabledger/errors"
	"github.com/c360/tabledger/event"
)

// Store holds events in memory, keyed by Seq.
type Store struct {
	mu     sync.RWMutex
	events map[uint64]*event.Event
	closed bool
}

// New creates an empty in-memory tier.
func New() *Store {
	return &Store{events: make(map[uint64]*event.Event)}
}

// NewSeeded creates a tier pre-loaded with events, the shape migration
// consumes for a legacy source.
func NewSeeded(events []*event.Event) *Store {
	s := New()
	for _, ev := range events {
		s.events[ev.Seq] = ev
	}
	return s
}

// Name identifies the tier.
func (s *Store) Name() string { return "memory" }

// Open is a no-op; memory is always available.
func (s *Store) Open(ctx context.Context) error { return nil }

// ReadAll returns all events sorted by Seq.
func (s *Store) ReadAll(ctx context.Context) ([]*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.WrapTransient(errors.ErrBackendClosed, "memstore", "ReadAll", "read")
	}

	out := make([]*event.Event, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// WriteOne stores an event, overwriting any previous write for the same Seq.
func (s *Store) WriteOne(ctx context.Context, ev *event.Event) error {
	if ev == nil {
		return errors.WrapInvalid(fmt.Errorf("event cannot be nil"), "memstore", "WriteOne", "write")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.WrapTransient(errors.ErrBackendClosed, "memstore", "WriteOne", "write")
	}
	s.events[ev.Seq] = ev
	return nil
}

// Ping reports availability.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.WrapTransient(errors.ErrBackendClosed, "memstore", "Ping", "ping")
	}
	return nil
}

// Len returns the number of stored events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Close marks the tier closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

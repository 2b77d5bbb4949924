package persist

import (
	"sync"

	"github.com/c360/tabledger/event"
)

// deadLetterRing is a bounded FIFO of undeliverable events. When full, the
// oldest entry makes room for the newest.
type deadLetterRing struct {
	mu     sync.Mutex
	events []*event.Event
	cap    int
}

func newDeadLetterRing(capacity int) *deadLetterRing {
	return &deadLetterRing{cap: capacity}
}

// add appends an event, returning the entry that was dropped to make room,
// if any.
func (r *deadLetterRing) add(ev *event.Event) *event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var dropped *event.Event
	if len(r.events) >= r.cap {
		dropped = r.events[0]
		r.events = append(r.events[:0], r.events[1:]...)
	}
	r.events = append(r.events, ev)
	return dropped
}

// drain removes and returns all entries, oldest first.
func (r *deadLetterRing) drain() []*event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}

// snapshot returns a copy without draining.
func (r *deadLetterRing) snapshot() []*event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*event.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Package event defines the immutable event model and the schema registry
// that validates payloads on the write path.
package event

import (
	"encoding/json"

	"github.com/c360/tabledger/pkg/timestamp"
)

// Aggregate identifies the business entity an event pertains to.
// Events without an aggregate are system-wide facts.
type Aggregate struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// IsZero reports whether the aggregate is unset.
func (a Aggregate) IsZero() bool {
	return a.ID == "" && a.Type == ""
}

// Event is an immutable fact record, the unit of all state change.
//
// Seq is a process-wide strictly increasing integer assigned exactly once
// when the write is accepted; it is never reused or reordered, even after
// the event is evicted from the in-memory hot set. At is the creation
// timestamp in Unix milliseconds; downstream replication resolves
// cross-device conflicts last-write-wins on this timestamp.
type Event struct {
	ID        string          `json:"id"`
	Seq       uint64          `json:"seq"`
	Kind      Kind            `json:"kind"`
	At        int64           `json:"at"`
	Aggregate Aggregate       `json:"aggregate,omitzero"`
	Payload   json.RawMessage `json:"payload"`
}

// DayKey returns the calendar-day index key for the event's creation time.
func (e *Event) DayKey() string {
	return timestamp.DayKey(e.At)
}

// HourKey returns the hour index key for the event's creation time.
func (e *Event) HourKey() string {
	return timestamp.HourKey(e.At)
}

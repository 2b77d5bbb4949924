package store

import (
	"github.com/c360/tabledger/event"
)

// indexSet holds the four secondary indexes over the in-memory log. Each
// index maps a derived key to the set of event IDs sharing that key. All
// mutation happens under the owning Store's mutex.
type indexSet struct {
	byKind      map[string]map[string]struct{} // kind name -> event IDs
	byAggregate map[string]map[string]struct{} // aggregate ID -> event IDs
	byDay       map[string]map[string]struct{} // "2006-01-02" -> event IDs
	byHour      map[string]map[string]struct{} // "2006-01-02-15" -> event IDs
}

func newIndexSet() *indexSet {
	return &indexSet{
		byKind:      make(map[string]map[string]struct{}),
		byAggregate: make(map[string]map[string]struct{}),
		byDay:       make(map[string]map[string]struct{}),
		byHour:      make(map[string]map[string]struct{}),
	}
}

func (s *indexSet) insert(ev *event.Event) {
	addToBucket(s.byKind, ev.Kind.Name, ev.ID)
	if !ev.Aggregate.IsZero() {
		addToBucket(s.byAggregate, ev.Aggregate.ID, ev.ID)
	}
	addToBucket(s.byDay, ev.DayKey(), ev.ID)
	addToBucket(s.byHour, ev.HourKey(), ev.ID)
}

func (s *indexSet) remove(ev *event.Event) {
	removeFromBucket(s.byKind, ev.Kind.Name, ev.ID)
	if !ev.Aggregate.IsZero() {
		removeFromBucket(s.byAggregate, ev.Aggregate.ID, ev.ID)
	}
	removeFromBucket(s.byDay, ev.DayKey(), ev.ID)
	removeFromBucket(s.byHour, ev.HourKey(), ev.ID)
}

func (s *indexSet) kindIDs(name string) map[string]struct{}    { return s.byKind[name] }
func (s *indexSet) aggregateIDs(id string) map[string]struct{} { return s.byAggregate[id] }
func (s *indexSet) dayIDs(day string) map[string]struct{}      { return s.byDay[day] }
func (s *indexSet) hourIDs(hour string) map[string]struct{}    { return s.byHour[hour] }

func (s *indexSet) clear() {
	s.byKind = make(map[string]map[string]struct{})
	s.byAggregate = make(map[string]map[string]struct{})
	s.byDay = make(map[string]map[string]struct{})
	s.byHour = make(map[string]map[string]struct{})
}

func addToBucket(idx map[string]map[string]struct{}, key, id string) {
	bucket, ok := idx[key]
	if !ok {
		bucket = make(map[string]struct{})
		idx[key] = bucket
	}
	bucket[id] = struct{}{}
}

func removeFromBucket(idx map[string]map[string]struct{}, key, id string) {
	bucket, ok := idx[key]
	if !ok {
		return
	}
	delete(bucket, id)
	if len(bucket) == 0 {
		delete(idx, key)
	}
}

// Package boltstore is the local durable storage tier, a single-bucket bbolt
// file keyed by big-endian Seq so a cursor walk yields replay order.
package boltstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/c360/tabledger/errors"
	"github.com/c360/tabledger/event"
)

var bucketEvents = []byte("events")

// Store persists events in a bbolt file.
type Store struct {
	path string

	mu sync.Mutex
	db *bbolt.DB
}

// New creates a local tier for the given file path. Call Open before use.
func New(path string) *Store {
	return &Store{path: path}
}

// Name identifies the tier.
func (s *Store) Name() string { return "local" }

// Open opens (or creates) the database file and its bucket. The open timeout
// guards against a stale flock from a crashed process.
func (s *Store) Open(ctx context.Context) error {
	if s.path == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "boltstore", "Open", "path is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return nil
	}

	db, err := bbolt.Open(s.path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return errors.WrapTransient(
			fmt.Errorf("%w: %w", errors.ErrBackendUnavailable, err),
			"boltstore", "Open", "open database")
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEvents)
		return err
	})
	if err != nil {
		_ = db.Close()
		return errors.WrapFatal(err, "boltstore", "Open", "create bucket")
	}

	s.db = db
	return nil
}

// ReadAll returns every persisted event in Seq order.
func (s *Store) ReadAll(ctx context.Context) ([]*event.Event, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	var out []*event.Event
	err = db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var ev event.Event
			if err := json.Unmarshal(v, &ev); err != nil {
				return fmt.Errorf("decode event at key %x: %w", k, err)
			}
			out = append(out, &ev)
			return nil
		})
	})
	if err != nil {
		return nil, errors.WrapFatal(err, "boltstore", "ReadAll", "scan bucket")
	}
	return out, nil
}

// WriteOne persists a single event under its Seq key.
func (s *Store) WriteOne(ctx context.Context, ev *event.Event) error {
	if ev == nil {
		return errors.WrapInvalid(fmt.Errorf("event cannot be nil"), "boltstore", "WriteOne", "write")
	}
	db, err := s.handle()
	if err != nil {
		return err
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return errors.WrapFatal(err, "boltstore", "WriteOne", "marshal event")
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketEvents).Put(seqKey(ev.Seq), data)
	})
	if err != nil {
		return errors.WrapTransient(err, "boltstore", "WriteOne", "put event")
	}
	return nil
}

// Ping reports whether the database is open.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.handle()
	return err
}

// Close closes the database file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return errors.WrapTransient(err, "boltstore", "Close", "close database")
	}
	return nil
}

func (s *Store) handle() (*bbolt.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, errors.WrapTransient(errors.ErrBackendClosed, "boltstore", "handle", "database not open")
	}
	return s.db, nil
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

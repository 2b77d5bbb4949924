// Package natsstore is the remote-capable storage tier: a NATS JetStream KV
// bucket shared across devices, keyed by zero-padded Seq. Downstream
// replication resolves conflicts last-write-wins, so a plain Put per event is
// sufficient.
package natsstore

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/tabledger/errors"
	"github.com/c360/tabledger/event"
	"github.com/c360/tabledger/pkg/cache"
)

// Config configures the remote tier.
type Config struct {
	URL            string        `json:"url" yaml:"url"`
	Bucket         string        `json:"bucket" yaml:"bucket"`
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout"`

	// WriteCacheSize bounds the LRU of recently written seq keys used to
	// skip rewrites during redelivery.
	WriteCacheSize int `json:"write_cache_size" yaml:"write_cache_size"`
}

// ApplyDefaults fills in zero-valued fields
func (c *Config) ApplyDefaults() {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.Bucket == "" {
		c.Bucket = "tabledger_events"
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.WriteCacheSize == 0 {
		c.WriteCacheSize = 1024
	}
}

// Store persists events in a JetStream KV bucket.
type Store struct {
	cfg Config

	mu sync.Mutex
	nc *nats.Conn
	kv jetstream.KeyValue

	// written dedups redeliveries: background sync may hand us an event the
	// dispatcher already wrote.
	written cache.Cache[struct{}]
}

// New creates a remote tier. Call Open before use.
func New(cfg Config) (*Store, error) {
	cfg.ApplyDefaults()
	written, err := cache.NewLRU[struct{}](cfg.WriteCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "natsstore", "New", "write cache creation")
	}
	return &Store{cfg: cfg, written: written}, nil
}

// Name identifies the tier.
func (s *Store) Name() string { return "remote" }

// Open connects to NATS and binds the KV bucket, creating it if needed.
func (s *Store) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.kv != nil {
		return nil
	}

	nc, err := nats.Connect(s.cfg.URL,
		nats.Name("tabledger"),
		nats.Timeout(s.cfg.ConnectTimeout))
	if err != nil {
		return errors.WrapTransient(
			fmt.Errorf("%w: %w", errors.ErrBackendUnavailable, err),
			"natsstore", "Open", "connect to NATS")
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return errors.WrapTransient(err, "natsstore", "Open", "create JetStream context")
	}

	kv, err := js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      s.cfg.Bucket,
		Description: "tabledger durable event log",
	})
	if err != nil {
		nc.Close()
		return errors.WrapTransient(
			fmt.Errorf("%w: %w", errors.ErrBackendUnavailable, err),
			"natsstore", "Open", "create KV bucket")
	}

	s.nc = nc
	s.kv = kv
	return nil
}

// ReadAll returns every persisted event in Seq order.
func (s *Store) ReadAll(ctx context.Context) ([]*event.Event, error) {
	kv, err := s.bucket()
	if err != nil {
		return nil, err
	}

	keys, err := kv.Keys(ctx)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, errors.WrapTransient(err, "natsstore", "ReadAll", "list keys")
	}

	out := make([]*event.Event, 0, len(keys))
	for _, key := range keys {
		entry, err := kv.Get(ctx, key)
		if err != nil {
			return nil, errors.WrapTransient(err, "natsstore", "ReadAll",
				fmt.Sprintf("get key %s", key))
		}
		var ev event.Event
		if err := json.Unmarshal(entry.Value(), &ev); err != nil {
			return nil, errors.WrapFatal(err, "natsstore", "ReadAll",
				fmt.Sprintf("decode key %s", key))
		}
		out = append(out, &ev)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// WriteOne persists a single event. Rewrites of a recently written Seq are
// skipped via the LRU.
func (s *Store) WriteOne(ctx context.Context, ev *event.Event) error {
	if ev == nil {
		return errors.WrapInvalid(fmt.Errorf("event cannot be nil"), "natsstore", "WriteOne", "write")
	}
	kv, err := s.bucket()
	if err != nil {
		return err
	}

	key := seqKey(ev.Seq)
	if _, done := s.written.Get(key); done {
		return nil
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return errors.WrapFatal(err, "natsstore", "WriteOne", "marshal event")
	}
	if _, err := kv.Put(ctx, key, data); err != nil {
		return errors.WrapTransient(
			fmt.Errorf("%w: %w", errors.ErrBackendUnavailable, err),
			"natsstore", "WriteOne", "put event")
	}

	_, _ = s.written.Set(key, struct{}{})
	return nil
}

// Ping reports whether the NATS connection is up.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	nc := s.nc
	s.mu.Unlock()

	if nc == nil {
		return errors.WrapTransient(errors.ErrBackendClosed, "natsstore", "Ping", "not connected")
	}
	if !nc.IsConnected() {
		return errors.WrapTransient(errors.ErrBackendUnavailable, "natsstore", "Ping", "connection down")
	}
	return nil
}

// Close drains the connection and releases the write cache.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_ = s.written.Close()
	if s.nc == nil {
		return nil
	}
	err := s.nc.Drain()
	s.nc = nil
	s.kv = nil
	if err != nil {
		return errors.WrapTransient(err, "natsstore", "Close", "drain connection")
	}
	return nil
}

func (s *Store) bucket() (jetstream.KeyValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.kv == nil {
		return nil, errors.WrapTransient(errors.ErrBackendClosed, "natsstore", "bucket", "bucket not open")
	}
	return s.kv, nil
}

// seqKey zero-pads the sequence so lexicographic KV ordering matches numeric
// replay order.
func seqKey(seq uint64) string {
	return fmt.Sprintf("%020d", seq)
}

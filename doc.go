// Package tabledger is an embedded event store for restaurant-management
// systems: every state change is an immutable event appended to an ordered
// log, and all reads derive from that log.
//
// # Architecture
//
// The write path is a single call, Append, which deduplicates on an
// idempotency key, validates the payload against a registered JSON Schema,
// assigns a gap-free sequence number, and updates four secondary indexes
// (kind name, aggregate id, calendar day, hour) plus a dependency-tracked
// query cache before it returns. The read path dispatches to the most
// selective index and memoizes results until an append touches one of their
// dependencies.
//
// Durability is asynchronous: accepted events flow through a supervised
// dispatcher (persist) into a storage tier (backend) - NATS JetStream KV
// when reachable, a local bbolt file otherwise, plain memory as the last
// resort. On startup the hydrate Coordinator replays the durable history
// and migrates legacy snapshots exactly once.
//
// Package layout:
//
//   - event: the Event model, typed kinds, and the schema registry
//   - store: the in-memory log, indexes, query cache and retention
//   - backend: durable tiers (natsstore, boltstore, memstore) and sync
//   - persist: the background durable-write dispatcher
//   - hydrate: bootstrap, tier selection, replay and migration
//   - config: YAML + environment configuration
//   - metric: Prometheus registry shared by all components
//   - errors, pkg/...: classified errors and small shared utilities
//
// See cmd/tabledger for the standalone process wiring.
package tabledger

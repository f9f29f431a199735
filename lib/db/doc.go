// Package db implements the per-shard data slice: the single-threaded
// owner of one shard's keyspace.
//
// The slice mediates every read and write over a pair of segmented hash
// tables (the prime table holding values, the expire table holding
// relative deadlines), enforces the memory budget through an eviction
// policy injected into the prime table's grow path, lazily expires
// entries on access, maintains the versioned change-notification list
// that keeps concurrent observers (snapshotters, migration streamers)
// consistent, and performs slot flushes and expiration sweeps.
//
// Key Components:
//
//   - DbSlice: the coordinator. FindReadOnly/FindMutable/AddOrFind/
//     AddOrUpdate are the four canonical primitives, everything else is
//     built on them.
//   - DbTable: the per-database bundle of prime table, expire table,
//     memcached-flag table, per-slot statistics, intent locks, watched
//     keys and aggregate byte counters.
//   - AutoUpdater: the runtime-checked guard returned by every mutable
//     lookup. It must run before the slice is mutated again, its run
//     applies the heap-delta accounting of the mutation.
//   - primeEvictionPolicy: the growth mediator. It garbage-collects
//     expired entries of the colliding buckets before any split, and
//     below the soft budget it vetoes splits and, in caching mode,
//     evicts instead.
//
// Thread-safety: none. A DbSlice and everything it owns is only
// accessed from its shard worker. Correctness comes from the guarantee
// that no two operations execute concurrently on the same slice, not
// from locks.
package db

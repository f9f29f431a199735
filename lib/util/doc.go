// Package util provides small concurrency and measurement helpers used
// across the engine: an unbounded multi-producer single-consumer queue
// (shard task dispatch, journal fan-out) and a size histogram used to
// learn the average per-object heap cost that the eviction policy's
// growth estimate relies on.
package util

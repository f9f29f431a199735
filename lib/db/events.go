package db

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"
)

// Events is the per-slice counter block. The fields are plain integers
// because the slice is single-threaded, they are exported to the
// process metrics set as callback gauges so scraping never touches the
// shard worker.
type Events struct {
	Hits                uint64
	Misses              uint64
	Mutations           uint64
	InsertionRejections uint64
	Updates             uint64
	GarbageChecked      uint64
	GarbageCollected    uint64
	EvictedKeys         uint64
	ExpiredKeys         uint64
	Bumpups             uint64
}

// registerMetrics exposes every counter under
// marlin_slice_events_total{event=...,shard=...}.
func (e *Events) registerMetrics(shardID int) {
	reg := func(event string, field *uint64) {
		name := fmt.Sprintf(`marlin_slice_events_total{event=%q,shard="%d"}`, event, shardID)
		metrics.GetOrCreateGauge(name, func() float64 { return float64(*field) })
	}
	reg("hits", &e.Hits)
	reg("misses", &e.Misses)
	reg("mutations", &e.Mutations)
	reg("insertion_rejections", &e.InsertionRejections)
	reg("updates", &e.Updates)
	reg("garbage_checked", &e.GarbageChecked)
	reg("garbage_collected", &e.GarbageCollected)
	reg("evicted_keys", &e.EvictedKeys)
	reg("expired_keys", &e.ExpiredKeys)
	reg("bumpups", &e.Bumpups)
}

// Add merges other into e.
func (e *Events) Add(other Events) {
	e.Hits += other.Hits
	e.Misses += other.Misses
	e.Mutations += other.Mutations
	e.InsertionRejections += other.InsertionRejections
	e.Updates += other.Updates
	e.GarbageChecked += other.GarbageChecked
	e.GarbageCollected += other.GarbageCollected
	e.EvictedKeys += other.EvictedKeys
	e.ExpiredKeys += other.ExpiredKeys
	e.Bumpups += other.Bumpups
}

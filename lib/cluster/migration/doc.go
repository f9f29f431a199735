// Package migration implements slot migration between cluster nodes:
// the per-shard restore streamer, the outgoing and incoming state
// machines and the process-wide registry the admin commands operate on.
//
// A migration moves the keys of a set of slot ranges from a source node
// to a destination node in two phases. During full sync a streamer
// walks the source shard's prime table and emits every matching key in
// restore form, using bucket versions to hand off concurrently mutated
// buckets before their old content is lost. During stable sync the
// streamer tails the shard journal and forwards only matching entries.
// The migration is finalized by a cluster-config change that removes
// the slots from the source, which then flushes them.
//
// Thread-safety: a streamer and its slice belong to one shard worker.
// The migration objects aggregate per-shard flows and are read from
// other goroutines (status commands), their state words are atomic.
package migration

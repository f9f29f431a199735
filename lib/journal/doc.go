// Package journal implements the per-shard mutation log the data slice
// publishes applied changes to. Replication and slot migration tail it.
//
// A Journal is owned by one shard worker: appends are single-threaded
// and cheap. Each subscriber gets its own unbounded queue so a slow
// consumer never blocks the shard. Entries carry a shard-local LSN.
//
// The journal keeps no history. A consumer that needs a consistent
// snapshot combines a table traversal with a subscription taken before
// the traversal starts, the way the migration streamer does.
package journal

// Package cluster implements the slot-partitioning model: the stable
// key-to-slot mapping, slot sets and ranges, and the immutable cluster
// configuration snapshot that maps slots to owner nodes.
//
// A Config value is immutable after construction. Each shard worker
// holds its own pointer to the current config and swaps it under the
// process-wide set-config protocol, readers therefore never take a
// lock. The emulated single-node mode and the real multi-node mode go
// through the same Config type, emulated mode simply builds a synthetic
// one-shard config owning the full slot range.
package cluster

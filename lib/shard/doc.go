// Package shard implements the engine's execution model: one worker
// goroutine per shard draining an unbounded FIFO task queue. Everything a
// shard owns (its data slice, journal and migration flows) is only
// touched from inside tasks running on that shard's worker, which gives
// the single-writer guarantee the storage layer is built on.
//
// Tasks queued on the same shard run in submission order and never
// concurrently. Cross-shard operations use AwaitRunOnAll, which runs a
// callback on every shard and waits for all of them.
package shard

// Package table implements a segmented, open-addressed hash table with
// extendible hashing, the storage primitive behind the engine's prime
// and expire tables.
//
// The table is organized in three levels:
//
//   - Segments: fixed-capacity units addressed through a directory by
//     the top bits of the key hash. A full segment splits in two, the
//     directory doubles when a segment's depth catches up with the
//     directory depth.
//   - Buckets: each segment holds kRegularBuckets regular buckets plus
//     kStashBuckets stash buckets used as overflow when a key's home
//     neighborhood is full.
//   - Slots: each bucket stores up to kSlotsPerBucket entries packed
//     densely. A slot is addressed by an Iterator triple
//     (segment, bucket, slot).
//
// Every bucket carries a monotonically increasing version counter that
// callers manage through GetVersion/SetVersion. Splitting propagates the
// maximum version of the source segment so versions never move backwards.
//
// Iterator invalidation: any operation that inserts or erases anywhere
// in the table invalidates all iterators. Mutating a value in place
// through an iterator does not.
//
// Growth is mediated by a Policy passed to Insert. The policy can veto
// growth (CanGrow), reclaim space before a split (GarbageCollect), evict
// an entry when growth is vetoed (Evict) and observe splits
// (RecordSplit).
//
// Thread-safety: none. A table is owned by exactly one shard worker.
package table

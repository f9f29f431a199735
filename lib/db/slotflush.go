package db

import (
	"github.com/marlinkv/marlin/lib/cluster"
	"github.com/marlinkv/marlin/lib/core"
	"github.com/marlinkv/marlin/lib/table"
)

// --------------------------------------------------------------------------
// Slot Flush
// --------------------------------------------------------------------------

// flushStepBuckets is how many buckets one flush step visits before
// yielding back to the shard queue.
const flushStepBuckets = 100

// SlotFlush incrementally removes every key of a slot set from database
// index 0. The version captured at the start excludes buckets mutated
// after the flush began, those mutations already happened under the new
// slot ownership and must survive.
type SlotFlush struct {
	slice        *DbSlice
	set          cluster.SlotSet
	upperVersion uint64
	cursor       table.Cursor
	started      bool
	finished     bool
	deleted      int
}

// StartFlushSlots begins an incremental flush of the keys in set.
func (s *DbSlice) StartFlushSlots(set cluster.SlotSet) *SlotFlush {
	return &SlotFlush{slice: s, set: set, upperVersion: s.NextVersion()}
}

// Finished reports whether the flush visited the whole table.
func (f *SlotFlush) Finished() bool { return f.finished }

// Deleted returns the number of keys removed so far.
func (f *SlotFlush) Deleted() int { return f.deleted }

// RunStep visits up to maxBuckets buckets and removes the matching
// keys it finds. Returns whether the flush is finished. The caller
// re-queues unfinished flushes on its shard so other work interleaves.
func (f *SlotFlush) RunStep(ctx Context, maxBuckets int) bool {
	if f.finished {
		return true
	}
	s := f.slice
	s.assertNoPendingUpdate()
	dbt := s.ensureTable(ctx)
	tbl := dbt.prime

	for i := 0; i < maxBuckets; i++ {
		var victims []string
		f.cursor = tbl.Traverse(f.cursor, func(b *table.BucketView[core.PrimeKey, core.PrimeValue]) {
			if b.Version() >= f.upperVersion {
				return
			}
			b.ForEach(func(_ table.Iterator, k *core.PrimeKey, _ *core.PrimeValue) {
				key := k.String()
				if f.set.Contains(cluster.KeySlotString(key)) {
					victims = append(victims, key)
				}
			})
		})
		for _, key := range victims {
			pk := core.NewPrimeKeyString(key)
			if it, ok := tbl.Find(&pk); ok {
				s.performDeletion(ctx, dbt, it, table.DoneIterator())
				f.deleted++
			}
		}
		f.started = true
		if f.cursor == 0 {
			f.finished = true
			log.Infof("shard %d: slot flush removed %d keys", s.shardID, f.deleted)
			return true
		}
	}
	return false
}

// FlushSlots removes every key of set from database index 0
// synchronously. A no-op for an empty set.
func (s *DbSlice) FlushSlots(ctx Context, set cluster.SlotSet) int {
	if set.Empty() {
		return 0
	}
	f := s.StartFlushSlots(set)
	for !f.RunStep(ctx, flushStepBuckets) {
	}
	return f.deleted
}

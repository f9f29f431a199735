package db

import (
	"github.com/marlinkv/marlin/lib/core"
	"github.com/marlinkv/marlin/lib/table"
)

// --------------------------------------------------------------------------
// Eviction Policy
// --------------------------------------------------------------------------

// growthHeadroom inflates the bytes-per-object estimate of a segment
// split, erring towards refusing growth near the budget.
const growthHeadroom = 1.1

// primeEvictionPolicy mediates growth of the prime table during one
// insert. It is constructed per insertion attempt so the hooks can carry
// the command context into the table.
type primeEvictionPolicy struct {
	slice *DbSlice
	ctx   Context
	dbt   *DbTable
	// canEvict allows the policy to remove live entries, only caching
	// mode sets it.
	canEvict bool
	// applyMemoryLimit enables the budget check in CanGrow. Internal
	// restore paths disable it.
	applyMemoryLimit bool
}

// CanGrow vetoes a segment split when the projected cost of the new
// segment plus the objects that would fill its free slots exceeds the
// remaining budget. Far away from the budget it always permits growth.
func (p *primeEvictionPolicy) CanGrow(tbl *PrimeTable) bool {
	if !p.applyMemoryLimit {
		return true
	}
	s := p.slice
	if s.memoryBudget > s.softBudgetLimit {
		return true
	}
	bytesPerObject := int64(s.objSizeHist.AverageSize(kDefaultObjSize))
	freeSlotsAfterGrow := int64((tbl.SegmentCount()+1)*table.KSegmentCapacity - tbl.Size())
	estimate := tbl.SegBytes() + int64(float64(bytesPerObject*freeSlotsAfterGrow)*growthHeadroom)
	return estimate <= s.memoryBudget
}

// RecordSplit debits the new segment from the budget.
func (p *primeEvictionPolicy) RecordSplit(segBytes int64) {
	p.slice.memoryBudget -= segBytes
}

// GarbageCollect scans the colliding regular buckets for expired entries
// and removes them, reclaiming slots without touching live data.
func (p *primeEvictionPolicy) GarbageCollect(hs table.Hotspot, tbl *PrimeTable) int {
	s := p.slice
	reclaimed := 0
	for _, bid := range hs.RegularBuckets() {
		tbl.ForEachSlot(hs.SegID, bid, func(it table.Iterator, k *core.PrimeKey, _ *core.PrimeValue) bool {
			s.events.GarbageChecked++
			if !k.HasExpire() {
				return true
			}
			expIt, ok := p.dbt.expire.Find(k)
			if !ok {
				return true
			}
			if s.expireEntry(p.ctx, p.dbt, it, expIt) {
				reclaimed++
			}
			return true
		})
	}
	s.events.GarbageCollected += uint64(reclaimed)
	return reclaimed
}

// Evict removes the coldest entry of the colliding stash bucket. Stash
// slots fill last and the bucket tail is the least recently bumped, so
// the last slot is the cheapest victim. A sticky or locked key in the
// last slot refuses the eviction and nothing is removed.
func (p *primeEvictionPolicy) Evict(hs table.Hotspot, tbl *PrimeTable) int {
	if !p.canEvict {
		return 0
	}
	s := p.slice
	evicted := 0
	tbl.ForEachSlot(hs.SegID, hs.StashBucket(), func(it table.Iterator, k *core.PrimeKey, _ *core.PrimeValue) bool {
		if k.Sticky() {
			return false
		}
		key := k.String()
		if p.dbt.locks.IsLocked(core.NewLockKey(key)) {
			return false
		}
		s.journalExpired(p.dbt.index, key)
		s.performDeletion(p.ctx, p.dbt, it, table.DoneIterator())
		s.events.EvictedKeys++
		evicted++
		return false
	})
	return evicted
}

// --------------------------------------------------------------------------
// Heartbeat Eviction
// --------------------------------------------------------------------------

// FreeMemWithEvictionStep evicts entries until goalBytes were freed or
// the per-heartbeat caps are exhausted. It samples random directory
// positions and clears their stash buckets tail-first, the same victim
// order the insert-path eviction uses. Removals are journaled as DEL
// after the scan so the journal never interleaves with a half-finished
// sweep.
//
// Returns the number of evicted entries and the bytes reclaimed. A
// no-op outside caching mode.
func (s *DbSlice) FreeMemWithEvictionStep(ctx Context, goalBytes int64) (int, int64) {
	s.assertNoPendingUpdate()
	if !s.caching || goalBytes <= 0 {
		return 0, 0
	}
	dbt := s.ensureTable(ctx)
	tbl := dbt.prime

	evicted := 0
	var freed int64
	var journaled []string

	for i := 0; i < s.MaxSegmentToConsider; i++ {
		if evicted >= s.MaxEvictionPerHeartbeat || freed >= goalBytes {
			break
		}
		segID := s.rng.Intn(tbl.DirSize())
		for bid := table.KRegularBuckets; bid < table.KBucketsPerSegment; bid++ {
			if evicted >= s.MaxEvictionPerHeartbeat || freed >= goalBytes {
				break
			}
			var victims []string
			tbl.ForEachSlot(segID, bid, func(_ table.Iterator, k *core.PrimeKey, _ *core.PrimeValue) bool {
				if !k.Sticky() && !dbt.locks.IsLocked(core.NewLockKey(k.String())) {
					victims = append(victims, k.String())
				}
				return evicted+len(victims) < s.MaxEvictionPerHeartbeat
			})
			for _, key := range victims {
				if evicted >= s.MaxEvictionPerHeartbeat || freed >= goalBytes {
					break
				}
				pk := core.NewPrimeKeyString(key)
				it, ok := tbl.Find(&pk)
				if !ok {
					continue
				}
				heap := tbl.Key(it).MallocUsed() + tbl.Value(it).MallocUsed()
				s.performDeletion(ctx, dbt, it, table.DoneIterator())
				s.events.EvictedKeys++
				evicted++
				freed += heap
				journaled = append(journaled, key)
			}
		}
	}

	for _, key := range journaled {
		s.journalExpired(dbt.index, key)
	}
	if evicted > 0 {
		log.Debugf("shard %d: evicted %d keys, freed %d bytes", s.shardID, evicted, freed)
	}
	return evicted, freed
}

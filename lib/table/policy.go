package table

// --------------------------------------------------------------------------
// Growth Policy
// --------------------------------------------------------------------------

// Hotspot describes the neighborhood of the hash that failed to insert.
// Policies use it to target reclamation at the buckets that actually
// collide instead of scanning the whole table.
type Hotspot struct {
	KeyHash uint64
	SegID   int
}

// RegularBuckets returns the colliding regular bucket ids (home and
// neighbor). Stash buckets are excluded, they are filled last and are
// the least likely to hold expired entries.
func (h Hotspot) RegularBuckets() [2]int {
	return [2]int{homeBucket(h.KeyHash), neighborBucket(h.KeyHash)}
}

// StashBucket returns the overflow bucket selected for this hash.
func (h Hotspot) StashBucket() int {
	return stashBucket(h.KeyHash)
}

// Policy mediates table growth during Insert. The table consults the
// hooks in this order when a segment's neighborhood is full:
//
//  1. GarbageCollect, a positive return means space was reclaimed and
//     the insert is retried.
//  2. CanGrow, when true the segment splits and RecordSplit is called.
//  3. Evict, a positive return retries the insert, zero fails it.
//
// The hook receiver must only reclaim space through Erase/EraseKey on
// the table it was handed, it must not insert.
type Policy[K any, V any] interface {
	// CanGrow reports whether the table may allocate another segment.
	CanGrow(tbl *Table[K, V]) bool
	// RecordSplit is called after a successful segment split.
	RecordSplit(segBytes int64)
	// GarbageCollect may erase expired entries around the hotspot.
	// Returns the number of erased entries.
	GarbageCollect(hs Hotspot, tbl *Table[K, V]) int
	// Evict may erase one or more live entries around the hotspot.
	// Returns the number of erased entries.
	Evict(hs Hotspot, tbl *Table[K, V]) int
}

// DefaultPolicy grows unconditionally and never reclaims. It is the
// policy of tables without memory pressure semantics, the expire table
// among them.
type DefaultPolicy[K any, V any] struct{}

func (DefaultPolicy[K, V]) CanGrow(*Table[K, V]) bool          { return true }
func (DefaultPolicy[K, V]) RecordSplit(int64)                  {}
func (DefaultPolicy[K, V]) GarbageCollect(Hotspot, *Table[K, V]) int { return 0 }
func (DefaultPolicy[K, V]) Evict(Hotspot, *Table[K, V]) int    { return 0 }

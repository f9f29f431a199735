package table

import (
	"errors"
	"unsafe"
)

// ErrFull is returned by Insert when the policy vetoed growth and
// eviction could not reclaim space.
var ErrFull = errors.New("table: segment full and growth rejected by policy")

// --------------------------------------------------------------------------
// Table
// --------------------------------------------------------------------------

// Table is a segmented hash table with extendible hashing. See the
// package documentation for the structural invariants.
type Table[K any, V any] struct {
	dir         []*segment[K, V]
	globalDepth uint8
	size        int
	segCount    int
	hashFn      func(*K) uint64
	eqFn        func(a, b *K) bool
}

// New creates a table with a single segment. hashFn must be stable for
// the lifetime of the table and eqFn must be consistent with it.
func New[K any, V any](hashFn func(*K) uint64, eqFn func(a, b *K) bool) *Table[K, V] {
	return &Table[K, V]{
		dir:         []*segment[K, V]{{depth: 0}},
		globalDepth: 0,
		segCount:    1,
		hashFn:      hashFn,
		eqFn:        eqFn,
	}
}

// Size returns the number of stored entries.
func (t *Table[K, V]) Size() int { return t.size }

// SegmentCount returns the number of distinct segments.
func (t *Table[K, V]) SegmentCount() int { return t.segCount }

// Capacity returns the total slot count across all segments.
func (t *Table[K, V]) Capacity() int { return t.segCount * KSegmentCapacity }

// DirSize returns the directory length, aliased entries included.
// Random directory sampling weights segments by their alias span, which
// is what an eviction scan wants.
func (t *Table[K, V]) DirSize() int { return len(t.dir) }

// SegBytes returns the in-memory size of one segment. Growth policies
// debit this amount per split.
func (t *Table[K, V]) SegBytes() int64 {
	return int64(unsafe.Sizeof(segment[K, V]{}))
}

// Hash exposes the table's hash function.
func (t *Table[K, V]) Hash(key *K) uint64 { return t.hashFn(key) }

func (t *Table[K, V]) segIndex(hash uint64) int {
	if t.globalDepth == 0 {
		return 0
	}
	return int(hash >> (64 - t.globalDepth))
}

// --------------------------------------------------------------------------
// Lookup
// --------------------------------------------------------------------------

// Find locates key and returns an iterator to its slot.
func (t *Table[K, V]) Find(key *K) (Iterator, bool) {
	hash := t.hashFn(key)
	segID := t.segIndex(hash)
	bid, slot := t.dir[segID].find(hash, key, t.eqFn)
	if bid < 0 {
		return doneIterator, false
	}
	return Iterator{segID: segID, bucketID: uint8(bid), slotID: uint8(slot)}, true
}

// Key returns a pointer to the key at it. The pointer is valid until the
// next insert or erase.
func (t *Table[K, V]) Key(it Iterator) *K {
	return &t.dir[it.segID].buckets[it.bucketID].keys[it.slotID]
}

// Value returns a pointer to the value at it. In-place mutation through
// the pointer is allowed and does not invalidate iterators.
func (t *Table[K, V]) Value(it Iterator) *V {
	return &t.dir[it.segID].buckets[it.bucketID].vals[it.slotID]
}

// GetVersion returns the version of the bucket it points into.
func (t *Table[K, V]) GetVersion(it Iterator) uint64 {
	return t.dir[it.segID].buckets[it.bucketID].version
}

// SetVersion raises the version of the bucket it points into. Versions
// never move backwards, a lower value is ignored.
func (t *Table[K, V]) SetVersion(it Iterator, version uint64) {
	b := &t.dir[it.segID].buckets[it.bucketID]
	if version > b.version {
		b.version = version
	}
}

// --------------------------------------------------------------------------
// Insert / Erase
// --------------------------------------------------------------------------

// Insert adds (key, value) unless the key is already present. Returns
// the entry's iterator and whether an insert happened. Growth is
// mediated by policy; ErrFull is returned when the policy vetoed growth
// and eviction reclaimed nothing.
//
// Any successful insert invalidates previously obtained iterators.
func (t *Table[K, V]) Insert(key K, value V, policy Policy[K, V]) (Iterator, bool, error) {
	hash := t.hashFn(&key)
	for {
		segID := t.segIndex(hash)
		seg := t.dir[segID]

		if bid, slot := seg.find(hash, &key, t.eqFn); bid >= 0 {
			return Iterator{segID: segID, bucketID: uint8(bid), slotID: uint8(slot)}, false, nil
		}
		if bid, slot := seg.tryInsert(hash, key, value); bid >= 0 {
			t.size++
			return Iterator{segID: segID, bucketID: uint8(bid), slotID: uint8(slot)}, true, nil
		}

		hs := Hotspot{KeyHash: hash, SegID: segID}
		if policy.GarbageCollect(hs, t) > 0 {
			continue
		}
		if policy.CanGrow(t) {
			if err := t.split(segID); err != nil {
				return doneIterator, false, err
			}
			policy.RecordSplit(t.SegBytes())
			continue
		}
		if policy.Evict(hs, t) > 0 {
			continue
		}
		return doneIterator, false, ErrFull
	}
}

// Erase removes the entry at it. All iterators are invalidated.
func (t *Table[K, V]) Erase(it Iterator) {
	seg := t.dir[it.segID]
	seg.buckets[it.bucketID].erase(int(it.slotID))
	seg.size--
	t.size--
}

// EraseKey removes key if present and reports whether it was removed.
func (t *Table[K, V]) EraseKey(key *K) bool {
	it, ok := t.Find(key)
	if !ok {
		return false
	}
	t.Erase(it)
	return true
}

// --------------------------------------------------------------------------
// Bump
// --------------------------------------------------------------------------

// BumpUp moves the entry at it to the front of its bucket, the position
// probed first by lookups. canBump can veto the move (sticky keys, keys
// already bumped this command). onMove, when non-nil, is invoked with
// the entry's current position before anything is moved.
//
// Returns the entry's iterator after the move. BumpUp never inserts or
// erases, other iterators into the same bucket are repositioned but not
// invalidated in the table-wide sense.
func (t *Table[K, V]) BumpUp(it Iterator, canBump func(key *K) bool, onMove func(Iterator)) Iterator {
	b := &t.dir[it.segID].buckets[it.bucketID]
	if it.slotID == 0 {
		return it
	}
	if canBump != nil && !canBump(&b.keys[it.slotID]) {
		return it
	}
	if onMove != nil {
		onMove(it)
	}
	b.moveToFront(int(it.slotID))
	return Iterator{segID: it.segID, bucketID: it.bucketID, slotID: 0}
}

// --------------------------------------------------------------------------
// Split
// --------------------------------------------------------------------------

func (t *Table[K, V]) split(segID int) error {
	seg := t.dir[segID]
	if seg.depth == t.globalDepth {
		if t.globalDepth >= kMaxGlobalDepth {
			return ErrFull
		}
		// Double the directory, every entry is aliased once.
		grown := make([]*segment[K, V], 2*len(t.dir))
		for i, s := range t.dir {
			grown[2*i] = s
			grown[2*i+1] = s
		}
		t.dir = grown
		t.globalDepth++
	}

	newDepth := seg.depth + 1
	left := &segment[K, V]{depth: newDepth}
	right := &segment[K, V]{depth: newDepth}

	// Versions never move backwards: both halves start at the source
	// segment's high-water mark.
	maxVer := seg.maxVersion()
	for i := range left.buckets {
		left.buckets[i].version = maxVer
		right.buckets[i].version = maxVer
	}

	// The split bit is the next directory bit below the segment's old
	// prefix, counted from the top of the hash.
	splitBit := uint64(1) << (64 - uint64(newDepth))
	for bi := range seg.buckets {
		b := &seg.buckets[bi]
		for si := 0; si < int(b.used); si++ {
			hash := t.hashFn(&b.keys[si])
			dst := left
			if hash&splitBit != 0 {
				dst = right
			}
			if bid, _ := dst.tryInsert(hash, b.keys[si], b.vals[si]); bid < 0 {
				// A pathological hash distribution overflowed one half.
				return ErrFull
			}
		}
	}

	// Rewire every directory entry that aliased the old segment.
	span := 1 << (t.globalDepth - seg.depth)
	first := t.firstDirIndex(seg)
	half := span / 2
	for i := 0; i < span; i++ {
		if i < half {
			t.dir[first+i] = left
		} else {
			t.dir[first+i] = right
		}
	}
	t.segCount++
	return nil
}

// firstDirIndex returns the lowest directory index pointing at seg.
func (t *Table[K, V]) firstDirIndex(seg *segment[K, V]) int {
	for i, s := range t.dir {
		if s == seg {
			return i
		}
	}
	panic("table: segment not present in directory")
}

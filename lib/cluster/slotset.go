package cluster

import (
	"fmt"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"
)

// --------------------------------------------------------------------------
// Slot Ranges
// --------------------------------------------------------------------------

// SlotRange is an inclusive range of slot ids.
type SlotRange struct {
	Start SlotID `json:"start"`
	End   SlotID `json:"end"`
}

// Valid reports whether the range is ordered and within bounds.
func (r SlotRange) Valid() bool {
	return r.Start <= r.End && r.End <= KMaxSlotNum
}

// String renders the range as "start-end" or "start" for single slots.
func (r SlotRange) String() string {
	if r.Start == r.End {
		return fmt.Sprintf("%d", r.Start)
	}
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// SlotRanges is an ordered list of slot ranges.
type SlotRanges []SlotRange

// String renders the ranges space-separated.
func (rs SlotRanges) String() string {
	parts := make([]string, len(rs))
	for i, r := range rs {
		parts[i] = r.String()
	}
	return strings.Join(parts, " ")
}

// --------------------------------------------------------------------------
// Slot Sets
// --------------------------------------------------------------------------

// SlotSet is a set of slot ids backed by a compressed bitmap.
type SlotSet struct {
	bm *roaring.Bitmap
}

// NewSlotSet creates an empty set.
func NewSlotSet() SlotSet {
	return SlotSet{bm: roaring.New()}
}

// NewSlotSetFromRanges creates a set covering all given ranges.
func NewSlotSetFromRanges(ranges SlotRanges) SlotSet {
	s := NewSlotSet()
	for _, r := range ranges {
		s.bm.AddRange(uint64(r.Start), uint64(r.End)+1)
	}
	return s
}

// NewSlotSetFromSlots creates a set of the given slots.
func NewSlotSetFromSlots(slots []SlotID) SlotSet {
	s := NewSlotSet()
	for _, id := range slots {
		s.bm.Add(uint32(id))
	}
	return s
}

// FullSlotSet returns the set of all slots.
func FullSlotSet() SlotSet {
	s := NewSlotSet()
	s.bm.AddRange(0, KSlotCount)
	return s
}

// Add inserts one slot.
func (s SlotSet) Add(id SlotID) { s.bm.Add(uint32(id)) }

// Contains reports membership.
func (s SlotSet) Contains(id SlotID) bool { return s.bm.Contains(uint32(id)) }

// Empty reports whether the set has no slots.
func (s SlotSet) Empty() bool { return s.bm.IsEmpty() }

// Count returns the number of slots in the set.
func (s SlotSet) Count() int { return int(s.bm.GetCardinality()) }

// Union returns the set union.
func (s SlotSet) Union(other SlotSet) SlotSet {
	return SlotSet{bm: roaring.Or(s.bm, other.bm)}
}

// Diff returns the slots in s that are not in other.
func (s SlotSet) Diff(other SlotSet) SlotSet {
	return SlotSet{bm: roaring.AndNot(s.bm, other.bm)}
}

// Equal reports set equality.
func (s SlotSet) Equal(other SlotSet) bool { return s.bm.Equals(other.bm) }

// ContainsAll reports whether other is a subset of s.
func (s SlotSet) ContainsAll(other SlotSet) bool {
	return roaring.AndNot(other.bm, s.bm).IsEmpty()
}

// Slots returns the members in ascending order.
func (s SlotSet) Slots() []SlotID {
	out := make([]SlotID, 0, s.Count())
	it := s.bm.Iterator()
	for it.HasNext() {
		out = append(out, SlotID(it.Next()))
	}
	return out
}

// Ranges converts the set to its minimal ordered range list.
func (s SlotSet) Ranges() SlotRanges {
	var out SlotRanges
	it := s.bm.Iterator()
	var cur SlotRange
	open := false
	for it.HasNext() {
		id := SlotID(it.Next())
		switch {
		case !open:
			cur = SlotRange{Start: id, End: id}
			open = true
		case id == cur.End+1:
			cur.End = id
		default:
			out = append(out, cur)
			cur = SlotRange{Start: id, End: id}
		}
	}
	if open {
		out = append(out, cur)
	}
	return out
}

// String renders the set as its range list.
func (s SlotSet) String() string {
	return s.Ranges().String()
}

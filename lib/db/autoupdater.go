package db

import (
	"github.com/marlinkv/marlin/lib/cluster"
	"github.com/marlinkv/marlin/lib/core"
	"github.com/marlinkv/marlin/lib/table"
)

// AutoUpdater is the post-update accounting guard returned by every
// mutable lookup. The caller mutates the value in place and then MUST
// call Run before any further mutation of the slice and before the key
// is deleted. Run computes the heap-size delta of the mutation and
// attributes it to the per-type and per-slot memory statistics.
//
// The guard is runtime-checked: Run verifies that the table size and
// the slice's deletion counter have not changed since the lookup, a
// violation is a programming error and panics. Cancel releases the
// guard without accounting, for callers that did not mutate after all.
type AutoUpdater struct {
	slice *DbSlice
	dbt   *DbTable
	it    table.Iterator
	slot  cluster.SlotID

	origHeap    int64
	origSize    int
	origDeleted uint64
	origObjType core.ObjType
	done        bool
}

func (s *DbSlice) newAutoUpdater(dbt *DbTable, it table.Iterator, slot cluster.SlotID) *AutoUpdater {
	val := dbt.prime.Value(it)
	key := dbt.prime.Key(it)
	u := &AutoUpdater{
		slice:       s,
		dbt:         dbt,
		it:          it,
		slot:        slot,
		origHeap:    key.MallocUsed() + val.MallocUsed(),
		origSize:    dbt.prime.Size(),
		origDeleted: s.deletionCount,
		origObjType: val.ObjType(),
	}
	s.pendingUpdaters++
	return u
}

// Run applies the accounting of the mutation and releases the guard.
func (u *AutoUpdater) Run() {
	if u.done {
		panic("db: AutoUpdater ran twice")
	}
	if u.dbt.prime.Size() != u.origSize || u.slice.deletionCount != u.origDeleted {
		panic("db: slice mutated before AutoUpdater ran")
	}
	u.done = true
	u.slice.pendingUpdaters--

	key := u.dbt.prime.Key(u.it)
	val := u.dbt.prime.Value(u.it)
	newHeap := key.MallocUsed() + val.MallocUsed()
	delta := newHeap - u.origHeap
	if u.origObjType != val.ObjType() {
		// The value changed type in place, move its full cost over.
		u.dbt.accountUpdateDelta(u.origObjType, -u.origHeap+key.MallocUsed(), u.slot)
		u.dbt.accountUpdateDelta(val.ObjType(), newHeap-key.MallocUsed(), u.slot)
	} else if delta != 0 {
		u.dbt.accountUpdateDelta(val.ObjType(), delta, u.slot)
	}
	u.slice.memoryBudget -= delta
	u.slice.events.Updates++
}

// Cancel releases the guard without applying any accounting.
func (u *AutoUpdater) Cancel() {
	if u.done {
		return
	}
	u.done = true
	u.slice.pendingUpdaters--
}

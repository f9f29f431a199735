package db

import (
	"github.com/marlinkv/marlin/lib/cluster"
	"github.com/marlinkv/marlin/lib/core"
	"github.com/marlinkv/marlin/lib/table"
)

// PrimeTable maps keys to values, ExpireTable maps the same keys to
// compressed relative deadlines.
type (
	PrimeTable  = table.Table[core.PrimeKey, core.PrimeValue]
	ExpireTable = table.Table[core.PrimeKey, core.ExpirePeriod]
)

func primeHash(k *core.PrimeKey) uint64 { return k.Hash() }
func primeEq(a, b *core.PrimeKey) bool  { return a.Equal(b) }

func newPrimeTable() *PrimeTable {
	return table.New[core.PrimeKey, core.PrimeValue](primeHash, primeEq)
}

func newExpireTable() *ExpireTable {
	return table.New[core.PrimeKey, core.ExpirePeriod](primeHash, primeEq)
}

// KeyWatcher observes modification of keys it registered for, the hook
// behind transactional WATCH.
type KeyWatcher interface {
	OnWatchedKeyModified(dbIndex int, key string)
}

// topKeysCapacity bounds the hot-key sketch per table.
const topKeysCapacity = 64

// TableStats aggregates byte counters for one database table.
type TableStats struct {
	// InlineKeys counts keys stored without a heap allocation.
	InlineKeys int64
	// ObjMemUsage is the heap usage of all keys and values.
	ObjMemUsage int64
	// MemoryByType splits ObjMemUsage by object type.
	MemoryByType [8]int64
	// ListpackBlobs counts values in listpack encoding.
	ListpackBlobs int64
	// TieredEntries counts values whose body is external.
	TieredEntries int64
}

// DbTable bundles all per-database state of one logical database index.
type DbTable struct {
	index  int
	prime  *PrimeTable
	expire *ExpireTable
	// expireBase is the 64-bit base timestamp (ms) the compressed
	// expire periods are measured from.
	expireBase int64

	mcflag  map[string]uint32
	locks   *core.LockTable
	watched map[string][]KeyWatcher
	topKeys *core.TopKeys

	// slotsStats is indexed by slot id, allocated only in cluster mode.
	slotsStats []core.SlotStats

	stats TableStats

	// expireCursor resumes the incremental expire sweep between
	// heartbeats.
	expireCursor table.Cursor
}

func newDbTable(index int, clusterEnabled bool, nowMs int64) *DbTable {
	t := &DbTable{
		index:      index,
		prime:      newPrimeTable(),
		expire:     newExpireTable(),
		expireBase: nowMs,
		mcflag:     make(map[string]uint32),
		locks:      core.NewLockTable(),
		watched:    make(map[string][]KeyWatcher),
		topKeys:    core.NewTopKeys(topKeysCapacity),
	}
	if clusterEnabled {
		t.slotsStats = make([]core.SlotStats, cluster.KSlotCount)
	}
	return t
}

// Index returns the logical database index.
func (t *DbTable) Index() int { return t.index }

// Prime returns the prime table.
func (t *DbTable) Prime() *PrimeTable { return t.prime }

// Expire returns the expire table.
func (t *DbTable) Expire() *ExpireTable { return t.expire }

// Locks returns the table's intent locks.
func (t *DbTable) Locks() *core.LockTable { return t.locks }

// TopKeys returns the table's hot-key sketch.
func (t *DbTable) TopKeys() *core.TopKeys { return t.topKeys }

// Stats returns the aggregate byte counters.
func (t *DbTable) Stats() TableStats { return t.stats }

// SlotStats returns a copy of the statistics of one slot. Zero value in
// non-cluster mode.
func (t *DbTable) SlotStats(id cluster.SlotID) core.SlotStats {
	if t.slotsStats == nil {
		return core.SlotStats{}
	}
	return t.slotsStats[id]
}

// ExpireDeadlineMs resolves the expire entry at expIt to an absolute
// deadline.
func (t *DbTable) ExpireDeadlineMs(expIt table.Iterator) int64 {
	return t.expire.Value(expIt).DeadlineMs(t.expireBase)
}

// Watch registers a watcher for key.
func (t *DbTable) Watch(key string, w KeyWatcher) {
	t.watched[key] = append(t.watched[key], w)
}

// Unwatch removes a watcher from key.
func (t *DbTable) Unwatch(key string, w KeyWatcher) {
	ws := t.watched[key]
	for i, cur := range ws {
		if cur == w {
			ws = append(ws[:i], ws[i+1:]...)
			break
		}
	}
	if len(ws) == 0 {
		delete(t.watched, key)
	} else {
		t.watched[key] = ws
	}
}

// notifyWatchers fires and clears the watchers of key.
func (t *DbTable) notifyWatchers(key string) {
	ws, ok := t.watched[key]
	if !ok {
		return
	}
	delete(t.watched, key)
	for _, w := range ws {
		w.OnWatchedKeyModified(t.index, key)
	}
}

// SetMCFlag stores the memcached flag of key and keeps the key bit in
// sync.
func (t *DbTable) SetMCFlag(key *core.PrimeKey, flag uint32) {
	if flag == 0 {
		delete(t.mcflag, key.String())
		key.SetHasMCFlag(false)
		return
	}
	t.mcflag[key.String()] = flag
	key.SetHasMCFlag(true)
}

// GetMCFlag returns the memcached flag of key, zero when unset.
func (t *DbTable) GetMCFlag(key *core.PrimeKey) uint32 {
	if !key.HasMCFlag() {
		return 0
	}
	return t.mcflag[key.String()]
}

// accountInsert updates the byte counters for a newly inserted entry.
func (t *DbTable) accountInsert(key *core.PrimeKey, val *core.PrimeValue, slot cluster.SlotID) {
	heap := key.MallocUsed() + val.MallocUsed()
	t.stats.ObjMemUsage += heap
	t.stats.MemoryByType[val.ObjType()&7] += heap
	if key.IsInline() {
		t.stats.InlineKeys++
	}
	if val.Encoding() == core.EncListPack {
		t.stats.ListpackBlobs++
	}
	if val.IsExternal() {
		t.stats.TieredEntries++
	}
	if t.slotsStats != nil {
		t.slotsStats[slot].KeyCount++
		t.slotsStats[slot].MemoryBytes += heap
	}
}

// accountDelete reverses accountInsert for a removed entry.
func (t *DbTable) accountDelete(key *core.PrimeKey, val *core.PrimeValue, slot cluster.SlotID) {
	heap := key.MallocUsed() + val.MallocUsed()
	t.stats.ObjMemUsage -= heap
	t.stats.MemoryByType[val.ObjType()&7] -= heap
	if key.IsInline() {
		t.stats.InlineKeys--
	}
	if val.Encoding() == core.EncListPack {
		t.stats.ListpackBlobs--
	}
	if val.IsExternal() {
		t.stats.TieredEntries--
	}
	if t.slotsStats != nil {
		t.slotsStats[slot].KeyCount--
		t.slotsStats[slot].MemoryBytes -= heap
	}
}

// accountUpdateDelta attributes a heap-size change of an in-place value
// update.
func (t *DbTable) accountUpdateDelta(objType core.ObjType, delta int64, slot cluster.SlotID) {
	t.stats.ObjMemUsage += delta
	t.stats.MemoryByType[objType&7] += delta
	if t.slotsStats != nil {
		t.slotsStats[slot].MemoryBytes += delta
	}
}

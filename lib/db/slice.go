package db

import (
	"math"
	"math/rand"

	"github.com/lni/dragonboat/v4/logger"

	"github.com/marlinkv/marlin/lib/cluster"
	"github.com/marlinkv/marlin/lib/core"
	"github.com/marlinkv/marlin/lib/journal"
	"github.com/marlinkv/marlin/lib/table"
	"github.com/marlinkv/marlin/lib/util"
)

var log = logger.GetLogger("marlin.db")

// kDefaultDbCount is the number of logical database indexes per slice.
const kDefaultDbCount = 16

// softBudgetPercent is the share of the memory budget below which the
// eviction policy starts vetoing table growth.
const softBudgetPercent = 30

// kDefaultObjSize seeds the bytes-per-object heuristic before any
// samples were recorded.
const kDefaultObjSize = 64

// TrackingClient receives invalidation notices for keys it asked to
// track.
type TrackingClient interface {
	OnInvalidate(key string)
}

// Options configures a DbSlice.
type Options struct {
	ShardID        int
	DbCount        int
	CachingMode    bool
	ClusterEnabled bool
	// MemoryBudget is this shard's share of process memory in bytes.
	MemoryBudget int64
	Tiered       TieredStorage
	Journal      *journal.Journal
	// NowMs is the creation timestamp used as the expire base of
	// eagerly created tables.
	NowMs int64
}

// DbSlice is the single-threaded coordinator of one shard's keyspace.
// See the package documentation for the concurrency model.
type DbSlice struct {
	shardID        int
	caching        bool
	clusterEnabled bool
	expireAllowed  bool

	memoryBudget    int64
	softBudgetLimit int64

	tables  []*DbTable
	journal *journal.Journal
	tiered  TieredStorage

	versionCounter uint64
	changeCbs      []changeCbEntry
	inNotifyCb     bool

	bumpedItems    map[string]struct{}
	clientTracking map[string]map[TrackingClient]struct{}

	objSizeHist *util.SizeHistogram
	rng         *rand.Rand

	deletionCount   uint64
	pendingUpdaters int

	// MaxEvictionPerHeartbeat and MaxSegmentToConsider tune the
	// heartbeat eviction scan.
	MaxEvictionPerHeartbeat int
	MaxSegmentToConsider    int

	// DocDeletionHook is invoked when a JSON or Hash document is
	// removed by expiry so document indexes can drop it.
	DocDeletionHook func(dbIndex int, key string, val *core.PrimeValue)

	events Events
}

// New creates a slice and registers its event metrics.
func New(opts Options) *DbSlice {
	dbCount := opts.DbCount
	if dbCount <= 0 {
		dbCount = kDefaultDbCount
	}
	tiered := opts.Tiered
	if tiered == nil {
		tiered = nopTiered{}
	}
	budget := opts.MemoryBudget
	if budget <= 0 {
		// no budget configured means unlimited
		budget = math.MaxInt64
	}
	s := &DbSlice{
		shardID:                 opts.ShardID,
		caching:                 opts.CachingMode,
		clusterEnabled:          opts.ClusterEnabled,
		expireAllowed:           true,
		memoryBudget:            budget,
		softBudgetLimit:         budget / 100 * softBudgetPercent,
		tables:                  make([]*DbTable, dbCount),
		journal:                 opts.Journal,
		tiered:                  tiered,
		bumpedItems:             make(map[string]struct{}),
		clientTracking:          make(map[string]map[TrackingClient]struct{}),
		objSizeHist:             util.NewSizeHistogram(),
		rng:                     rand.New(rand.NewSource(int64(util.GenerateSeed()))),
		MaxEvictionPerHeartbeat: 100,
		MaxSegmentToConsider:    32,
	}
	s.events.registerMetrics(opts.ShardID)
	s.ensureTable(Context{DbIndex: 0, TimeNowMs: opts.NowMs})
	return s
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

// ShardID returns the owning shard's index.
func (s *DbSlice) ShardID() int { return s.shardID }

// CachingMode reports whether the slice evicts under memory pressure.
func (s *DbSlice) CachingMode() bool { return s.caching }

// ClusterEnabled reports whether per-slot statistics are maintained.
func (s *DbSlice) ClusterEnabled() bool { return s.clusterEnabled }

// Journal returns the slice's journal, nil when none is attached.
func (s *DbSlice) Journal() *journal.Journal { return s.journal }

// MemoryBudget returns the remaining byte budget.
func (s *DbSlice) MemoryBudget() int64 { return s.memoryBudget }

// SetExpireAllowed toggles lazy expiry, replication replay disables it.
func (s *DbSlice) SetExpireAllowed(allowed bool) { s.expireAllowed = allowed }

// Events returns a copy of the counter block.
func (s *DbSlice) Events() Events { return s.events }

// GetDBTable returns the table of a database index, creating it lazily.
func (s *DbSlice) GetDBTable(ctx Context) *DbTable {
	return s.ensureTable(ctx)
}

// DbSize returns the key count of a database index.
func (s *DbSlice) DbSize(dbIndex int) int {
	if t := s.tables[dbIndex]; t != nil {
		return t.prime.Size()
	}
	return 0
}

func (s *DbSlice) ensureTable(ctx Context) *DbTable {
	t := s.tables[ctx.DbIndex]
	if t == nil {
		t = newDbTable(ctx.DbIndex, s.clusterEnabled, ctx.TimeNowMs)
		s.tables[ctx.DbIndex] = t
	}
	return t
}

func (s *DbSlice) assertNoPendingUpdate() {
	if s.pendingUpdaters != 0 {
		panic("db: mutation attempted before a pending AutoUpdater ran")
	}
}

func (s *DbSlice) keySlot(key string) cluster.SlotID {
	if !s.clusterEnabled {
		return 0
	}
	return cluster.KeySlotString(key)
}

func (s *DbSlice) journalExpired(dbIndex int, key string) {
	if s.journal != nil {
		s.journal.RecordEntry(journal.NewExpiredEntry(dbIndex, key))
	}
}

// --------------------------------------------------------------------------
// Results
// --------------------------------------------------------------------------

// ConstResult is a read-only handle to an entry.
type ConstResult struct {
	It    table.Iterator
	ExpIt table.Iterator
}

// MutResult is a mutable handle. Updater must run before any further
// mutation of the slice.
type MutResult struct {
	It      table.Iterator
	ExpIt   table.Iterator
	Updater *AutoUpdater
}

// MutAddResult is the result of AddOrFind.
type MutAddResult struct {
	MutResult
	IsNew bool
}

// --------------------------------------------------------------------------
// Read Path
// --------------------------------------------------------------------------

// FindReadOnly locates key for reading. Misses and lazy expiry count
// into the event block, a type mismatch does not count as a miss.
func (s *DbSlice) FindReadOnly(ctx Context, key string, typ core.ObjType) (ConstResult, error) {
	dbt, it, expIt, err := s.find(ctx, key, typ, false, true)
	_ = dbt
	if err != nil {
		return ConstResult{}, err
	}
	return ConstResult{It: it, ExpIt: expIt}, nil
}

// FindReadOnlyFetch is FindReadOnly forcing a tiered-storage load of
// external values before returning.
func (s *DbSlice) FindReadOnlyFetch(ctx Context, key string, typ core.ObjType) (ConstResult, error) {
	_, it, expIt, err := s.find(ctx, key, typ, true, true)
	if err != nil {
		return ConstResult{}, err
	}
	return ConstResult{It: it, ExpIt: expIt}, nil
}

// FindFirstReadOnly returns the first existing key of keys together
// with its position. Used by operations that probe a key list in order.
func (s *DbSlice) FindFirstReadOnly(ctx Context, keys []string, typ core.ObjType) (int, ConstResult, error) {
	for i, key := range keys {
		res, err := s.FindReadOnly(ctx, key, typ)
		if err == nil {
			return i, res, nil
		}
		if !core.ErrKeyNotFound.Is(err) {
			return i, ConstResult{}, err
		}
	}
	return -1, ConstResult{}, core.ErrKeyNotFound
}

// FindMutable locates key for mutation and returns the accounting
// guard. The guard MUST run before the slice is mutated again.
func (s *DbSlice) FindMutable(ctx Context, key string, typ core.ObjType) (MutResult, error) {
	s.assertNoPendingUpdate()
	dbt, it, expIt, err := s.find(ctx, key, typ, false, false)
	if err != nil {
		return MutResult{}, err
	}
	s.preUpdate(dbt, it, key)
	updater := s.newAutoUpdater(dbt, it, s.keySlot(key))
	return MutResult{It: it, ExpIt: expIt, Updater: updater}, nil
}

// FindMutableFetch is FindMutable forcing a tiered-storage load first.
func (s *DbSlice) FindMutableFetch(ctx Context, key string, typ core.ObjType) (MutResult, error) {
	s.assertNoPendingUpdate()
	dbt, it, expIt, err := s.find(ctx, key, typ, true, false)
	if err != nil {
		return MutResult{}, err
	}
	s.preUpdate(dbt, it, key)
	updater := s.newAutoUpdater(dbt, it, s.keySlot(key))
	return MutResult{It: it, ExpIt: expIt, Updater: updater}, nil
}

// find implements the shared lookup contract of the read and write
// paths.
func (s *DbSlice) find(ctx Context, key string, typ core.ObjType, fetch, forRead bool) (*DbTable, table.Iterator, table.Iterator, error) {
	dbt := s.ensureTable(ctx)
	pk := core.NewPrimeKeyString(key)
	it, ok := dbt.prime.Find(&pk)
	if !ok {
		s.events.Misses++
		return nil, table.DoneIterator(), table.DoneIterator(), core.ErrKeyNotFound
	}

	if typ != core.ObjAny && dbt.prime.Value(it).ObjType() != typ {
		return nil, table.DoneIterator(), table.DoneIterator(), core.ErrWrongType
	}

	if fetch && dbt.prime.Value(it).IsExternal() {
		var err error
		if it, err = s.fetchExternal(ctx, dbt, it, key); err != nil {
			return nil, table.DoneIterator(), table.DoneIterator(), err
		}
	}

	expIt := table.DoneIterator()
	if dbt.prime.Key(it).HasExpire() {
		expIt, _ = dbt.expire.Find(&pk)
		if !expIt.IsDone() && s.expireEntry(ctx, dbt, it, expIt) {
			return nil, table.DoneIterator(), table.DoneIterator(), core.ErrKeyNotFound
		}
	}

	if forRead && s.caching {
		it = s.bump(dbt, it, key)
	}
	dbt.topKeys.Touch(key)

	slot := s.keySlot(key)
	if forRead {
		s.events.Hits++
		if dbt.slotsStats != nil {
			dbt.slotsStats[slot].TotalReads++
		}
	} else {
		s.events.Mutations++
		if dbt.slotsStats != nil {
			dbt.slotsStats[slot].TotalWrites++
		}
	}
	return dbt, it, expIt, nil
}

// fetchExternal loads an external value body synchronously. The load
// may suspend the worker, the iterator is re-resolved afterwards
// because the table can have been resized during the yield window.
func (s *DbSlice) fetchExternal(ctx Context, dbt *DbTable, it table.Iterator, key string) (table.Iterator, error) {
	if dbt.prime.Value(it).HasIOPending() {
		s.tiered.CancelIO(dbt.index, key)
		dbt.prime.Value(it).SetIOPending(false)
	}
	data, err := s.tiered.Load(dbt.index, key)
	if err != nil {
		return it, err
	}
	pk := core.NewPrimeKeyString(key)
	it, ok := dbt.prime.Find(&pk)
	if !ok {
		return it, core.ErrKeyNotFound
	}
	val := dbt.prime.Value(it)
	before := val.MallocUsed()
	val.SetString(data)
	val.SetExternal(false)
	dbt.stats.TieredEntries--
	dbt.accountUpdateDelta(val.ObjType(), val.MallocUsed()-before, s.keySlot(key))
	return it, nil
}

// bump moves a hot entry to the front of its bucket. Sticky keys and
// keys already bumped during the current command are refused, observers
// get a mutation notice before the slot moves.
func (s *DbSlice) bump(dbt *DbTable, it table.Iterator, key string) table.Iterator {
	if _, done := s.bumpedItems[key]; done {
		return it
	}
	canBump := func(k *core.PrimeKey) bool {
		return !k.Sticky()
	}
	onMove := func(cur table.Iterator) {
		s.notifyChange(ChangeReq{DbIndex: dbt.index, It: cur})
	}
	newIt := dbt.prime.BumpUp(it, canBump, onMove)
	if newIt != it {
		s.bumpedItems[key] = struct{}{}
		s.events.Bumpups++
		dbt.prime.SetVersion(newIt, s.NextVersion())
	}
	return newIt
}

// preUpdate runs the mutation notices of an in-place update: change
// callbacks, watched keys, client tracking. The bucket version advances
// past every notified callback.
func (s *DbSlice) preUpdate(dbt *DbTable, it table.Iterator, key string) {
	s.notifyChange(ChangeReq{DbIndex: dbt.index, It: it})
	dbt.prime.SetVersion(it, s.NextVersion())
	dbt.notifyWatchers(key)
	s.sendInvalidations(key)
}

// OnCbFinish marks a command boundary. The bump dedup set is only valid
// within one command.
func (s *DbSlice) OnCbFinish() {
	clear(s.bumpedItems)
}

// --------------------------------------------------------------------------
// Write Path
// --------------------------------------------------------------------------

// AddOrFind finds key or inserts an empty value for it. The insertion
// path notifies observers with the new-key form first and then runs
// through the eviction policy, which may evict colliding entries as a
// side effect.
func (s *DbSlice) AddOrFind(ctx Context, key string) (MutAddResult, error) {
	s.assertNoPendingUpdate()
	dbt := s.ensureTable(ctx)
	pk := core.NewPrimeKeyString(key)
	slot := s.keySlot(key)

	if it, ok := dbt.prime.Find(&pk); ok {
		expIt := table.DoneIterator()
		expired := false
		if dbt.prime.Key(it).HasExpire() {
			expIt, _ = dbt.expire.Find(&pk)
			expired = !expIt.IsDone() && s.expireEntry(ctx, dbt, it, expIt)
		}
		if !expired {
			s.preUpdate(dbt, it, key)
			s.events.Mutations++
			if dbt.slotsStats != nil {
				dbt.slotsStats[slot].TotalWrites++
			}
			updater := s.newAutoUpdater(dbt, it, slot)
			return MutAddResult{MutResult: MutResult{It: it, ExpIt: expIt, Updater: updater}}, nil
		}
	}

	// New key: observers first, then the policy-mediated insert.
	s.notifyChange(ChangeReq{DbIndex: dbt.index, Key: key, IsNewKey: true})

	if !s.caching && s.memoryBudget <= 0 {
		s.events.InsertionRejections++
		return MutAddResult{}, core.ErrOutOfMemory
	}

	policy := &primeEvictionPolicy{
		slice:            s,
		ctx:              ctx,
		dbt:              dbt,
		canEvict:         s.caching,
		applyMemoryLimit: true,
	}
	it, inserted, err := dbt.prime.Insert(pk, core.PrimeValue{}, policy)
	if err != nil {
		s.events.InsertionRejections++
		return MutAddResult{}, core.ErrOutOfMemory
	}
	if !inserted {
		// The policy's reclamation can only shrink the table, a fresh
		// duplicate here means the hash function misbehaved.
		panic("db: insert raced with itself on a single-threaded slice")
	}

	keyRef := dbt.prime.Key(it)
	valRef := dbt.prime.Value(it)
	dbt.accountInsert(keyRef, valRef, slot)
	s.memoryBudget -= keyRef.MallocUsed() + valRef.MallocUsed()
	dbt.prime.SetVersion(it, s.NextVersion())
	s.events.Mutations++
	if dbt.slotsStats != nil {
		dbt.slotsStats[slot].TotalWrites++
	}
	dbt.topKeys.Touch(key)

	updater := s.newAutoUpdater(dbt, it, slot)
	return MutAddResult{MutResult: MutResult{It: it, ExpIt: table.DoneIterator(), Updater: updater}, IsNew: true}, nil
}

// AddNew inserts a key known to be absent. It panics if the key exists,
// restore paths use it after checking.
func (s *DbSlice) AddNew(ctx Context, key string, value core.PrimeValue, expireAtMs int64) error {
	dbt := s.ensureTable(ctx)
	pk := core.NewPrimeKeyString(key)
	if _, ok := dbt.prime.Find(&pk); ok {
		panic("db: AddNew of existing key " + key)
	}
	return s.AddOrUpdate(ctx, key, value, expireAtMs)
}

// AddOrUpdate upserts key with value and sets or replaces its
// expiration. A zero expireAtMs clears any existing expiration.
func (s *DbSlice) AddOrUpdate(ctx Context, key string, value core.PrimeValue, expireAtMs int64) error {
	res, err := s.AddOrFind(ctx, key)
	if err != nil {
		return err
	}
	dbt := s.tables[ctx.DbIndex]

	val := dbt.prime.Value(res.It)
	*val = value

	if expireAtMs > 0 {
		if err := s.setExpireAt(ctx, dbt, res.It, res.ExpIt, expireAtMs); err != nil {
			res.Updater.Run()
			return err
		}
	} else if !res.IsNew && dbt.prime.Key(res.It).HasExpire() {
		s.removeExpire(dbt, res.It, res.ExpIt)
	}

	res.Updater.Run()
	s.objSizeHist.AddSample(int(value.MallocUsed()))
	return nil
}

// Del removes key. Deleting an absent key is a no-op returning false
// and writes no journal entry.
func (s *DbSlice) Del(ctx Context, key string) bool {
	s.assertNoPendingUpdate()
	dbt := s.ensureTable(ctx)
	pk := core.NewPrimeKeyString(key)
	it, ok := dbt.prime.Find(&pk)
	if !ok {
		return false
	}
	s.performDeletion(ctx, dbt, it, table.DoneIterator())
	return true
}

// performDeletion transfers ownership of the entry out of the tables:
// the expire and mcflag entries, the slot statistics and the byte
// accounting are dropped together with the prime entry.
func (s *DbSlice) performDeletion(ctx Context, dbt *DbTable, it table.Iterator, expIt table.Iterator) {
	s.assertNoPendingUpdate()
	keyRef := dbt.prime.Key(it)
	valRef := dbt.prime.Value(it)
	keyStr := keyRef.String()
	slot := s.keySlot(keyStr)

	dbt.accountDelete(keyRef, valRef, slot)
	s.memoryBudget += keyRef.MallocUsed() + valRef.MallocUsed()

	if keyRef.HasExpire() {
		if expIt.IsDone() {
			expIt, _ = dbt.expire.Find(keyRef)
		}
		if !expIt.IsDone() {
			dbt.expire.Erase(expIt)
		}
	}
	if keyRef.HasMCFlag() {
		delete(dbt.mcflag, keyStr)
	}
	if valRef.IsExternal() {
		s.tiered.Free(dbt.index, keyStr)
	}

	dbt.prime.Erase(it)
	s.deletionCount++
	dbt.notifyWatchers(keyStr)
	s.sendInvalidations(keyStr)
}

// --------------------------------------------------------------------------
// Flush
// --------------------------------------------------------------------------

// FlushDb drops one database index entirely.
func (s *DbSlice) FlushDb(ctx Context) {
	s.assertNoPendingUpdate()
	old := s.tables[ctx.DbIndex]
	if old == nil {
		return
	}
	s.tables[ctx.DbIndex] = newDbTable(ctx.DbIndex, s.clusterEnabled, ctx.TimeNowMs)
	s.memoryBudget += old.stats.ObjMemUsage
	s.deletionCount += uint64(old.prime.Size())
	log.Infof("shard %d: flushed db %d (%d keys)", s.shardID, ctx.DbIndex, old.prime.Size())
}

// FlushAll drops every database index.
func (s *DbSlice) FlushAll(nowMs int64) {
	for i, t := range s.tables {
		if t != nil {
			s.FlushDb(Context{DbIndex: i, TimeNowMs: nowMs})
		}
	}
}

// --------------------------------------------------------------------------
// Client Tracking
// --------------------------------------------------------------------------

// TrackKey subscribes client to invalidation of key. The subscription
// is one-shot, it is dropped when the first invalidation fires.
func (s *DbSlice) TrackKey(client TrackingClient, key string) {
	m := s.clientTracking[key]
	if m == nil {
		m = make(map[TrackingClient]struct{})
		s.clientTracking[key] = m
	}
	m[client] = struct{}{}
}

// UntrackClient removes all subscriptions of client.
func (s *DbSlice) UntrackClient(client TrackingClient) {
	for key, m := range s.clientTracking {
		delete(m, client)
		if len(m) == 0 {
			delete(s.clientTracking, key)
		}
	}
}

func (s *DbSlice) sendInvalidations(key string) {
	m, ok := s.clientTracking[key]
	if !ok {
		return
	}
	delete(s.clientTracking, key)
	for client := range m {
		client.OnInvalidate(key)
	}
}

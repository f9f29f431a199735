package migration

import (
	"github.com/lni/dragonboat/v4/logger"

	"github.com/marlinkv/marlin/lib/cluster"
	"github.com/marlinkv/marlin/lib/core"
	"github.com/marlinkv/marlin/lib/db"
	"github.com/marlinkv/marlin/lib/journal"
	"github.com/marlinkv/marlin/lib/table"
)

var log = logger.GetLogger("marlin.migration")

// snapshotStepBuckets is how many prime-table buckets one snapshot step
// visits before yielding back to the shard queue.
const snapshotStepBuckets = 100

// RestoreEntry is one key in restore form: the opaque payload plus the
// metadata the destination needs to rebuild the entry.
type RestoreEntry struct {
	DbIndex    int
	Key        string
	ObjType    core.ObjType
	Encoding   core.Encoding
	Data       []byte
	Sticky     bool
	// ExpireAtMs is the absolute deadline, zero for none.
	ExpireAtMs int64
}

// Sink receives the stream of one migration flow. Implementations
// frame and ship the entries to the destination node.
type Sink interface {
	WriteRestore(e RestoreEntry) error
	WriteJournal(e *journal.Entry) error
	Close() error
}

// RestoreStreamer emits every key of a slot set from one shard. It
// snapshots the prime table bucket by bucket and uses the slice's
// change notifications to hand off buckets that mutate mid-snapshot
// before their old content is lost. After the snapshot it tails the
// shard journal, forwarding only matching entries.
//
// Thread-safety: Start, RunSnapshotStep and Stop run on the shard
// worker. TailJournal runs on its own goroutine, it only touches the
// subscription channel and the sink.
type RestoreStreamer struct {
	slice *db.DbSlice
	slots cluster.SlotSet
	sink  Sink

	// snapshotVersion separates buckets the snapshot still owes from
	// buckets already streamed or mutated after the start.
	snapshotVersion uint64
	cbVersion       uint64
	cursor          table.Cursor
	snapshotDone    bool
	started         bool

	journalID uint64
	journalCh <-chan *journal.Entry

	err error
}

// NewRestoreStreamer creates a streamer for the slots of one shard.
func NewRestoreStreamer(slice *db.DbSlice, slots cluster.SlotSet, sink Sink) *RestoreStreamer {
	return &RestoreStreamer{slice: slice, slots: slots, sink: sink}
}

// Start registers the change callback and the journal subscription.
// The registration version doubles as the snapshot watermark: buckets
// below it still need streaming, buckets at or above it were either
// streamed already or mutated after the start.
func (s *RestoreStreamer) Start() {
	if s.started {
		panic("migration: streamer started twice")
	}
	s.started = true
	s.cbVersion = s.slice.RegisterOnChange(s.onChange)
	s.snapshotVersion = s.cbVersion
	if j := s.slice.Journal(); j != nil {
		s.journalID, s.journalCh = j.Subscribe()
	}
}

// Stop unregisters the callback and the journal subscription. Must run
// on the shard worker like Start.
func (s *RestoreStreamer) Stop() {
	if !s.started {
		return
	}
	s.started = false
	s.slice.UnregisterOnChange(s.cbVersion)
	if j := s.slice.Journal(); j != nil {
		j.Unsubscribe(s.journalID)
	}
}

// Err returns the first sink error the streamer hit.
func (s *RestoreStreamer) Err() error { return s.err }

// IsSnapshotFinished reports whether the full-sync traversal drained.
func (s *RestoreStreamer) IsSnapshotFinished() bool { return s.snapshotDone }

// onChange hands off a bucket the snapshot has not reached yet before
// its mutation is applied. New-key notices carry no bucket and need no
// hand-off, the key does not exist yet.
func (s *RestoreStreamer) onChange(req db.ChangeReq) {
	if req.IsNewKey {
		return
	}
	s.writeBucket(req.DbIndex, req.It)
}

// writeBucket streams the matching entries of one bucket and stamps it
// with the snapshot watermark so it is never streamed twice.
func (s *RestoreStreamer) writeBucket(dbIndex int, it table.Iterator) {
	dbt := s.slice.GetDBTable(db.Context{DbIndex: dbIndex})
	tbl := dbt.Prime()
	if tbl.GetVersion(it) >= s.snapshotVersion {
		return
	}
	tbl.ForEachSlot(it.SegID(), it.BucketID(), func(cur table.Iterator, k *core.PrimeKey, v *core.PrimeValue) bool {
		s.writeEntry(dbt, cur, k, v)
		return true
	})
	tbl.SetVersion(it, s.snapshotVersion)
}

// RunSnapshotStep advances the full-sync traversal by up to
// snapshotStepBuckets buckets. Returns whether the snapshot finished.
// The caller re-queues unfinished snapshots on its shard.
func (s *RestoreStreamer) RunSnapshotStep() bool {
	if s.snapshotDone {
		return true
	}
	dbt := s.slice.GetDBTable(db.Context{DbIndex: 0})
	tbl := dbt.Prime()
	for i := 0; i < snapshotStepBuckets; i++ {
		s.cursor = tbl.Traverse(s.cursor, func(b *table.BucketView[core.PrimeKey, core.PrimeValue]) {
			if b.Version() >= s.snapshotVersion {
				return
			}
			stamp := table.DoneIterator()
			b.ForEach(func(cur table.Iterator, k *core.PrimeKey, v *core.PrimeValue) {
				s.writeEntry(dbt, cur, k, v)
				stamp = cur
			})
			if !stamp.IsDone() {
				tbl.SetVersion(stamp, s.snapshotVersion)
			}
		})
		if s.cursor == 0 {
			s.snapshotDone = true
			log.Infof("shard %d: migration snapshot finished", s.slice.ShardID())
			return true
		}
	}
	return false
}

// writeEntry ships one entry if its slot belongs to the migration.
func (s *RestoreStreamer) writeEntry(dbt *db.DbTable, it table.Iterator, k *core.PrimeKey, v *core.PrimeValue) {
	key := k.String()
	if !s.slots.Contains(cluster.KeySlotString(key)) {
		return
	}
	if v.StringData() == nil && v.Object() != nil {
		// Rich in-process payloads carry no wire form. The slot flush on
		// finalization still removes them, the destination just never
		// receives a copy.
		log.Errorf("shard %d: cannot stream object-typed key %q, skipping", s.slice.ShardID(), key)
		return
	}
	e := RestoreEntry{
		DbIndex:  dbt.Index(),
		Key:      key,
		ObjType:  v.ObjType(),
		Encoding: v.Encoding(),
		Data:     v.StringData(),
		Sticky:   k.Sticky(),
	}
	if k.HasExpire() {
		if expIt, ok := dbt.Expire().Find(k); ok {
			e.ExpireAtMs = dbt.ExpireDeadlineMs(expIt)
		}
	}
	if err := s.sink.WriteRestore(e); err != nil && s.err == nil {
		s.err = err
		log.Errorf("shard %d: migration sink write failed: %v", s.slice.ShardID(), err)
	}
}

// TailJournal forwards matching journal entries to the sink until the
// subscription is closed by Stop. It blocks and is meant to run on its
// own goroutine.
func (s *RestoreStreamer) TailJournal() {
	for e := range s.journalCh {
		key := e.Key()
		if key == "" || !s.slots.Contains(cluster.KeySlotString(key)) {
			continue
		}
		if err := s.sink.WriteJournal(e); err != nil {
			if s.err == nil {
				s.err = err
			}
			log.Errorf("shard %d: migration journal forward failed: %v", s.slice.ShardID(), err)
			return
		}
	}
}

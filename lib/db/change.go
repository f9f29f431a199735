package db

import (
	"github.com/marlinkv/marlin/lib/table"
)

// --------------------------------------------------------------------------
// Change Notifications
// --------------------------------------------------------------------------

// ChangeReq is the argument of a change callback. Exactly one of the
// two shapes is populated:
//
//   - mutation notice: It addresses the entry about to change. Sent
//     before a value is overwritten and before a slot is moved by the
//     bump path.
//   - new-key notice: IsNewKey is true and Key holds the key about to
//     be inserted. Sent before the insertion attempt so observers can
//     pre-stage work for the soon-to-exist key.
type ChangeReq struct {
	DbIndex  int
	It       table.Iterator
	Key      string
	IsNewKey bool
}

// ChangeCallback observes slice mutations. Callbacks run on the shard
// worker and must not mutate the slice or register further callbacks.
type ChangeCallback func(ChangeReq)

type changeCbEntry struct {
	version uint64
	cb      ChangeCallback
}

// NextVersion returns a strictly monotonic version. Bucket versions and
// callback registrations draw from the same counter.
func (s *DbSlice) NextVersion() uint64 {
	s.versionCounter++
	return s.versionCounter
}

// CurrentVersion returns the last version handed out.
func (s *DbSlice) CurrentVersion() uint64 { return s.versionCounter }

// RegisterOnChange adds a callback and returns its registration
// version. Callbacks are invoked in version order.
func (s *DbSlice) RegisterOnChange(cb ChangeCallback) uint64 {
	if s.inNotifyCb {
		panic("db: RegisterOnChange during a change notification")
	}
	version := s.NextVersion()
	s.changeCbs = append(s.changeCbs, changeCbEntry{version: version, cb: cb})
	return version
}

// UnregisterOnChange removes the callback registered under version.
func (s *DbSlice) UnregisterOnChange(version uint64) {
	if s.inNotifyCb {
		panic("db: UnregisterOnChange during a change notification")
	}
	for i, e := range s.changeCbs {
		if e.version == version {
			s.changeCbs = append(s.changeCbs[:i], s.changeCbs[i+1:]...)
			return
		}
	}
	panic("db: UnregisterOnChange of unknown version")
}

// notifyChange invokes every registered callback in version order.
func (s *DbSlice) notifyChange(req ChangeReq) {
	s.inNotifyCb = true
	for _, e := range s.changeCbs {
		e.cb(req)
	}
	s.inNotifyCb = false
}

// FlushChangeToEarlierCallbacks replays a mutation notice for it to
// exactly those callbacks registered after the bucket's last visit and
// before upperBound. A streaming snapshotter that captured upperBound
// at its start gets a one-shot "flush this bucket" for every stale
// bucket a later mutation touches. Afterwards the bucket version is
// advanced to upperBound so the same pair never replays.
func (s *DbSlice) FlushChangeToEarlierCallbacks(dbIndex int, it table.Iterator, upperBound uint64) {
	dbt := s.tables[dbIndex]
	bucketVersion := dbt.prime.GetVersion(it)
	if bucketVersion >= upperBound {
		return
	}
	s.inNotifyCb = true
	for _, e := range s.changeCbs {
		if e.version > bucketVersion && e.version < upperBound {
			e.cb(ChangeReq{DbIndex: dbIndex, It: it})
		}
	}
	s.inNotifyCb = false
	dbt.prime.SetVersion(it, upperBound)
}

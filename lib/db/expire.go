package db

import (
	"github.com/marlinkv/marlin/lib/core"
	"github.com/marlinkv/marlin/lib/table"
)

// --------------------------------------------------------------------------
// Expiration
// --------------------------------------------------------------------------

// ExpireFlags are the conditional-update modifiers of UpdateExpire.
type ExpireFlags uint8

const (
	// ExpireNX sets the deadline only when the key has none.
	ExpireNX ExpireFlags = 1 << iota
	// ExpireXX sets the deadline only when the key already has one.
	ExpireXX
	// ExpireGT keeps the later of the current and the new deadline.
	ExpireGT
	// ExpireLT keeps the earlier of the current and the new deadline.
	ExpireLT
)

// ExpireParams describes one deadline update.
type ExpireParams struct {
	// Value is the deadline, relative to now unless Absolute is set.
	Value int64
	// Absolute marks Value as a unix timestamp instead of a delta.
	Absolute bool
	// UnitSec marks Value as seconds, milliseconds otherwise.
	UnitSec bool
	Flags   ExpireFlags
	// Persist removes the deadline instead of setting one.
	Persist bool
}

// DeadlineMs resolves the parameters to an absolute deadline.
func (p ExpireParams) DeadlineMs(nowMs int64) int64 {
	v := p.Value
	if p.UnitSec {
		v *= 1000
	}
	if p.Absolute {
		return v
	}
	return nowMs + v
}

// UpdateExpire applies params to the entry of res and consumes its
// guard, the caller must not mutate the entry afterwards. It returns
// the new absolute deadline in milliseconds, 0 after a persist, or -1
// when the requested deadline already lies in the past and the key was
// deleted.
//
// Conflicting or unsatisfied flags return RetCSkipped and leave the
// entry untouched. Deadlines beyond the representable horizon return
// RetCOutOfRange.
func (s *DbSlice) UpdateExpire(ctx Context, res *MutResult, params ExpireParams) (int64, error) {
	dbt := s.ensureTable(ctx)
	it, expIt := res.It, res.ExpIt

	if params.Persist {
		s.removeExpire(dbt, it, expIt)
		res.Updater.Run()
		return 0, nil
	}

	hasCur := !expIt.IsDone()
	var curDeadline int64
	if hasCur {
		curDeadline = dbt.ExpireDeadlineMs(expIt)
	}

	skip := func() (int64, error) {
		res.Updater.Cancel()
		return 0, core.ErrSkipped
	}

	f := params.Flags
	if f&ExpireNX != 0 && f&(ExpireXX|ExpireGT|ExpireLT) != 0 {
		return skip()
	}
	if f&ExpireGT != 0 && f&ExpireLT != 0 {
		return skip()
	}
	if f&ExpireNX != 0 && hasCur {
		return skip()
	}
	if f&ExpireXX != 0 && !hasCur {
		return skip()
	}

	deadline := params.DeadlineMs(ctx.TimeNowMs)
	if f&ExpireGT != 0 {
		// No deadline means the key never expires, nothing is greater.
		if !hasCur || deadline <= curDeadline {
			return skip()
		}
	}
	if f&ExpireLT != 0 && hasCur && deadline >= curDeadline {
		return skip()
	}

	if deadline <= ctx.TimeNowMs {
		key := dbt.prime.Key(it).String()
		res.Updater.Cancel()
		s.journalExpired(dbt.index, key)
		s.performDeletion(ctx, dbt, it, expIt)
		return -1, nil
	}
	if deadline > ctx.TimeNowMs+core.KMaxExpireDeadlineMs {
		res.Updater.Cancel()
		return 0, core.ErrOutOfRange
	}
	if err := s.setExpireAt(ctx, dbt, it, expIt, deadline); err != nil {
		res.Updater.Cancel()
		return 0, err
	}
	res.Updater.Run()
	return deadline, nil
}

// setExpireAt stores deadlineMs for the entry at it, overwriting an
// existing deadline in place when expIt addresses one.
func (s *DbSlice) setExpireAt(ctx Context, dbt *DbTable, it, expIt table.Iterator, deadlineMs int64) error {
	delta := deadlineMs - dbt.expireBase
	if delta < 0 {
		delta = 0
	}
	if !core.FitsExpirePeriod(delta) {
		return core.ErrOutOfRange
	}
	period := core.NewExpirePeriod(delta)

	if !expIt.IsDone() {
		*dbt.expire.Value(expIt) = period
		return nil
	}

	keyRef := dbt.prime.Key(it)
	pk := core.NewPrimeKeyString(keyRef.String())
	if _, _, err := dbt.expire.Insert(pk, period, table.DefaultPolicy[core.PrimeKey, core.ExpirePeriod]{}); err != nil {
		return err
	}
	keyRef.SetHasExpire(true)
	return nil
}

// removeExpire drops the deadline of the entry at it, if any.
func (s *DbSlice) removeExpire(dbt *DbTable, it, expIt table.Iterator) {
	keyRef := dbt.prime.Key(it)
	if !keyRef.HasExpire() {
		return
	}
	if expIt.IsDone() {
		expIt, _ = dbt.expire.Find(keyRef)
	}
	if !expIt.IsDone() {
		dbt.expire.Erase(expIt)
	}
	keyRef.SetHasExpire(false)
}

// expireEntry removes the entry at it when its deadline has passed.
// Returns whether the entry was removed. The removal is journaled as an
// expired DEL and the document-deletion hook fires for document values.
func (s *DbSlice) expireEntry(ctx Context, dbt *DbTable, it, expIt table.Iterator) bool {
	if !s.expireAllowed {
		return false
	}
	if ctx.TimeNowMs < dbt.ExpireDeadlineMs(expIt) {
		return false
	}

	valRef := dbt.prime.Value(it)
	key := dbt.prime.Key(it).String()
	s.journalExpired(dbt.index, key)
	if hook := s.DocDeletionHook; hook != nil {
		if t := valRef.ObjType(); t == core.ObjJSON || t == core.ObjHash {
			hook(dbt.index, key, valRef)
		}
	}
	s.performDeletion(ctx, dbt, it, expIt)
	s.events.ExpiredKeys++
	return true
}

// ExpireIfNeeded checks the entry at it against the clock and removes
// it when due. Returns whether the entry was removed.
func (s *DbSlice) ExpireIfNeeded(ctx Context, it table.Iterator) bool {
	dbt := s.ensureTable(ctx)
	keyRef := dbt.prime.Key(it)
	if !keyRef.HasExpire() {
		return false
	}
	expIt, ok := dbt.expire.Find(keyRef)
	if !ok {
		return false
	}
	return s.expireEntry(ctx, dbt, it, expIt)
}

// ExpireAllIfNeeded sweeps every database completely so that no dead
// entry survives, used before cutting a consistent snapshot.
func (s *DbSlice) ExpireAllIfNeeded(nowMs int64) {
	s.assertNoPendingUpdate()
	for i, dbt := range s.tables {
		if dbt == nil {
			continue
		}
		ctx := Context{DbIndex: i, TimeNowMs: nowMs}
		var due []string
		var c table.Cursor
		for {
			c = dbt.expire.Traverse(c, func(b *table.BucketView[core.PrimeKey, core.ExpirePeriod]) {
				b.ForEach(func(_ table.Iterator, k *core.PrimeKey, v *core.ExpirePeriod) {
					if nowMs >= v.DeadlineMs(dbt.expireBase) {
						due = append(due, k.String())
					}
				})
			})
			if c == 0 {
				break
			}
		}
		s.deleteDue(ctx, dbt, due)
	}
}

// DeleteExpiredStep advances the incremental expire sweep of one
// database by up to traverseCount buckets and returns how many entries
// it removed. The cursor position survives between heartbeats.
func (s *DbSlice) DeleteExpiredStep(ctx Context, traverseCount int) int {
	s.assertNoPendingUpdate()
	dbt := s.ensureTable(ctx)
	deleted := 0
	for i := 0; i < traverseCount; i++ {
		var due []string
		dbt.expireCursor = dbt.expire.Traverse(dbt.expireCursor, func(b *table.BucketView[core.PrimeKey, core.ExpirePeriod]) {
			b.ForEach(func(_ table.Iterator, k *core.PrimeKey, v *core.ExpirePeriod) {
				if ctx.TimeNowMs >= v.DeadlineMs(dbt.expireBase) {
					due = append(due, k.String())
				}
			})
		})
		deleted += s.deleteDue(ctx, dbt, due)
		if dbt.expireCursor == 0 {
			break
		}
	}
	return deleted
}

// deleteDue expires the collected keys, re-resolving each one because
// earlier deletions invalidate iterators.
func (s *DbSlice) deleteDue(ctx Context, dbt *DbTable, due []string) int {
	deleted := 0
	for _, key := range due {
		pk := core.NewPrimeKeyString(key)
		it, ok := dbt.prime.Find(&pk)
		if !ok {
			continue
		}
		expIt, ok := dbt.expire.Find(&pk)
		if !ok {
			continue
		}
		if s.expireEntry(ctx, dbt, it, expIt) {
			deleted++
		}
	}
	return deleted
}

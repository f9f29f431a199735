package db_test

import (
	"fmt"
	"testing"

	"github.com/marlinkv/marlin/lib/cluster"
	"github.com/marlinkv/marlin/lib/core"
	"github.com/marlinkv/marlin/lib/db"
	dbtest "github.com/marlinkv/marlin/lib/db/testing"
	"github.com/marlinkv/marlin/lib/journal"
	"github.com/marlinkv/marlin/lib/table"
)

const baseMs = int64(1_000_000)

func ctxAt(nowMs int64) db.Context {
	return db.Context{DbIndex: 0, TimeNowMs: nowMs}
}

func mustSet(t testing.TB, s *db.DbSlice, nowMs int64, key, value string) {
	t.Helper()
	if err := s.AddOrUpdate(ctxAt(nowMs), key, core.NewStringValue([]byte(value)), 0); err != nil {
		t.Fatalf("AddOrUpdate(%s) failed: %v", key, err)
	}
}

func has(t testing.TB, s *db.DbSlice, nowMs int64, key string) bool {
	t.Helper()
	_, err := s.FindReadOnly(ctxAt(nowMs), key, core.ObjAny)
	if err != nil && !core.ErrKeyNotFound.Is(err) {
		t.Fatalf("FindReadOnly(%s) failed: %v", key, err)
	}
	return err == nil
}

// TestSliceConfigurations runs the shared suite against the supported
// slice configurations
func TestSliceConfigurations(t *testing.T) {
	dbtest.RunSliceTests(t, "Default", func() *db.DbSlice {
		return db.New(db.Options{NowMs: baseMs})
	})

	dbtest.RunSliceTests(t, "Caching", func() *db.DbSlice {
		return db.New(db.Options{CachingMode: true, NowMs: baseMs})
	})

	dbtest.RunSliceTests(t, "Cluster", func() *db.DbSlice {
		return db.New(db.Options{ClusterEnabled: true, NowMs: baseMs})
	})

	dbtest.RunSliceTests(t, "SingleDb", func() *db.DbSlice {
		return db.New(db.Options{DbCount: 1, NowMs: baseMs})
	})

	dbtest.RunSliceTests(t, "Journaled", func() *db.DbSlice {
		return db.New(db.Options{Journal: journal.New(), NowMs: baseMs})
	})
}

func BenchmarkSlice(b *testing.B) {
	dbtest.RunSliceBenchmarks(b, "Default", func() *db.DbSlice {
		return db.New(db.Options{NowMs: baseMs})
	})
}

// TestMemoryBudgetExhaustion tests that new keys are rejected once the
// budget is spent and accepted again after deletions refund it
func TestMemoryBudgetExhaustion(t *testing.T) {
	s := db.New(db.Options{MemoryBudget: 1, NowMs: baseMs})

	// the first insert fits, it drives the budget negative
	mustSet(t, s, baseMs, "first", "value")
	if s.MemoryBudget() > 0 {
		t.Fatalf("Budget still positive after the first insert: %d", s.MemoryBudget())
	}

	err := s.AddOrUpdate(ctxAt(baseMs), "second", core.NewStringValue([]byte("v")), 0)
	if err == nil {
		t.Fatalf("Expected the second key to be rejected")
	}
	if !core.ErrOutOfMemory.Is(err) {
		t.Errorf("Expected an out-of-memory error, got %v", err)
	}
	if s.Events().InsertionRejections != 1 {
		t.Errorf("Expected 1 insertion rejection, got %d", s.Events().InsertionRejections)
	}

	// overwriting an existing key needs no budget
	mustSet(t, s, baseMs, "first", "other")

	// deleting refunds the entry's bytes
	if !s.Del(ctxAt(baseMs), "first") {
		t.Fatalf("Del of an existing key returned false")
	}
	mustSet(t, s, baseMs, "second", "v")
	if !has(t, s, baseMs, "second") {
		t.Errorf("Insert after refund did not stick")
	}
}

// TestUnlimitedBudget tests that a non-positive budget option disables
// the limit instead of rejecting everything
func TestUnlimitedBudget(t *testing.T) {
	s := db.New(db.Options{MemoryBudget: 0, NowMs: baseMs})

	for i := 0; i < 1000; i++ {
		mustSet(t, s, baseMs, fmt.Sprintf("key-%d", i), "value")
	}
	if s.DbSize(0) != 1000 {
		t.Errorf("Expected 1000 keys, got %d", s.DbSize(0))
	}
	if s.MemoryBudget() <= 0 {
		t.Errorf("Unlimited budget was exhausted: %d", s.MemoryBudget())
	}
}

// TestChangeCallbacks tests the mutation and new-key notices
func TestChangeCallbacks(t *testing.T) {
	s := db.New(db.Options{NowMs: baseMs})

	var reqs []db.ChangeReq
	version := s.RegisterOnChange(func(req db.ChangeReq) {
		reqs = append(reqs, req)
	})

	mustSet(t, s, baseMs, "fresh", "v")
	if len(reqs) != 1 {
		t.Fatalf("Expected 1 notice after an insert, got %d", len(reqs))
	}
	if !reqs[0].IsNewKey || reqs[0].Key != "fresh" {
		t.Errorf("Insert notice is not the new-key form: %+v", reqs[0])
	}

	mustSet(t, s, baseMs, "fresh", "v2")
	if len(reqs) != 2 {
		t.Fatalf("Expected a second notice after an overwrite, got %d", len(reqs))
	}
	if reqs[1].IsNewKey || reqs[1].It.IsDone() {
		t.Errorf("Overwrite notice should address the existing entry: %+v", reqs[1])
	}

	s.UnregisterOnChange(version)
	mustSet(t, s, baseMs, "after", "v")
	if len(reqs) != 2 {
		t.Errorf("Unregistered callback still received %d notice(s)", len(reqs)-2)
	}
}

// TestFlushChangeToEarlierCallbacks tests the one-shot replay window
func TestFlushChangeToEarlierCallbacks(t *testing.T) {
	s := db.New(db.Options{NowMs: baseMs})

	mustSet(t, s, baseMs, "key", "v")
	res, err := s.FindReadOnly(ctxAt(baseMs), "key", core.ObjAny)
	if err != nil {
		t.Fatalf("FindReadOnly failed: %v", err)
	}

	// registered after the bucket's last mutation, inside the window
	flushed := 0
	version := s.RegisterOnChange(func(req db.ChangeReq) {
		flushed++
	})
	defer s.UnregisterOnChange(version)

	upper := s.NextVersion()
	s.FlushChangeToEarlierCallbacks(0, res.It, upper)
	if flushed != 1 {
		t.Fatalf("Expected exactly one replayed notice, got %d", flushed)
	}

	// the bucket version advanced, the same pair never replays
	s.FlushChangeToEarlierCallbacks(0, res.It, upper)
	if flushed != 1 {
		t.Errorf("Replay fired twice for the same bucket and window")
	}
}

// TestSlotFlushVersionWindow tests that keys mutated after the flush
// started survive it
func TestSlotFlushVersionWindow(t *testing.T) {
	s := db.New(db.Options{ClusterEnabled: true, NowMs: baseMs})
	ctx := ctxAt(baseMs)

	mustSet(t, s, baseMs, "{tag}key", "v")
	mustSet(t, s, baseMs, "elsewhere", "v")

	slot := cluster.KeySlotString("{tag}key")
	set := cluster.NewSlotSet()
	set.Add(slot)
	if set.Contains(cluster.KeySlotString("elsewhere")) {
		t.Fatalf("Test keys collide on slot %d, pick different keys", slot)
	}

	flush := s.StartFlushSlots(set)

	// this write happens under the new ownership and must survive
	mustSet(t, s, baseMs, "{tag}key", "rewritten")

	for !flush.RunStep(ctx, 100) {
	}
	if !flush.Finished() {
		t.Fatalf("Flush loop ended without finishing")
	}
	if flush.Deleted() != 0 {
		t.Errorf("Flush deleted %d key(s) mutated after its start", flush.Deleted())
	}
	if !has(t, s, baseMs, "{tag}key") {
		t.Errorf("Post-start mutation did not protect the key")
	}

	// a fresh flush sees the quiesced bucket and removes the key
	second := s.StartFlushSlots(set)
	for !second.RunStep(ctx, 100) {
	}
	if second.Deleted() != 1 {
		t.Errorf("Second flush deleted %d key(s), want 1", second.Deleted())
	}
	if has(t, s, baseMs, "{tag}key") {
		t.Errorf("Key survived the second flush")
	}
	if !has(t, s, baseMs, "elsewhere") {
		t.Errorf("Key outside the slot set was removed")
	}
}

// TestFlushSlots tests the synchronous whole-set flush
func TestFlushSlots(t *testing.T) {
	s := db.New(db.Options{ClusterEnabled: true, NowMs: baseMs})
	ctx := ctxAt(baseMs)

	for i := 0; i < 20; i++ {
		mustSet(t, s, baseMs, fmt.Sprintf("{a}key-%d", i), "v")
		mustSet(t, s, baseMs, fmt.Sprintf("{b}key-%d", i), "v")
	}

	set := cluster.NewSlotSet()
	set.Add(cluster.KeySlotString("{a}"))

	if n := s.FlushSlots(ctx, cluster.NewSlotSet()); n != 0 {
		t.Errorf("Empty set flush removed %d key(s)", n)
	}

	if n := s.FlushSlots(ctx, set); n != 20 {
		t.Errorf("FlushSlots removed %d key(s), want 20", n)
	}
	if s.DbSize(0) != 20 {
		t.Errorf("Expected 20 remaining keys, got %d", s.DbSize(0))
	}
	for i := 0; i < 20; i++ {
		if has(t, s, baseMs, fmt.Sprintf("{a}key-%d", i)) {
			t.Fatalf("Flushed key {a}key-%d still present", i)
		}
		if !has(t, s, baseMs, fmt.Sprintf("{b}key-%d", i)) {
			t.Fatalf("Foreign-slot key {b}key-%d was removed", i)
		}
	}
}

// TestExpiredKeysAreJournaled tests that lazy expiry records a DEL
func TestExpiredKeysAreJournaled(t *testing.T) {
	j := journal.New()
	s := db.New(db.Options{Journal: j, NowMs: baseMs})

	err := s.AddOrUpdate(ctxAt(baseMs), "doomed", core.NewStringValue([]byte("v")), baseMs+100)
	if err != nil {
		t.Fatalf("AddOrUpdate failed: %v", err)
	}

	id, ch := j.Subscribe()
	defer j.Unsubscribe(id)

	if has(t, s, baseMs+100, "doomed") {
		t.Fatalf("Key readable at its deadline")
	}

	e := <-ch
	if e.Op != journal.OpExpired || e.Key() != "doomed" {
		t.Errorf("Expected an expired DEL entry for doomed, got %s", e)
	}
	if s.Events().ExpiredKeys != 1 {
		t.Errorf("Expected 1 expired key, got %d", s.Events().ExpiredKeys)
	}
}

// TestFreeMemWithEvictionStep tests the heartbeat eviction scan
func TestFreeMemWithEvictionStep(t *testing.T) {
	t.Run("NoOpWithoutCaching", func(t *testing.T) {
		s := db.New(db.Options{NowMs: baseMs})
		mustSet(t, s, baseMs, "key", "v")
		if n, freed := s.FreeMemWithEvictionStep(ctxAt(baseMs), 1<<20); n != 0 || freed != 0 {
			t.Errorf("Non-caching slice evicted %d key(s), freed %d", n, freed)
		}
	})

	t.Run("Caching", func(t *testing.T) {
		j := journal.New()
		s := db.New(db.Options{CachingMode: true, Journal: j, NowMs: baseMs})
		ctx := ctxAt(baseMs)

		// fill until some entries spill into stash buckets, those are
		// the only victims the scan considers
		i := 0
		for stashCount(s, ctx) == 0 {
			for n := 0; n < table.KSegmentCapacity; n++ {
				mustSet(t, s, baseMs, fmt.Sprintf("evict-key-%d", i), "value")
				i++
			}
			if i > 64*table.KSegmentCapacity {
				t.Fatalf("No entry landed in a stash bucket after %d inserts", i)
			}
		}

		id, ch := j.Subscribe()
		defer j.Unsubscribe(id)

		s.MaxSegmentToConsider = 1 << 10
		before := s.DbSize(0)

		evicted := 0
		var freed int64
		for round := 0; round < 100 && evicted == 0; round++ {
			n, f := s.FreeMemWithEvictionStep(ctx, 1<<30)
			evicted += n
			freed += f
		}
		if evicted == 0 {
			t.Fatalf("Eviction scan never found a victim")
		}
		if freed <= 0 {
			t.Errorf("Evicted %d key(s) but freed %d bytes", evicted, freed)
		}
		if s.DbSize(0) != before-evicted {
			t.Errorf("DbSize %d inconsistent with %d evictions from %d", s.DbSize(0), evicted, before)
		}
		if s.Events().EvictedKeys != uint64(evicted) {
			t.Errorf("EvictedKeys counter %d, want %d", s.Events().EvictedKeys, evicted)
		}

		// every eviction was journaled as a DEL
		for n := 0; n < evicted; n++ {
			e := <-ch
			if e.Op != journal.OpExpired || e.Cmd != "DEL" {
				t.Fatalf("Unexpected journal entry for an eviction: %s", e)
			}
		}
	})
}

// TestClientTracking tests one-shot key invalidation notices
func TestClientTracking(t *testing.T) {
	s := db.New(db.Options{NowMs: baseMs})

	client := &recordingClient{}
	mustSet(t, s, baseMs, "watched", "v")
	s.TrackKey(client, "watched")

	mustSet(t, s, baseMs, "watched", "v2")
	if len(client.keys) != 1 || client.keys[0] != "watched" {
		t.Fatalf("Expected one invalidation for watched, got %v", client.keys)
	}

	// the subscription is one-shot
	mustSet(t, s, baseMs, "watched", "v3")
	if len(client.keys) != 1 {
		t.Errorf("Invalidation fired again without re-tracking")
	}

	// deletion invalidates too
	s.TrackKey(client, "watched")
	s.Del(ctxAt(baseMs), "watched")
	if len(client.keys) != 2 {
		t.Errorf("Expected an invalidation on delete, got %v", client.keys)
	}

	// an untracked client hears nothing
	s.TrackKey(client, "other")
	s.UntrackClient(client)
	mustSet(t, s, baseMs, "other", "v")
	if len(client.keys) != 2 {
		t.Errorf("Untracked client received an invalidation")
	}
}

// ---- Helper functions ----

type recordingClient struct {
	keys []string
}

func (c *recordingClient) OnInvalidate(key string) {
	c.keys = append(c.keys, key)
}

// stashCount counts the entries currently held in stash buckets
func stashCount(s *db.DbSlice, ctx db.Context) int {
	tbl := s.GetDBTable(ctx).Prime()
	count := 0
	for segID := 0; segID < tbl.DirSize(); segID++ {
		for bid := table.KRegularBuckets; bid < table.KBucketsPerSegment; bid++ {
			tbl.ForEachSlot(segID, bid, func(table.Iterator, *core.PrimeKey, *core.PrimeValue) bool {
				count++
				return true
			})
		}
	}
	return count
}

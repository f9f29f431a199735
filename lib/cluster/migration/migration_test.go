package migration

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/marlinkv/marlin/lib/cluster"
	"github.com/marlinkv/marlin/lib/core"
	"github.com/marlinkv/marlin/lib/db"
	"github.com/marlinkv/marlin/lib/journal"
)

const baseMs = int64(1_000_000)

func ctxAt(nowMs int64) db.Context {
	return db.Context{DbIndex: 0, TimeNowMs: nowMs}
}

func newClusterSlice(j *journal.Journal) *db.DbSlice {
	return db.New(db.Options{ClusterEnabled: true, Journal: j, NowMs: baseMs})
}

func mustSet(t testing.TB, s *db.DbSlice, key, value string) {
	t.Helper()
	if err := s.AddOrUpdate(ctxAt(baseMs), key, core.NewStringValue([]byte(value)), 0); err != nil {
		t.Fatalf("AddOrUpdate(%s) failed: %v", key, err)
	}
}

func tagSlots(tag string) cluster.SlotSet {
	set := cluster.NewSlotSet()
	set.Add(cluster.KeySlotString("{" + tag + "}"))
	return set
}

// TestMinState tests the aggregate state folding
func TestMinState(t *testing.T) {
	cases := []struct {
		states []State
		want   State
	}{
		{nil, StateNoState},
		{[]State{StateStableSync, StateStableSync}, StateStableSync},
		{[]State{StateStableSync, StateFullSync}, StateFullSync},
		{[]State{StateConnecting, StateStableSync}, StateConnecting},
		{[]State{StateStableSync, StateError, StateConnecting}, StateError},
	}
	for _, c := range cases {
		if got := minState(c.states); got != c.want {
			t.Errorf("minState(%v) = %s, want %s", c.states, got, c.want)
		}
	}
}

// TestStateString tests the wire names
func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateNoState:    "NO_STATE",
		StateConnecting: "CONNECTING",
		StateFullSync:   "FULL_SYNC",
		StateStableSync: "STABLE_SYNC",
		StateError:      "ERROR",
	}
	for s, want := range cases {
		if s.String() != want {
			t.Errorf("State(%d).String() = %s, want %s", s, s.String(), want)
		}
	}
}

// TestRegistry tests registration and lookup of migrations
func TestRegistry(t *testing.T) {
	r := NewRegistry()

	slotsA := tagSlots("a")
	slotsB := tagSlots("b")

	out1 := r.StartOutgoing("10.0.0.2", 6379, slotsA, 2)
	out2 := r.StartOutgoing("10.0.0.3", 6379, slotsB, 2)
	if out1.SyncID() == out2.SyncID() {
		t.Errorf("Sync ids are not unique: %d", out1.SyncID())
	}

	if m, ok := r.FindOutgoing("10.0.0.2", 6379); !ok || m != out1 {
		t.Errorf("FindOutgoing missed the registered migration")
	}
	if m, ok := r.FindOutgoingBySyncID(out2.SyncID()); !ok || m != out2 {
		t.Errorf("FindOutgoingBySyncID missed sync id %d", out2.SyncID())
	}
	if m, ok := r.FindOutgoingBySlots(slotsA); !ok || m != out1 {
		t.Errorf("FindOutgoingBySlots missed the slot set")
	}
	if _, ok := r.FindOutgoingBySlots(tagSlots("c")); ok {
		t.Errorf("FindOutgoingBySlots matched a foreign slot set")
	}

	in := r.StartIncoming("10.0.0.1", 6379, slotsA, 2)
	if m, ok := r.FindIncoming("10.0.0.1", 6379); !ok || m != in {
		t.Errorf("FindIncoming missed the registered migration")
	}

	lines := r.Status("")
	if len(lines) != 3 {
		t.Fatalf("Status listed %d migration(s), want 3", len(lines))
	}
	filtered := r.Status("10.0.0.3:6379")
	if len(filtered) != 1 || filtered[0] != out2.StatusString() {
		t.Errorf("Filtered status = %v", filtered)
	}

	r.RemoveOutgoing(out1)
	if _, ok := r.FindOutgoing("10.0.0.2", 6379); ok {
		t.Errorf("Removed outgoing migration still found")
	}
	if _, ok := r.FindOutgoingBySyncID(out1.SyncID()); ok {
		t.Errorf("Removed sync id still resolves")
	}
	r.RemoveIncoming(in)
	if _, ok := r.FindIncoming("10.0.0.1", 6379); ok {
		t.Errorf("Removed incoming migration still found")
	}
}

// TestIncomingMigrationStates tests the destination side state machine
func TestIncomingMigrationStates(t *testing.T) {
	m := NewIncomingMigration("10.0.0.1", 6379, tagSlots("a"), 2)

	if m.State() != StateConnecting {
		t.Fatalf("Fresh incoming migration in state %s", m.State())
	}

	m.StartFlow(0)
	if m.State() != StateConnecting {
		t.Errorf("Aggregate advanced with one flow still connecting: %s", m.State())
	}
	m.StartFlow(1)
	if m.State() != StateFullSync {
		t.Errorf("Expected FULL_SYNC with both flows started, got %s", m.State())
	}

	if m.OnFullSyncCut(0) {
		t.Errorf("First cut reported completion")
	}
	if m.State() != StateFullSync {
		t.Errorf("State advanced before all flows cut: %s", m.State())
	}
	if !m.OnFullSyncCut(1) {
		t.Errorf("Final cut did not report completion")
	}
	if m.State() != StateStableSync {
		t.Errorf("Expected STABLE_SYNC after all cuts, got %s", m.State())
	}

	m.SetFlowError(0)
	if m.State() != StateError {
		t.Errorf("Errored flow does not pin the aggregate: %s", m.State())
	}

	if m.StatusString() != "in 10.0.0.1:6379 ERROR" {
		t.Errorf("StatusString = %q", m.StatusString())
	}
}

// TestApplyRestore tests installing streamed entries on the destination
func TestApplyRestore(t *testing.T) {
	m := NewIncomingMigration("10.0.0.1", 6379, tagSlots("a"), 1)
	s := newClusterSlice(nil)
	ctx := ctxAt(baseMs)

	err := m.ApplyRestore(ctx, s, RestoreEntry{
		Key:        "{a}plain",
		ObjType:    core.ObjString,
		Data:       []byte("value"),
		ExpireAtMs: baseMs + 60_000,
	})
	if err != nil {
		t.Fatalf("ApplyRestore failed: %v", err)
	}

	res, err := s.FindReadOnly(ctx, "{a}plain", core.ObjString)
	if err != nil {
		t.Fatalf("Restored key not readable: %v", err)
	}
	dbt := s.GetDBTable(ctx)
	if string(dbt.Prime().Value(res.It).StringData()) != "value" {
		t.Errorf("Restored value corrupted")
	}
	if res.ExpIt.IsDone() {
		t.Errorf("Restored deadline was dropped")
	}
	if got := dbt.ExpireDeadlineMs(res.ExpIt); got != baseMs+60_000 {
		t.Errorf("Restored deadline %d, want %d", got, baseMs+60_000)
	}

	if err := m.ApplyRestore(ctx, s, RestoreEntry{
		Key:     "{a}pinned",
		ObjType: core.ObjString,
		Data:    []byte("v"),
		Sticky:  true,
	}); err != nil {
		t.Fatalf("ApplyRestore of a sticky key failed: %v", err)
	}
	res, err = s.FindReadOnly(ctx, "{a}pinned", core.ObjAny)
	if err != nil {
		t.Fatalf("Sticky key not readable: %v", err)
	}
	if !dbt.Prime().Key(res.It).Sticky() {
		t.Errorf("Sticky flag lost on restore")
	}
}

// TestApplyJournal tests replaying forwarded journal records
func TestApplyJournal(t *testing.T) {
	m := NewIncomingMigration("10.0.0.1", 6379, tagSlots("a"), 1)
	s := newClusterSlice(nil)
	ctx := ctxAt(baseMs)

	apply := func(t *testing.T, e *journal.Entry) {
		t.Helper()
		if err := m.ApplyJournal(ctx, s, e); err != nil {
			t.Fatalf("ApplyJournal(%s) failed: %v", e, err)
		}
	}

	t.Run("Set", func(t *testing.T) {
		e := journal.NewCommandEntry(0, "SET", "{a}k", "v")
		apply(t, &e)
		if _, err := s.FindReadOnly(ctx, "{a}k", core.ObjString); err != nil {
			t.Errorf("Replayed SET not visible: %v", err)
		}
	})

	t.Run("Expire", func(t *testing.T) {
		deadline := baseMs + 5_000
		e := journal.NewCommandEntry(0, "PEXPIREAT", "{a}k", fmt.Sprint(deadline))
		apply(t, &e)
		res, err := s.FindReadOnly(ctx, "{a}k", core.ObjAny)
		if err != nil {
			t.Fatalf("Key lost after PEXPIREAT: %v", err)
		}
		if got := s.GetDBTable(ctx).ExpireDeadlineMs(res.ExpIt); got != deadline {
			t.Errorf("Replayed deadline %d, want %d", got, deadline)
		}
	})

	t.Run("Persist", func(t *testing.T) {
		e := journal.NewCommandEntry(0, "PERSIST", "{a}k")
		apply(t, &e)
		res, err := s.FindReadOnly(ctx, "{a}k", core.ObjAny)
		if err != nil {
			t.Fatalf("Key lost after PERSIST: %v", err)
		}
		if !res.ExpIt.IsDone() {
			t.Errorf("Deadline survived the replayed PERSIST")
		}
	})

	t.Run("Del", func(t *testing.T) {
		e := journal.NewCommandEntry(0, "DEL", "{a}k")
		apply(t, &e)
		if _, err := s.FindReadOnly(ctx, "{a}k", core.ObjAny); !core.ErrKeyNotFound.Is(err) {
			t.Errorf("Replayed DEL left the key behind")
		}
	})

	t.Run("ExpireOfMissingKey", func(t *testing.T) {
		e := journal.NewCommandEntry(0, "PEXPIREAT", "{a}gone", "123")
		apply(t, &e)
	})

	t.Run("UnknownCommand", func(t *testing.T) {
		e := journal.NewCommandEntry(0, "LPUSH", "{a}list", "x")
		apply(t, &e)
	})

	t.Run("MalformedSet", func(t *testing.T) {
		e := journal.NewCommandEntry(0, "SET", "{a}short")
		if err := m.ApplyJournal(ctx, s, &e); !core.ErrSyntax.Is(err) {
			t.Errorf("Expected a syntax error, got %v", err)
		}
	})
}

// TestRestoreStreamerSnapshot tests the full sync traversal
func TestRestoreStreamerSnapshot(t *testing.T) {
	s := newClusterSlice(nil)
	sink := &collectingSink{}
	slots := tagSlots("mig")

	for i := 0; i < 50; i++ {
		mustSet(t, s, fmt.Sprintf("{mig}key-%d", i), "payload")
		mustSet(t, s, fmt.Sprintf("{other}key-%d", i), "stays")
	}
	if err := s.AddOrUpdate(ctxAt(baseMs), "{mig}expiring", core.NewStringValue([]byte("v")), baseMs+30_000); err != nil {
		t.Fatalf("AddOrUpdate failed: %v", err)
	}

	st := NewRestoreStreamer(s, slots, sink)
	st.Start()
	defer st.Stop()

	steps := 0
	for !st.RunSnapshotStep() {
		steps++
		if steps > 1<<20 {
			t.Fatalf("Snapshot did not terminate")
		}
	}
	if !st.IsSnapshotFinished() {
		t.Fatalf("RunSnapshotStep returned true without finishing")
	}
	if st.Err() != nil {
		t.Fatalf("Streamer error: %v", st.Err())
	}

	seen := sink.restoreCounts()
	if len(seen) != 51 {
		t.Fatalf("Snapshot streamed %d distinct keys, want 51", len(seen))
	}
	for key, count := range seen {
		if count != 1 {
			t.Errorf("Key %s streamed %d times", key, count)
		}
		if cluster.KeySlotString(key) != cluster.KeySlotString("{mig}") {
			t.Errorf("Foreign-slot key %s was streamed", key)
		}
	}
	for _, e := range sink.restores {
		if e.Key == "{mig}expiring" && e.ExpireAtMs != baseMs+30_000 {
			t.Errorf("Deadline of %s streamed as %d", e.Key, e.ExpireAtMs)
		}
		if e.Key != "{mig}expiring" && e.ExpireAtMs != 0 {
			t.Errorf("Key %s streamed with a phantom deadline", e.Key)
		}
	}
}

// TestRestoreStreamerMutationHandOff tests that a bucket mutated
// mid-snapshot is streamed before its old content is lost
func TestRestoreStreamerMutationHandOff(t *testing.T) {
	s := newClusterSlice(nil)
	sink := &collectingSink{}

	for i := 0; i < 50; i++ {
		mustSet(t, s, fmt.Sprintf("{mig}key-%d", i), "payload")
	}

	st := NewRestoreStreamer(s, tagSlots("mig"), sink)
	st.Start()
	defer st.Stop()

	// an overwrite before the snapshot reaches the bucket hands the
	// bucket off through the change notification
	mustSet(t, s, "{mig}key-7", "rewritten")
	if len(sink.restoreCounts()) == 0 {
		t.Fatalf("Mutation did not hand off its bucket")
	}

	for !st.RunSnapshotStep() {
	}

	seen := sink.restoreCounts()
	if len(seen) != 50 {
		t.Fatalf("Streamed %d distinct keys, want 50", len(seen))
	}
	for key, count := range seen {
		if count != 1 {
			t.Errorf("Key %s streamed %d times", key, count)
		}
	}
}

// TestRestoreStreamerJournalTail tests the stable sync forwarding
func TestRestoreStreamerJournalTail(t *testing.T) {
	j := journal.New()
	s := newClusterSlice(j)
	sink := &collectingSink{}

	st := NewRestoreStreamer(s, tagSlots("mig"), sink)
	st.Start()
	for !st.RunSnapshotStep() {
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		st.TailJournal()
	}()

	j.RecordEntry(journal.NewCommandEntry(0, "SET", "{mig}hot", "v"))
	j.RecordEntry(journal.NewCommandEntry(0, "SET", "{other}cold", "v"))
	j.RecordEntry(journal.NewCommandEntry(0, "DFLYCLUSTER", "FLUSHSLOTS", "1"))
	j.RecordEntry(journal.NewExpiredEntry(0, "{mig}gone"))

	// Stop closes the subscription, the tail drains and returns
	st.Stop()
	<-done

	entries := sink.journalEntries()
	if len(entries) != 2 {
		t.Fatalf("Tail forwarded %d entries, want 2", len(entries))
	}
	if entries[0].Cmd != "SET" || entries[0].Key() != "{mig}hot" {
		t.Errorf("Unexpected first forwarded entry: %s", entries[0])
	}
	if entries[1].Op != journal.OpExpired || entries[1].Key() != "{mig}gone" {
		t.Errorf("Unexpected second forwarded entry: %s", entries[1])
	}
}

// TestOutgoingMigrationLifecycle tests the source side state machine
func TestOutgoingMigrationLifecycle(t *testing.T) {
	m := NewOutgoingMigration(7, "10.0.0.2", 6379, tagSlots("mig"), 2)

	if m.SyncID() != 7 || m.Addr() != "10.0.0.2:6379" {
		t.Fatalf("Migration identity corrupted: %d %s", m.SyncID(), m.Addr())
	}
	if m.State() != StateNoState {
		t.Errorf("Migration without flows in state %s", m.State())
	}
	if m.TryEnterStableSync() {
		t.Errorf("Stable sync entered without flows")
	}

	slices := []*db.DbSlice{newClusterSlice(nil), newClusterSlice(nil)}
	mustSet(t, slices[0], "{mig}a", "v")
	mustSet(t, slices[1], "{mig}b", "v")

	sinks := []*collectingSink{{}, {}}
	flows := []*SliceSlotMigration{
		m.AddFlow(0, slices[0], sinks[0]),
		m.AddFlow(1, slices[1], sinks[1]),
	}
	if m.State() != StateConnecting {
		t.Errorf("Expected CONNECTING with flows added, got %s", m.State())
	}
	if m.Flow(0) != flows[0] || m.Flow(2) != nil {
		t.Errorf("Flow lookup broken")
	}

	for _, f := range flows {
		f.Start()
	}
	if m.State() != StateFullSync {
		t.Errorf("Expected FULL_SYNC after Start, got %s", m.State())
	}
	if m.TryEnterStableSync() {
		t.Errorf("Stable sync entered before the snapshots drained")
	}

	for _, f := range flows {
		for !f.Step() {
		}
		if !f.IsSnapshotFinished() {
			t.Fatalf("Flow snapshot did not finish")
		}
	}
	if !m.TryEnterStableSync() {
		t.Fatalf("Stable sync refused with all snapshots drained")
	}
	if m.State() != StateStableSync {
		t.Errorf("Expected STABLE_SYNC, got %s", m.State())
	}
	if m.StatusString() != "out 10.0.0.2:6379 STABLE_SYNC" {
		t.Errorf("StatusString = %q", m.StatusString())
	}

	for _, f := range flows {
		f.Stop()
	}
}

// TestStreamerSinkError tests that a failing sink marks the flow
func TestStreamerSinkError(t *testing.T) {
	s := newClusterSlice(nil)
	mustSet(t, s, "{mig}key", "v")

	m := NewOutgoingMigration(1, "10.0.0.2", 6379, tagSlots("mig"), 1)
	f := m.AddFlow(0, s, &failingSink{})
	f.Start()
	defer f.Stop()

	for !f.Step() {
	}
	if f.State() != StateError {
		t.Errorf("Expected the failing flow in ERROR, got %s", f.State())
	}
	if m.State() != StateError {
		t.Errorf("Errored flow does not pin the aggregate: %s", m.State())
	}
	if m.TryEnterStableSync() {
		t.Errorf("Stable sync entered with an errored flow")
	}
}

// ---- Helper functions ----

// collectingSink records the stream, safe for the journal tail goroutine
type collectingSink struct {
	mu       sync.Mutex
	restores []RestoreEntry
	journal  []*journal.Entry
	closed   bool
}

func (s *collectingSink) WriteRestore(e RestoreEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restores = append(s.restores, e)
	return nil
}

func (s *collectingSink) WriteJournal(e *journal.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.journal = append(s.journal, e)
	return nil
}

func (s *collectingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *collectingSink) restoreCounts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int)
	for _, e := range s.restores {
		counts[e.Key]++
	}
	return counts
}

func (s *collectingSink) journalEntries() []*journal.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*journal.Entry(nil), s.journal...)
}

type failingSink struct{}

func (failingSink) WriteRestore(RestoreEntry) error   { return errors.New("sink closed") }
func (failingSink) WriteJournal(*journal.Entry) error { return errors.New("sink closed") }
func (failingSink) Close() error                      { return nil }

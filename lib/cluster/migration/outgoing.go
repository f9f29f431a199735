package migration

import (
	"fmt"
	"sync"

	"github.com/marlinkv/marlin/lib/cluster"
	"github.com/marlinkv/marlin/lib/db"
)

// --------------------------------------------------------------------------
// Outgoing Migration
// --------------------------------------------------------------------------

// SliceSlotMigration is one outgoing flow: the streamer of one shard
// plus its state word.
type SliceSlotMigration struct {
	shardID  int
	streamer *RestoreStreamer
	state    stateWord
}

// newSliceSlotMigration creates a flow in connecting state. Start must
// run on the flow's shard worker.
func newSliceSlotMigration(shardID int, slice *db.DbSlice, slots cluster.SlotSet, sink Sink) *SliceSlotMigration {
	f := &SliceSlotMigration{
		shardID:  shardID,
		streamer: NewRestoreStreamer(slice, slots, sink),
	}
	f.state.set(StateConnecting)
	return f
}

// Start begins the full sync of this flow. Runs on the shard worker,
// the journal tail gets its own goroutine.
func (f *SliceSlotMigration) Start() {
	f.streamer.Start()
	f.state.set(StateFullSync)
	go f.streamer.TailJournal()
}

// Step advances the snapshot. Returns whether this flow's snapshot
// finished. Runs on the shard worker.
func (f *SliceSlotMigration) Step() bool {
	done := f.streamer.RunSnapshotStep()
	if f.streamer.Err() != nil {
		f.state.set(StateError)
	}
	return done
}

// Stop tears the flow down. Runs on the shard worker.
func (f *SliceSlotMigration) Stop() {
	f.streamer.Stop()
}

// State returns the flow state.
func (f *SliceSlotMigration) State() State { return f.state.get() }

// IsSnapshotFinished reports whether the flow's snapshot drained.
func (f *SliceSlotMigration) IsSnapshotFinished() bool {
	return f.streamer.IsSnapshotFinished()
}

// OutgoingMigration aggregates the per-shard flows of one migration to
// a destination node.
type OutgoingMigration struct {
	syncID     uint32
	host       string
	port       uint16
	slots      cluster.SlotSet
	shardCount int

	flowsMu sync.Mutex
	flows   map[int]*SliceSlotMigration
}

// NewOutgoingMigration creates an outgoing migration with no flows yet.
func NewOutgoingMigration(syncID uint32, host string, port uint16, slots cluster.SlotSet, shardCount int) *OutgoingMigration {
	return &OutgoingMigration{
		syncID:     syncID,
		host:       host,
		port:       port,
		slots:      slots,
		shardCount: shardCount,
		flows:      make(map[int]*SliceSlotMigration),
	}
}

// SyncID returns the id handed out by DFLYMIGRATE CONF.
func (m *OutgoingMigration) SyncID() uint32 { return m.syncID }

// Slots returns the migrated slot set.
func (m *OutgoingMigration) Slots() cluster.SlotSet { return m.slots }

// ShardCount returns the number of flows the migration expects.
func (m *OutgoingMigration) ShardCount() int { return m.shardCount }

// Addr returns the destination address.
func (m *OutgoingMigration) Addr() string {
	return fmt.Sprintf("%s:%d", m.host, m.port)
}

// AddFlow creates the flow of one shard. The returned flow is in
// connecting state, the caller dispatches Start on the shard worker.
func (m *OutgoingMigration) AddFlow(shardID int, slice *db.DbSlice, sink Sink) *SliceSlotMigration {
	m.flowsMu.Lock()
	defer m.flowsMu.Unlock()
	if _, dup := m.flows[shardID]; dup {
		panic(fmt.Sprintf("migration: duplicate flow for shard %d", shardID))
	}
	f := newSliceSlotMigration(shardID, slice, m.slots, sink)
	m.flows[shardID] = f
	return f
}

// Flow returns the flow of one shard, nil when not started.
func (m *OutgoingMigration) Flow(shardID int) *SliceSlotMigration {
	m.flowsMu.Lock()
	defer m.flowsMu.Unlock()
	return m.flows[shardID]
}

// State returns the aggregate state, the minimum over all expected
// flows. Flows not yet added count as NO_STATE.
func (m *OutgoingMigration) State() State {
	m.flowsMu.Lock()
	defer m.flowsMu.Unlock()
	if len(m.flows) < m.shardCount {
		return StateNoState
	}
	states := make([]State, 0, len(m.flows))
	for _, f := range m.flows {
		states = append(states, f.State())
	}
	return minState(states)
}

// TryEnterStableSync promotes every flow to stable sync once all
// snapshots drained. Returns whether the promotion happened.
func (m *OutgoingMigration) TryEnterStableSync() bool {
	m.flowsMu.Lock()
	defer m.flowsMu.Unlock()
	if len(m.flows) < m.shardCount {
		return false
	}
	for _, f := range m.flows {
		if !f.IsSnapshotFinished() || f.State() == StateError {
			return false
		}
	}
	for _, f := range m.flows {
		f.state.set(StateStableSync)
	}
	return true
}

// StatusString renders the SLOT-MIGRATION-STATUS line.
func (m *OutgoingMigration) StatusString() string {
	return fmt.Sprintf("out %s %s", m.Addr(), m.State())
}

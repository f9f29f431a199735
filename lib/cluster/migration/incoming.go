package migration

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/marlinkv/marlin/lib/cluster"
	"github.com/marlinkv/marlin/lib/core"
	"github.com/marlinkv/marlin/lib/db"
	"github.com/marlinkv/marlin/lib/journal"
)

// --------------------------------------------------------------------------
// Incoming Migration
// --------------------------------------------------------------------------

// IncomingMigration tracks the destination side: one receiving flow per
// source shard, each applying restore entries and journal records to
// its local slice.
type IncomingMigration struct {
	host  string
	port  uint16
	slots cluster.SlotSet

	mu         sync.Mutex
	shardCount int
	states     []stateWord
	cuts       []bool
}

// NewIncomingMigration creates an incoming migration expecting one flow
// per source shard.
func NewIncomingMigration(host string, port uint16, slots cluster.SlotSet, shardCount int) *IncomingMigration {
	m := &IncomingMigration{
		host:       host,
		port:       port,
		slots:      slots,
		shardCount: shardCount,
		states:     make([]stateWord, shardCount),
		cuts:       make([]bool, shardCount),
	}
	for i := range m.states {
		m.states[i].set(StateConnecting)
	}
	return m
}

// Slots returns the migrated slot set.
func (m *IncomingMigration) Slots() cluster.SlotSet { return m.slots }

// Addr returns the source address.
func (m *IncomingMigration) Addr() string {
	return fmt.Sprintf("%s:%d", m.host, m.port)
}

// StartFlow marks one flow connected and receiving the snapshot.
func (m *IncomingMigration) StartFlow(shardID int) {
	m.states[shardID].set(StateFullSync)
}

// SetFlowError marks one flow failed.
func (m *IncomingMigration) SetFlowError(shardID int) {
	m.states[shardID].set(StateError)
}

// OnFullSyncCut records the FULL-SYNC-CUT of one source shard. When
// every flow has cut, all flows move to stable sync and true is
// returned, telling the caller the incoming side may stop.
func (m *IncomingMigration) OnFullSyncCut(shardID int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cuts[shardID] = true
	for _, cut := range m.cuts {
		if !cut {
			return false
		}
	}
	for i := range m.states {
		if m.states[i].get() != StateError {
			m.states[i].set(StateStableSync)
		}
	}
	return true
}

// State returns the aggregate state over all flows.
func (m *IncomingMigration) State() State {
	states := make([]State, len(m.states))
	for i := range m.states {
		states[i] = m.states[i].get()
	}
	return minState(states)
}

// StatusString renders the SLOT-MIGRATION-STATUS line.
func (m *IncomingMigration) StatusString() string {
	return fmt.Sprintf("in %s %s", m.Addr(), m.State())
}

// ApplyRestore installs one streamed entry into the local slice. Runs
// on the slice's shard worker.
func (m *IncomingMigration) ApplyRestore(ctx db.Context, slice *db.DbSlice, e RestoreEntry) error {
	val := core.NewRawValue(e.ObjType, e.Encoding, e.Data)
	if err := slice.AddOrUpdate(ctx, e.Key, val, e.ExpireAtMs); err != nil {
		return err
	}
	if e.Sticky {
		res, err := slice.FindMutable(ctx, e.Key, core.ObjAny)
		if err != nil {
			return err
		}
		slice.GetDBTable(ctx).Prime().Key(res.It).SetSticky(true)
		res.Updater.Run()
	}
	return nil
}

// ApplyJournal replays one forwarded journal record. Unknown commands
// are logged and dropped, the source only forwards key-addressed
// records for migrated slots.
func (m *IncomingMigration) ApplyJournal(ctx db.Context, slice *db.DbSlice, e *journal.Entry) error {
	switch e.Cmd {
	case "DEL":
		slice.Del(ctx, e.Args[0])
		return nil
	case "SET":
		if len(e.Args) < 2 {
			return core.NewError(core.RetCSyntaxErr, "journal SET without value")
		}
		return slice.AddOrUpdate(ctx, e.Args[0], core.NewStringValue([]byte(e.Args[1])), 0)
	case "PEXPIREAT":
		if len(e.Args) < 2 {
			return core.NewError(core.RetCSyntaxErr, "journal PEXPIREAT without deadline")
		}
		deadline, err := strconv.ParseInt(e.Args[1], 10, 64)
		if err != nil {
			return core.NewError(core.RetCSyntaxErr, "journal PEXPIREAT with bad deadline")
		}
		return m.applyExpire(ctx, slice, e.Args[0], db.ExpireParams{Value: deadline, Absolute: true})
	case "PERSIST":
		return m.applyExpire(ctx, slice, e.Args[0], db.ExpireParams{Persist: true})
	default:
		log.Warningf("incoming migration: dropping unsupported journal command %s", e.Cmd)
		return nil
	}
}

func (m *IncomingMigration) applyExpire(ctx db.Context, slice *db.DbSlice, key string, params db.ExpireParams) error {
	res, err := slice.FindMutable(ctx, key, core.ObjAny)
	if err != nil {
		if core.ErrKeyNotFound.Is(err) {
			return nil
		}
		return err
	}
	_, err = slice.UpdateExpire(ctx, &res, params)
	if core.ErrSkipped.Is(err) {
		return nil
	}
	return err
}

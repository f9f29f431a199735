package migration

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/marlinkv/marlin/lib/cluster"
)

// --------------------------------------------------------------------------
// Registry
// --------------------------------------------------------------------------

// Registry is the process-wide index of in-flight migrations, keyed by
// the peer address. Outgoing migrations are additionally reachable by
// the sync id handed out to the destination.
//
// Thread-safety: safe for concurrent use.
type Registry struct {
	outgoing *xsync.MapOf[string, *OutgoingMigration]
	incoming *xsync.MapOf[string, *IncomingMigration]
	bySyncID *xsync.MapOf[uint32, *OutgoingMigration]

	nextSyncID atomic.Uint32
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		outgoing: xsync.NewMapOf[string, *OutgoingMigration](),
		incoming: xsync.NewMapOf[string, *IncomingMigration](),
		bySyncID: xsync.NewMapOf[uint32, *OutgoingMigration](),
	}
}

func peerKey(host string, port uint16) string {
	return fmt.Sprintf("%s:%d", host, port)
}

// StartOutgoing allocates a sync id and registers an outgoing
// migration towards host:port.
func (r *Registry) StartOutgoing(host string, port uint16, slots cluster.SlotSet, shardCount int) *OutgoingMigration {
	syncID := r.nextSyncID.Add(1)
	m := NewOutgoingMigration(syncID, host, port, slots, shardCount)
	r.outgoing.Store(peerKey(host, port), m)
	r.bySyncID.Store(syncID, m)
	return m
}

// StartIncoming registers an incoming migration from host:port.
func (r *Registry) StartIncoming(host string, port uint16, slots cluster.SlotSet, shardCount int) *IncomingMigration {
	m := NewIncomingMigration(host, port, slots, shardCount)
	r.incoming.Store(peerKey(host, port), m)
	return m
}

// FindOutgoing returns the outgoing migration towards host:port.
func (r *Registry) FindOutgoing(host string, port uint16) (*OutgoingMigration, bool) {
	return r.outgoing.Load(peerKey(host, port))
}

// FindOutgoingBySyncID resolves a DFLYMIGRATE FLOW sync id.
func (r *Registry) FindOutgoingBySyncID(syncID uint32) (*OutgoingMigration, bool) {
	return r.bySyncID.Load(syncID)
}

// FindIncoming returns the incoming migration from host:port.
func (r *Registry) FindIncoming(host string, port uint16) (*IncomingMigration, bool) {
	return r.incoming.Load(peerKey(host, port))
}

// FindOutgoingBySlots returns the outgoing migration whose slot set
// equals set, the match the config-change finalization looks for.
func (r *Registry) FindOutgoingBySlots(set cluster.SlotSet) (*OutgoingMigration, bool) {
	var found *OutgoingMigration
	r.outgoing.Range(func(_ string, m *OutgoingMigration) bool {
		if m.Slots().Equal(set) {
			found = m
			return false
		}
		return true
	})
	return found, found != nil
}

// RemoveOutgoing drops a finalized or aborted outgoing migration.
func (r *Registry) RemoveOutgoing(m *OutgoingMigration) {
	r.outgoing.Delete(peerKey(m.host, m.port))
	r.bySyncID.Delete(m.syncID)
}

// RemoveIncoming drops a finished or aborted incoming migration.
func (r *Registry) RemoveIncoming(m *IncomingMigration) {
	r.incoming.Delete(peerKey(m.host, m.port))
}

// Status returns the SLOT-MIGRATION-STATUS lines of the migrations with
// the given peer address, or of all migrations when addr is empty. The
// lines are sorted for a stable reply.
func (r *Registry) Status(addr string) []string {
	var lines []string
	r.incoming.Range(func(key string, m *IncomingMigration) bool {
		if addr == "" || addr == key {
			lines = append(lines, m.StatusString())
		}
		return true
	})
	r.outgoing.Range(func(key string, m *OutgoingMigration) bool {
		if addr == "" || addr == key {
			lines = append(lines, m.StatusString())
		}
		return true
	})
	sort.Strings(lines)
	return lines
}

package server

import (
	"context"
	"fmt"
	"strconv"

	"github.com/marlinkv/marlin/lib/cluster"
	"github.com/marlinkv/marlin/lib/cluster/migration"
	"github.com/marlinkv/marlin/lib/core"
	"github.com/marlinkv/marlin/lib/db"
	"github.com/marlinkv/marlin/lib/journal"
	"github.com/marlinkv/marlin/rpc/client"
	"github.com/marlinkv/marlin/rpc/common"
	"github.com/marlinkv/marlin/rpc/transport"
)

// --------------------------------------------------------------------------
// Source side: handshake
// --------------------------------------------------------------------------

// handleMigrateConf opens an outgoing migration towards the requesting
// destination. The reply carries the sync id and the number of flow
// connections the destination must bind, one per source shard.
func (n *Node) handleMigrateConf(msg *common.Message) *common.Message {
	ranges, err := msg.SlotRanges()
	if err != nil {
		return common.NewMigrateConfResponse(0, 0, core.NewErrorf(core.RetCSyntaxErr, "bad slot ranges: %v", err))
	}
	if len(ranges) == 0 {
		return common.NewMigrateConfResponse(0, 0, core.NewError(core.RetCSyntaxErr, "migration without slots"))
	}
	if msg.Host == "" || msg.Port == 0 {
		return common.NewMigrateConfResponse(0, 0, core.NewError(core.RetCSyntaxErr, "migration without destination address"))
	}

	slots := cluster.NewSlotSetFromRanges(ranges)
	if cfg := n.clusterConfig.Load(); cfg != nil && !cfg.OwnedSlots().ContainsAll(slots) {
		return common.NewMigrateConfResponse(0, 0,
			core.NewErrorf(core.RetCInvalidConfig, "node does not own slots %s", slots.Diff(cfg.OwnedSlots())))
	}

	m := n.registry.StartOutgoing(msg.Host, msg.Port, slots, n.shards.Size())
	Logger.Infof("outgoing migration %d to %s:%d, slots %s", m.SyncID(), msg.Host, msg.Port, slots)
	return common.NewMigrateConfResponse(m.SyncID(), m.ShardCount(), nil)
}

// --------------------------------------------------------------------------
// Source side: flow connections
// --------------------------------------------------------------------------

// connSink frames stream entries onto one flow connection. Send is
// internally serialized, so the snapshot on the shard worker and the
// journal tail goroutine may both write.
type connSink struct {
	conn transport.IMessageConn
}

func (s *connSink) WriteRestore(e migration.RestoreEntry) error {
	return s.conn.Send(common.NewRestoreMessage(
		e.DbIndex, e.Key, uint8(e.ObjType), uint8(e.Encoding), e.Data, e.Sticky, e.ExpireAtMs))
}

func (s *connSink) WriteJournal(e *journal.Entry) error {
	return s.conn.Send(common.NewJournalMessage(e.DbIndex, e.Cmd, e.Args))
}

func (s *connSink) Close() error {
	return s.conn.Close()
}

// handleMigrateFlow binds the connection to one source shard's flow and
// drives it: snapshot steps on the shard worker, the FULL-SYNC-CUT
// frame once drained, then the stable-sync journal tail until the
// destination hangs up.
func (n *Node) handleMigrateFlow(conn transport.IMessageConn, msg *common.Message) {
	m, ok := n.registry.FindOutgoingBySyncID(msg.SyncID)
	if !ok {
		_ = conn.Send(common.NewAckResponse(core.NewErrorf(core.RetCSyntaxErr, "unknown sync id %d", msg.SyncID)))
		return
	}
	shardID := int(msg.ShardID)
	if shardID < 0 || shardID >= m.ShardCount() {
		_ = conn.Send(common.NewAckResponse(core.NewErrorf(core.RetCSyntaxErr, "flow shard %d out of range", shardID)))
		return
	}
	if m.Flow(shardID) != nil {
		_ = conn.Send(common.NewAckResponse(core.NewErrorf(core.RetCSyntaxErr, "flow %d already bound", shardID)))
		return
	}

	if err := conn.Send(common.NewAckResponse(nil)); err != nil {
		Logger.Errorf("flow %d/%d: ack failed: %v", msg.SyncID, shardID, err)
		return
	}
	// The stream is push-only from here, the read side only sees the
	// destination's hang-up.
	conn.SetTimeout(0)

	sink := &connSink{conn: conn}
	var flow *migration.SliceSlotMigration
	err := n.shards.Await(context.Background(), shardID, func() {
		st := stateOf(n.shards.Shard(shardID))
		flow = m.AddFlow(shardID, st.slice, sink)
		flow.Start()
	})
	if err != nil {
		Logger.Errorf("flow %d/%d: start failed: %v", msg.SyncID, shardID, err)
		return
	}

	for {
		var done bool
		err := n.shards.Await(context.Background(), shardID, func() {
			done = flow.Step()
		})
		if err != nil || flow.State() == migration.StateError {
			Logger.Errorf("flow %d/%d: snapshot aborted (%v, state %s)", msg.SyncID, shardID, err, flow.State())
			n.stopFlow(shardID, flow)
			return
		}
		if done {
			break
		}
	}

	if err := conn.Send(common.NewFullSyncCutMessage(m.SyncID(), shardID)); err != nil {
		Logger.Errorf("flow %d/%d: full-sync-cut failed: %v", msg.SyncID, shardID, err)
		n.stopFlow(shardID, flow)
		return
	}
	m.TryEnterStableSync()

	// Stable sync: the journal tail goroutine keeps pushing. Block until
	// the destination closes, then tear the flow down unless a config
	// change already did.
	var in common.Message
	for conn.Recv(&in) == nil {
	}
	n.stopFlow(shardID, flow)
}

// stopFlow tears one flow down on its shard worker. Stop is idempotent,
// racing with the config-change finalization is fine.
func (n *Node) stopFlow(shardID int, flow *migration.SliceSlotMigration) {
	n.shards.Add(shardID, flow.Stop)
}

// --------------------------------------------------------------------------
// Destination side: START-SLOT-MIGRATION
// --------------------------------------------------------------------------

// handleStartSlotMigration begins pulling the given slots from a source
// node. The transfer itself runs on its own goroutines, the command
// acknowledges as soon as the runner is set up.
func (n *Node) handleStartSlotMigration(args []string, sink ReplySink) {
	if n.config.ClusterMode != "yes" {
		sink.WriteError(fmt.Errorf("START-SLOT-MIGRATION requires real cluster mode"))
		return
	}
	if len(args) < 4 || len(args)%2 != 0 {
		sink.WriteError(core.NewError(core.RetCSyntaxErr, "START-SLOT-MIGRATION expects host port s1 e1 ..."))
		return
	}
	host := args[0]
	port, err := strconv.ParseUint(args[1], 10, 16)
	if err != nil || port == 0 {
		sink.WriteError(core.NewErrorf(core.RetCSyntaxErr, "invalid port %q", args[1]))
		return
	}
	ranges := make(cluster.SlotRanges, 0, (len(args)-2)/2)
	for i := 2; i < len(args); i += 2 {
		start, err1 := strconv.ParseUint(args[i], 10, 16)
		end, err2 := strconv.ParseUint(args[i+1], 10, 16)
		r := cluster.SlotRange{Start: cluster.SlotID(start), End: cluster.SlotID(end)}
		if err1 != nil || err2 != nil || !r.Valid() {
			sink.WriteError(core.NewErrorf(core.RetCSyntaxErr, "invalid slot range %s %s", args[i], args[i+1]))
			return
		}
		ranges = append(ranges, r)
	}

	runner := client.NewIncomingRunner(client.IncomingDeps{
		Shards:   n.shards,
		Registry: n.registry,
		Dialer:   n.dialer,
		SliceOf: func(shardID int) *db.DbSlice {
			return stateOf(n.shards.Shard(shardID)).slice
		},
		Timeout: n.config.TimeoutSecond,
	}, host, uint16(port), ranges)

	go func() {
		if err := runner.Run(); err != nil {
			Logger.Errorf("incoming migration from %s:%d failed: %v", host, port, err)
		}
	}()
	sink.WriteLine("OK")
}

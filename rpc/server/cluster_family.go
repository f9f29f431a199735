package server

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/marlinkv/marlin/lib/cluster"
	"github.com/marlinkv/marlin/lib/core"
	"github.com/marlinkv/marlin/lib/db"
	"github.com/marlinkv/marlin/lib/journal"
	"github.com/marlinkv/marlin/lib/shard"
)

// setConfigDispatchTimeout bounds the wait for every shard worker to
// pick up a new config pointer. Slow workers only delay the reply, the
// swap task itself always runs.
const setConfigDispatchTimeout = time.Second

// --------------------------------------------------------------------------
// CLUSTER family
// --------------------------------------------------------------------------

// handleCluster serves the read-only CLUSTER introspection commands.
func (n *Node) handleCluster(args []string, sink ReplySink) {
	if !n.config.ClusterEnabled() {
		sink.WriteError(fmt.Errorf("cluster support disabled"))
		return
	}
	if len(args) == 0 {
		sink.WriteError(core.NewError(core.RetCSyntaxErr, "CLUSTER subcommand missing"))
		return
	}

	sub := strings.ToUpper(args[0])
	switch sub {
	case "HELP":
		n.clusterHelp(sink)
	case "SHARDS":
		n.clusterShards(sink)
	case "SLOTS":
		n.clusterSlots(sink)
	case "NODES":
		n.clusterNodes(sink)
	case "INFO":
		n.clusterInfo(sink)
	case "KEYSLOT":
		if len(args) != 2 {
			sink.WriteError(core.NewError(core.RetCSyntaxErr, "CLUSTER KEYSLOT needs exactly one key"))
			return
		}
		sink.WriteLine(strconv.Itoa(int(cluster.KeySlotString(args[1]))))
	case "MYID":
		sink.WriteLine(n.masterID)
	default:
		sink.WriteError(core.NewErrorf(core.RetCSyntaxErr, "unknown CLUSTER subcommand %s", args[0]))
	}
}

func (n *Node) clusterHelp(sink ReplySink) {
	for _, line := range []string{
		"CLUSTER <subcommand>:",
		"HELP",
		"    Print this help.",
		"SHARDS",
		"    Return the cluster shards with their slot ranges and nodes.",
		"SLOTS",
		"    Return the slot-to-node mapping.",
		"NODES",
		"    Return the cluster topology in node-lines format.",
		"INFO",
		"    Return cluster state counters.",
		"KEYSLOT <key>",
		"    Return the hash slot of <key>.",
	} {
		sink.WriteLine(line)
	}
}

// configOrErr returns the current config, writing the not-yet-configured
// error when a real-mode node has not received its first config.
func (n *Node) configOrErr(sink ReplySink) *cluster.Config {
	cfg := n.clusterConfig.Load()
	if cfg == nil {
		sink.WriteError(core.NewError(core.RetCInvalidConfig, "cluster config not yet set"))
	}
	return cfg
}

func renderNode(node cluster.NodeInfo) string {
	return fmt.Sprintf("%s %s %d", node.ID, node.IP, node.Port)
}

func (n *Node) clusterShards(sink ReplySink) {
	cfg := n.configOrErr(sink)
	if cfg == nil {
		return
	}
	for i, sh := range cfg.Shards() {
		sink.WriteLine(fmt.Sprintf("shard %d slots %s", i, sh.SlotRanges))
		sink.WriteLine(fmt.Sprintf("  master %s", renderNode(sh.Master)))
		for _, r := range sh.Replicas {
			sink.WriteLine(fmt.Sprintf("  replica %s", renderNode(r)))
		}
	}
}

func (n *Node) clusterSlots(sink ReplySink) {
	cfg := n.configOrErr(sink)
	if cfg == nil {
		return
	}
	for _, sh := range cfg.Shards() {
		for _, r := range sh.SlotRanges {
			sink.WriteLine(fmt.Sprintf("%d %d %s %d %s",
				r.Start, r.End, sh.Master.IP, sh.Master.Port, sh.Master.ID))
		}
	}
}

func (n *Node) clusterNodes(sink ReplySink) {
	cfg := n.configOrErr(sink)
	if cfg == nil {
		return
	}
	for _, sh := range cfg.Shards() {
		flags := "master"
		if sh.Master.ID == cfg.MyID() {
			flags = "myself,master"
		}
		sink.WriteLine(fmt.Sprintf("%s %s@%d %s - 0 0 0 connected %s",
			sh.Master.ID, sh.Master.Addr(), sh.Master.Port, flags, sh.SlotRanges))
		for _, r := range sh.Replicas {
			sink.WriteLine(fmt.Sprintf("%s %s@%d slave %s 0 0 0 connected",
				r.ID, r.Addr(), r.Port, sh.Master.ID))
		}
	}
}

func (n *Node) clusterInfo(sink ReplySink) {
	cfg := n.clusterConfig.Load()
	state := "ok"
	assigned := 0
	knownNodes := 0
	shardCount := 0
	if cfg == nil {
		state = "fail"
	} else {
		shardCount = len(cfg.Shards())
		for _, sh := range cfg.Shards() {
			knownNodes += 1 + len(sh.Replicas)
			for _, r := range sh.SlotRanges {
				assigned += int(r.End-r.Start) + 1
			}
		}
	}
	sink.WriteLine("cluster_enabled:1")
	sink.WriteLine(fmt.Sprintf("cluster_state:%s", state))
	sink.WriteLine(fmt.Sprintf("cluster_slots_assigned:%d", assigned))
	sink.WriteLine(fmt.Sprintf("cluster_slots_ok:%d", assigned))
	sink.WriteLine(fmt.Sprintf("cluster_known_nodes:%d", knownNodes))
	sink.WriteLine(fmt.Sprintf("cluster_size:%d", shardCount))
}

// --------------------------------------------------------------------------
// READONLY / READWRITE
// --------------------------------------------------------------------------

// handleReadOnly accepts READONLY as a no-op in emulated mode, matching
// single-node deployments behind cluster-aware clients.
func (n *Node) handleReadOnly(sink ReplySink) {
	n.handleReadMode(sink)
}

// handleReadWrite accepts READWRITE as a no-op in emulated mode.
func (n *Node) handleReadWrite(sink ReplySink) {
	n.handleReadMode(sink)
}

func (n *Node) handleReadMode(sink ReplySink) {
	cfg := n.clusterConfig.Load()
	if cfg == nil || !cfg.IsEmulated() {
		sink.WriteError(fmt.Errorf("only supported in emulated cluster mode"))
		return
	}
	sink.WriteLine("OK")
}

// --------------------------------------------------------------------------
// DFLYCLUSTER family
// --------------------------------------------------------------------------

// handleDflyCluster serves the cluster management plane.
func (n *Node) handleDflyCluster(args []string, sink ReplySink) {
	if !n.config.ClusterEnabled() {
		sink.WriteError(fmt.Errorf("cluster support disabled"))
		return
	}
	if len(args) == 0 {
		sink.WriteError(core.NewError(core.RetCSyntaxErr, "DFLYCLUSTER subcommand missing"))
		return
	}

	sub := strings.ToUpper(args[0])
	switch sub {
	case "MYID":
		sink.WriteLine(n.masterID)
	case "CONFIG":
		n.handleSetConfig(args[1:], sink)
	case "GETSLOTINFO":
		n.handleGetSlotInfo(args[1:], sink)
	case "FLUSHSLOTS":
		n.handleFlushSlots(args[1:], sink)
	case "START-SLOT-MIGRATION":
		n.handleStartSlotMigration(args[1:], sink)
	case "SLOT-MIGRATION-STATUS":
		n.handleSlotMigrationStatus(args[1:], sink)
	default:
		sink.WriteError(core.NewErrorf(core.RetCSyntaxErr, "unknown DFLYCLUSTER subcommand %s", args[0]))
	}
}

// handleSetConfig installs a new cluster config: validate, match a
// finalizing outgoing migration, swap the per-worker pointers, stop the
// finalized flows and flush the slots the node no longer owns.
func (n *Node) handleSetConfig(args []string, sink ReplySink) {
	if n.config.ClusterMode != "yes" {
		sink.WriteError(fmt.Errorf("DFLYCLUSTER CONFIG requires real cluster mode"))
		return
	}
	if len(args) != 1 {
		sink.WriteError(core.NewError(core.RetCSyntaxErr, "DFLYCLUSTER CONFIG needs the config json"))
		return
	}

	newCfg, err := cluster.NewConfigFromJSON(n.masterID, []byte(args[0]))
	if err != nil {
		sink.WriteError(err)
		return
	}

	// Serializes concurrent config installs process-wide.
	<-n.setConfigMu
	defer func() { n.setConfigMu <- struct{}{} }()

	removed := cluster.NewSlotSet()
	if old := n.clusterConfig.Load(); old != nil {
		removed = old.OwnedSlots().Diff(newCfg.OwnedSlots())
	}

	// A finalizing migration is the outgoing migration whose slot set is
	// exactly the set this config takes away.
	finalized, finalizing := n.registry.FindOutgoingBySlots(removed)
	if !removed.Empty() && finalizing {
		Logger.Infof("config change finalizes migration to %s (slots %s)", finalized.Addr(), removed)
	}

	ctx, cancel := context.WithTimeout(context.Background(), setConfigDispatchTimeout)
	defer cancel()
	err = n.shards.AwaitRunOnAll(ctx, func(sh *shard.Shard) {
		st := stateOf(sh)
		st.config = newCfg
		st.migrationFinalization = finalizing
	})
	if err != nil {
		// The swap tasks still run, only the wait gave up. Workers stuck
		// behind long tasks pick the config up when they drain.
		Logger.Warningf("config swap not acknowledged by all shards in time: %v", err)
	}
	n.clusterConfig.Store(newCfg)

	if finalizing {
		for i := 0; i < n.shards.Size(); i++ {
			shardID := i
			n.shards.Add(shardID, func() {
				sh := n.shards.Shard(shardID)
				st := stateOf(sh)
				if f := finalized.Flow(shardID); f != nil {
					f.Stop()
				}
				st.migrationFinalization = false
			})
		}
		n.registry.RemoveOutgoing(finalized)
	}

	if !removed.Empty() {
		n.flushSlotsAsync(removed)
	}

	sink.WriteLine("OK")
}

// flushSlotsAsync journals the slot removal and starts the incremental
// flush on every shard. Each flush step yields back to its shard queue
// so regular traffic interleaves.
func (n *Node) flushSlotsAsync(set cluster.SlotSet) {
	slotArgs := make([]string, 0, set.Count()+1)
	slotArgs = append(slotArgs, "FLUSHSLOTS")
	for _, id := range set.Slots() {
		slotArgs = append(slotArgs, strconv.Itoa(int(id)))
	}

	for i := 0; i < n.shards.Size(); i++ {
		shardID := i
		n.shards.Add(shardID, func() {
			st := stateOf(n.shards.Shard(shardID))
			if j := st.slice.Journal(); j != nil {
				j.RecordEntry(journal.NewCommandEntry(0, "DFLYCLUSTER", slotArgs...))
			}
			flush := st.slice.StartFlushSlots(set)
			n.runFlushStep(shardID, flush)
		})
	}
}

// runFlushStep advances one flush and re-queues itself until done. Runs
// on the shard worker.
func (n *Node) runFlushStep(shardID int, flush *db.SlotFlush) {
	ctx := db.Context{DbIndex: 0, TimeNowMs: time.Now().UnixMilli()}
	if flush.RunStep(ctx, flushStepBuckets) {
		return
	}
	n.shards.Add(shardID, func() { n.runFlushStep(shardID, flush) })
}

// flushStepBuckets is how many buckets one background flush step visits
// before yielding back to the shard queue.
const flushStepBuckets = 100

// handleGetSlotInfo renders per-slot usage counters aggregated over all
// shards.
func (n *Node) handleGetSlotInfo(args []string, sink ReplySink) {
	if len(args) < 2 || strings.ToUpper(args[0]) != "SLOTS" {
		sink.WriteError(core.NewError(core.RetCSyntaxErr, "GETSLOTINFO expects SLOTS s1 s2 ..."))
		return
	}
	slots := make([]cluster.SlotID, 0, len(args)-1)
	for _, a := range args[1:] {
		v, err := strconv.ParseUint(a, 10, 16)
		if err != nil || v > cluster.KMaxSlotNum {
			sink.WriteError(core.NewErrorf(core.RetCSyntaxErr, "invalid slot %q", a))
			return
		}
		slots = append(slots, cluster.SlotID(v))
	}

	// Collect per shard, each read runs on its worker.
	stats := make([]core.SlotStats, len(slots))
	for shardID := 0; shardID < n.shards.Size(); shardID++ {
		id := shardID
		perShard := make([]core.SlotStats, len(slots))
		waitErr := n.shards.Await(context.Background(), id, func() {
			st := stateOf(n.shards.Shard(id))
			dbt := st.slice.GetDBTable(db.Context{DbIndex: 0})
			for i, slot := range slots {
				perShard[i] = dbt.SlotStats(slot)
			}
		})
		if waitErr != nil {
			sink.WriteError(waitErr)
			return
		}
		for i := range stats {
			stats[i].Add(perShard[i])
		}
	}

	for i, slot := range slots {
		sink.WriteLine(fmt.Sprintf("%d key_count %d total_reads %d total_writes %d memory_bytes %d",
			slot, stats[i].KeyCount, stats[i].TotalReads, stats[i].TotalWrites, stats[i].MemoryBytes))
	}
}

// handleFlushSlots schedules the asynchronous removal of all keys in
// the given slots and acknowledges immediately.
func (n *Node) handleFlushSlots(args []string, sink ReplySink) {
	if len(args) == 0 {
		sink.WriteError(core.NewError(core.RetCSyntaxErr, "FLUSHSLOTS needs at least one slot"))
		return
	}
	slots := make([]cluster.SlotID, 0, len(args))
	for _, a := range args {
		v, err := strconv.ParseUint(a, 10, 16)
		if err != nil || v > cluster.KMaxSlotNum {
			sink.WriteError(core.NewErrorf(core.RetCSyntaxErr, "invalid slot %q", a))
			return
		}
		slots = append(slots, cluster.SlotID(v))
	}
	n.flushSlotsAsync(cluster.NewSlotSetFromSlots(slots))
	sink.WriteLine("OK")
}

// handleSlotMigrationStatus renders the state of one or all migrations.
func (n *Node) handleSlotMigrationStatus(args []string, sink ReplySink) {
	addr := ""
	switch len(args) {
	case 0:
	case 2:
		addr = fmt.Sprintf("%s:%s", args[0], args[1])
	default:
		sink.WriteError(core.NewError(core.RetCSyntaxErr, "SLOT-MIGRATION-STATUS expects no args or host port"))
		return
	}
	lines := n.registry.Status(addr)
	if len(lines) == 0 {
		sink.WriteLine("NO_STATE")
		return
	}
	for _, line := range lines {
		sink.WriteLine(line)
	}
}

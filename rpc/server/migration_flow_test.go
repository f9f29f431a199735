package server

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/marlinkv/marlin/lib/cluster"
	"github.com/marlinkv/marlin/lib/core"
	"github.com/marlinkv/marlin/lib/db"
	"github.com/marlinkv/marlin/lib/journal"
	"github.com/marlinkv/marlin/rpc/client"
	"github.com/marlinkv/marlin/rpc/common"
	"github.com/marlinkv/marlin/rpc/transport"
)

// TestSlotMigrationBetweenNodes tests the full migration pipeline: the
// handshake, the per-shard restore snapshot, the stable-sync journal
// tail and the finalizing config change, with two in-process nodes
// wired by an in-memory transport.
func TestSlotMigrationBetweenNodes(t *testing.T) {
	source := newTestNode(t, "yes")
	dest := newTestNode(t, "emulated")

	// The source starts owning the whole slot space
	full, _ := json.Marshal(cluster.ConfigShards{{
		SlotRanges: cluster.SlotRanges{{Start: 0, End: cluster.KMaxSlotNum}},
		Master:     cluster.NodeInfo{ID: source.MasterID(), IP: "127.0.0.1", Port: 6379},
	}})
	sink := &recordingSink{}
	source.Dispatch("DFLYCLUSTER", []string{"CONFIG", string(full)}, sink)
	sink.mustSucceed(t)

	seedKey(t, source, "{mig}a", "alpha")
	seedKey(t, source, "{mig}b", "beta")
	seedKey(t, source, "bystander", "stay")

	migSlot := cluster.KeySlotString("{mig}a")
	if cluster.KeySlotString("bystander") == migSlot {
		t.Fatal("Bystander key shares the migrated slot")
	}

	// Pull the slot from the source over the in-memory transport
	runner := client.NewIncomingRunner(client.IncomingDeps{
		Shards:   dest.Shards(),
		Registry: dest.Registry(),
		Dialer:   &memDialer{node: source},
		SliceOf: func(shardID int) *db.DbSlice {
			return stateOf(dest.Shards().Shard(shardID)).slice
		},
		Timeout: 5,
	}, "10.0.0.77", 7000, cluster.SlotRanges{{Start: migSlot, End: migSlot}})
	// Run blocks through stable sync, failures surface as poll timeouts
	go func() { _ = runner.Run() }()

	// Both sides reach stable sync once every flow's snapshot drained
	waitFor(t, "source stable sync", func() bool {
		return statusContains(source, "out 10.0.0.77:7000 STABLE_SYNC")
	})
	waitFor(t, "destination stable sync", func() bool {
		return statusContains(dest, "in 10.0.0.77:7000 STABLE_SYNC")
	})

	// The snapshot carried the migrated slot and nothing else
	if val, ok := readKey(t, dest, "{mig}a"); !ok || val != "alpha" {
		t.Errorf("Restored {mig}a = %q, %v", val, ok)
	}
	if val, ok := readKey(t, dest, "{mig}b"); !ok || val != "beta" {
		t.Errorf("Restored {mig}b = %q, %v", val, ok)
	}
	if _, ok := readKey(t, dest, "bystander"); ok {
		t.Error("Out-of-slot key leaked to the destination")
	}

	// A write on the source during stable sync reaches the destination
	// through the journal tail
	shardID := source.Shards().KeyShard("{mig}a")
	err := source.Shards().Await(context.Background(), shardID, func() {
		st := stateOf(source.Shards().Shard(shardID))
		st.slice.Journal().RecordEntry(journal.NewCommandEntry(0, "SET", "{mig}a", "alpha-v2"))
	})
	if err != nil {
		t.Fatalf("Journal record task failed: %v", err)
	}
	waitFor(t, "journal forward", func() bool {
		val, ok := readKey(t, dest, "{mig}a")
		return ok && val == "alpha-v2"
	})

	// The finalizing config change hands the slot to the destination:
	// flows stop, the registry clears and the source flushes the slot
	without := configWithoutSlot(t, source.MasterID(), migSlot)
	sink = &recordingSink{}
	source.Dispatch("DFLYCLUSTER", []string{"CONFIG", without}, sink)
	sink.mustSucceed(t)

	waitFor(t, "registry cleared", func() bool {
		return statusContains(source, "NO_STATE")
	})
	waitFor(t, "migrated slot flushed", func() bool {
		_, okA := readKey(t, source, "{mig}a")
		_, okB := readKey(t, source, "{mig}b")
		return !okA && !okB
	})
	if _, ok := readKey(t, source, "bystander"); !ok {
		t.Error("Flush removed a key outside the migrated slot")
	}
}

// TestMigrateFlowRejectsUnknownSync tests flow binding validation over
// the in-memory transport
func TestMigrateFlowRejectsUnknownSync(t *testing.T) {
	source := newTestNode(t, "emulated")
	dialer := &memDialer{node: source}

	conn, err := dialer.Dial(common.ClientConfig{})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	if err := conn.Send(common.NewMigrateFlowRequest(999, 0)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	var ack common.Message
	if err := conn.Recv(&ack); err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if ack.MsgType != common.MsgTAck || ack.Ok || ack.Err == "" {
		t.Errorf("Expected refused ack, got %+v", ack)
	}
}

// ---- Helper functions ----

// seedKey writes one key on its owning shard worker
func seedKey(t *testing.T, n *Node, key, value string) {
	t.Helper()
	shardID := n.Shards().KeyShard(key)
	err := n.Shards().Await(context.Background(), shardID, func() {
		st := stateOf(n.Shards().Shard(shardID))
		ctx := db.Context{DbIndex: 0, TimeNowMs: time.Now().UnixMilli()}
		if err := st.slice.AddOrUpdate(ctx, key, core.NewStringValue([]byte(value)), 0); err != nil {
			t.Errorf("Failed to seed %q: %v", key, err)
		}
	})
	if err != nil {
		t.Fatalf("Seed task for %q failed: %v", key, err)
	}
}

// readKey reads one key on its owning shard worker
func readKey(t *testing.T, n *Node, key string) (string, bool) {
	t.Helper()
	shardID := n.Shards().KeyShard(key)
	var val string
	var found bool
	err := n.Shards().Await(context.Background(), shardID, func() {
		st := stateOf(n.Shards().Shard(shardID))
		ctx := db.Context{DbIndex: 0, TimeNowMs: time.Now().UnixMilli()}
		res, err := st.slice.FindReadOnly(ctx, key, core.ObjAny)
		if err != nil {
			return
		}
		dbt := st.slice.GetDBTable(ctx)
		val = string(dbt.Prime().Value(res.It).StringData())
		found = true
	})
	if err != nil {
		t.Fatalf("Read task for %q failed: %v", key, err)
	}
	return val, found
}

// statusContains reports whether any SLOT-MIGRATION-STATUS line of the
// node contains the fragment
func statusContains(n *Node, fragment string) bool {
	sink := &recordingSink{}
	n.Dispatch("DFLYCLUSTER", []string{"SLOT-MIGRATION-STATUS"}, sink)
	for _, line := range sink.lines {
		if strings.Contains(line, fragment) {
			return true
		}
	}
	return false
}

// waitFor polls cond until it holds or the deadline passes
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timeout waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// configWithoutSlot renders a config where one peer owns exactly the
// given slot and the local node owns the rest
func configWithoutSlot(t *testing.T, myID string, slot cluster.SlotID) string {
	t.Helper()
	var self cluster.SlotRanges
	if slot > 0 {
		self = append(self, cluster.SlotRange{Start: 0, End: slot - 1})
	}
	if slot < cluster.KMaxSlotNum {
		self = append(self, cluster.SlotRange{Start: slot + 1, End: cluster.KMaxSlotNum})
	}
	shards := cluster.ConfigShards{
		{
			SlotRanges: self,
			Master:     cluster.NodeInfo{ID: myID, IP: "127.0.0.1", Port: 6379},
		},
		{
			SlotRanges: cluster.SlotRanges{{Start: slot, End: slot}},
			Master:     cluster.NodeInfo{ID: "peer-node-id", IP: "10.0.0.77", Port: 7000},
		},
	}
	data, err := json.Marshal(shards)
	if err != nil {
		t.Fatalf("Failed to marshal config: %v", err)
	}
	return string(data)
}

// ---- In-memory transport ----

// memConn is one side of an in-memory connection pair. Closing either
// side tears the pair down.
type memConn struct {
	sendCh chan *common.Message
	recvCh chan *common.Message
	done   chan struct{}
	once   *sync.Once
}

func newConnPair() (*memConn, *memConn) {
	ab := make(chan *common.Message, 256)
	ba := make(chan *common.Message, 256)
	done := make(chan struct{})
	once := &sync.Once{}
	a := &memConn{sendCh: ab, recvCh: ba, done: done, once: once}
	b := &memConn{sendCh: ba, recvCh: ab, done: done, once: once}
	return a, b
}

func (c *memConn) Send(msg *common.Message) error {
	cp := *msg
	select {
	case c.sendCh <- &cp:
		return nil
	case <-c.done:
		return io.EOF
	}
}

func (c *memConn) Recv(msg *common.Message) error {
	select {
	case m := <-c.recvCh:
		*msg = *m
		return nil
	case <-c.done:
		return io.EOF
	}
}

func (c *memConn) SetTimeout(time.Duration) {}

func (c *memConn) RemoteAddr() string { return "mem" }

func (c *memConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// memDialer connects directly to a node's connection handler
type memDialer struct {
	node *Node
}

func (d *memDialer) Dial(common.ClientConfig) (transport.IMessageConn, error) {
	clientSide, serverSide := newConnPair()
	go func() {
		d.node.handleConnection(serverSide)
		serverSide.Close()
	}()
	return clientSide, nil
}

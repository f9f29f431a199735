package client

import (
	"context"
	"fmt"
	"time"

	"github.com/lni/dragonboat/v4/logger"

	"github.com/marlinkv/marlin/lib/cluster"
	"github.com/marlinkv/marlin/lib/cluster/migration"
	"github.com/marlinkv/marlin/lib/core"
	"github.com/marlinkv/marlin/lib/db"
	"github.com/marlinkv/marlin/lib/journal"
	"github.com/marlinkv/marlin/lib/shard"
	"github.com/marlinkv/marlin/rpc/common"
	"github.com/marlinkv/marlin/rpc/transport"
)

var Logger = logger.GetLogger("marlin.rpc")

// --------------------------------------------------------------------------
// Incoming Migration Runner
// --------------------------------------------------------------------------

// IncomingDeps is the node state an incoming migration applies into.
// The runner never touches a slice directly, every apply is dispatched
// onto the owning shard worker.
type IncomingDeps struct {
	Shards   *shard.Set
	Registry *migration.Registry
	Dialer   transport.IRPCClientTransport

	// SliceOf resolves the slice of one shard. The returned pointer is
	// only dereferenced from tasks on that shard.
	SliceOf func(shardID int) *db.DbSlice

	// Timeout is the handshake timeout in seconds. The flow connections
	// themselves run without deadlines once bound.
	Timeout int64
}

// IncomingRunner pulls a slot range from a source node: one CONF
// handshake, then one flow connection per source shard, each receiving
// the restore snapshot and the journal tail of its shard.
type IncomingRunner struct {
	deps   IncomingDeps
	host   string
	port   uint16
	ranges cluster.SlotRanges

	m *migration.IncomingMigration
}

// NewIncomingRunner creates a runner. Run performs the whole transfer.
func NewIncomingRunner(deps IncomingDeps, host string, port uint16, ranges cluster.SlotRanges) *IncomingRunner {
	return &IncomingRunner{deps: deps, host: host, port: port, ranges: ranges}
}

// clientConfig builds the dial config for the source node.
func (r *IncomingRunner) clientConfig() common.ClientConfig {
	return common.ClientConfig{
		Endpoint:      fmt.Sprintf("%s:%d", r.host, r.port),
		TimeoutSecond: int(r.deps.Timeout),
		RetryCount:    3,
	}
}

// Run executes the handshake and the flows. It blocks until every flow
// connection has ended, either closed by the source after stable sync
// or failed, and returns the first flow error.
func (r *IncomingRunner) Run() error {
	conf, err := r.handshake()
	if err != nil {
		return err
	}

	shardCount := int(conf.ShardID)
	if shardCount <= 0 {
		return fmt.Errorf("source reported %d flows", shardCount)
	}
	slots := cluster.NewSlotSetFromRanges(r.ranges)
	r.m = r.deps.Registry.StartIncoming(r.host, r.port, slots, shardCount)

	Logger.Infof("incoming migration from %s:%d, sync %d, %d flows, slots %s",
		r.host, r.port, conf.SyncID, shardCount, slots)

	errCh := make(chan error, shardCount)
	for i := 0; i < shardCount; i++ {
		flowID := i
		go func() {
			errCh <- r.runFlow(conf.SyncID, flowID)
		}()
	}

	var firstErr error
	for i := 0; i < shardCount; i++ {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// handshake opens the migration on the source and returns its CONF
// reply.
func (r *IncomingRunner) handshake() (*common.Message, error) {
	conn, err := r.deps.Dialer.Dial(r.clientConfig())
	if err != nil {
		return nil, fmt.Errorf("dial source: %v", err)
	}
	defer conn.Close()

	req := common.NewMigrateConfRequest(r.host, r.port, r.ranges)
	if err := conn.Send(req); err != nil {
		return nil, fmt.Errorf("send CONF: %v", err)
	}
	var resp common.Message
	if err := conn.Recv(&resp); err != nil {
		return nil, fmt.Errorf("recv CONF reply: %v", err)
	}
	if resp.Err != "" {
		return nil, fmt.Errorf("source rejected migration: %s", resp.Err)
	}
	if resp.MsgType != common.MsgTMigrateConf {
		return nil, fmt.Errorf("unexpected CONF reply type %s", resp.MsgType)
	}
	return &resp, nil
}

// runFlow binds one flow connection and applies its stream until the
// source closes or the flow errors. The connection stays open through
// stable sync so journal records keep flowing until the config change
// on the source finalizes the migration.
func (r *IncomingRunner) runFlow(syncID uint32, flowID int) error {
	conn, err := r.deps.Dialer.Dial(r.clientConfig())
	if err != nil {
		r.m.SetFlowError(flowID)
		return fmt.Errorf("flow %d: dial: %v", flowID, err)
	}
	defer conn.Close()

	if err := conn.Send(common.NewMigrateFlowRequest(syncID, flowID)); err != nil {
		r.m.SetFlowError(flowID)
		return fmt.Errorf("flow %d: bind: %v", flowID, err)
	}
	var ack common.Message
	if err := conn.Recv(&ack); err != nil {
		r.m.SetFlowError(flowID)
		return fmt.Errorf("flow %d: bind reply: %v", flowID, err)
	}
	if ack.MsgType != common.MsgTAck || !ack.Ok {
		r.m.SetFlowError(flowID)
		return fmt.Errorf("flow %d: source refused bind: %s", flowID, ack.Err)
	}

	// Frames are pushed at the source's pace from here on.
	conn.SetTimeout(0)
	r.m.StartFlow(flowID)

	for {
		var msg common.Message
		if err := conn.Recv(&msg); err != nil {
			if r.m.State() == migration.StateStableSync {
				// The source hanging up after stable sync is the normal
				// finalization path.
				return nil
			}
			r.m.SetFlowError(flowID)
			return fmt.Errorf("flow %d: stream ended early: %v", flowID, err)
		}
		if err := r.applyFrame(flowID, &msg); err != nil {
			r.m.SetFlowError(flowID)
			return fmt.Errorf("flow %d: apply: %v", flowID, err)
		}
	}
}

// applyFrame dispatches one streamed frame onto the owning shard.
func (r *IncomingRunner) applyFrame(flowID int, msg *common.Message) error {
	switch msg.MsgType {
	case common.MsgTRestore:
		return r.applyRestore(msg)
	case common.MsgTJournal:
		return r.applyJournal(msg)
	case common.MsgTFullSyncCut:
		Logger.Infof("incoming migration %s: flow %d snapshot cut", r.m.Addr(), flowID)
		r.m.OnFullSyncCut(flowID)
		return nil
	default:
		return fmt.Errorf("unexpected stream frame %s", msg.MsgType)
	}
}

func (r *IncomingRunner) applyRestore(msg *common.Message) error {
	e := migration.RestoreEntry{
		DbIndex:    int(msg.DbIndex),
		Key:        msg.Key,
		ObjType:    core.ObjType(msg.ObjType),
		Encoding:   core.Encoding(msg.Encoding),
		Data:       msg.Value,
		Sticky:     msg.Sticky,
		ExpireAtMs: msg.ExpireAtMs,
	}
	shardID := r.deps.Shards.KeyShard(e.Key)
	var applyErr error
	err := r.deps.Shards.Await(context.Background(), shardID, func() {
		ctx := db.Context{DbIndex: e.DbIndex, TimeNowMs: time.Now().UnixMilli()}
		applyErr = r.m.ApplyRestore(ctx, r.deps.SliceOf(shardID), e)
	})
	if err != nil {
		return err
	}
	return applyErr
}

func (r *IncomingRunner) applyJournal(msg *common.Message) error {
	e := &journal.Entry{DbIndex: int(msg.DbIndex), Cmd: msg.Cmd, Args: msg.Args}
	key := e.Key()
	if key == "" {
		Logger.Warningf("incoming migration %s: dropping keyless journal record %s", r.m.Addr(), e.Cmd)
		return nil
	}
	shardID := r.deps.Shards.KeyShard(key)
	var applyErr error
	err := r.deps.Shards.Await(context.Background(), shardID, func() {
		ctx := db.Context{DbIndex: e.DbIndex, TimeNowMs: time.Now().UnixMilli()}
		applyErr = r.m.ApplyJournal(ctx, r.deps.SliceOf(shardID), e)
	})
	if err != nil {
		return err
	}
	return applyErr
}

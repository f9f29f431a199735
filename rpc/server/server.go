package server

import (
	"context"
	"fmt"
	"os/signal"
	"runtime"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"

	"github.com/marlinkv/marlin/lib/cluster"
	"github.com/marlinkv/marlin/lib/cluster/migration"
	"github.com/marlinkv/marlin/lib/db"
	"github.com/marlinkv/marlin/lib/journal"
	"github.com/marlinkv/marlin/lib/shard"
	"github.com/marlinkv/marlin/rpc/common"
	"github.com/marlinkv/marlin/rpc/transport"
	"github.com/marlinkv/marlin/rpc/transport/base"
	httpx "github.com/marlinkv/marlin/rpc/transport/http"
)

var Logger = logger.GetLogger("marlin.rpc")

// --------------------------------------------------------------------------
// Per-shard state
// --------------------------------------------------------------------------

// shardState is the data attached to every shard worker: the slice it
// owns plus the worker's private snapshot of the cluster config. The
// config pointer is only touched from the worker itself, reads of it
// need no synchronization.
type shardState struct {
	slice *db.DbSlice

	config *cluster.Config
	// migrationFinalization is set while a config change finalizes an
	// outgoing migration on this worker.
	migrationFinalization bool
}

// stateOf returns the state attached to a shard. Must run on the
// shard's worker.
func stateOf(sh *shard.Shard) *shardState {
	return sh.Data().(*shardState)
}

// --------------------------------------------------------------------------
// Node
// --------------------------------------------------------------------------

// Node is one engine process: the shard set with its slices, the
// migration registry, the cluster command plane and the node-to-node
// listener.
//
// Usage:
//
//	n := server.NewNode(
//		*config,
//		tcp.NewTCPServerTransport(ser),
//		tcp.NewTCPClientTransport(ser),
//	)
//
//	if err := n.Serve(); err != nil {
//		panic(err)
//	}
type Node struct {
	config    common.ServerConfig
	transport transport.IRPCServerTransport
	dialer    transport.IRPCClientTransport

	masterID string
	shards   *shard.Set
	registry *migration.Registry

	// clusterConfig is the canonical config snapshot, shard workers
	// hold their own pointer swapped by the set-config protocol.
	clusterConfig atomic.Pointer[cluster.Config]
	setConfigMu   chan struct{}

	metricsSrv    *httpx.MetricsServer
	heartbeatStop chan struct{}
}

// NewNode creates an engine node. Serve initializes the shards and
// starts the listener.
func NewNode(config common.ServerConfig, serverTransport transport.IRPCServerTransport, dialer transport.IRPCClientTransport) *Node {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	mu := make(chan struct{}, 1)
	mu <- struct{}{}

	return &Node{
		config:        config,
		transport:     serverTransport,
		dialer:        dialer,
		masterID:      newMasterID(),
		setConfigMu:   mu,
		heartbeatStop: make(chan struct{}),
	}
}

// newMasterID builds the 40-character node id DFLYCLUSTER MYID reports.
func newMasterID() string {
	raw := strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	return raw[:40]
}

// MasterID returns the node id.
func (n *Node) MasterID() string { return n.masterID }

// Shards returns the shard set, tests drive slices through it.
func (n *Node) Shards() *shard.Set { return n.shards }

// Registry returns the migration registry.
func (n *Node) Registry() *migration.Registry { return n.registry }

// ClusterConfig returns the canonical config snapshot, nil before the
// first DFLYCLUSTER CONFIG in real cluster mode.
func (n *Node) ClusterConfig() *cluster.Config { return n.clusterConfig.Load() }

// --------------------------------------------------------------------------
// Initialization
// --------------------------------------------------------------------------

// Init builds the shard set, the slices and the initial cluster
// config. Exposed separately from Serve so tests can run a node
// without a listener.
func (n *Node) Init() error {
	common.InitLoggers(n.config)

	Logger.Infof("Created engine node %s", n.masterID)
	Logger.Infof(n.config.String())

	if n.config.ShardCount <= 0 {
		return fmt.Errorf("invalid shard count %d", n.config.ShardCount)
	}

	n.shards = shard.NewSet(n.config.ShardCount)
	n.registry = migration.NewRegistry()

	// In emulated mode the node owns the whole slot space from the
	// start. Real cluster mode waits for the first DFLYCLUSTER CONFIG.
	if n.config.ClusterMode == "emulated" {
		n.clusterConfig.Store(cluster.NewEmulatedConfig(n.masterID, n.announceIP(), n.config.Port))
	}

	perShardBudget := int64(0)
	if n.config.MaxMemoryBytes > 0 {
		perShardBudget = n.config.MaxMemoryBytes / int64(n.config.ShardCount)
	}
	nowMs := time.Now().UnixMilli()
	cfg := n.clusterConfig.Load()

	// Attach the slice on each worker so no other goroutine ever
	// touches shard data.
	err := n.shards.AwaitRunOnAll(context.Background(), func(sh *shard.Shard) {
		slice := db.New(db.Options{
			ShardID:        sh.ID(),
			DbCount:        n.config.DbCount,
			CachingMode:    n.config.CacheMode,
			ClusterEnabled: n.config.ClusterEnabled(),
			MemoryBudget:   perShardBudget,
			Journal:        journal.New(),
			NowMs:          nowMs,
		})
		if n.config.MaxEvictionPerHeartbeat > 0 {
			slice.MaxEvictionPerHeartbeat = n.config.MaxEvictionPerHeartbeat
		}
		if n.config.MaxSegmentToConsider > 0 {
			slice.MaxSegmentToConsider = n.config.MaxSegmentToConsider
		}
		sh.SetData(&shardState{slice: slice, config: cfg})
	})
	if err != nil {
		return fmt.Errorf("failed to initialize shards: %w", err)
	}

	n.transport.RegisterHandler(n.handleConnection)

	go n.heartbeatLoop()

	Logger.Infof("engine setup completed successfully")
	return nil
}

// Serve initializes the node and blocks serving the node-to-node
// plane. The metrics endpoint gets its own goroutine when configured.
func (n *Node) Serve() error {
	if err := n.Init(); err != nil {
		return err
	}

	if n.config.MetricsEndpoint != "" {
		n.metricsSrv = httpx.NewMetricsServer(n.config.MetricsEndpoint)
		go func() {
			if err := n.metricsSrv.ListenAndServe(); err != nil {
				Logger.Errorf("metrics server failed: %v", err)
			}
		}()
	}

	return n.transport.Listen(n.config)
}

// Close stops the listener, the heartbeat and the shard workers.
func (n *Node) Close() error {
	close(n.heartbeatStop)
	if n.metricsSrv != nil {
		n.metricsSrv.Close()
	}
	err := n.transport.Close()
	if n.shards != nil {
		n.shards.Shutdown()
	}
	return err
}

// announceIP returns the address peers should dial, falling back to
// loopback when none is configured.
func (n *Node) announceIP() string {
	if n.config.AnnounceIP != "" {
		return n.config.AnnounceIP
	}
	return "127.0.0.1"
}

// --------------------------------------------------------------------------
// Connection handling
// --------------------------------------------------------------------------

// handleConnection serves one accepted connection. Command and
// handshake frames get a response each, a flow bind consumes the
// connection and turns it into a push stream.
func (n *Node) handleConnection(conn transport.IMessageConn) {
	for {
		var msg common.Message
		if err := conn.Recv(&msg); err != nil {
			if !base.IsClosedErr(err) && err.Error() != "EOF" {
				Logger.Debugf("connection from %s ended: %v", conn.RemoteAddr(), err)
			}
			return
		}

		var resp *common.Message
		switch msg.MsgType {
		case common.MsgTCommand:
			resp = n.handleCommand(&msg)
		case common.MsgTMigrateConf:
			resp = n.handleMigrateConf(&msg)
		case common.MsgTMigrateFlow:
			// The flow handler owns the connection from here on
			n.handleMigrateFlow(conn, &msg)
			return
		default:
			resp = common.NewErrorResponse(fmt.Sprintf("unexpected message type %s", msg.MsgType))
		}

		if err := conn.Send(resp); err != nil {
			Logger.Errorf("failed to send response to %s: %v", conn.RemoteAddr(), err)
			return
		}
	}
}

// handleCommand dispatches one admin command frame.
func (n *Node) handleCommand(msg *common.Message) *common.Message {
	sink := &lineSink{}
	n.Dispatch(msg.Cmd, msg.Args, sink)
	return sink.Response()
}

// Dispatch routes one admin command to its family handler. Exposed for
// in-process callers, the wire plane goes through handleCommand.
func (n *Node) Dispatch(cmd string, args []string, sink ReplySink) {
	switch strings.ToUpper(cmd) {
	case "CLUSTER":
		n.handleCluster(args, sink)
	case "READONLY":
		n.handleReadOnly(sink)
	case "READWRITE":
		n.handleReadWrite(sink)
	case "DFLYCLUSTER":
		n.handleDflyCluster(args, sink)
	default:
		sink.WriteError(fmt.Errorf("unknown command '%s'", cmd))
	}
}

// --------------------------------------------------------------------------
// Heartbeat
// --------------------------------------------------------------------------

// heartbeatLoop periodically sweeps expired keys and, when enabled,
// evicts under memory pressure on every shard.
func (n *Node) heartbeatLoop() {
	period := time.Duration(n.config.HeartbeatMillis) * time.Millisecond
	if period <= 0 {
		period = 100 * time.Millisecond
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-n.heartbeatStop:
			return
		case <-ticker.C:
		}

		nowMs := time.Now().UnixMilli()
		for i := 0; i < n.shards.Size(); i++ {
			shardID := i
			n.shards.Add(shardID, func() {
				n.heartbeatShard(n.shards.Shard(shardID), nowMs)
			})
		}
	}
}

// heartbeatShard runs one heartbeat on one shard worker.
func (n *Node) heartbeatShard(sh *shard.Shard, nowMs int64) {
	st := stateOf(sh)
	ctx := db.Context{DbIndex: 0, TimeNowMs: nowMs}

	traverse := n.config.MaxSegmentToConsider
	if traverse <= 0 {
		traverse = 1
	}
	st.slice.DeleteExpiredStep(ctx, traverse)

	// MemoryBudget is the remaining budget, a negative value is the
	// overshoot the eviction step has to reclaim.
	goal := -st.slice.MemoryBudget()
	if !n.config.EnableHeartbeatEviction || goal <= 0 {
		return
	}
	evicted, freed := st.slice.FreeMemWithEvictionStep(ctx, goal)
	if evicted > 0 {
		Logger.Debugf("shard %d: heartbeat evicted %d keys freeing %d bytes", sh.ID(), evicted, freed)
	}
}

// usedMemory sums the object heap usage of every table of a slice.
func usedMemory(slice *db.DbSlice) int64 {
	var used int64
	for i := 0; ; i++ {
		dbt := slice.GetDBTable(db.Context{DbIndex: i})
		if dbt == nil {
			break
		}
		used += dbt.Stats().ObjMemUsage
	}
	return used
}

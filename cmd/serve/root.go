package serve

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cmdUtil "github.com/marlinkv/marlin/cmd/util"
	"github.com/marlinkv/marlin/rpc/common"
	"github.com/marlinkv/marlin/rpc/server"
	"github.com/marlinkv/marlin/rpc/transport"
	"github.com/marlinkv/marlin/rpc/transport/tcp"
	"github.com/marlinkv/marlin/rpc/transport/unix"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start an engine node",
		Long:    `Start an engine node with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is MARLIN_<flag> (e.g. MARLIN_PORT=6379)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(initConfig)

	// add flags
	key := "port"
	ServeCmd.PersistentFlags().Uint16(key, 6379, cmdUtil.WrapString("The port the node-to-node plane listens on"))

	key = "cluster-announce-ip"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("The address peers and CLUSTER replies should use for this node. Defaults to the loopback address"))

	key = "cluster-mode"
	ServeCmd.PersistentFlags().String(key, "emulated", cmdUtil.WrapString("Cluster mode: 'emulated' answers cluster commands as a single-node cluster, 'yes' waits for a DFLYCLUSTER CONFIG, 'no' disables cluster semantics"))

	key = "shards"
	ServeCmd.PersistentFlags().Int(key, 4, cmdUtil.WrapString("Number of shard workers, each owning a keyspace subset"))

	key = "dbs"
	ServeCmd.PersistentFlags().Int(key, 16, cmdUtil.WrapString("Number of logical databases per shard"))

	key = "cache-mode"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Enable cache mode: accessed entries are bumped and may be evicted under memory pressure"))

	key = "maxmemory"
	ServeCmd.PersistentFlags().Int64(key, 0, cmdUtil.WrapString("Memory budget in bytes, split evenly over the shards. 0 disables the budget"))

	key = "hz"
	ServeCmd.PersistentFlags().Int64(key, 100, cmdUtil.WrapString("Heartbeat period in milliseconds"))

	key = "enable-heartbeat-eviction"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Evict keys on the heartbeat when a shard exceeds its memory budget"))

	key = "max-eviction-per-heartbeat"
	ServeCmd.PersistentFlags().Int(key, 100, cmdUtil.WrapString("Upper bound of keys evicted by one heartbeat"))

	key = "max-segment-to-consider"
	ServeCmd.PersistentFlags().Int(key, 4, cmdUtil.WrapString("How many hash table segments one heartbeat eviction scan considers; one heartbeat expiry sweep visits as many expire table buckets"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("Read/write timeout in seconds on node-to-node connections"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Address of the HTTP metrics endpoint (e.g. localhost:9090). Empty disables it"))

	key = "unix-socket"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Listen on this Unix socket instead of TCP"))

	key = "tcp-nodelay"
	ServeCmd.PersistentFlags().Bool(key, true, cmdUtil.WrapString("Whether to enable TCP_NODELAY on accepted connections"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and
// environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	mode := viper.GetString("cluster-mode")
	switch mode {
	case "emulated", "yes", "no":
	default:
		return fmt.Errorf("invalid cluster mode %s (expected emulated, yes or no)", mode)
	}

	if viper.GetInt("shards") <= 0 {
		return fmt.Errorf("shard count must be positive")
	}
	if viper.GetInt("dbs") <= 0 {
		return fmt.Errorf("database count must be positive")
	}

	serveCmdConfig.Port = uint16(viper.GetUint("port"))
	serveCmdConfig.AnnounceIP = viper.GetString("cluster-announce-ip")
	serveCmdConfig.ClusterMode = mode
	serveCmdConfig.ShardCount = viper.GetInt("shards")
	serveCmdConfig.DbCount = viper.GetInt("dbs")
	serveCmdConfig.CacheMode = viper.GetBool("cache-mode")
	serveCmdConfig.MaxMemoryBytes = viper.GetInt64("maxmemory")
	serveCmdConfig.HeartbeatMillis = viper.GetInt64("hz")
	serveCmdConfig.EnableHeartbeatEviction = viper.GetBool("enable-heartbeat-eviction")
	serveCmdConfig.MaxEvictionPerHeartbeat = viper.GetInt("max-eviction-per-heartbeat")
	serveCmdConfig.MaxSegmentToConsider = viper.GetInt("max-segment-to-consider")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	serveCmdConfig.Transport.TCPNoDelay = viper.GetBool("tcp-nodelay")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	return nil
}

// run starts the engine node
func run(_ *cobra.Command, _ []string) error {
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}

	var serverTransport transport.IRPCServerTransport
	var dialer transport.IRPCClientTransport
	if socket := viper.GetString("unix-socket"); socket != "" {
		serverTransport = unix.NewUnixServerTransport(socket, s)
		dialer = unix.NewUnixClientTransport(s)
	} else {
		serverTransport = tcp.NewTCPServerTransport(s)
		dialer = tcp.NewTCPClientTransport(s)
	}

	n := server.NewNode(*serveCmdConfig, serverTransport, dialer)
	return n.Serve()
}

// initConfig reads in serveCmdConfig file and ENV variables if set.
func initConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("marlin")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

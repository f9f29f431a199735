package common

import (
	"fmt"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// Transport tuning
// --------------------------------------------------------------------------

// TransportConf holds the socket tuning knobs shared by server and
// client transports.
type TransportConf struct {
	// TCPNoDelay disables Nagle's algorithm when set
	TCPNoDelay bool
	// ReadBufferSize is the socket read buffer size in bytes, 0 keeps the OS default
	ReadBufferSize int
	// WriteBufferSize is the socket write buffer size in bytes, 0 keeps the OS default
	WriteBufferSize int
	// TCPKeepAliveSec enables keep-alive with the given period, 0 disables it
	TCPKeepAliveSec int
	// TCPLingerSec is the linger value passed to the socket, negative keeps the OS default
	TCPLingerSec int
}

// --------------------------------------------------------------------------
// Server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters of one node.
type ServerConfig struct {
	// Node identity
	Port       uint16
	AnnounceIP string

	// Engine parameters
	ShardCount     int
	DbCount        int
	CacheMode      bool
	ClusterMode    string // "emulated" or "yes"
	MaxMemoryBytes int64

	// Heartbeat parameters
	HeartbeatMillis         int64
	EnableHeartbeatEviction bool
	MaxEvictionPerHeartbeat int
	MaxSegmentToConsider    int

	// Transport parameters
	TimeoutSecond int64
	Transport     TransportConf

	// Metrics endpoint ("host:port", empty disables the listener)
	MetricsEndpoint string

	// Logging configuration
	LogLevel string
}

// ClusterEnabled reports whether the node runs with cluster semantics,
// emulated or real.
func (c *ServerConfig) ClusterEnabled() bool {
	return c.ClusterMode == "emulated" || c.ClusterMode == "yes"
}

// Endpoint returns the listen address of the node-to-node plane.
func (c *ServerConfig) Endpoint() string {
	return fmt.Sprintf(":%d", c.Port)
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-24s: %s\n", name, value))
	}

	addSection("Node")
	addField("Port", strconv.Itoa(int(c.Port)))
	addField("Announce IP", c.AnnounceIP)
	addField("Cluster Mode", c.ClusterMode)

	addSection("Engine")
	addField("Shards", strconv.Itoa(c.ShardCount))
	addField("Databases", strconv.Itoa(c.DbCount))
	addField("Cache Mode", fmt.Sprintf("%t", c.CacheMode))
	addField("Max Memory", fmt.Sprintf("%d bytes", c.MaxMemoryBytes))

	addSection("Heartbeat")
	addField("Period", fmt.Sprintf("%d ms", c.HeartbeatMillis))
	addField("Eviction", fmt.Sprintf("%t", c.EnableHeartbeatEviction))
	addField("Max Eviction Per Beat", strconv.Itoa(c.MaxEvictionPerHeartbeat))
	addField("Max Segments Per Beat", strconv.Itoa(c.MaxSegmentToConsider))

	addSection("Transport")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("TCP No Delay", fmt.Sprintf("%t", c.Transport.TCPNoDelay))
	if c.MetricsEndpoint != "" {
		addField("Metrics Endpoint", c.MetricsEndpoint)
	}

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}

// --------------------------------------------------------------------------
// Client configuration struct
// --------------------------------------------------------------------------

// ClientConfig configures one outgoing node-to-node connection set.
type ClientConfig struct {
	Endpoint      string
	TimeoutSecond int
	RetryCount    int
	Transport     TransportConf
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-24s: %s\n", name, value))
	}

	addSection("Client Configuration")
	addField("Endpoint", c.Endpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.RetryCount))

	return sb.String()
}

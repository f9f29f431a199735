package base

import (
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/lni/dragonboat/v4/logger"

	"github.com/marlinkv/marlin/rpc/common"
	"github.com/marlinkv/marlin/rpc/serializer"
	"github.com/marlinkv/marlin/rpc/transport"
)

var Logger = logger.GetLogger("marlin.transport")

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IClientConnector defines the interface for transport-specific connection operations
type IClientConnector interface {
	// Connect establishes a single connection based on the provided configuration
	Connect(endpoint string) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.ClientConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// clientTransport implements the core client transport functionality
// independent of the specific transport medium (unix, tcp, etc.)
type clientTransport struct {
	connector  IClientConnector
	serializer serializer.IRPCSerializer
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseClientTransport creates a new base client transport with the specified connector
func NewBaseClientTransport(connector IClientConnector, s serializer.IRPCSerializer) transport.IRPCClientTransport {
	return &clientTransport{
		connector:  connector,
		serializer: s,
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *clientTransport) Dial(config common.ClientConfig) (transport.IMessageConn, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("no endpoint provided")
	}

	// We always try at least once, and up to maxRetries times
	maxRetries := config.RetryCount
	if maxRetries < 1 {
		maxRetries = 1
	}

	// Initial backoff duration in milliseconds
	backoffMs := 50

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		conn, err := t.dialOnce(config)
		if err == nil {
			Logger.Infof("Connected to %s using %s transport", config.Endpoint, t.connector.GetName())
			timeout := time.Duration(config.TimeoutSecond) * time.Second
			return NewMessageConn(conn, t.serializer, nil, timeout), nil
		}

		lastErr = err
		Logger.Debugf("Dial attempt %d/%d to %s failed: %v", i+1, maxRetries, config.Endpoint, err)

		if i < maxRetries-1 {
			// Exponential backoff with a small random jitter (+-10%)
			jitter := float64(backoffMs) * (0.9 + 0.2*rand.Float64())
			time.Sleep(time.Duration(jitter) * time.Millisecond)
			backoffMs *= 2
		}
	}

	return nil, fmt.Errorf("failed to connect to %s after %d attempts: %v", config.Endpoint, maxRetries, lastErr)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// dialOnce establishes and upgrades a single connection
func (t *clientTransport) dialOnce(config common.ClientConfig) (net.Conn, error) {
	conn, err := t.connector.Connect(config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %v", config.Endpoint, err)
	}

	if err := t.connector.UpgradeConnection(conn, config); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to upgrade connection to %s: %v", config.Endpoint, err)
	}

	return conn, nil
}

package tcp

import (
	"fmt"
	"net"
	"time"

	"github.com/marlinkv/marlin/rpc/common"
	"github.com/marlinkv/marlin/rpc/serializer"
	"github.com/marlinkv/marlin/rpc/transport"
	"github.com/marlinkv/marlin/rpc/transport/base"
)

const (
	defaultBufferSize = 512 * 1024 // 512 KB
)

// serverConnector implements the IServerConnector interface for TCP sockets
type serverConnector struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IServerConnector)
// --------------------------------------------------------------------------

func (c *serverConnector) GetName() string {
	return "tcp"
}

func (c *serverConnector) Listen(config common.ServerConfig) (net.Listener, error) {
	listener, err := net.Listen("tcp", config.Endpoint())
	if err != nil {
		return nil, fmt.Errorf("failed to create TCP socket: %v", err)
	}

	return listener, nil
}

// UpgradeConnection applies performance optimizations to a TCP
// connection using the tuning values from TransportConf
func (c *serverConnector) UpgradeConnection(conn net.Conn, config common.ServerConfig) error {
	return upgradeTCPConn(conn, config.Transport)
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// upgradeTCPConn applies the shared socket tuning knobs, it is a no-op
// for non-TCP connections
func upgradeTCPConn(conn net.Conn, tc common.TransportConf) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}

	// Disable Nagle's algorithm (TCPNoDelay) if configured
	if err := tcpConn.SetNoDelay(tc.TCPNoDelay); err != nil {
		return err
	}

	// Set socket write buffer size if configured
	if tc.WriteBufferSize > 0 {
		if err := tcpConn.SetWriteBuffer(tc.WriteBufferSize); err != nil {
			return err
		}
	}

	// Set socket read buffer size if configured
	if tc.ReadBufferSize > 0 {
		if err := tcpConn.SetReadBuffer(tc.ReadBufferSize); err != nil {
			return err
		}
	}

	// Enable TCP keep-alive if configured
	if tc.TCPKeepAliveSec > 0 {
		if err := tcpConn.SetKeepAlive(true); err != nil {
			return err
		}
		if err := tcpConn.SetKeepAlivePeriod(time.Duration(tc.TCPKeepAliveSec) * time.Second); err != nil {
			return err
		}
	} else if err := tcpConn.SetKeepAlive(false); err != nil {
		return err
	}

	// Set TCP linger option if configured
	if tc.TCPLingerSec >= 0 {
		if err := tcpConn.SetLinger(tc.TCPLingerSec); err != nil {
			return err
		}
	}

	return nil
}

// --------------------------------------------------------------------------
// Server Transport Factory Method
// --------------------------------------------------------------------------

// NewTCPServerTransport creates a new TCP server transport with the
// default read buffer size
func NewTCPServerTransport(s serializer.IRPCSerializer) transport.IRPCServerTransport {
	return base.NewBaseServerTransport(&serverConnector{}, s, defaultBufferSize)
}

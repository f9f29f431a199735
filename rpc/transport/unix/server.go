package unix

import (
	"fmt"
	"net"
	"os"

	"github.com/marlinkv/marlin/rpc/common"
	"github.com/marlinkv/marlin/rpc/serializer"
	"github.com/marlinkv/marlin/rpc/transport"
	"github.com/marlinkv/marlin/rpc/transport/base"
)

const (
	defaultBufferSize = 64 * 1024 // 64 KB
)

// serverConnector implements the IServerConnector interface for Unix sockets
type serverConnector struct {
	socketPath string
}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IServerConnector)
// --------------------------------------------------------------------------

func (c *serverConnector) GetName() string {
	return "unix"
}

func (c *serverConnector) Listen(_ common.ServerConfig) (net.Listener, error) {
	// Remove existing socket file if it exists
	if err := os.RemoveAll(c.socketPath); err != nil {
		return nil, fmt.Errorf("failed to remove existing socket: %v", err)
	}

	// Create Unix socket listener
	listener, err := net.Listen("unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create Unix socket: %v", err)
	}

	return listener, nil
}

func (c *serverConnector) UpgradeConnection(_ net.Conn, _ common.ServerConfig) error {
	// No socket tuning knobs apply to Unix domain sockets
	return nil
}

// --------------------------------------------------------------------------
// Server Transport Factory Method
// --------------------------------------------------------------------------

// NewUnixServerTransport creates a new Unix server transport listening
// on the given socket path
func NewUnixServerTransport(socketPath string, s serializer.IRPCSerializer) transport.IRPCServerTransport {
	return base.NewBaseServerTransport(&serverConnector{socketPath: socketPath}, s, defaultBufferSize)
}

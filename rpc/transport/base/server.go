package base

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/marlinkv/marlin/rpc/common"
	"github.com/marlinkv/marlin/rpc/serializer"
	"github.com/marlinkv/marlin/rpc/transport"
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IServerConnector defines the interface for transport-specific server operations
type IServerConnector interface {
	// Listen creates a listener and returns it
	Listen(config common.ServerConfig) (net.Listener, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an accepted connection
	UpgradeConnection(conn net.Conn, config common.ServerConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// serverTransport implements the core server transport functionality
type serverTransport struct {
	connector  IServerConnector
	serializer serializer.IRPCSerializer
	handler    transport.ConnHandler
	config     common.ServerConfig
	bufferPool *sync.Pool

	mu       sync.Mutex
	listener net.Listener
	closed   bool
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseServerTransport creates a new base server transport with a
// shared read buffer pool of the given size
func NewBaseServerTransport(connector IServerConnector, s serializer.IRPCSerializer, bufferSize int) transport.IRPCServerTransport {
	return &serverTransport{
		connector:  connector,
		serializer: s,
		conns:      make(map[net.Conn]struct{}),
		bufferPool: &sync.Pool{
			New: func() interface{} {
				return make([]byte, bufferSize)
			},
		},
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *serverTransport) RegisterHandler(handler transport.ConnHandler) {
	t.handler = handler
}

func (t *serverTransport) Listen(config common.ServerConfig) error {
	t.config = config

	// Create listener using the connector
	listener, err := t.connector.Listen(config)
	if err != nil {
		return fmt.Errorf("failed to create listener: %v", err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		listener.Close()
		return fmt.Errorf("transport already closed")
	}
	t.listener = listener
	t.mu.Unlock()

	Logger.Infof("Starting %s server on %s", t.connector.GetName(), config.Endpoint())

	// Accept connections
	for {
		conn, err := listener.Accept()
		if err != nil {
			if t.isClosed() {
				break
			}
			Logger.Errorf("Accept error: %v", err)
			continue
		}

		if err := t.connector.UpgradeConnection(conn, config); err != nil {
			Logger.Errorf("Failed to upgrade connection from %s: %v", conn.RemoteAddr(), err)
			conn.Close()
			continue
		}

		t.track(conn)
		t.wg.Add(1)

		// Handle the connection in a goroutine
		go t.handleConnection(conn)
	}

	// Wait for in-flight handlers before returning
	t.wg.Wait()
	return nil
}

func (t *serverTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	var err error
	if t.listener != nil {
		err = t.listener.Close()
	}
	for conn := range t.conns {
		conn.Close()
	}
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// handleConnection hands one accepted connection to the registered handler
func (t *serverTransport) handleConnection(conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			Logger.Errorf("Connection handler for %s panicked: %v", conn.RemoteAddr(), r)
		}
		t.untrack(conn)
		conn.Close()
		t.wg.Done()
	}()

	timeout := time.Duration(t.config.TimeoutSecond) * time.Second
	mc := NewMessageConn(conn, t.serializer, t.bufferPool, timeout)

	start := time.Now()
	t.handler(mc)
	Logger.Debugf("Connection from %s served for %s", conn.RemoteAddr(), time.Since(start))
}

func (t *serverTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *serverTransport) track(conn net.Conn) {
	t.mu.Lock()
	t.conns[conn] = struct{}{}
	t.mu.Unlock()
}

func (t *serverTransport) untrack(conn net.Conn) {
	t.mu.Lock()
	delete(t.conns, conn)
	t.mu.Unlock()
}

// IsClosedErr reports whether err only signals an orderly connection
// shutdown, handlers use it to separate peer disconnects from faults.
func IsClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

package transport

import (
	"time"

	"github.com/marlinkv/marlin/rpc/common"
)

// --------------------------------------------------------------------------
// Message Connection
// --------------------------------------------------------------------------

// IMessageConn is one framed, bidirectional node-to-node connection.
// Every frame carries exactly one common.Message. The same connection
// type serves the request/response command plane and the long-lived
// migration push streams.
type IMessageConn interface {
	// Send serializes and writes one message frame
	Send(msg *common.Message) error
	// Recv reads and deserializes the next message frame.
	// It blocks until a frame arrives, the deadline expires or the
	// connection closes (io.EOF)
	Recv(msg *common.Message) error
	// SetTimeout changes the per-operation read/write deadline,
	// zero disables deadlines. Migration flows disable them after the
	// handshake since stable sync may stay silent for long periods.
	SetTimeout(d time.Duration)
	// RemoteAddr returns the peer address for logging and registry keys
	RemoteAddr() string
	// Close closes the underlying connection
	Close() error
}

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ConnHandler is called by a server transport once per accepted
// connection. The handler owns the connection until it returns, the
// transport closes it afterwards.
type ConnHandler func(conn IMessageConn)

// IRPCServerTransport is the interface for the node-to-node server
// transport layer
type IRPCServerTransport interface {
	// RegisterHandler registers the per-connection handler.
	// Must be called before Listen
	RegisterHandler(handler ConnHandler)
	// Listen starts accepting connections and blocks until Close
	Listen(config common.ServerConfig) error
	// Close stops the listener and unblocks Listen
	Close() error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IRPCClientTransport is the interface for the node-to-node client
// transport. Unlike pooled request/response clients every Dial returns
// a dedicated connection: migration binds one connection per flow.
type IRPCClientTransport interface {
	// Dial establishes one connection to config.Endpoint, making up to
	// config.RetryCount attempts (at least one) with backoff between them
	Dial(config common.ClientConfig) (IMessageConn, error)
}

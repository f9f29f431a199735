// Package base provides the protocol-agnostic core of the node-to-node
// transport layer. It frames serialized messages with a length prefix
// and leaves socket creation to injected connectors, so the same code
// serves TCP and Unix domain sockets.
//
// The package focuses on:
//   - Length-prefixed message framing with a pluggable serializer
//   - Buffer reuse through a shared read buffer pool on the server
//   - Dial retries with exponential backoff on the client
//   - Per-connection handler dispatch with panic isolation
//
// Key Components:
//
//   - IClientConnector/IServerConnector: Interfaces for protocol-specific
//     operations that allow extending the base transport with different
//     network protocols.
//
//   - messageConn: One framed bidirectional connection. Serves both the
//     request/response command plane and the long-lived migration push
//     streams, which disable the idle deadline after the handshake.
//
//   - serverTransport: Accept loop that upgrades, tracks and hands each
//     connection to the registered handler in its own goroutine.
//
//   - clientTransport: Dials dedicated connections. There is no pooling
//     or request multiplexing, migration binds one connection per flow
//     and the command plane is low-volume.
//
// Performance Optimizations:
//
//   - Buffer Pooling: The server uses a sync.Pool to reuse read buffers,
//     reducing GC pressure and memory allocations.
//
//   - Frame Batching: The transport uses net.Buffers to reduce syscalls when
//     writing frames, combining header and payload into a single write operation.
//
// Thread Safety:
//
//	All public methods are thread-safe. Send may be called concurrently
//	on one connection, Recv is restricted to a single reader goroutine.
package base

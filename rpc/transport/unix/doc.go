// Package unix implements the node-to-node transport over Unix domain
// sockets. It is used by tests and single-host deployments where the
// TCP/IP stack only adds overhead.
//
// This package extends the base transport layer with Unix socket-specific
// connectors while inheriting framing, buffer pooling and dial retries
// from the base package.
//
// Key Components:
//
//   - clientConnector: Establishes connections using Unix domain sockets
//
//   - serverConnector: Creates Unix socket listeners, removing a stale
//     socket file before binding
//
// The default read buffer size is 64 KB, local communication rarely
// carries the large restore payloads the TCP transport is sized for.
package unix

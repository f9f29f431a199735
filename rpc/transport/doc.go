// Package transport defines the interfaces of the node-to-node
// communication plane. It provides a connection-oriented contract that
// all transport implementations fulfill, so the migration stream and
// the admin command plane stay protocol-agnostic.
//
// The package focuses on:
//   - Defining clear interfaces for client and server transport layers
//   - One framed message connection type for both request/response
//     exchanges and long-lived push streams
//   - Enabling multiple transport implementations (TCP, Unix sockets)
//
// Key Components:
//
//   - IMessageConn: One bidirectional connection carrying length-prefixed
//     message frames.
//
//   - IRPCServerTransport: Interface for server-side transport
//     implementations that accept connections and hand them to a
//     per-connection handler.
//
//   - IRPCClientTransport: Interface for client-side transport
//     implementations that dial dedicated connections.
//
//   - ConnHandler: Function type invoked once per accepted connection.
package transport

// Package common provides core data structures and utilities shared across
// the node-to-node plane of the engine. It defines fundamental types,
// configuration structures, and protocol elements used by other packages.
//
// The package focuses on:
//   - Message protocol definition for migration and admin traffic
//   - Configuration structures for client and server components
//   - Custom logging implementation integrated with the logger facade
//
// Key Components:
//
//   - Message: Core data structure for all node-to-node communication,
//     with a flexible structure that adapts to different frame types.
//     Includes factory methods for the migration handshake, the restore
//     and journal stream, and the admin command plane.
//
//   - MessageType: Enumeration defining all supported frame types,
//     categorized into handshake, stream, and command messages.
//
//   - ServerConfig: Configuration for one node, including engine geometry,
//     heartbeat tuning, transport settings, and operation modes.
//
//   - ClientConfig: Configuration for outgoing connections, controlling
//     connection parameters, timeouts, and retry behavior.
//
//   - Logger: Custom logging implementation that plugs into the process
//     wide logger factory while providing consistent formatting.
package common

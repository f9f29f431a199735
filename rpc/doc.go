// Package rpc provides the network surface of the engine. It carries both
// the admin command plane and the slot migration streams between nodes.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures and utilities used across the RPC system,
//     including the Message protocol, configuration structures, and logging.
//
//   - transport: Network communication abstractions with pluggable implementations
//     (TCP, Unix sockets) plus the HTTP metrics endpoint.
//
//   - serializer: Message serialization with multiple format options (Binary,
//     JSON, S2-compressed) for converting between Message objects and byte arrays.
//
//   - client: RPC client implementations, covering the admin command client and
//     the incoming side of a slot migration.
//
//   - server: The engine node itself: shard workers, the cluster command
//     families and the outgoing side of a slot migration.
package rpc

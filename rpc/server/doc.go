// Package server implements the engine node: the shard set with its
// slices, the cluster command plane and the source side of slot
// migrations.
//
// The package focuses on:
//   - Node lifecycle (Init, Serve, Close) and the per-shard state
//   - The CLUSTER / DFLYCLUSTER / READONLY / READWRITE command family
//   - The migration handshake and the per-shard flow connections
//   - The heartbeat sweeping expired keys and evicting under pressure
//
// Key Components:
//
//   - Node: one engine process. NewNode wires a server transport for
//     the listening plane and a client transport for dialing migration
//     sources.
//
//   - ReplySink: receives the rendered reply of one admin command, so
//     the same handlers serve wire connections and in-process callers.
//
// Usage Example:
//
//	ser := serializer.NewBinarySerializer()
//	n := server.NewNode(
//	  config,
//	  tcp.NewTCPServerTransport(ser),
//	  tcp.NewTCPClientTransport(ser),
//	)
//
//	if err := n.Serve(); err != nil {
//	  panic(err)
//	}
//
// Thread Safety:
//
//	All slice access is dispatched onto the owning shard worker. The
//	command handlers are safe for concurrent connections, config
//	installs serialize on a process-wide mutex. Serve may only be
//	called once.
package server

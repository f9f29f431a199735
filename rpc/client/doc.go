// Package client implements the dialing side of the node-to-node
// plane.
//
// The package focuses on:
//   - Pulling slot migrations from a source node (IncomingRunner)
//   - Sending admin commands to a node (AdminClient)
//
// Key Components:
//
//   - IncomingRunner: opens the CONF handshake, binds one flow
//     connection per source shard and applies the pushed restore and
//     journal stream onto the local shards. Every apply is dispatched
//     onto the owning shard worker, the runner itself never touches a
//     slice.
//
//   - AdminClient: a thin command/reply client used by the CLI shell
//     and tests.
//
// Usage Example:
//
//	dialer := tcp.NewTCPClientTransport(serializer.NewBinarySerializer())
//
//	c, _ := client.NewAdminClient(dialer, common.ClientConfig{
//	  Endpoint:      "localhost:6379",
//	  TimeoutSecond: 5,
//	  RetryCount:    3,
//	})
//	defer c.Close()
//
//	lines, _ := c.Do("DFLYCLUSTER", "MYID")
//
// Thread Safety:
//
//	IncomingRunner is single-use, Run may only be called once.
//	AdminClient is not safe for concurrent use, callers serialize.
package client

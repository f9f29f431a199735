// Package tcp implements the node-to-node transport over TCP sockets.
// It provides concrete implementations of the base package's connector
// interfaces with the socket tuning knobs from TransportConf applied
// on both ends.
//
// This package builds on the base package's transport functionality,
// inheriting framing, buffer pooling and dial retries. See the base
// package documentation for the underlying transport mechanisms.
//
// Key Components:
//
//   - clientConnector: TCP-specific implementation of base.IClientConnector
//
//   - serverConnector: TCP-specific implementation of base.IServerConnector
//
// The default server read buffer size is 512 KB, sized for restore
// frames of large values during slot migration.
package tcp

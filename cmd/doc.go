// Package cmd implements the command-line interface of the engine. It
// provides a hierarchical command structure for running a node and
// talking to it as a client.
//
// The package is organized into several subpackages:
//
//   - serve: Commands for starting and configuring an engine node
//   - cli: Commands for sending admin commands to a running node
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See marlin -help for a list of all commands.
package cmd

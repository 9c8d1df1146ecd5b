// Package cmd implements the command-line interface for kvflood. It
// provides a hierarchical command structure with operations for running
// the server and interacting with it as a client.
//
// The package is organized into several subpackages:
//
//   - kv: Commands for request-surface key-value operations (set, get,
//     dump-all, dump-hashes, peers, add-peer, del-peer)
//   - serve: Commands for starting and configuring the kvflood server
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See kvflood -help for a list of all commands.
package cmd

// Package common provides configuration structures shared by the RPC
// server, RPC client and transport packages.
//
// The package focuses on:
//   - ServerConfig: per-daemon configuration, naming the areas a process
//     participates in, their statically configured peers, the shared
//     transport listener, and the gossip membership layer.
//   - ClientConfig: configuration for request-surface clients, controlling
//     connection parameters, timeouts, and retry behavior.
//
// Message framing and its wire codecs live in package wire, not here;
// this package only carries the configuration those layers are built from.
package common

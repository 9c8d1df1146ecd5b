// Package rpc provides the request-surface communication layer (§6) that
// lets a client, another node, or a CLI reach a kvstore.Store across a
// network boundary.
//
// The package is organized into several subpackages:
//
//   - common: configuration structures shared by client and server
//     (ServerConfig, ClientConfig, area/peer/transport/membership specs).
//
//   - transport: network communication abstractions, presently a
//     TCP implementation, behind a pluggable IRPCServerTransport /
//     IRPCClientTransport pair keyed by area id.
//
//   - client: RequestClient (external callers) and PeerClient (the
//     kvstore.PeerSender a Store floods and full-syncs through).
//
//   - server: the request-surface dispatcher, translating wire.Message
//     calls into kvstore.AreaRegistry/Store method calls.
//
// Message framing and encoding live in lib/wire, shared by both ends of
// the RPC boundary.
package rpc

// Package server implements the RPC server side of the request surface
// (§6): a single dispatcher that decodes a wire.Message, resolves its
// area against a kvstore.AreaRegistry, and applies the operation to that
// area's Store.
//
// The package focuses on:
//   - Area-keyed request routing, replacing shard-ID routing with the
//     area ids that name a KvStore's independent flooding topologies
//   - One handler function per request-surface operation, switched on
//     wire.MessageType the way dKV's IRPCServerAdapter.Handle switched on
//     common.MessageType
//   - Translating inbound peer publications (flood deltas and full-sync
//     pushes) into Store.MergeFromPeer calls, preserving split-horizon
//
// Key Components:
//
//   - NewRPCServer: factory function creating a configured server over
//     the given transport, wire codec and area registry.
//
// Usage Example:
//
//	registry := kvstore.NewAreaRegistry(areaStore1, areaStore2)
//
//	s := server.NewRPCServer(
//	  config,
//	  tcp.NewTCPServerTransport(),
//	  wire.NewJSONCodec(),
//	  registry,
//	)
//
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("server error: %v", err)
//	}
//
// Thread Safety:
//
//	The dispatcher is stateless beyond the registry and codec, both safe
//	for concurrent use; every request is handled independently. Serve is
//	not thread-safe and should be called only once.
package server

// Package client implements RPC clients that speak the request-surface
// wire protocol (lib/wire) against a remote kvstore.Store.
//
// The package focuses on:
//   - Transparent RPC access to a Store's request-surface operations
//   - Integration with the transport and lib/wire codec layers
//   - Addressing peers directly, for use as the kvstore.PeerSender a
//     Store floods and syncs through
//
// Key Components:
//
//   - RequestClient: round-robins requests across a fixed endpoint pool,
//     used by CLI and external callers to Set/Get/Dump/manage peers on
//     an area.
//
//   - PeerClient: implements kvstore.PeerSender by dialing each named
//     peer's own registered endpoint on demand, used internally by a
//     Store's Flooder to push publications and run full-sync.
//
// Usage Example:
//
//	cfg := common.ClientConfig{
//	  Endpoints:              []string{"localhost:5000"},
//	  TimeoutSecond:          5,
//	  RetryCount:             3,
//	  ConnectionsPerEndpoint: 1,
//	}
//
//	rc, _ := client.NewRequestClient(cfg, tcp.NewTCPClientTransport(), wire.NewJSONCodec())
//	rc.Set("area1", map[string]kvstore.Value{"k": v})
//	vals, _ := rc.Get("area1", []string{"k"})
//
// Thread Safety:
//
//	Both client implementations are safe for concurrent use.
package client

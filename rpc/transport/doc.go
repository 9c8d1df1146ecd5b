// Package transport defines the interfaces and abstractions for request-surface
// RPC communication with a KvStore daemon. It provides a common contract that
// all transport implementations must fulfill, enabling protocol-agnostic
// communication between a client and the areas it addresses.
//
// The package focuses on:
//   - Defining clear interfaces for client and server transport layers
//   - Supporting area-based request routing (an area id is carried in every frame)
//   - Enabling multiple transport implementations (currently TCP)
//
// Key Components:
//
//   - IRPCClientTransport: Interface for client-side transport implementations that
//     handles connection management and request sending.
//
//   - IRPCServerTransport: Interface for server-side transport implementations that
//     receives requests and routes them to appropriate handlers.
//
//   - ServerHandleFunc: Function type for request handling callbacks.
package transport

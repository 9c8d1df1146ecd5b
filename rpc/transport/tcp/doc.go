// Package tcp implements a TCP socket transport for the request-surface RPC
// system. It provides concrete implementations of the base package's
// connector interfaces.
//
// This package builds on the base package's transport functionality,
// inheriting its performance optimizations including connection pooling,
// buffer reuse, and area-based request routing. See the base package
// documentation for detailed information on the underlying transport
// mechanisms.
//
// Key Components:
//
//   - clientConnector: TCP-specific implementation of base.IClientConnector
//
//   - serverConnector: TCP-specific implementation of base.IServerConnector
//
// The default server buffer size is set to 512 KB, which provides good
// performance for typical workloads, but can be customized for specific
// use cases.
package tcp

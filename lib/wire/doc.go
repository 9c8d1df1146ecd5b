// Package wire defines the request-surface RPC envelope (§6) and its
// codecs, the wire-level counterpart of dKV's rpc/common (Message) and
// rpc/serializer (IRPCSerializer) packages.
package wire

// Package kvstore implements the replicated, eventually-consistent
// key-value store that disseminates a link-state routing daemon's state
// between peers. Each area of the network runs one Store instance which
// owns a value table, a merge engine, a TTL scheduler, a peer set, a
// flooder and a publisher registry, all serialized onto a single event
// loop (see loop.go).
package kvstore

package kvstore

import "time"

// SyncState is a peer's position in the full-sync lifecycle (§3 Peer,
// §4.2).
type SyncState uint8

const (
	SyncIdle SyncState = iota
	SyncSyncing
	SyncEstablished
	SyncFailed
)

func (s SyncState) String() string {
	switch s {
	case SyncIdle:
		return "IDLE"
	case SyncSyncing:
		return "SYNCING"
	case SyncEstablished:
		return "ESTABLISHED"
	case SyncFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// maxSyncFailures is the bounded retry budget after which a peer is
// marked SyncFailed rather than retried again; the peer stays in the set
// (§3 Peer Lifecycle, §4.2 "bounded retry schedule").
const maxSyncFailures = 5

// Peer is one flooding neighbor within an area (§3).
//
// A Peer is owned by the area event loop the same way a Value Table entry
// is: callers never get a pointer into the live registry, only a Snapshot
// copy, following the same non-mutation discipline as Value (§9 "Shared
// ownership").
type Peer struct {
	Name             string
	TransportEndpoint string
	SyncState        SyncState
	TLSIdentity      string

	consecutiveFailures int
	lastAttempt         time.Time
	establishedSince    time.Time
}

// Snapshot returns an independent copy of p safe to hand to callers
// outside the owning loop.
func (p Peer) Snapshot() Peer {
	return p
}

// PeerSet is the per-area registry of known flooding neighbors, grounded
// on the mutex-guarded map-of-structs shape used for peer bookkeeping
// across the retrieval pack (e.g. pollen's PeerStore), adapted here to
// track sync-state transitions rather than mesh addressing.
//
// Unlike ValueTable, which is a concurrent map read directly from RPC
// goroutines, PeerSet is exclusively owned by its area's event loop
// goroutine and has no internal locking; the loop serializes all
// mutation and read access to it (§5).
type PeerSet struct {
	peers map[string]*Peer
}

// NewPeerSet creates an empty peer set.
func NewPeerSet() *PeerSet {
	return &PeerSet{peers: make(map[string]*Peer)}
}

// Add registers name/endpoint as a new peer in SyncIdle, or resets an
// existing peer's endpoint and failure count if it already exists. The
// caller (area loop) is responsible for driving the subsequent full-sync
// transition to SyncSyncing.
func (s *PeerSet) Add(name, endpoint, tlsIdentity string) *Peer {
	if p, ok := s.peers[name]; ok {
		p.TransportEndpoint = endpoint
		p.TLSIdentity = tlsIdentity
		p.consecutiveFailures = 0
		return p
	}
	p := &Peer{Name: name, TransportEndpoint: endpoint, SyncState: SyncIdle, TLSIdentity: tlsIdentity}
	s.peers[name] = p
	return p
}

// Remove destroys peer name outright (§4.5 del_peer).
func (s *PeerSet) Remove(name string) bool {
	if _, ok := s.peers[name]; !ok {
		return false
	}
	delete(s.peers, name)
	return true
}

// Get returns the live peer record for name, if any.
func (s *PeerSet) Get(name string) (*Peer, bool) {
	p, ok := s.peers[name]
	return p, ok
}

// SetSyncing transitions a peer into SyncSyncing ahead of a full-sync
// exchange (§4.2 "Peer add").
func (s *PeerSet) SetSyncing(name string) {
	if p, ok := s.peers[name]; ok {
		p.SyncState = SyncSyncing
		p.lastAttempt = time.Now()
	}
}

// MarkEstablished records a successful full-sync completion and resets
// the failure counter (§4.2 "On success peer becomes established").
func (s *PeerSet) MarkEstablished(name string, now time.Time) {
	if p, ok := s.peers[name]; ok {
		p.SyncState = SyncEstablished
		p.consecutiveFailures = 0
		p.establishedSince = now
	}
}

// RecordFailure increments the peer's consecutive-failure counter and
// transitions it to SyncFailed once maxSyncFailures is reached (§4.2 "K
// consecutive sends", "bounded retry budget"). It reports whether the
// peer transitioned to Failed on this call.
func (s *PeerSet) RecordFailure(name string) bool {
	p, ok := s.peers[name]
	if !ok {
		return false
	}
	p.consecutiveFailures++
	p.lastAttempt = time.Now()
	if p.consecutiveFailures >= maxSyncFailures && p.SyncState != SyncFailed {
		p.SyncState = SyncFailed
		return true
	}
	return false
}

// Established returns snapshot copies of every peer currently in
// SyncEstablished, the flood fan-out set for §4.2's "broadcast to all
// established peers except the inbound edge".
func (s *PeerSet) Established() []Peer {
	out := make([]Peer, 0, len(s.peers))
	for _, p := range s.peers {
		if p.SyncState == SyncEstablished {
			out = append(out, p.Snapshot())
		}
	}
	return out
}

// All returns snapshot copies of every known peer, keyed by name, for the
// §4.5 get_peers request.
func (s *PeerSet) All() map[string]Peer {
	out := make(map[string]Peer, len(s.peers))
	for name, p := range s.peers {
		out[name] = p.Snapshot()
	}
	return out
}

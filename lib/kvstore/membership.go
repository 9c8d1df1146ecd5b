package kvstore

import (
	"time"

	"github.com/hashicorp/memberlist"
)

const shutdownLeaveTimeout = 5 * time.Second

// Membership wraps a SWIM gossip cluster (hashicorp/memberlist) used to
// detect peer liveness independently of the flooding sessions themselves:
// a peer can be gossip-reachable while its flood session is still
// syncing, and gossip failure detection lets an area react to a dead peer
// faster than the flood-send failure budget alone would (§4.2 "permanent
// failure after configurable retry budget").
//
// Membership only ever enqueues events onto the owning area's loop
// (via the eventCh channel supplied at construction) - it never touches
// the PeerSet directly, preserving the single-writer discipline of §5.
type Membership struct {
	list *memberlist.Memberlist
}

// MembershipEvent is a liveness transition observed by the gossip layer,
// delivered to the area loop's task queue for serialized handling.
type MembershipEvent struct {
	PeerName string
	Joined   bool // false means the peer left or was declared dead
}

// membershipDelegate adapts memberlist's push/pull event callbacks onto a
// single channel the owning area loop drains.
type membershipDelegate struct {
	eventCh chan<- MembershipEvent
}

func (d *membershipDelegate) NotifyJoin(n *memberlist.Node) {
	d.eventCh <- MembershipEvent{PeerName: n.Name, Joined: true}
}

func (d *membershipDelegate) NotifyLeave(n *memberlist.Node) {
	d.eventCh <- MembershipEvent{PeerName: n.Name, Joined: false}
}

func (d *membershipDelegate) NotifyUpdate(*memberlist.Node) {}

// NewMembership starts a gossip agent bound to bindAddr:bindPort,
// forwarding join/leave notifications onto eventCh. nodeName must be
// unique cluster-wide; it corresponds to Peer.Name (§3).
func NewMembership(nodeName, bindAddr string, bindPort int, eventCh chan<- MembershipEvent) (*Membership, error) {
	cfg := memberlist.DefaultLANConfig()
	cfg.Name = nodeName
	cfg.BindAddr = bindAddr
	cfg.BindPort = bindPort
	cfg.AdvertisePort = bindPort
	cfg.Events = &membershipDelegate{eventCh: eventCh}

	list, err := memberlist.Create(cfg)
	if err != nil {
		return nil, NewError(CodeInternal, "starting gossip agent: %v", err)
	}
	return &Membership{list: list}, nil
}

// Join contacts the given seed addresses to join the cluster, returning
// the number of peers successfully contacted.
func (m *Membership) Join(seeds []string) (int, error) {
	n, err := m.list.Join(seeds)
	if err != nil {
		return n, NewError(CodeInternal, "joining gossip cluster: %v", err)
	}
	return n, nil
}

// Members returns the names of all gossip-alive nodes.
func (m *Membership) Members() []string {
	nodes := m.list.Members()
	names := make([]string, 0, len(nodes))
	for _, n := range nodes {
		names = append(names, n.Name)
	}
	return names
}

// Shutdown leaves the cluster gracefully and releases the gossip socket.
func (m *Membership) Shutdown() error {
	if err := m.list.Leave(shutdownLeaveTimeout); err != nil {
		return err
	}
	return m.list.Shutdown()
}

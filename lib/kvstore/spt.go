package kvstore

// SptState is one root's DUAL election state (§4.6).
type SptState uint8

const (
	SptPassive SptState = iota // feasible successor known, tree stable
	SptActive                   // re-election in progress after a successor loss
)

// sptRoute is the per-root DUAL routing entry: the current successor
// (parent, or empty string meaning "self is root"), the feasible distance
// through it, and the set of children currently using this node as their
// successor toward root.
type sptRoute struct {
	root     string
	parent   string
	distance uint32
	state    SptState
	children map[string]struct{}

	// neighbors holds the last-advertised distance-to-root reported by
	// each peer, the DUAL topology table this root's feasible-successor
	// computation is derived from.
	neighbors map[string]uint32
	costs     map[string]uint32
}

// SpanningTree implements the optional per-root DUAL-style flood
// restriction of §4.6. It is consulted by the Flooder to compute
// tree-restricted fan-out instead of full broadcast; when a root has no
// election yet, the Flooder falls back to broadcast for that originator.
//
// Not safe for concurrent use - owned by the area event loop like every
// other component in this package (§5).
type SpanningTree struct {
	routes map[string]*sptRoute // keyed by root (originator id)
}

// NewSpanningTree creates an empty spanning-tree module with no elected
// roots.
func NewSpanningTree() *SpanningTree {
	return &SpanningTree{routes: make(map[string]*sptRoute)}
}

// infiniteDistance marks a peer as currently unreachable toward a given
// root, DUAL's "infinity" metric.
const infiniteDistance = ^uint32(0)

func (t *SpanningTree) routeFor(root string) *sptRoute {
	r, ok := t.routes[root]
	if !ok {
		r = &sptRoute{
			root:      root,
			state:     SptPassive,
			children:  make(map[string]struct{}),
			neighbors: make(map[string]uint32),
			costs:     make(map[string]uint32),
		}
		t.routes[root] = r
	}
	return r
}

// PeerUp registers peerName as adjacent with the given link cost toward
// every known root, and triggers recomputation for each (§4.6 "per-peer
// adjacency up events, per-peer cost").
func (t *SpanningTree) PeerUp(peerName string, cost uint32) {
	for root := range t.routes {
		r := t.routeFor(root)
		r.costs[peerName] = cost
		t.recompute(r)
	}
}

// PeerDown removes peerName from every root's topology table and forces
// re-election for any root that was using it as a successor (§4.6 "no
// route is advertised as reachable unless a feasible successor is
// known").
func (t *SpanningTree) PeerDown(peerName string) {
	for _, r := range t.routes {
		delete(r.neighbors, peerName)
		delete(r.costs, peerName)
		delete(r.children, peerName)
		if r.parent == peerName {
			r.parent = ""
			r.distance = infiniteDistance
			r.state = SptActive
			t.recompute(r)
		}
	}
}

// UpdateAdvertisement records peerName's advertised distance-to-root for
// root and triggers recomputation, the DUAL query/reply update path
// simplified to synchronous recomputation since flooding within one area
// is already serialized on a single loop (§5).
func (t *SpanningTree) UpdateAdvertisement(root, peerName string, distance uint32) {
	r := t.routeFor(root)
	r.neighbors[peerName] = distance
	t.recompute(r)
}

// recompute selects the successor for r: among neighbors with a known
// link cost and a finite advertised distance, the one with the smallest
// (cost + advertised distance). The choice is not compared against r's
// previous distance; no DUAL feasibility condition is applied. If no
// neighbor qualifies, r has no parent and the root is unreachable
// through this node.
func (t *SpanningTree) recompute(r *sptRoute) {
	var bestPeer string
	bestDistance := infiniteDistance

	for peer, advertised := range r.neighbors {
		cost, ok := r.costs[peer]
		if !ok {
			continue
		}
		if advertised == infiniteDistance {
			continue
		}
		total := cost + advertised
		if total < bestDistance {
			bestDistance = total
			bestPeer = peer
		}
	}

	if bestPeer == "" {
		r.parent = ""
		r.distance = infiniteDistance
		r.state = SptActive
		return
	}

	r.parent = bestPeer
	r.distance = bestDistance
	r.state = SptPassive
}

// AddChild registers peerName as using this node as its successor toward
// root, making it a fan-out target for floods originated at root.
func (t *SpanningTree) AddChild(root, peerName string) {
	t.routeFor(root).children[peerName] = struct{}{}
}

// RemoveChild deregisters peerName as a child for root.
func (t *SpanningTree) RemoveChild(root, peerName string) {
	if r, ok := t.routes[root]; ok {
		delete(r.children, peerName)
	}
}

// Children returns the current fan-out set for root: every peer using
// this node as its DUAL successor. Returns nil (broadcast fallback via
// the Flooder) when root has no election yet.
func (t *SpanningTree) Children(root string) []string {
	r, ok := t.routes[root]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(r.children))
	for child := range r.children {
		out = append(out, child)
	}
	return out
}

// Parent returns the current successor peer toward root, and whether one
// is known. An unknown parent with this node not itself the root means
// the root is currently unreachable (§4.6).
func (t *SpanningTree) Parent(root string) (string, bool) {
	r, ok := t.routes[root]
	if !ok || r.parent == "" {
		return "", false
	}
	return r.parent, true
}

// State returns root's current DUAL state.
func (t *SpanningTree) State(root string) SptState {
	if r, ok := t.routes[root]; ok {
		return r.state
	}
	return SptPassive
}

// SptInfo is the read-only snapshot of one root's DUAL election exposed
// over the wire (§6 `get_spanning_tree_infos`).
type SptInfo struct {
	Root     string   `json:"root"`
	Parent   string   `json:"parent,omitempty"`
	Distance uint32   `json:"distance"`
	State    string   `json:"state"`
	Children []string `json:"children,omitempty"`
}

func (s SptState) String() string {
	if s == SptActive {
		return "active"
	}
	return "passive"
}

// Infos returns a snapshot of every root this node currently has an
// election entry for.
func (t *SpanningTree) Infos() map[string]SptInfo {
	out := make(map[string]SptInfo, len(t.routes))
	for root, r := range t.routes {
		out[root] = SptInfo{
			Root:     root,
			Parent:   r.parent,
			Distance: r.distance,
			State:    r.state.String(),
			Children: t.Children(root),
		}
	}
	return out
}

package kvstore

import (
	"time"

	"github.com/hashicorp/go-multierror"
)

// ttlDecrementMs is the fixed decrement subtracted from ttl_ms on egress
// beyond the elapsed-time adjustment, guaranteeing forward progress and
// preventing oscillation across replicas relaying the same value (§4.3
// "Countdown adjustment on egress").
const ttlDecrementMs int64 = 25

// ttlEgressFloorMs is the threshold below which an outgoing value is
// omitted from a publication entirely, relying on the peer's own replica
// or its own expiry instead (§4.3).
const ttlEgressFloorMs int64 = 1

// PeerSender delivers a publication to one named peer over the transport;
// implemented by the rpc client (§4.2). Isolating it behind an interface
// keeps the flood/sync algorithms transport-agnostic and directly
// testable, the same separation dKV draws between lib/store and rpc/transport.
type PeerSender interface {
	SendPublication(peerName string, pub Publication) error
	RequestHashDump(peerName string, filter Filter) (map[string]Value, error)
	RequestValues(peerName string, keys []string) (map[string]Value, error)
}

// Flooder selects which established peers receive an effective delta and
// drives the full-sync exchange with newly added peers (§4.2).
type Flooder struct {
	table   *ValueTable
	peers   *PeerSet
	sender  PeerSender
	tree    *SpanningTree // nil when the optional module is disabled (§4.6)
	localID string
	onSync  func(peerName string, batch map[string]Value)
}

// NewFlooder builds a Flooder over table/peers, using sender for outbound
// I/O. tree may be nil to fall back to plain split-horizon broadcast.
func NewFlooder(table *ValueTable, peers *PeerSet, sender PeerSender, tree *SpanningTree, localID string) *Flooder {
	return &Flooder{table: table, peers: peers, sender: sender, tree: tree, localID: localID}
}

// SetSyncHandler installs the callback FullSync routes pulled peer values
// through. Store wires this to its own merge pipeline so a value learned
// from a peer during full-sync fans out to subscribers and re-floods
// exactly like any other inbound merge (§8 "Convergence").
func (f *Flooder) SetSyncHandler(onSync func(peerName string, batch map[string]Value)) {
	f.onSync = onSync
}

// Sender returns the PeerSender this Flooder sends through, so callers
// can probe it for optional capabilities (e.g. peer address registration).
func (f *Flooder) Sender() PeerSender {
	return f.sender
}

// egressValue applies the TTL countdown adjustment to v as observed
// insertedAt at now, returning the adjusted value and whether it should
// be included in the outgoing publication at all (§4.3).
func egressValue(v Value, insertedAt, now time.Time) (Value, bool) {
	if v.TTLMs == InfinityTTL {
		return v, true
	}
	elapsed := now.Sub(insertedAt).Milliseconds()
	adjusted := v.TTLMs - elapsed - ttlDecrementMs
	if adjusted < ttlEgressFloorMs {
		return Value{}, false
	}
	out := v
	out.TTLMs = adjusted
	return out, true
}

// buildEgressPublication converts an EffectiveDelta into an outgoing
// Publication for areaID, applying the TTL countdown per entry and
// dropping any that fall below the egress floor. inheritedNodeIDs carries
// the trail accumulated by upstream hops; this node's own id is stamped
// on top via WithNodeID for flood-loop diagnostics (§6, SPEC_FULL
// supplemented feature).
func (f *Flooder) buildEgressPublication(areaID string, delta EffectiveDelta, inheritedNodeIDs []string, now time.Time) Publication {
	pub := Publication{AreaID: areaID, KeyVals: make(map[string]Value, len(delta)), NodeIDs: inheritedNodeIDs}
	pub = pub.WithNodeID(f.localID)
	for key, entry := range delta {
		insertedAt, ok := f.table.InsertedAt(key)
		if !ok {
			insertedAt = now
		}
		v, keep := egressValue(entry.Value, insertedAt, now)
		if !keep {
			continue
		}
		pub.KeyVals[key] = v
	}
	return pub
}

// Flood forwards a non-empty effective delta to the appropriate subset of
// established peers, excluding inboundPeer (the edge the publication
// arrived on, empty for locally originated deltas) per §4.2's
// split-horizon rule. A send failure to one peer never blocks sends to
// others (§4.2 "Failure semantics"); all failures are aggregated and
// returned via hashicorp/go-multierror the way dKV's dstore layer
// aggregates per-shard replication errors.
func (f *Flooder) Flood(areaID string, delta EffectiveDelta, inboundPeer string, inheritedNodeIDs []string, now time.Time) error {
	if len(delta) == 0 {
		return nil
	}
	pub := f.buildEgressPublication(areaID, delta, inheritedNodeIDs, now)
	if len(pub.KeyVals) == 0 {
		return nil
	}

	targets := f.floodTargets(delta, inboundPeer)

	var errs error
	for _, peerName := range targets {
		if err := f.sender.SendPublication(peerName, pub); err != nil {
			errs = multierror.Append(errs, NewError(CodeInternal, "flood to %s: %v", peerName, err))
			if f.peers.RecordFailure(peerName) {
				continue
			}
		}
	}
	return errs
}

// floodTargets computes the peer names to forward to: tree edges under
// the originator's spanning tree when the optional module is enabled and
// has an election for that originator, otherwise every established peer
// except inboundPeer (§4.2 "Incremental flood").
func (f *Flooder) floodTargets(delta EffectiveDelta, inboundPeer string) []string {
	established := f.peers.Established()

	if f.tree != nil {
		originators := make(map[string]struct{})
		for _, e := range delta {
			originators[e.Value.OriginatorID] = struct{}{}
		}
		seen := make(map[string]struct{})
		var targets []string
		for originator := range originators {
			children := f.tree.Children(originator)
			if children == nil {
				// no election for this originator yet: broadcast fallback
				children = make([]string, 0, len(established))
				for _, p := range established {
					children = append(children, p.Name)
				}
			}
			for _, child := range children {
				if child == inboundPeer {
					continue
				}
				if _, ok := seen[child]; ok {
					continue
				}
				seen[child] = struct{}{}
				targets = append(targets, child)
			}
		}
		return targets
	}

	targets := make([]string, 0, len(established))
	for _, p := range established {
		if p.Name == inboundPeer {
			continue
		}
		targets = append(targets, p.Name)
	}
	return targets
}

// DumpDifference implements the §4.2 dump-difference algorithm: given the
// local hash-only map and the peer's requested map (their own hash dump),
// it returns the set of keys the local side should send full values for -
// keys the peer is missing, plus keys where hashes differ and the local
// value is not strictly worse.
func DumpDifference(local, theirs map[string]Value) []string {
	var out []string
	for key, l := range local {
		t, ok := theirs[key]
		if !ok {
			out = append(out, key)
			continue
		}
		if l.Hash == t.Hash {
			continue
		}
		if compareValues(l, t) == CompareIncomingBetter {
			// their value is strictly better; don't send ours
			continue
		}
		out = append(out, key)
	}
	return out
}

// FullSync performs the §4.2 full-sync exchange with peerName: exchange
// hash dumps, then sync in both directions - push the keys the peer is
// missing or holds a worse copy of, and pull the keys the peer holds that
// are missing locally or strictly better, merging the pulled batch through
// the same pipeline as any other inbound publication (§8 "Convergence": a
// newly added peer must not merely learn from us, we must learn from it
// too). On success the peer transitions to established; on any hard
// failure it transitions toward failed via RecordFailure.
func (f *Flooder) FullSync(peerName string, filter Filter, now time.Time) error {
	f.peers.SetSyncing(peerName)

	localHashes := f.table.Snapshot(filter, true)

	theirHashes, err := f.sender.RequestHashDump(peerName, filter)
	if err != nil {
		f.peers.RecordFailure(peerName)
		return NewError(CodeInternal, "hash dump exchange with %s: %v", peerName, err)
	}

	needed := DumpDifference(localHashes, theirHashes)
	if len(needed) > 0 {
		full := make(map[string]Value, len(needed))
		for _, k := range needed {
			if v, ok := f.table.Get(k); ok {
				full[k] = v
			}
		}
		pub := Publication{KeyVals: full}
		if err := f.sender.SendPublication(peerName, pub); err != nil {
			f.peers.RecordFailure(peerName)
			return NewError(CodeInternal, "pushing sync values to %s: %v", peerName, err)
		}
	}

	wanted := DumpDifference(theirHashes, localHashes)
	if len(wanted) > 0 {
		pulled, err := f.sender.RequestValues(peerName, wanted)
		if err != nil {
			f.peers.RecordFailure(peerName)
			return NewError(CodeInternal, "pulling sync values from %s: %v", peerName, err)
		}
		if len(pulled) > 0 && f.onSync != nil {
			f.onSync(peerName, pulled)
		}
	}

	f.peers.MarkEstablished(peerName, now)
	return nil
}

package kvstore

import (
	"context"
	"time"

	"github.com/kvflood/kvflood/lib/klog"
)

var storeLogger = klog.Get("kvstore")

// AreaConfig configures one area's Store (§2).
type AreaConfig struct {
	AreaID          string
	LocalNodeID     string
	UseSpanningTree bool // enable the optional DUAL module (§4.6)
}

// Store owns every component of one area: value table, merge engine, TTL
// scheduler, peer set, flooder, optional spanning tree, publisher
// registry and the event loop serializing access to all of them (§2, §5).
//
// A process runs one Store per configured area; areas never share mutable
// state (§5 "Shared resources").
type Store struct {
	cfg AreaConfig

	table    *ValueTable
	ttl      *TTLScheduler
	merge    *MergeEngine
	peers    *PeerSet
	tree     *SpanningTree
	flooder  *Flooder
	registry *PublisherRegistry
	metrics  *Metrics
	loop     *Loop
}

// NewStore builds a Store for the given area, using sender for peer I/O.
func NewStore(cfg AreaConfig, sender PeerSender, metrics *Metrics) *Store {
	table := NewValueTable()
	ttl := NewTTLScheduler()
	peers := NewPeerSet()

	var tree *SpanningTree
	if cfg.UseSpanningTree {
		tree = NewSpanningTree()
	}

	store := &Store{
		cfg:      cfg,
		table:    table,
		ttl:      ttl,
		merge:    NewMergeEngine(table, ttl),
		peers:    peers,
		tree:     tree,
		flooder:  NewFlooder(table, peers, sender, tree, cfg.LocalNodeID),
		registry: NewPublisherRegistry(table),
		metrics:  metrics,
		loop:     newLoop(),
	}
	// FullSync's reverse pull merges values learned from a peer through the
	// normal merge pipeline, with that peer excluded from re-flood
	// (split-horizon) the same way a peer-originated publication is.
	store.flooder.SetSyncHandler(func(peerName string, batch map[string]Value) {
		store.applyMerge(batch, MatchAllFilter, peerName, nil)
	})
	return store
}

// Run starts the area's event loop. It blocks; call it in its own
// goroutine (`go store.Run()`).
func (s *Store) Run() {
	s.loop.Run(func() {
		s.sweepExpired()
		s.selfRefresh(time.Now())
	})
}

// Stop shuts the event loop down. Already-queued tasks are drained first.
func (s *Store) Stop() {
	s.loop.Stop()
}

// AreaID returns the area this Store owns.
func (s *Store) AreaID() string {
	return s.cfg.AreaID
}

// Set implements §4.5 `set(key_vals)` = `merge(key_vals, none)` triggered
// by a local caller: no filter, no inbound peer to exclude from re-flood.
func (s *Store) Set(batch map[string]Value) (EffectiveDelta, MergeStats) {
	var delta EffectiveDelta
	var stats MergeStats
	s.loop.SubmitWait(func() {
		delta, stats = s.applyMerge(batch, MatchAllFilter, "", nil)
	})
	return delta, stats
}

// MergeFromPeer applies a batch received from peerName on the wire,
// excluding that peer from re-flood (§4.2 "split-horizon"). Loop-visited
// publications (§6 node_ids diagnostics) are dropped before merge.
func (s *Store) MergeFromPeer(peerName string, pub Publication) (EffectiveDelta, MergeStats) {
	if pub.HasVisited(s.cfg.LocalNodeID) {
		return nil, MergeStats{Reason: map[string]RejectReason{}}
	}
	ctx := klog.WithTags(context.Background(), "area", s.cfg.AreaID, "peer", peerName)
	for key, v := range pub.KeyVals {
		storeLogger.Debugf("%s inbound key=%s %s", klog.Tags(ctx), key, klog.RedactPeerPayload(v.Payload))
	}
	var delta EffectiveDelta
	var stats MergeStats
	s.loop.SubmitWait(func() {
		delta, stats = s.applyMerge(pub.KeyVals, MatchAllFilter, peerName, pub.NodeIDs)
	})
	return delta, stats
}

// applyMerge runs on the loop goroutine: merge, then fan out to
// subscribers and re-flood the effective delta (§2 "Data flow").
// inheritedNodeIDs carries the flood-loop trail of a peer-originated
// publication forward so the diagnostic keeps accumulating across hops.
func (s *Store) applyMerge(batch map[string]Value, filter Filter, inboundPeer string, inheritedNodeIDs []string) (EffectiveDelta, MergeStats) {
	now := time.Now()
	delta, stats := s.merge.Merge(batch, filter, now)

	if s.metrics != nil {
		s.metrics.ObserveMerge(s.cfg.AreaID, len(delta), stats)
		s.metrics.ObserveMergeLatency(time.Since(now))
	}

	if len(delta) == 0 {
		return delta, stats
	}

	s.registry.Publish(s.cfg.AreaID, delta, nil, now.UnixMilli())

	if err := s.flooder.Flood(s.cfg.AreaID, delta, inboundPeer, inheritedNodeIDs, now); err != nil {
		if s.metrics != nil {
			s.metrics.ObserveFloodError(s.cfg.AreaID)
		}
		ctx := klog.WithTags(context.Background(), "area", s.cfg.AreaID)
		storeLogger.Warningf("%s flood error: %v", klog.Tags(ctx), err)
	}

	return delta, stats
}

// sweepExpired runs on the loop goroutine every ttlSweepInterval,
// removing lapsed keys from the table and notifying subscribers with an
// expired-keys publication - no re-flood, since every replica expires
// independently from its own deadline (§4.3).
func (s *Store) sweepExpired() {
	now := time.Now()
	expired := s.ttl.Expired(now)
	if len(expired) == 0 {
		return
	}
	entries := make([]ExpiredEntry, 0, len(expired))
	for _, key := range expired {
		originatorID := ""
		if v, ok := s.table.Get(key); ok {
			originatorID = v.OriginatorID
		}
		s.table.Delete(key)
		entries = append(entries, ExpiredEntry{Key: key, OriginatorID: originatorID})
	}
	s.registry.Publish(s.cfg.AreaID, nil, entries, now.UnixMilli())
	if s.metrics != nil {
		s.metrics.ObserveExpiry(s.cfg.AreaID, len(expired))
	}
}

// selfRefreshFactor is the fraction of an originated key's ttl_ms that
// must have elapsed since it was last (re)inserted before this node
// re-publishes a ttl-version bump for it.
const selfRefreshFactor = 0.5

// defaultPeerLinkCost is the DUAL link cost assigned to every adjacency;
// this system doesn't yet carry a per-link cost metric, so every peer is
// treated as equidistant (§4.6).
const defaultPeerLinkCost uint32 = 1

// selfRefresh runs on the loop goroutine every ttlSweepInterval,
// re-publishing a ttl_version bump for every locally originated,
// finite-TTL key whose ttl has crossed the halfway point since it was
// last inserted or refreshed, so its ttl_ms lapses on downstream replicas
// no faster than it does here (§4.3 "Self-refresh": the originator keeps
// its own key alive without waiting for an external Set call).
func (s *Store) selfRefresh(now time.Time) {
	var refresh map[string]Value
	s.table.Range(func(key string, v Value) bool {
		if v.OriginatorID != s.cfg.LocalNodeID || v.TTLMs == InfinityTTL {
			return true
		}
		insertedAt, ok := s.table.InsertedAt(key)
		if !ok {
			return true
		}
		elapsed := now.Sub(insertedAt).Milliseconds()
		if float64(elapsed) < float64(v.TTLMs)*selfRefreshFactor {
			return true
		}
		bumped := v
		bumped.TTLVersion++
		bumped.SetHash()
		if refresh == nil {
			refresh = make(map[string]Value)
		}
		refresh[key] = bumped
		return true
	})
	if len(refresh) == 0 {
		return
	}
	s.applyMerge(refresh, MatchAllFilter, "", nil)
}

// Get implements §4.5 `get(keys)`: exact-match lookup, no regex. Value
// Table reads are safe off the loop goroutine (§9), so this bypasses the
// loop entirely.
func (s *Store) Get(keys []string) map[string]Value {
	return s.table.GetMany(keys)
}

// DumpAll implements §4.5 `dump_all(filter)`.
func (s *Store) DumpAll(filter Filter, suppressPayload bool) map[string]Value {
	return s.table.Snapshot(filter, suppressPayload)
}

// DumpHashes implements §4.5 `dump_hashes(filter)`.
func (s *Store) DumpHashes(filter Filter) map[string]Value {
	return s.table.Snapshot(filter, true)
}

// DumpDifference implements §4.5 `dump_difference(their_key_vals)` (§4.2
// algorithm), comparing against the caller-supplied hash-only map.
func (s *Store) DumpDifference(theirs map[string]Value) []string {
	local := s.table.Snapshot(MatchAllFilter, true)
	return DumpDifference(local, theirs)
}

// peerDirectory is the optional capability a PeerSender implements when it
// needs to learn a peer's transport address before it can be addressed
// (the rpc client's PeerClient implements it; test doubles usually don't).
type peerDirectory interface {
	RegisterPeer(name, endpoint string)
	UnregisterPeer(name string)
}

// AddPeer implements §4.5 `add_peer`, transitioning the new peer through
// full-sync on the loop goroutine.
func (s *Store) AddPeer(name, endpoint, tlsIdentity string) {
	s.loop.SubmitWait(func() {
		s.peers.Add(name, endpoint, tlsIdentity)
		if pd, ok := s.flooder.Sender().(peerDirectory); ok {
			pd.RegisterPeer(name, endpoint)
		}
		if s.tree != nil {
			s.tree.PeerUp(name, defaultPeerLinkCost)
		}
		if err := s.flooder.FullSync(name, MatchAllFilter, time.Now()); err != nil {
			if s.metrics != nil {
				s.metrics.ObserveSyncError(s.cfg.AreaID)
			}
			ctx := klog.WithTags(context.Background(), "area", s.cfg.AreaID, "peer", name)
			storeLogger.Warningf("%s full-sync failed: %v", klog.Tags(ctx), err)
		}
	})
}

// DelPeer implements §4.5 `del_peer(peer_name)`.
func (s *Store) DelPeer(name string) bool {
	var removed bool
	s.loop.SubmitWait(func() {
		removed = s.peers.Remove(name)
		if pd, ok := s.flooder.Sender().(peerDirectory); ok {
			pd.UnregisterPeer(name)
		}
		if s.tree != nil {
			s.tree.PeerDown(name)
		}
	})
	return removed
}

// ProcessDualMessage implements §6 `process_kv_store_dual_message`,
// recording peerName's advertised distance to root and letting the DUAL
// module recompute a feasible successor (§4.6). Returns a
// CodeModuleUnavailable error when the optional module is disabled for
// this area.
func (s *Store) ProcessDualMessage(peerName, root string, distance uint32) error {
	if s.tree == nil {
		return NewError(CodeModuleUnavailable, "spanning tree module disabled for area %q", s.cfg.AreaID)
	}
	s.loop.SubmitWait(func() {
		s.tree.UpdateAdvertisement(root, peerName, distance)
	})
	return nil
}

// UpdateFloodTopologyChild implements §6 `update_flood_topology_child`,
// adding or removing peerName as a fan-out child for floods originated at
// root.
func (s *Store) UpdateFloodTopologyChild(root, peerName string, add bool) error {
	if s.tree == nil {
		return NewError(CodeModuleUnavailable, "spanning tree module disabled for area %q", s.cfg.AreaID)
	}
	s.loop.SubmitWait(func() {
		if add {
			s.tree.AddChild(root, peerName)
		} else {
			s.tree.RemoveChild(root, peerName)
		}
	})
	return nil
}

// GetSptInfos implements §6 `get_spanning_tree_infos`.
func (s *Store) GetSptInfos() (map[string]SptInfo, error) {
	if s.tree == nil {
		return nil, NewError(CodeModuleUnavailable, "spanning tree module disabled for area %q", s.cfg.AreaID)
	}
	var out map[string]SptInfo
	s.loop.SubmitWait(func() {
		out = s.tree.Infos()
	})
	return out, nil
}

// GetStats implements §6 `get_merge_latency_stats`, a synchronous read of
// this process's rolling merge-latency window - shared across every area
// since Metrics is one process-wide instance (§9 "Global state").
func (s *Store) GetStats() StatsSnapshot {
	if s.metrics == nil {
		return StatsSnapshot{}
	}
	p50, p99, p999 := s.metrics.MergeLatencySnapshot()
	return StatsSnapshot{P50Us: p50, P99Us: p99, P999Us: p999}
}

// GetPeers implements §4.5 `get_peers() -> mapping`.
func (s *Store) GetPeers() map[string]Peer {
	var out map[string]Peer
	s.loop.SubmitWait(func() {
		out = s.peers.All()
	})
	return out
}

// Subscribe implements §4.4 `subscribe`. Running on the loop goroutine
// gives the snapshot+registration pair atomicity with respect to
// concurrent merges (§8 "Subscribe atomicity") for free.
func (s *Store) Subscribe(filter Filter, suppressPayload, ignoreTTLOnly bool) (map[string]Value, *Subscriber) {
	var snapshot map[string]Value
	var sub *Subscriber
	s.loop.SubmitWait(func() {
		snapshot, sub = s.registry.Subscribe(filter, suppressPayload, ignoreTTLOnly, 0)
	})
	return snapshot, sub
}

// Unsubscribe releases subscriber id.
func (s *Store) Unsubscribe(id string) {
	s.loop.SubmitWait(func() {
		s.registry.Unsubscribe(id)
	})
}

// AreaRegistry is the thin, immutable-after-startup map from area id to
// Store (§9 "Global state": "A thin top-level registry maps area-id to
// Store and is immutable after startup").
type AreaRegistry struct {
	areas map[string]*Store
}

// NewAreaRegistry builds a registry over the given stores, keyed by
// their own AreaID.
func NewAreaRegistry(stores ...*Store) *AreaRegistry {
	areas := make(map[string]*Store, len(stores))
	for _, s := range stores {
		areas[s.AreaID()] = s
	}
	return &AreaRegistry{areas: areas}
}

// Get returns the Store for area, or UNKNOWN_AREA (§4.5).
func (r *AreaRegistry) Get(area string) (*Store, error) {
	s, ok := r.areas[area]
	if !ok {
		return nil, UnknownArea(area)
	}
	return s, nil
}

// Areas returns the configured area ids.
func (r *AreaRegistry) Areas() []string {
	out := make([]string, 0, len(r.areas))
	for area := range r.areas {
		out = append(out, area)
	}
	return out
}

// DumpAllAreas implements the SPEC_FULL "multi-area filtered dump"
// supplemented feature, grounded on OpenrCtrlHandler's fan-out across
// every configured area's KvStoreDb.
func (r *AreaRegistry) DumpAllAreas(ctx context.Context, areas []string, filter Filter, suppressPayload bool) (map[string]Publication, error) {
	if len(areas) == 0 {
		areas = r.Areas()
	}
	out := make(map[string]Publication, len(areas))
	for _, area := range areas {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		default:
		}
		store, err := r.Get(area)
		if err != nil {
			return out, err
		}
		out[area] = Publication{AreaID: area, KeyVals: store.DumpAll(filter, suppressPayload)}
	}
	return out, nil
}

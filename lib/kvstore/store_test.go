package kvstore

import (
	"context"
	"testing"
	"time"
)

// TestStoreSetPublishesAndFloods covers §2's data flow end to end: a local
// Set merges into the table, fans out to subscribers, and floods to every
// established peer.
func TestStoreSetPublishesAndFloods(t *testing.T) {
	sender := &fakeSender{hashes: map[string]Value{}, values: map[string]Value{}}
	store := NewStore(AreaConfig{AreaID: "area1", LocalNodeID: "local"}, sender, nil)
	go store.Run()
	defer store.Stop()

	store.AddPeer("peerA", "peerA:1234", "")

	_, sub := store.Subscribe(MatchAllFilter, false, false)
	defer store.Unsubscribe(sub.ID)

	v := mkValue(1, "local", "hello", InfinityTTL, 1)
	delta, stats := store.Set(map[string]Value{"k": v})

	if len(delta) != 1 {
		t.Fatalf("expected one entry in the effective delta, got %d", len(delta))
	}
	if len(stats.Reason) != 0 {
		t.Fatalf("expected no rejections, got %v", stats.Reason)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	pub, ok := sub.Next(ctx)
	if !ok {
		t.Fatalf("expected a delivered publication")
	}
	if _, ok := pub.KeyVals["k"]; !ok {
		t.Fatalf("expected key k to be published to the subscriber")
	}

	if len(sender.published) != 1 {
		t.Fatalf("expected the delta to be flooded to the established peer, got %d sends", len(sender.published))
	}
	if _, ok := sender.published[0].KeyVals["k"]; !ok {
		t.Fatalf("expected the flooded publication to contain key k")
	}
}

// TestStoreMergeFromPeerExcludesInboundPeer covers §4.2's split-horizon
// rule: a publication merged in from peerA is not flooded straight back to
// peerA.
func TestStoreMergeFromPeerExcludesInboundPeer(t *testing.T) {
	senderA := &fakeSender{hashes: map[string]Value{}, values: map[string]Value{}}
	store := NewStore(AreaConfig{AreaID: "area1", LocalNodeID: "local"}, senderA, nil)
	go store.Run()
	defer store.Stop()

	store.AddPeer("peerA", "peerA:1", "")
	store.AddPeer("peerB", "peerB:1", "")
	senderA.published = nil // drop full-sync noise from AddPeer
	senderA.publishedTo = nil

	v := mkValue(1, "peerA", "from-peer", InfinityTTL, 1)
	delta, _ := store.MergeFromPeer("peerA", Publication{AreaID: "area1", KeyVals: map[string]Value{"k": v}})
	if len(delta) != 1 {
		t.Fatalf("expected the peer's value to be merged, got delta of size %d", len(delta))
	}

	for i, pub := range senderA.published {
		if _, ok := pub.KeyVals["k"]; ok && senderA.publishedTo[i] == "peerA" {
			t.Fatalf("expected key k not to be flooded back toward its inbound peer")
		}
	}
}

// TestStoreMergeFromPeerDropsVisitedPublication covers the flood-loop
// diagnostic: a publication that already carries this node's id in
// NodeIDs has looped back and must be dropped before merge.
func TestStoreMergeFromPeerDropsVisitedPublication(t *testing.T) {
	store := NewStore(AreaConfig{AreaID: "area1", LocalNodeID: "local"}, &fakeSender{}, nil)
	go store.Run()
	defer store.Stop()

	pub := Publication{
		AreaID:  "area1",
		KeyVals: map[string]Value{"k": mkValue(1, "peerA", "v", InfinityTTL, 1)},
		NodeIDs: []string{"peerA", "local"},
	}
	delta, _ := store.MergeFromPeer("peerA", pub)
	if len(delta) != 0 {
		t.Fatalf("expected a looped-back publication to be dropped, got delta of size %d", len(delta))
	}
}

// TestStoreSweepExpiredFiltersSubscribers is the case the reviewed
// filter-isolation bug would have failed: a subscriber scoped to one
// originator must not be notified when an unrelated key expires.
func TestStoreSweepExpiredFiltersSubscribers(t *testing.T) {
	store := NewStore(AreaConfig{AreaID: "area1", LocalNodeID: "local"}, &fakeSender{}, nil)
	go store.Run()
	defer store.Stop()

	filter, err := NewFilter(nil, []string{"watched"}, CombinatorOR)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, sub := store.Subscribe(filter, false, false)
	defer store.Unsubscribe(sub.ID)

	store.Set(map[string]Value{
		"watched-key":   mkValue(1, "watched", "v", 1, 1),
		"unwatched-key": mkValue(1, "other", "v", 1, 1),
	})

	// drain the live-delta publication from the Set itself before
	// asserting on the expiry notification.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), time.Second)
	if _, ok := sub.Next(drainCtx); !ok {
		drainCancel()
		t.Fatalf("expected the initial Set to deliver a publication")
	}
	drainCancel()

	time.Sleep(20 * time.Millisecond) // let both ttls lapse
	store.loop.SubmitWait(func() { store.sweepExpired() })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	pub, ok := sub.Next(ctx)
	if !ok {
		t.Fatalf("expected a delivered publication for the watched key's expiry")
	}
	if len(pub.ExpiredKeys) != 1 || pub.ExpiredKeys[0] != "watched-key" {
		t.Fatalf("expected only watched-key's expiry to be delivered, got %v", pub.ExpiredKeys)
	}

	// nothing else should arrive for the unwatched key.
	shortCtx, shortCancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer shortCancel()
	if _, ok := sub.Next(shortCtx); ok {
		t.Fatalf("expected no further delivery for the unwatched key's expiry")
	}
}

// TestStoreGetReadsTable covers §4.5 get(keys) as a direct table read that
// bypasses the loop.
func TestStoreGetReadsTable(t *testing.T) {
	store := NewStore(AreaConfig{AreaID: "area1", LocalNodeID: "local"}, &fakeSender{}, nil)
	go store.Run()
	defer store.Stop()

	store.Set(map[string]Value{"k": mkValue(1, "local", "v", InfinityTTL, 1)})

	got := store.Get([]string{"k", "missing"})
	if len(got) != 1 {
		t.Fatalf("expected exactly one key to resolve, got %d", len(got))
	}
	if _, ok := got["missing"]; ok {
		t.Fatalf("expected a missing key to be omitted")
	}
}

// TestStoreDualDisabledReturnsModuleUnavailable covers the spanning-tree
// module's optional-per-area gating (§4.6).
func TestStoreDualDisabledReturnsModuleUnavailable(t *testing.T) {
	store := NewStore(AreaConfig{AreaID: "area1", LocalNodeID: "local", UseSpanningTree: false}, &fakeSender{}, nil)
	go store.Run()
	defer store.Stop()

	if err := store.ProcessDualMessage("peerA", "root", 1); err == nil {
		t.Fatalf("expected an error when the spanning tree module is disabled")
	}
	if _, err := store.GetSptInfos(); err == nil {
		t.Fatalf("expected an error when the spanning tree module is disabled")
	}
}

// TestStoreDualEnabledWiresPeerUpDown covers the review fix wiring
// SpanningTree.PeerUp/PeerDown into AddPeer/DelPeer: once a root's
// advertisement is known, adding the advertising peer must register its
// link cost and let DUAL pick it as feasible successor.
func TestStoreDualEnabledWiresPeerUpDown(t *testing.T) {
	store := NewStore(AreaConfig{AreaID: "area1", LocalNodeID: "local", UseSpanningTree: true}, &fakeSender{hashes: map[string]Value{}, values: map[string]Value{}}, nil)
	go store.Run()
	defer store.Stop()

	if err := store.ProcessDualMessage("peerA", "root1", 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	store.AddPeer("peerA", "peerA:1", "")

	infos, err := store.GetSptInfos()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	info, ok := infos["root1"]
	if !ok {
		t.Fatalf("expected root1 to have a route recorded, got %v", infos)
	}
	if info.Parent != "peerA" || info.Distance != 4 {
		t.Fatalf("expected peerA as feasible successor at distance 4 (cost 1 + advertised 3), got %+v", info)
	}

	store.DelPeer("peerA")
	infos, err = store.GetSptInfos()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if infos["root1"].Parent != "" {
		t.Fatalf("expected root1 to lose its successor after PeerDown, got %+v", infos["root1"])
	}
}

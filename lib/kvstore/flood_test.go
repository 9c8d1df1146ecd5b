package kvstore

import (
	"testing"
	"time"
)

// fakeSender is a minimal PeerSender for exercising Flooder.FullSync
// without a real transport, the same narrow-fake style flood_test.go's
// dKV ancestor uses for its transport-agnostic algorithm tests.
type fakeSender struct {
	hashes    map[string]Value
	values    map[string]Value
	published []Publication
	// publishedTo[i] is the peer published[i] was sent to
	publishedTo []string
}

func (f *fakeSender) SendPublication(peerName string, pub Publication) error {
	f.published = append(f.published, pub)
	f.publishedTo = append(f.publishedTo, peerName)
	return nil
}

func (f *fakeSender) RequestHashDump(peerName string, filter Filter) (map[string]Value, error) {
	return f.hashes, nil
}

func (f *fakeSender) RequestValues(peerName string, keys []string) (map[string]Value, error) {
	out := make(map[string]Value, len(keys))
	for _, k := range keys {
		if v, ok := f.values[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

// TestFullSyncPullsPeerUniqueValues covers §4.2/§8's convergence
// requirement: FullSync must not only push the local node's better/unique
// values to a newly added peer, it must also pull the peer's own
// better/unique values back through the sync handler.
func TestFullSyncPullsPeerUniqueValues(t *testing.T) {
	table := NewValueTable()
	peers := NewPeerSet()
	peers.Add("peerA", "peerA:1234", "")

	peerOnly := mkValue(1, "peerA", "only-on-peer", InfinityTTL, 1)
	sender := &fakeSender{
		hashes: map[string]Value{"b": peerOnly},
		values: map[string]Value{"b": peerOnly},
	}

	flooder := NewFlooder(table, peers, sender, nil, "local")

	var syncedFrom string
	var syncedBatch map[string]Value
	flooder.SetSyncHandler(func(peerName string, batch map[string]Value) {
		syncedFrom = peerName
		syncedBatch = batch
	})

	if err := flooder.FullSync("peerA", MatchAllFilter, time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if syncedFrom != "peerA" {
		t.Fatalf("expected sync handler to fire for peerA, got %q", syncedFrom)
	}
	if v, ok := syncedBatch["b"]; !ok || string(v.Payload) != "only-on-peer" {
		t.Fatalf("expected pulled batch to contain peer's unique value for key b, got %v", syncedBatch)
	}
}

func TestDumpDifferenceIncludesMissingKeys(t *testing.T) {
	local := map[string]Value{"a": mkValue(1, "n", "va", InfinityTTL, 1)}
	theirs := map[string]Value{}

	diff := DumpDifference(local, theirs)
	if len(diff) != 1 || diff[0] != "a" {
		t.Fatalf("expected the peer-missing key to be included, got %v", diff)
	}
}

func TestDumpDifferenceSkipsIdenticalHashes(t *testing.T) {
	v := mkValue(1, "n", "va", InfinityTTL, 1)
	local := map[string]Value{"a": v}
	theirs := map[string]Value{"a": v}

	diff := DumpDifference(local, theirs)
	if len(diff) != 0 {
		t.Fatalf("expected identical hashes to produce no difference, got %v", diff)
	}
}

// TestDumpDifferenceSkipsWhenPeerIsBetter covers §4.2: "never include a
// key whose local compareValues declares the peer's value strictly
// better".
func TestDumpDifferenceSkipsWhenPeerIsBetter(t *testing.T) {
	local := map[string]Value{"a": mkValue(1, "n", "old", InfinityTTL, 1)}
	theirs := map[string]Value{"a": mkValue(2, "n", "new", InfinityTTL, 1)}

	diff := DumpDifference(local, theirs)
	if len(diff) != 0 {
		t.Fatalf("expected no diff when the peer's value is strictly better, got %v", diff)
	}
}

func TestDumpDifferenceIncludesWhenLocalIsBetter(t *testing.T) {
	local := map[string]Value{"a": mkValue(3, "n", "new", InfinityTTL, 1)}
	theirs := map[string]Value{"a": mkValue(1, "n", "old", InfinityTTL, 1)}

	diff := DumpDifference(local, theirs)
	if len(diff) != 1 {
		t.Fatalf("expected local's better value to be sent, got %v", diff)
	}
}

package kvstore

import (
	"testing"
	"time"
)

func TestPeerSetAddAndGet(t *testing.T) {
	peers := NewPeerSet()
	peers.Add("peer1", "10.0.0.1:1234", "")

	p, ok := peers.Get("peer1")
	if !ok {
		t.Fatalf("expected peer1 to be present")
	}
	if p.SyncState != SyncIdle {
		t.Fatalf("expected a newly added peer to start idle, got %v", p.SyncState)
	}
}

func TestPeerSetRecordFailureTransitionsToFailed(t *testing.T) {
	peers := NewPeerSet()
	peers.Add("peer1", "10.0.0.1:1234", "")

	var transitioned bool
	for i := 0; i < maxSyncFailures; i++ {
		transitioned = peers.RecordFailure("peer1")
	}

	if !transitioned {
		t.Fatalf("expected the peer to transition to failed on the final failure")
	}
	p, _ := peers.Get("peer1")
	if p.SyncState != SyncFailed {
		t.Fatalf("expected peer1 to be marked failed, got %v", p.SyncState)
	}
}

func TestPeerSetMarkEstablishedResetsFailures(t *testing.T) {
	peers := NewPeerSet()
	peers.Add("peer1", "10.0.0.1:1234", "")
	peers.RecordFailure("peer1")

	peers.MarkEstablished("peer1", time.Now())
	p, _ := peers.Get("peer1")
	if p.SyncState != SyncEstablished || p.consecutiveFailures != 0 {
		t.Fatalf("expected established state and reset failure count, got %+v", p)
	}
}

func TestPeerSetRemove(t *testing.T) {
	peers := NewPeerSet()
	peers.Add("peer1", "10.0.0.1:1234", "")
	if !peers.Remove("peer1") {
		t.Fatalf("expected removal of an existing peer to report true")
	}
	if _, ok := peers.Get("peer1"); ok {
		t.Fatalf("expected peer1 to be gone")
	}
}

func TestPeerSetEstablishedExcludesOthers(t *testing.T) {
	peers := NewPeerSet()
	peers.Add("a", "addr", "")
	peers.Add("b", "addr", "")
	peers.MarkEstablished("a", time.Now())

	established := peers.Established()
	if len(established) != 1 || established[0].Name != "a" {
		t.Fatalf("expected only peer a to be established, got %v", established)
	}
}

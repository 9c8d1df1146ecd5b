package kvstore

import (
	"testing"
	"time"

	"github.com/hashicorp/memberlist"
)

// TestMembershipDelegateForwardsJoinLeave covers the one piece of
// Membership that doesn't require standing up a real gossip agent: the
// NotifyJoin/NotifyLeave adapter that turns memberlist's own callbacks
// into MembershipEvent values on the area loop's channel, preserving the
// single-writer discipline (§5) by never touching the PeerSet directly.
func TestMembershipDelegateForwardsJoinLeave(t *testing.T) {
	eventCh := make(chan MembershipEvent, 2)
	delegate := &membershipDelegate{eventCh: eventCh}

	delegate.NotifyJoin(&memberlist.Node{Name: "peerA"})
	delegate.NotifyLeave(&memberlist.Node{Name: "peerA"})

	select {
	case ev := <-eventCh:
		if ev.PeerName != "peerA" || !ev.Joined {
			t.Fatalf("expected a join event for peerA, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected a join event to be forwarded")
	}

	select {
	case ev := <-eventCh:
		if ev.PeerName != "peerA" || ev.Joined {
			t.Fatalf("expected a leave event for peerA, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected a leave event to be forwarded")
	}
}

// TestMembershipDelegateUpdateIsANoOp documents that NotifyUpdate carries
// no liveness information Membership's consumer needs; it must not panic
// or block on the event channel.
func TestMembershipDelegateUpdateIsANoOp(t *testing.T) {
	eventCh := make(chan MembershipEvent)
	delegate := &membershipDelegate{eventCh: eventCh}
	delegate.NotifyUpdate(&memberlist.Node{Name: "peerA"})
}

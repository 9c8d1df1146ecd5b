package kvstore

import "testing"

func mkValue(version uint64, originator string, payload string, ttlMs int64, ttlVersion uint64) Value {
	v := Value{
		Version:      version,
		OriginatorID: originator,
		Payload:      []byte(payload),
		TTLMs:        ttlMs,
		TTLVersion:   ttlVersion,
	}
	v.SetHash()
	return v
}

// TestCompareValuesVersionWins covers scenario 2 of the spec's end-to-end
// scenarios: a higher version always wins regardless of originator.
func TestCompareValuesVersionWins(t *testing.T) {
	current := mkValue(1, "nodeA", "v1", 30000, 1)
	incoming := mkValue(2, "nodeZ", "v2", 30000, 1)

	if got := compareValues(current, incoming); got != CompareIncomingBetter {
		t.Fatalf("expected incoming to win on version, got %v", got)
	}
}

// TestCompareValuesOriginatorTieBreak covers scenario 3: equal versions
// resolve on lexicographically larger originator id, independent of
// argument order.
func TestCompareValuesOriginatorTieBreak(t *testing.T) {
	a := mkValue(5, "nodeA", "vA", 30000, 1)
	b := mkValue(5, "nodeB", "vB", 30000, 1)

	if got := compareValues(a, b); got != CompareIncomingBetter {
		t.Fatalf("expected nodeB to win as incoming, got %v", got)
	}
	if got := compareValues(b, a); got != CompareCurrentBetter {
		t.Fatalf("expected nodeB to remain the winner when it is current, got %v", got)
	}
}

// TestCompareValuesTTLOnlyRefresh covers scenario 4: identical version,
// originator and payload but a higher ttl_version is a refresh, not a
// version bump.
func TestCompareValuesTTLOnlyRefresh(t *testing.T) {
	current := mkValue(1, "n", "v", 30000, 1)
	incoming := current
	incoming.TTLMs = 50000
	incoming.TTLVersion = 2

	if got := compareValues(current, incoming); got != CompareIncomingBetter {
		t.Fatalf("expected ttl_version bump to win, got %v", got)
	}
}

// TestCompareValuesMissingPayloadEqualHash covers §8's boundary behavior:
// "comparison with missing payload on one side and matching hashes is
// equal".
func TestCompareValuesMissingPayloadEqualHash(t *testing.T) {
	full := mkValue(1, "n", "v", 30000, 1)
	hashOnly := full.WithoutPayload()

	if got := compareValues(full, hashOnly); got != CompareEqual {
		t.Fatalf("expected hash-equal missing payload to compare equal, got %v", got)
	}
}

// TestCompareValuesBothMissingPayloadDifferentHash covers §8's boundary
// behavior: "comparison with missing payload on both sides and differing
// hashes is unknown".
func TestCompareValuesBothMissingPayloadDifferentHash(t *testing.T) {
	a := mkValue(1, "n", "v1", 30000, 1).WithoutPayload()
	b := mkValue(1, "n", "v2", 30000, 1).WithoutPayload()
	// force distinct hashes despite the identical (version, originator)
	b.Hash = a.Hash + 1

	if got := compareValues(a, b); got != CompareUnknown {
		t.Fatalf("expected unknown comparison, got %v", got)
	}
}

// TestCompareValuesIdempotence covers §8's idempotence property applied
// to a single value: comparing a value against an identical copy of
// itself is always equal.
func TestCompareValuesIdempotence(t *testing.T) {
	v := mkValue(3, "node1", "payload", 1000, 1)
	if got := compareValues(v, v); got != CompareEqual {
		t.Fatalf("expected a value to compare equal to itself, got %v", got)
	}
}

func TestValueCloneIsIndependent(t *testing.T) {
	v := mkValue(1, "n", "v", 1000, 1)
	cp := v.Clone()
	cp.Payload[0] = 'X'

	if v.Payload[0] == 'X' {
		t.Fatalf("mutating the clone's payload mutated the original")
	}
}

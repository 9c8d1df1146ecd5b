package kvstore

import (
	"testing"
	"time"
)

// TestValueTableSimpleSetGet covers scenario 1 of the spec's end-to-end
// scenarios.
func TestValueTableSimpleSetGet(t *testing.T) {
	table := NewValueTable()
	v := mkValue(1, "node1", "value1", 30000, 1)
	table.Put("key1", v, time.Now())

	got := table.GetMany([]string{"key1"})
	if len(got) != 1 {
		t.Fatalf("expected exactly one result, got %d", len(got))
	}
	if string(got["key1"].Payload) != "value1" {
		t.Fatalf("unexpected payload: %q", got["key1"].Payload)
	}
}

func TestValueTableGetManyExactMatchOnly(t *testing.T) {
	table := NewValueTable()
	table.Put("key1", mkValue(1, "n", "v1", 30000, 1), time.Now())
	table.Put("key11", mkValue(1, "n", "v2", 30000, 1), time.Now())

	got := table.GetMany([]string{"key1"})
	if len(got) != 1 {
		t.Fatalf("expected exact match to exclude key11, got %d results", len(got))
	}
}

func TestValueTableSnapshotIsIndependent(t *testing.T) {
	table := NewValueTable()
	table.Put("key1", mkValue(1, "n", "v1", 30000, 1), time.Now())

	snap := table.Snapshot(MatchAllFilter, false)
	snap["key1"] = Value{}

	got, _ := table.Get("key1")
	if string(got.Payload) != "v1" {
		t.Fatalf("mutating the snapshot copy mutated the stored value")
	}
}

// TestValueTableSnapshotSuppressPayload covers scenario 6: hash dump
// strips payload but keeps hash, version, ttl and originator.
func TestValueTableSnapshotSuppressPayload(t *testing.T) {
	table := NewValueTable()
	v := mkValue(2, "node3", "value333", 30000, 1)
	table.Put("key333", v, time.Now())

	snap := table.Snapshot(MatchAllFilter, true)
	got := snap["key333"]
	if got.Payload != nil {
		t.Fatalf("expected payload to be suppressed")
	}
	if got.Hash != v.Hash || got.Version != v.Version || got.OriginatorID != v.OriginatorID {
		t.Fatalf("expected hash/version/originator to survive suppression")
	}
}

func TestValueTableDelete(t *testing.T) {
	table := NewValueTable()
	table.Put("key1", mkValue(1, "n", "v", 30000, 1), time.Now())
	table.Delete("key1")

	if _, ok := table.Get("key1"); ok {
		t.Fatalf("expected key1 to be gone after delete")
	}
}

package kvstore

import (
	"testing"
	"time"
)

func newTestEngine() (*MergeEngine, *ValueTable, *TTLScheduler) {
	table := NewValueTable()
	ttl := NewTTLScheduler()
	return NewMergeEngine(table, ttl), table, ttl
}

func TestMergeAcceptsFirstValue(t *testing.T) {
	engine, table, _ := newTestEngine()
	now := time.Now()

	delta, stats := engine.Merge(map[string]Value{
		"key1": mkValue(1, "node1", "value1", 30000, 1),
	}, MatchAllFilter, now)

	if len(delta) != 1 {
		t.Fatalf("expected one entry in the effective delta, got %d", len(delta))
	}
	if len(stats.Reason) != 0 {
		t.Fatalf("expected no rejections, got %v", stats.Reason)
	}
	if _, ok := table.Get("key1"); !ok {
		t.Fatalf("expected key1 to be stored")
	}
}

// TestMergeVersionWins covers scenario 2.
func TestMergeVersionWins(t *testing.T) {
	engine, table, _ := newTestEngine()
	now := time.Now()

	engine.Merge(map[string]Value{"k": mkValue(1, "nodeA", "v1", 30000, 1)}, MatchAllFilter, now)
	delta, stats := engine.Merge(map[string]Value{"k": mkValue(2, "nodeZ", "v2", 30000, 1)}, MatchAllFilter, now)

	if len(delta) != 1 {
		t.Fatalf("expected the higher version to produce a delta entry")
	}
	stored, _ := table.Get("k")
	if stored.Version != 2 || stored.OriginatorID != "nodeZ" || string(stored.Payload) != "v2" {
		t.Fatalf("unexpected stored value: %+v", stored)
	}
	if len(stats.Reason) != 0 {
		t.Fatalf("expected no rejections, got %v", stats.Reason)
	}
}

func TestMergeRejectsStaleVersion(t *testing.T) {
	engine, table, _ := newTestEngine()
	now := time.Now()

	engine.Merge(map[string]Value{"k": mkValue(5, "n", "new", 30000, 1)}, MatchAllFilter, now)
	delta, stats := engine.Merge(map[string]Value{"k": mkValue(3, "n", "old", 30000, 1)}, MatchAllFilter, now)

	if len(delta) != 0 {
		t.Fatalf("expected no delta for a stale version")
	}
	if stats.Reason["k"] != RejectOldVersion {
		t.Fatalf("expected OLD_VERSION, got %v", stats.Reason["k"])
	}
	stored, _ := table.Get("k")
	if string(stored.Payload) != "new" {
		t.Fatalf("stale merge must not overwrite the stored value")
	}
}

// TestMergeTTLOnlyRefresh covers scenario 4.
func TestMergeTTLOnlyRefresh(t *testing.T) {
	engine, table, ttlSched := newTestEngine()
	now := time.Now()

	engine.Merge(map[string]Value{"k": mkValue(1, "n", "v", 30000, 1)}, MatchAllFilter, now)

	refresh := mkValue(1, "n", "v", 50000, 2)
	delta, stats := engine.Merge(map[string]Value{"k": refresh}, MatchAllFilter, now)

	if len(delta) != 1 {
		t.Fatalf("expected the ttl refresh to appear in the delta")
	}
	entry := delta["k"]
	if !entry.TTLOnly {
		t.Fatalf("expected the delta entry to be marked TTL-only")
	}
	if string(entry.Value.Payload) != "v" {
		t.Fatalf("expected payload to be retained across a ttl-only refresh")
	}
	stored, _ := table.Get("k")
	if stored.TTLMs != 50000 || stored.TTLVersion != 2 {
		t.Fatalf("expected stored ttl fields to be updated: %+v", stored)
	}
	if len(stats.Reason) != 0 {
		t.Fatalf("expected no rejections for a ttl refresh, got %v", stats.Reason)
	}
	if ttlSched.Len() != 1 {
		t.Fatalf("expected the scheduler to still track exactly one key")
	}
}

func TestMergeRejectsInvalidTTL(t *testing.T) {
	engine, _, _ := newTestEngine()
	now := time.Now()

	v := mkValue(1, "n", "v", 0, 1) // below MinTTLMs, not the infinity sentinel
	delta, stats := engine.Merge(map[string]Value{"k": v}, MatchAllFilter, now)

	if len(delta) != 0 {
		t.Fatalf("expected an invalid ttl to be rejected")
	}
	if stats.Reason["k"] != RejectInvalidTTL {
		t.Fatalf("expected INVALID_TTL, got %v", stats.Reason["k"])
	}
	if len(stats.InvalidTTLs) != 1 || stats.InvalidTTLs[0].TTLMs != 0 {
		t.Fatalf("expected the observed ttl to be recorded")
	}
}

func TestMergeAcceptsInfinityTTL(t *testing.T) {
	engine, _, _ := newTestEngine()
	v := mkValue(1, "n", "v", InfinityTTL, 1)
	delta, _ := engine.Merge(map[string]Value{"k": v}, MatchAllFilter, time.Now())

	if len(delta) != 1 {
		t.Fatalf("expected the infinity ttl sentinel to be accepted")
	}
}

func TestMergeFilterExcludesNonMatchingKeys(t *testing.T) {
	engine, _, _ := newTestEngine()
	filter, err := NewFilter([]string{"allowed"}, nil, CombinatorOR)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	delta, stats := engine.Merge(map[string]Value{
		"allowedkey": mkValue(1, "n", "v", 30000, 1),
		"otherkey":   mkValue(1, "n", "v", 30000, 1),
	}, filter, time.Now())

	if _, ok := delta["allowedkey"]; !ok {
		t.Fatalf("expected the matching key to be merged")
	}
	if _, ok := delta["otherkey"]; ok {
		t.Fatalf("expected the non-matching key to be excluded")
	}
	if stats.Reason["otherkey"] != RejectNoMatchedKey {
		t.Fatalf("expected NO_MATCHED_KEY, got %v", stats.Reason["otherkey"])
	}
	if stats.NoMatchedKey != 1 {
		t.Fatalf("expected the no-matched-key counter to be 1, got %d", stats.NoMatchedKey)
	}
}

// TestMergeIdempotence covers §8's idempotence property: merge(B);
// merge(B) leaves the table unchanged and the second delta empty.
func TestMergeIdempotence(t *testing.T) {
	engine, table, _ := newTestEngine()
	batch := map[string]Value{"k": mkValue(1, "n", "v", 30000, 1)}

	engine.Merge(batch, MatchAllFilter, time.Now())
	delta, stats := engine.Merge(batch, MatchAllFilter, time.Now())

	if len(delta) != 0 {
		t.Fatalf("expected the second identical merge to produce an empty delta")
	}
	if stats.NoOpCount != 1 {
		t.Fatalf("expected a no-op count of 1, got %d", stats.NoOpCount)
	}
	stored, _ := table.Get("k")
	if string(stored.Payload) != "v" {
		t.Fatalf("expected the stored value to remain unchanged")
	}
}

// TestMergeUnknownComparisonNeverApplies covers §8: a comparison result
// of "unknown" must never mutate the table.
func TestMergeUnknownComparisonNeverApplies(t *testing.T) {
	engine, table, _ := newTestEngine()
	now := time.Now()

	current := mkValue(1, "n", "v1", 30000, 1).WithoutPayload()
	table.Put("k", current, now)

	incoming := mkValue(1, "n", "v2", 30000, 1).WithoutPayload()
	incoming.Hash = current.Hash + 1 // force differing hashes with both payloads absent

	delta, stats := engine.Merge(map[string]Value{"k": incoming}, MatchAllFilter, now)

	if len(delta) != 0 {
		t.Fatalf("expected an unknown comparison to never update the table")
	}
	if stats.Reason["k"] != RejectUnknownComparison {
		t.Fatalf("expected an unknown-comparison rejection, got %v", stats.Reason["k"])
	}
}

func TestMergeStatsAdd(t *testing.T) {
	a := newMergeStats()
	a.NoMatchedKey = 1
	a.Reason["x"] = RejectOldVersion

	b := newMergeStats()
	b.NoOpCount = 2
	b.Reason["y"] = RejectNoNeedToUpdate

	a.Add(b)

	if a.NoMatchedKey != 1 || a.NoOpCount != 2 {
		t.Fatalf("expected counters to accumulate, got %+v", a)
	}
	if len(a.Reason) != 2 {
		t.Fatalf("expected reasons from both reports to be present, got %v", a.Reason)
	}
}

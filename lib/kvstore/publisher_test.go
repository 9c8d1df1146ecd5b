package kvstore

import (
	"context"
	"testing"
	"time"
)

func TestPublisherSubscribeInitialSnapshot(t *testing.T) {
	table := NewValueTable()
	table.Put("key1", mkValue(1, "n", "v", 30000, 1), time.Now())
	registry := NewPublisherRegistry(table)

	snap, sub := registry.Subscribe(MatchAllFilter, false, false, 0)
	defer sub.Close()

	if len(snap) != 1 {
		t.Fatalf("expected the initial snapshot to contain the existing key")
	}
}

// TestPublisherFilterIsolation covers §8's "Filter isolation" property:
// subscribe delivers only and exactly the entries matching its filter.
func TestPublisherFilterIsolation(t *testing.T) {
	table := NewValueTable()
	registry := NewPublisherRegistry(table)

	filter, err := NewFilter([]string{"key33"}, []string{"node33"}, CombinatorAND)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, sub := registry.Subscribe(filter, false, false, 0)
	defer sub.Close()

	delta := EffectiveDelta{
		"key333":    {Value: mkValue(2, "node33", "value333", 30000, 1)},
		"unrelated": {Value: mkValue(1, "node99", "x", 30000, 1)},
	}
	registry.Publish("area1", delta, nil, time.Now().UnixMilli())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	pub, ok := sub.Next(ctx)
	if !ok {
		t.Fatalf("expected a delivered publication")
	}
	if len(pub.KeyVals) != 1 {
		t.Fatalf("expected exactly one matching entry, got %d", len(pub.KeyVals))
	}
	if _, ok := pub.KeyVals["key333"]; !ok {
		t.Fatalf("expected key333 to be delivered")
	}
}

// TestPublisherFilterIsolationExpiredKeys covers the same §8 "Filter
// isolation" property as TestPublisherFilterIsolation, but for expired-key
// notifications rather than live deltas: a subscriber scoped to one
// originator must not learn that an unrelated key expired.
func TestPublisherFilterIsolationExpiredKeys(t *testing.T) {
	table := NewValueTable()
	registry := NewPublisherRegistry(table)

	filter, err := NewFilter(nil, []string{"node33"}, CombinatorOR)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, sub := registry.Subscribe(filter, false, false, 0)
	defer sub.Close()

	expired := []ExpiredEntry{
		{Key: "key333", OriginatorID: "node33"},
		{Key: "unrelated", OriginatorID: "node99"},
	}
	registry.Publish("area1", nil, expired, time.Now().UnixMilli())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	pub, ok := sub.Next(ctx)
	if !ok {
		t.Fatalf("expected a delivered publication")
	}
	if len(pub.ExpiredKeys) != 1 || pub.ExpiredKeys[0] != "key333" {
		t.Fatalf("expected only key333's expiry to be delivered, got %v", pub.ExpiredKeys)
	}
}

// TestPublisherFilterIsolationExpiredKeysNoMatch covers the case where an
// expiring key doesn't match the subscriber's filter at all: no
// publication should be delivered, not even an empty one.
func TestPublisherFilterIsolationExpiredKeysNoMatch(t *testing.T) {
	table := NewValueTable()
	registry := NewPublisherRegistry(table)

	filter, err := NewFilter(nil, []string{"node33"}, CombinatorOR)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, sub := registry.Subscribe(filter, false, false, 0)
	defer sub.Close()

	registry.Publish("area1", nil, []ExpiredEntry{{Key: "unrelated", OriginatorID: "node99"}}, time.Now().UnixMilli())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, ok := sub.Next(ctx); ok {
		t.Fatalf("expected no delivery for an expired key outside the subscriber's filter")
	}
}

func TestPublisherIgnoreTTLOnly(t *testing.T) {
	table := NewValueTable()
	registry := NewPublisherRegistry(table)

	_, sub := registry.Subscribe(MatchAllFilter, false, true, 0)
	defer sub.Close()

	delta := EffectiveDelta{"k": {Value: mkValue(1, "n", "v", 30000, 2), TTLOnly: true}}
	registry.Publish("area1", delta, nil, time.Now().UnixMilli())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, ok := sub.Next(ctx); ok {
		t.Fatalf("expected a ttl-only delta to be dropped for an ignore-ttl-only subscriber")
	}
}

func TestPublisherSuppressPayload(t *testing.T) {
	table := NewValueTable()
	registry := NewPublisherRegistry(table)

	_, sub := registry.Subscribe(MatchAllFilter, true, false, 0)
	defer sub.Close()

	v := mkValue(1, "n", "v", 30000, 1)
	registry.Publish("area1", EffectiveDelta{"k": {Value: v}}, nil, time.Now().UnixMilli())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	pub, ok := sub.Next(ctx)
	if !ok {
		t.Fatalf("expected a delivered publication")
	}
	if pub.KeyVals["k"].Payload != nil {
		t.Fatalf("expected the payload to be suppressed")
	}
	if pub.KeyVals["k"].Hash != v.Hash {
		t.Fatalf("expected the hash to survive suppression")
	}
}

func TestPublisherUnsubscribeStopsDelivery(t *testing.T) {
	table := NewValueTable()
	registry := NewPublisherRegistry(table)

	_, sub := registry.Subscribe(MatchAllFilter, false, false, 0)
	registry.Unsubscribe(sub.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, ok := sub.Next(ctx); ok {
		t.Fatalf("expected no delivery after unsubscribe")
	}
}

func TestSubscriberQueueOldestDrop(t *testing.T) {
	table := NewValueTable()
	registry := NewPublisherRegistry(table)

	_, sub := registry.Subscribe(MatchAllFilter, false, false, 2)
	defer sub.Close()

	for i := 0; i < 5; i++ {
		registry.Publish("area1", EffectiveDelta{"k": {Value: mkValue(uint64(i+1), "n", "v", 30000, 1)}}, nil, time.Now().UnixMilli())
	}

	if !sub.Lagged() {
		t.Fatalf("expected the subscriber to be marked lagged after overflowing its queue")
	}
}

package kvstore

import (
	"context"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"
	"github.com/google/uuid"
)

// subscriberQueueSize is the default bound on a subscriber's undelivered
// publication queue before oldest-drop kicks in (§4.4 "Backpressure").
const subscriberQueueSize = 256

// Subscriber is one registered consumer of an area's effective deltas
// (§3 "Subscriber"). Publications are buffered in a bounded queue backed
// by hashicorp/golang-lru: because entries are never re-read before
// removal, the cache's least-recently-used eviction degenerates exactly
// to oldest-drop FIFO once the queue is full, which is the delivery
// strategy §4.4 asks for.
type Subscriber struct {
	ID              string
	Filter          Filter
	SuppressPayload bool
	IgnoreTTLOnly   bool

	queue   *lru.Cache
	nextSeq int64
	readSeq int64
	lagged  atomic.Bool
	notify  chan struct{}
	closed  atomic.Bool
}

func newSubscriber(id string, filter Filter, suppressPayload, ignoreTTLOnly bool, queueSize int) *Subscriber {
	s := &Subscriber{
		ID:              id,
		Filter:          filter,
		SuppressPayload: suppressPayload,
		IgnoreTTLOnly:   ignoreTTLOnly,
		notify:          make(chan struct{}, 1),
	}
	cache, err := lru.New(queueSize)
	if err != nil {
		// only possible for a non-positive size, which callers never pass
		cache, _ = lru.New(subscriberQueueSize)
	}
	s.queue = cache
	return s
}

// enqueue buffers pub for delivery and wakes any blocked Next call.
func (s *Subscriber) enqueue(pub Publication) {
	if s.closed.Load() {
		return
	}
	seq := s.nextSeq
	s.nextSeq++
	if evicted := s.queue.Add(seq, pub); evicted {
		// the oldest undelivered publication was dropped to make room
		s.lagged.Store(true)
	}
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next blocks until a publication is available, ctx is cancelled, or the
// subscriber is torn down. ok is false in the latter two cases.
func (s *Subscriber) Next(ctx context.Context) (Publication, bool) {
	for {
		if v, ok := s.queue.Get(s.readSeq); ok {
			s.queue.Remove(s.readSeq)
			s.readSeq++
			return v.(Publication), true
		}

		if s.closed.Load() && s.queue.Len() == 0 {
			return Publication{}, false
		}

		if keys := s.queue.Keys(); len(keys) > 0 {
			// our read cursor fell inside a gap left by eviction; resync
			// to the oldest buffered entry (§4.4 "lagged" behavior)
			s.readSeq = keys[0].(int64)
			continue
		}

		select {
		case <-s.notify:
			continue
		case <-ctx.Done():
			return Publication{}, false
		}
	}
}

// Lagged reports whether this subscriber has ever dropped a publication
// due to queue overflow. Once set, the flag stays set.
func (s *Subscriber) Lagged() bool {
	return s.lagged.Load()
}

// Close tears down the subscriber, releasing its buffered frames and
// unblocking any pending Next call (§4.4 "Cancellation").
func (s *Subscriber) Close() {
	if s.closed.CompareAndSwap(false, true) {
		s.queue.Purge()
		close(s.notify)
	}
}

// PublisherRegistry multiplexes an area's effective deltas out to active
// subscribers, applying each subscriber's filter, ignore-ttl-only flag,
// and payload-suppression flag independently (§4.4).
//
// Owned exclusively by the area event loop; Subscribe and Publish always
// run on that single goroutine, which is what gives subscribe atomicity
// (§8 "Subscribe atomicity") for free - there is no window between
// snapshotting the table and registering the subscriber for another
// merge to land in.
type PublisherRegistry struct {
	table *ValueTable
	subs  map[string]*Subscriber
}

// NewPublisherRegistry creates an empty registry bound to table.
func NewPublisherRegistry(table *ValueTable) *PublisherRegistry {
	return &PublisherRegistry{table: table, subs: make(map[string]*Subscriber)}
}

// Subscribe implements §4.4's `subscribe(filter, suppress_payload,
// ignore_ttl_only) -> (initial_snapshot, stream_handle)`. queueSize <= 0
// selects subscriberQueueSize.
func (r *PublisherRegistry) Subscribe(filter Filter, suppressPayload, ignoreTTLOnly bool, queueSize int) (map[string]Value, *Subscriber) {
	if queueSize <= 0 {
		queueSize = subscriberQueueSize
	}
	snapshot := r.table.Snapshot(filter, suppressPayload)
	sub := newSubscriber(uuid.NewString(), filter, suppressPayload, ignoreTTLOnly, queueSize)
	r.subs[sub.ID] = sub
	return snapshot, sub
}

// Unsubscribe tears down and removes subscriber id, the consumer-side
// cancellation path of §4.4.
func (r *PublisherRegistry) Unsubscribe(id string) {
	if sub, ok := r.subs[id]; ok {
		sub.Close()
		delete(r.subs, id)
	}
}

// ExpiredEntry is one key removed from the table by TTL expiry, carrying
// the originator it was authored by so Publish can filter it into
// subscribers exactly like a live delta entry (§8 "Filter isolation").
// The value itself is gone by the time expiry is noticed, so this is the
// only context that survives.
type ExpiredEntry struct {
	Key          string
	OriginatorID string
}

// Publish delivers pub to every subscriber whose filter matches at least
// one entry, applying the per-subscriber ignore-ttl-only and
// suppress-payload rules before delivery (§4.4 "Delivery rule"). Entries
// that fail the subscriber's filter or are dropped by ignore-ttl-only are
// simply excluded from that subscriber's copy; if nothing survives, no
// message is delivered to that subscriber for this delta. Expired keys go
// through the same per-subscriber Filter.Match test as live entries, keyed
// on the originator captured before the table entry was deleted, so a
// subscriber scoped to one key/originator never learns that an unrelated
// key expired (§8 "Filter isolation").
func (r *PublisherRegistry) Publish(areaID string, delta EffectiveDelta, expired []ExpiredEntry, now int64) {
	if len(delta) == 0 && len(expired) == 0 {
		return
	}

	for _, sub := range r.subs {
		keyVals := make(map[string]Value)
		for key, entry := range delta {
			if sub.IgnoreTTLOnly && entry.TTLOnly {
				continue
			}
			if !sub.Filter.Match(key, entry.Value.OriginatorID) {
				continue
			}
			v := entry.Value
			if sub.SuppressPayload {
				v = v.WithoutPayload()
			}
			keyVals[key] = v
		}

		var expiredKeys []string
		for _, e := range expired {
			if !sub.Filter.Match(e.Key, e.OriginatorID) {
				continue
			}
			expiredKeys = append(expiredKeys, e.Key)
		}

		if len(keyVals) == 0 && len(expiredKeys) == 0 {
			continue
		}

		sub.enqueue(Publication{
			AreaID:      areaID,
			KeyVals:     keyVals,
			ExpiredKeys: expiredKeys,
			TimestampMs: now,
		})
	}
}

// Len returns the number of currently registered subscribers.
func (r *PublisherRegistry) Len() int {
	return len(r.subs)
}

package kvstore

import (
	"container/heap"
	"time"
)

// ttlEntry is one scheduled expiry deadline, keyed by table key. It is the
// string-keyed, deadline-priority sibling of dKV's lib/db/util.MapHeap,
// adapted from garbage-collection bookkeeping to the TTL Scheduler's
// deadline queue (§4.3).
type ttlEntry struct {
	key      string
	deadline int64 // UnixNano; unused when infinite == true
	infinite bool
	index    int
}

// ttlHeap is a container/heap.Interface min-heap ordered by deadline, plus
// an index for O(1) key lookup - the same "heap for order, map for
// identity" shape as MapHeap, generalized from uint64 keys/priorities to
// string keys and time deadlines.
type ttlHeap struct {
	entries []*ttlEntry
	byKey   map[string]*ttlEntry
}

func newTTLHeap() *ttlHeap {
	return &ttlHeap{byKey: make(map[string]*ttlEntry)}
}

func (h *ttlHeap) Len() int { return len(h.entries) }

func (h *ttlHeap) Less(i, j int) bool {
	a, b := h.entries[i], h.entries[j]
	if a.infinite != b.infinite {
		return b.infinite // finite deadlines sort before infinite ones
	}
	return a.deadline < b.deadline
}

func (h *ttlHeap) Swap(i, j int) {
	h.entries[i], h.entries[j] = h.entries[j], h.entries[i]
	h.entries[i].index = i
	h.entries[j].index = j
}

func (h *ttlHeap) Push(x interface{}) {
	e := x.(*ttlEntry)
	e.index = len(h.entries)
	h.entries = append(h.entries, e)
	h.byKey[e.key] = e
}

func (h *ttlHeap) Pop() interface{} {
	old := h.entries
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	h.entries = old[:n-1]
	delete(h.byKey, e.key)
	return e
}

// TTLScheduler drives independent per-key expiry (§4.3). Every table
// mutation that refreshes a key's deadline calls Schedule; the area event
// loop drains Expired periodically to find keys whose ttl has lapsed.
//
// Not safe for concurrent use - like the value table, it is owned
// exclusively by its area's event loop goroutine (§5).
type TTLScheduler struct {
	h *ttlHeap
}

// NewTTLScheduler creates an empty scheduler.
func NewTTLScheduler() *TTLScheduler {
	s := &TTLScheduler{h: newTTLHeap()}
	heap.Init(s.h)
	return s
}

// Schedule (re)sets key's expiry deadline. ttlMs == InfinityTTL removes any
// finite deadline and marks the key as never expiring. MergeEngine.accept
// calls it next to ValueTable.Put, so every accepted entry refreshes its
// expiry deadline (§4.1).
func (s *TTLScheduler) Schedule(key string, ttlMs int64, now time.Time) {
	if e, exists := s.h.byKey[key]; exists {
		if ttlMs == InfinityTTL {
			e.infinite = true
		} else {
			e.infinite = false
			e.deadline = now.Add(time.Duration(ttlMs) * time.Millisecond).UnixNano()
		}
		heap.Fix(s.h, e.index)
		return
	}

	e := &ttlEntry{key: key, infinite: ttlMs == InfinityTTL}
	if !e.infinite {
		e.deadline = now.Add(time.Duration(ttlMs) * time.Millisecond).UnixNano()
	}
	heap.Push(s.h, e)
}

// Cancel removes key from the schedule entirely (§3 Lifecycle). No code
// path in this package calls it; keys leave the schedule through Expired.
func (s *TTLScheduler) Cancel(key string) {
	e, exists := s.h.byKey[key]
	if !exists {
		return
	}
	heap.Remove(s.h, e.index)
}

// Expired pops and returns every key whose deadline is at or before now,
// in deadline order. The scheduler no longer tracks returned keys; the
// caller is responsible for deleting them from the value table.
func (s *TTLScheduler) Expired(now time.Time) []string {
	nowNano := now.UnixNano()
	var expired []string
	for s.h.Len() > 0 {
		top := s.h.entries[0]
		if top.infinite || top.deadline > nowNano {
			break
		}
		expired = append(expired, top.key)
		heap.Pop(s.h)
	}
	return expired
}

// NextDeadline returns the earliest finite deadline in the schedule. The
// event loop does not consult it: expiry is swept on a fixed
// ttlSweepInterval ticker (§5).
func (s *TTLScheduler) NextDeadline() (time.Time, bool) {
	var best *ttlEntry
	for _, e := range s.h.entries {
		if e.infinite {
			continue
		}
		if best == nil || e.deadline < best.deadline {
			best = e
		}
	}
	if best == nil {
		return time.Time{}, false
	}
	return time.Unix(0, best.deadline), true
}

// Len returns the number of keys currently tracked.
func (s *TTLScheduler) Len() int {
	return s.h.Len()
}

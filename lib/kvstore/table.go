package kvstore

import (
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// tableEntry pairs a stored Value with the wall-clock time it was last
// inserted or refreshed, used to compute the TTL countdown adjustment on
// egress (§4.3).
type tableEntry struct {
	value      Value
	insertedAt time.Time
}

// ValueTable is the authoritative per-area key->Value mapping (§3).
// Iteration order is explicitly irrelevant per the spec, which is why an
// xsync.MapOf - the same concurrent map dKV uses for its shard table
// (rpc/server/server.go) - is a good fit: O(1) lookups, safe to read from
// RPC handler goroutines while the owning area loop goroutine mutates it.
type ValueTable struct {
	m *xsync.MapOf[string, tableEntry]
}

// NewValueTable creates an empty value table.
func NewValueTable() *ValueTable {
	return &ValueTable{m: xsync.NewMapOf[string, tableEntry]()}
}

// Get returns the stored value for key, if any.
func (t *ValueTable) Get(key string) (Value, bool) {
	e, ok := t.m.Load(key)
	if !ok {
		return Value{}, false
	}
	return e.value, true
}

// GetMany returns the subset of the table matching the requested keys,
// exact match, no regex (§4.5 get).
func (t *ValueTable) GetMany(keys []string) map[string]Value {
	out := make(map[string]Value, len(keys))
	for _, k := range keys {
		if e, ok := t.m.Load(k); ok {
			out[k] = e.value
		}
	}
	return out
}

// Put inserts or overwrites the entry for key and records now as its
// insertion time. The expiry deadline itself is kept by TTLScheduler,
// which MergeEngine.accept updates alongside Put (§4.1 "Side effect on
// TTL Scheduler").
func (t *ValueTable) Put(key string, v Value, now time.Time) {
	t.m.Store(key, tableEntry{value: v, insertedAt: now})
}

// Delete removes key from the table, used by TTL expiry and
// self-invalidation (§3 Lifecycle).
func (t *ValueTable) Delete(key string) {
	t.m.Delete(key)
}

// InsertedAt returns the wall-clock insertion/refresh time for key, used
// by the TTL countdown adjustment on egress (§4.3).
func (t *ValueTable) InsertedAt(key string) (time.Time, bool) {
	e, ok := t.m.Load(key)
	if !ok {
		return time.Time{}, false
	}
	return e.insertedAt, true
}

// Snapshot returns a filtered, independent copy of the table (§4.4, §4.5
// dump_all / dump_hashes). suppressPayload strips payloads from the
// returned copies while retaining hash, version, ttl and originator.
func (t *ValueTable) Snapshot(filter Filter, suppressPayload bool) map[string]Value {
	out := make(map[string]Value)
	t.m.Range(func(key string, e tableEntry) bool {
		if !filter.Match(key, e.value.OriginatorID) {
			return true
		}
		v := e.value.Clone()
		if suppressPayload {
			v = v.WithoutPayload()
		}
		out[key] = v
		return true
	})
	return out
}

// Len returns the number of entries currently in the table.
func (t *ValueTable) Len() int {
	return t.m.Size()
}

// Range iterates every (key, value) pair; used by Store.selfRefresh's
// periodic scan. The callback must not mutate the table.
func (t *ValueTable) Range(fn func(key string, v Value) bool) {
	t.m.Range(func(key string, e tableEntry) bool {
		return fn(key, e.value)
	})
}

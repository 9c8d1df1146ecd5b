package kvstore

import (
	"bytes"
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// InfinityTTL is the sentinel ttl_ms value meaning "never expires" (§4.1 rule 2).
const InfinityTTL int64 = -1

// Value is a single versioned record in the value table (spec §3).
//
// Values are owned solely by their table entry (§9 "Shared ownership of
// Values"); every copy handed to a subscriber or the flooder is an
// independent snapshot and must never be mutated in place by the caller.
// Field tags follow the wire schema's field names (version, originatorId,
// value, ttl, ttlVersion, hash) so encoding/json and encoding/gob produce
// a representation compatible field-for-field with the interface
// definition this Value replicates (§6 "Wire publication").
type Value struct {
	Version      uint64 `json:"version"`
	OriginatorID string `json:"originatorId"`
	Payload      []byte `json:"value,omitempty"` // may be nil when only a hash is carried (§3)
	TTLMs        int64  `json:"ttl"`
	TTLVersion   uint64 `json:"ttlVersion"`
	Hash         uint64 `json:"hash"`
}

// Clone returns an independent copy of v so that callers (flooder,
// subscribers) can never mutate a table entry through a delivered value.
func (v Value) Clone() Value {
	if v.Payload == nil {
		return v
	}
	cp := v
	cp.Payload = append([]byte(nil), v.Payload...)
	return cp
}

// WithoutPayload returns a copy of v with the payload stripped, keeping
// the hash authoritative (§3 "hash dump", §4.4 do_not_publish_value).
func (v Value) WithoutPayload() Value {
	cp := v
	cp.Payload = nil
	return cp
}

// ComputeHash derives the deterministic digest covering
// (version, originator_id, payload) per §3's invariant that hash is a
// pure function of those three fields.
func ComputeHash(version uint64, originatorID string, payload []byte) uint64 {
	h := xxhash.New()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], version)
	_, _ = h.Write(buf[:])
	_, _ = h.Write([]byte(originatorID))
	_, _ = h.Write(payload)
	return h.Sum64()
}

// SetHash recomputes and stores v.Hash from its own fields. Callers that
// construct a Value locally (e.g. via Set) must call this before it ever
// reaches the merge engine.
func (v *Value) SetHash() {
	v.Hash = ComputeHash(v.Version, v.OriginatorID, v.Payload)
}

// CompareResult is the outcome of compareValues (§4.1 rule 4).
type CompareResult int

const (
	CompareCurrentBetter CompareResult = iota
	CompareIncomingBetter
	CompareEqual
	CompareUnknown
)

// compareValues implements the §4.1 rule-4 lexicographic comparator,
// short-circuiting on the first comparator that isn't a tie:
//
//	(a) version            - larger wins
//	(b) originator_id      - lexicographically larger wins
//	(c) payload identity   - byte-wise compare, or hash-equality when a
//	                          payload is missing on one or both sides
//	(d) ttl_version         - larger wins (a pure TTL refresh)
func compareValues(current, incoming Value) CompareResult {
	if incoming.Version != current.Version {
		if incoming.Version > current.Version {
			return CompareIncomingBetter
		}
		return CompareCurrentBetter
	}

	if incoming.OriginatorID != current.OriginatorID {
		if incoming.OriginatorID > current.OriginatorID {
			return CompareIncomingBetter
		}
		return CompareCurrentBetter
	}

	switch payloadResult := comparePayload(current, incoming); payloadResult {
	case CompareIncomingBetter, CompareCurrentBetter, CompareUnknown:
		return payloadResult
	}

	// payloads identical (or hash-equal): fall through to ttl_version (rule d).
	if incoming.TTLVersion != current.TTLVersion {
		if incoming.TTLVersion > current.TTLVersion {
			return CompareIncomingBetter
		}
		return CompareCurrentBetter
	}

	return CompareEqual
}

// comparePayload implements §4.1 rule (c):
//
//   - both payloads present: byte-wise compare, larger wins
//   - one payload present, hashes equal: equal
//   - one payload present, hashes differ: whichever side carries the
//     payload wins (it is by definition more informative than a bare hash)
//   - both payloads absent: compare hashes for equality only, otherwise
//     unknown (§4.1's "engine must refuse to apply")
func comparePayload(current, incoming Value) CompareResult {
	curHas := current.Payload != nil
	incHas := incoming.Payload != nil

	switch {
	case curHas && incHas:
		switch bytes.Compare(incoming.Payload, current.Payload) {
		case 1:
			return CompareIncomingBetter
		case -1:
			return CompareCurrentBetter
		default:
			return CompareEqual
		}
	case curHas != incHas:
		if current.Hash == incoming.Hash {
			return CompareEqual
		}
		if incHas {
			return CompareIncomingBetter
		}
		return CompareCurrentBetter
	default: // both absent
		if current.Hash == incoming.Hash {
			return CompareEqual
		}
		return CompareUnknown
	}
}

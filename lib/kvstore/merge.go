package kvstore

import "time"

// RejectReason classifies why a (key, incoming) pair in a merge batch did
// not update the Value Table (§4.1 statistics, §7 "merge rejection is
// data, not error").
type RejectReason uint8

const (
	RejectNone RejectReason = iota
	RejectNoMatchedKey
	RejectInvalidTTL
	RejectOldVersion
	RejectNoNeedToUpdate
	RejectUnknownComparison
)

func (r RejectReason) String() string {
	switch r {
	case RejectNoMatchedKey:
		return "NO_MATCHED_KEY"
	case RejectInvalidTTL:
		return "INVALID_TTL"
	case RejectOldVersion:
		return "OLD_VERSION"
	case RejectNoNeedToUpdate:
		return "NO_NEED_TO_UPDATE"
	case RejectUnknownComparison:
		return "INVALID_TTL" // §9 open question: filed under the INVALID_TTL-adjacent bucket, implementer decision
	default:
		return "NONE"
	}
}

// MergeStats is the per-batch rejection-reason report returned alongside
// an effective delta (§4.1 "Statistics"). Reason carries the rejection
// reason for every key of the batch that was not accepted; accepted keys
// appear in the effective delta and have no Reason entry.
type MergeStats struct {
	NoMatchedKey   int
	InvalidTTLs    []InvalidTTL
	StaleVersions  []string
	NoOpCount      int
	Reason         map[string]RejectReason
}

// InvalidTTL records one rejected-for-ttl key with the offending value,
// per §4.1 step 2 ("record INVALID_TTL with the observed ttl").
type InvalidTTL struct {
	Key   string
	TTLMs int64
}

// Add merges other into s in place, aggregating counters and reason maps
// so several merge reports can be combined into one (grounded on
// OpenrCtrlHandler's per-area aggregation in the original daemon). No
// merge path in this package calls it; each Store merge returns its own
// report.
func (s *MergeStats) Add(other MergeStats) {
	s.NoMatchedKey += other.NoMatchedKey
	s.InvalidTTLs = append(s.InvalidTTLs, other.InvalidTTLs...)
	s.StaleVersions = append(s.StaleVersions, other.StaleVersions...)
	s.NoOpCount += other.NoOpCount
	if len(other.Reason) == 0 {
		return
	}
	if s.Reason == nil {
		s.Reason = make(map[string]RejectReason, len(other.Reason))
	}
	for k, v := range other.Reason {
		s.Reason[k] = v
	}
}

func newMergeStats() MergeStats {
	return MergeStats{Reason: make(map[string]RejectReason)}
}

// DeltaEntry is one accepted change in an effective delta: the value as
// stored, plus whether this was a payload-preserving TTL-only refresh
// (§4.1 step 6, §4.4 ignore_ttl_only).
type DeltaEntry struct {
	Value    Value
	TTLOnly  bool
}

// EffectiveDelta is the subset of a merge batch that actually changed the
// Value Table (GLOSSARY "Effective delta").
type EffectiveDelta map[string]DeltaEntry

// MinTTLMs is the configured floor below which a ttl_ms is rejected as
// invalid, unless it is the InfinityTTL sentinel (§4.1 step 2 default).
const MinTTLMs int64 = 1

// MergeEngine applies incoming batches to a ValueTable under the §4.1
// comparison rule, threading TTL scheduling as a side effect. It holds no
// state of its own beyond the table and scheduler references it is
// constructed with; every area's Store owns exactly one.
type MergeEngine struct {
	table *ValueTable
	ttl   *TTLScheduler
}

// NewMergeEngine builds a MergeEngine over the given table and scheduler.
func NewMergeEngine(table *ValueTable, ttl *TTLScheduler) *MergeEngine {
	return &MergeEngine{table: table, ttl: ttl}
}

// Merge implements the §4.1 `merge(batch, filter?) -> (effective_delta,
// rejection_stats)` operation. now is threaded in explicitly rather than
// read from the clock so callers (and tests) control TTL-deadline math
// deterministically.
func (m *MergeEngine) Merge(batch map[string]Value, filter Filter, now time.Time) (EffectiveDelta, MergeStats) {
	delta := make(EffectiveDelta)
	stats := newMergeStats()

	for key, incoming := range batch {
		if !filter.Match(key, incoming.OriginatorID) {
			stats.NoMatchedKey++
			stats.Reason[key] = RejectNoMatchedKey
			continue
		}

		if incoming.TTLMs != InfinityTTL && incoming.TTLMs < MinTTLMs {
			stats.InvalidTTLs = append(stats.InvalidTTLs, InvalidTTL{Key: key, TTLMs: incoming.TTLMs})
			stats.Reason[key] = RejectInvalidTTL
			continue
		}

		current, exists := m.table.Get(key)
		if !exists {
			m.accept(key, incoming, now)
			delta[key] = DeltaEntry{Value: incoming.Clone(), TTLOnly: false}
			continue
		}

		switch compareValues(current, incoming) {
		case CompareIncomingBetter:
			if incoming.Version == current.Version && incoming.OriginatorID == current.OriginatorID &&
				incoming.TTLVersion > current.TTLVersion && comparePayload(current, incoming) == CompareEqual {
				// only ttl_version advanced: refresh the ttl in place and keep
				// the stored payload (§4.1 step 6)
				refreshed := current
				refreshed.TTLMs = incoming.TTLMs
				refreshed.TTLVersion = incoming.TTLVersion
				m.accept(key, refreshed, now)
				delta[key] = DeltaEntry{Value: refreshed.Clone(), TTLOnly: true}
				break
			}
			m.accept(key, incoming, now)
			delta[key] = DeltaEntry{Value: incoming.Clone(), TTLOnly: false}

		case CompareEqual:
			if incoming.TTLVersion > current.TTLVersion {
				refreshed := current
				refreshed.TTLMs = incoming.TTLMs
				refreshed.TTLVersion = incoming.TTLVersion
				m.accept(key, refreshed, now)
				delta[key] = DeltaEntry{Value: refreshed.Clone(), TTLOnly: true}
			} else {
				stats.NoOpCount++
				stats.Reason[key] = RejectNoNeedToUpdate
			}

		case CompareCurrentBetter:
			stats.StaleVersions = append(stats.StaleVersions, key)
			stats.Reason[key] = RejectOldVersion

		case CompareUnknown:
			stats.InvalidTTLs = append(stats.InvalidTTLs, InvalidTTL{Key: key, TTLMs: incoming.TTLMs})
			stats.Reason[key] = RejectUnknownComparison
		}
	}

	return delta, stats
}

// accept stores v and refreshes its TTL deadline - the "side effect on
// TTL Scheduler" every accepted entry triggers (§4.1).
func (m *MergeEngine) accept(key string, v Value, now time.Time) {
	if v.Hash == 0 {
		v.SetHash()
	}
	m.table.Put(key, v, now)
	m.ttl.Schedule(key, v.TTLMs, now)
}

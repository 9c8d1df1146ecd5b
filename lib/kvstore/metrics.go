package kvstore

import (
	"io"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	vmetrics "github.com/VictoriaMetrics/metrics"
	rcmetrics "github.com/rcrowley/go-metrics"
)

// WriteMetrics renders every series registered via this package's
// VictoriaMetrics counters/histograms in Prometheus text exposition
// format. cmd/serve's scrape endpoint hands w straight to the HTTP
// response body.
func WriteMetrics(w io.Writer) {
	vmetrics.WritePrometheus(w, true)
}

// Metrics aggregates the observability surface for one process across all
// its areas. Two counters/histogram stacks are wired deliberately rather
// than merged into one: VictoriaMetrics/metrics backs the pull-based
// `/metrics` scrape endpoint an operator's Prometheus hits, while
// rcrowley/go-metrics + HdrHistogram back the in-process rolling
// snapshots the CLI's `kv stats` style commands read synchronously,
// mirroring how dKV keeps its RPC path and its CLI path on separate,
// purpose-fit dependencies rather than forcing one library to serve both.
type Metrics struct {
	mergesTotal   *vmetrics.Counter
	rejectsTotal  *vmetrics.Counter
	deltaSize     *vmetrics.Histogram
	floodErrors   *vmetrics.Counter
	syncErrors    *vmetrics.Counter
	expiredTotal  *vmetrics.Counter

	mergeLatency rcmetrics.Registry
	hdr          *hdrhistogram.WindowedHistogram
}

// NewMetrics builds the metrics surface. namespace prefixes every
// VictoriaMetrics series (e.g. "kvflood_merges_total").
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		mergesTotal:  vmetrics.NewCounter(namespace + `_merges_total`),
		rejectsTotal: vmetrics.NewCounter(namespace + `_merge_rejects_total`),
		deltaSize:    vmetrics.NewHistogram(namespace + `_effective_delta_size`),
		floodErrors:  vmetrics.NewCounter(namespace + `_flood_errors_total`),
		syncErrors:   vmetrics.NewCounter(namespace + `_sync_errors_total`),
		expiredTotal: vmetrics.NewCounter(namespace + `_expired_keys_total`),
		mergeLatency: rcmetrics.NewRegistry(),
		hdr:          hdrhistogram.NewWindowed(5, 1, 10_000_000, 3),
	}
}

// ObserveMerge records the outcome of one merge call: delta size for the
// scrape endpoint, plus the batch's rejected keys added to one total
// rejection counter, not broken down by reason (§4.1 "Statistics").
func (m *Metrics) ObserveMerge(areaID string, deltaSize int, stats MergeStats) {
	m.mergesTotal.Inc()
	m.deltaSize.Update(float64(deltaSize))
	rejects := stats.NoMatchedKey + len(stats.InvalidTTLs) + len(stats.StaleVersions) + stats.NoOpCount
	if rejects > 0 {
		m.rejectsTotal.Add(rejects)
	}
}

// StatsSnapshot is the request-surface view of the rolling merge-latency
// window (§6 `get_merge_latency_stats`, a SPEC_FULL supplement giving an
// operator a synchronous read of tail latency without standing up a
// Prometheus scraper).
type StatsSnapshot struct {
	P50Us  int64 `json:"p50Us"`
	P99Us  int64 `json:"p99Us"`
	P999Us int64 `json:"p999Us"`
}

// ObserveMergeLatency records how long one merge call took on the
// rcrowley "merge.latency" Timer, and folds it into the rolling HDR histogram
// used for tail-latency reporting (p99/p999) on the request surface.
func (m *Metrics) ObserveMergeLatency(d time.Duration) {
	timer := rcmetrics.GetOrRegisterTimer("merge.latency", m.mergeLatency)
	timer.Update(d)
	m.hdr.Current.RecordValue(d.Microseconds())
}

// MergeLatencySnapshot returns the current p50/p99/p999 merge latency in
// microseconds from the rolling HDR window.
func (m *Metrics) MergeLatencySnapshot() (p50, p99, p999 int64) {
	snap := m.hdr.Merge()
	return snap.ValueAtQuantile(50), snap.ValueAtQuantile(99), snap.ValueAtQuantile(99.9)
}

// ObserveFloodError increments the flood-failure counter (§4.2 "Failure
// semantics"). The counter is process-wide; areaID is not recorded.
func (m *Metrics) ObserveFloodError(areaID string) {
	m.floodErrors.Inc()
}

// ObserveSyncError increments the full-sync-failure counter (§4.2 "sync
// exchange has a timeout"). The counter is process-wide; areaID is not
// recorded.
func (m *Metrics) ObserveSyncError(areaID string) {
	m.syncErrors.Inc()
}

// ObserveExpiry records how many keys a TTL sweep removed (§4.3).
func (m *Metrics) ObserveExpiry(areaID string, count int) {
	m.expiredTotal.Add(count)
}

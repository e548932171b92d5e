package rangeserver

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// latencyBuckets are the histogram bucket boundaries (seconds), covering
// sub-millisecond scans through multi-second major compactions.
var latencyBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// Metrics tracks per-operation counters and latency histograms for one
// range server instance, registered with a prometheus.Registerer so an
// admin surface or a /metrics endpoint can expose them.
type Metrics struct {
	updates    *prometheus.CounterVec
	updateLat  *prometheus.HistogramVec
	scans      *prometheus.CounterVec
	scanLat    *prometheus.HistogramVec
	compactions *prometheus.CounterVec
	compactLat prometheus.Histogram
	logSyncs   prometheus.Counter
	logSyncLat prometheus.Histogram

	rangesLoaded prometheus.Gauge
	scannersOpen prometheus.Gauge
	memoryUsed   prometheus.Gauge

	startTime time.Time
}

// NewMetrics builds and registers a fresh Metrics instance. reg may be
// prometheus.DefaultRegisterer or a private registry for tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rangeserver",
			Name:      "update_total",
			Help:      "Mutations batches applied, by outcome.",
		}, []string{"outcome"}),
		updateLat: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rangeserver",
			Name:      "update_latency_seconds",
			Help:      "Update request latency.",
			Buckets:   latencyBuckets,
		}, []string{"outcome"}),
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rangeserver",
			Name:      "scan_total",
			Help:      "Scanner blocks fetched, by outcome.",
		}, []string{"outcome"}),
		scanLat: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rangeserver",
			Name:      "scan_latency_seconds",
			Help:      "create_scanner/fetch_scanblock latency.",
			Buckets:   latencyBuckets,
		}, []string{"outcome"}),
		compactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rangeserver",
			Name:      "compaction_total",
			Help:      "Compactions run, by type (minor/major).",
		}, []string{"type"}),
		compactLat: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rangeserver",
			Name:      "compaction_latency_seconds",
			Help:      "Compaction wall time.",
			Buckets:   latencyBuckets,
		}),
		logSyncs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rangeserver",
			Name:      "commit_log_sync_total",
			Help:      "commit_log_sync calls.",
		}),
		logSyncLat: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rangeserver",
			Name:      "commit_log_sync_latency_seconds",
			Help:      "commit_log_sync latency.",
			Buckets:   latencyBuckets,
		}),
		rangesLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rangeserver",
			Name:      "ranges_loaded",
			Help:      "Ranges currently loaded.",
		}),
		scannersOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rangeserver",
			Name:      "scanners_open",
			Help:      "Scanners currently live in the request cache.",
		}),
		memoryUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rangeserver",
			Name:      "memory_used_bytes",
			Help:      "Approximate cell-cache memory in use.",
		}),
		startTime: time.Now(),
	}
	if reg != nil {
		reg.MustRegister(m.updates, m.updateLat, m.scans, m.scanLat, m.compactions,
			m.compactLat, m.logSyncs, m.logSyncLat, m.rangesLoaded, m.scannersOpen, m.memoryUsed)
	}
	return m
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveUpdate records one update request's latency and outcome.
func (m *Metrics) ObserveUpdate(d time.Duration, err error) {
	o := outcome(err)
	m.updates.WithLabelValues(o).Inc()
	m.updateLat.WithLabelValues(o).Observe(d.Seconds())
}

// ObserveScan records one create_scanner/fetch_scanblock call.
func (m *Metrics) ObserveScan(d time.Duration, err error) {
	o := outcome(err)
	m.scans.WithLabelValues(o).Inc()
	m.scanLat.WithLabelValues(o).Observe(d.Seconds())
}

// ObserveCompaction records one compaction's kind and wall time.
func (m *Metrics) ObserveCompaction(kind CompactType, d time.Duration) {
	label := "minor"
	if kind == CompactMajor {
		label = "major"
	}
	m.compactions.WithLabelValues(label).Inc()
	m.compactLat.Observe(d.Seconds())
}

// ObserveCommitLogSync records one commit_log_sync call.
func (m *Metrics) ObserveCommitLogSync(d time.Duration) {
	m.logSyncs.Inc()
	m.logSyncLat.Observe(d.Seconds())
}

// SetRangesLoaded, SetScannersOpen, and SetMemoryUsed publish gauges the
// maintenance scheduler refreshes on each sweep.
func (m *Metrics) SetRangesLoaded(n int)        { m.rangesLoaded.Set(float64(n)) }
func (m *Metrics) SetScannersOpen(n int)        { m.scannersOpen.Set(float64(n)) }
func (m *Metrics) SetMemoryUsed(bytes int64)    { m.memoryUsed.Set(float64(bytes)) }

// Uptime reports how long this Metrics instance has been collecting.
func (m *Metrics) Uptime() time.Duration { return time.Since(m.startTime) }

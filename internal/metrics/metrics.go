// Package metrics provides Prometheus metrics for organizer runs. A CLI
// process has no scrape endpoint, so metrics are written in the node
// exporter textfile format at the end of a run.
package metrics

import (
	"fmt"
	"time"

	"github.com/fenilsonani/organizer/internal/fileerr"
	"github.com/fenilsonani/organizer/internal/progress"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors of one process. A nil *Metrics ignores
// every observation.
type Metrics struct {
	registry *prometheus.Registry

	filesScanned      prometheus.Counter
	fileErrors        *prometheus.CounterVec
	filesHashed       *prometheus.CounterVec
	hashDuration      *prometheus.HistogramVec
	cacheLookups      *prometheus.CounterVec
	duplicateGroups   prometheus.Gauge
	reclaimableBytes  prometheus.Gauge
	movesTotal        *prometheus.CounterVec
	transactionsTotal *prometheus.CounterVec
	runDuration       *prometheus.HistogramVec
}

// New creates a Metrics backed by its own registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		filesScanned: factory.NewCounter(prometheus.CounterOpts{
			Name: "organizer_files_scanned_total",
			Help: "Total number of files emitted by the scanner",
		}),
		fileErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "organizer_file_errors_total",
			Help: "Per-file errors by phase and kind",
		}, []string{"phase", "kind"}),
		filesHashed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "organizer_files_hashed_total",
			Help: "Digest lookups by hashing phase",
		}, []string{"phase"}),
		hashDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "organizer_hash_duration_seconds",
			Help:    "Time to resolve one digest, cached or computed",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
		}, []string{"phase"}),
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "organizer_hash_cache_lookups_total",
			Help: "Hash cache lookups by result",
		}, []string{"result"}),
		duplicateGroups: factory.NewGauge(prometheus.GaugeOpts{
			Name: "organizer_duplicate_groups",
			Help: "Duplicate groups found by the last detection",
		}),
		reclaimableBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "organizer_reclaimable_bytes",
			Help: "Bytes held by non-representative duplicate members",
		}),
		movesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "organizer_moves_total",
			Help: "Move operations by final status",
		}, []string{"status"}),
		transactionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "organizer_transactions_total",
			Help: "Transactions by final state",
		}, []string{"state"}),
		runDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "organizer_run_duration_seconds",
			Help:    "Pipeline run duration by operation",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHash records one digest resolution
func (m *Metrics) ObserveHash(phase string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.filesHashed.WithLabelValues(phase).Inc()
	m.hashDuration.WithLabelValues(phase).Observe(d.Seconds())
	if err != nil {
		m.FileError(phase, err)
	}
}

// FileError counts a per-file error
func (m *Metrics) FileError(phase string, err error) {
	if m == nil || err == nil {
		return
	}
	m.fileErrors.WithLabelValues(phase, fileerr.Classify(phase, "", err).Kind.String()).Inc()
}

// CacheLookups adds hash cache counters accumulated during a run
func (m *Metrics) CacheLookups(hits, misses, shared int64) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues("hit").Add(float64(hits))
	m.cacheLookups.WithLabelValues("miss").Add(float64(misses))
	m.cacheLookups.WithLabelValues("shared").Add(float64(shared))
}

// Duplicates records the outcome of a detection
func (m *Metrics) Duplicates(groups int, reclaimable int64) {
	if m == nil {
		return
	}
	m.duplicateGroups.Set(float64(groups))
	m.reclaimableBytes.Set(float64(reclaimable))
}

// Move counts a move by its final status
func (m *Metrics) Move(status string) {
	if m == nil {
		return
	}
	m.movesTotal.WithLabelValues(status).Inc()
}

// Transaction counts a finished transaction by state
func (m *Metrics) Transaction(state string) {
	if m == nil {
		return
	}
	m.transactionsTotal.WithLabelValues(state).Inc()
}

// RunDuration records how long a pipeline operation took
func (m *Metrics) RunDuration(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.runDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// Attach subscribes the scan counter to a progress bus and returns the
// detach function.
func (m *Metrics) Attach(bus *progress.Bus) func() {
	if m == nil || bus == nil {
		return func() {}
	}
	var last int64
	return bus.Observe(func(e progress.Event) {
		if e.Type == progress.EventScanProgress && e.Current > last {
			m.filesScanned.Add(float64(e.Current - last))
			last = e.Current
		}
		if e.Type == progress.EventPhaseChanged && e.Phase == progress.PhaseScanning {
			last = 0
		}
	})
}

// WriteTextfile writes every metric to path in the text exposition format
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	return nil
}

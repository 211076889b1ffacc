// Package metric provides Prometheus metrics for PageVault.
//
// It exposes engine health in Prometheus format: page write and
// re-randomization throughput, mounted basis count, transaction
// latency, and integrity faults.
package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all engine metrics.
type Registry struct {
	// Flash traffic
	PagesProgrammed prometheus.Counter
	PagesRenewed    prometheus.Counter

	// Basis lifecycle
	MountedBases  prometheus.Gauge
	MountFailures prometheus.Counter

	// Page table transactions
	TxnCommits  prometheus.Counter
	TxnDuration prometheus.Histogram

	// Faults
	IntegrityFaults prometheus.Counter
	MediaFaults     prometheus.Counter

	registry *prometheus.Registry
}

// NewRegistry creates and registers all engine metrics on a fresh
// Prometheus registry.
func NewRegistry() *Registry {
	promReg := prometheus.NewRegistry()

	r := &Registry{
		PagesProgrammed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagevault_pages_programmed_total",
			Help: "Physical pages programmed by the engine.",
		}),
		PagesRenewed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagevault_pages_renewed_total",
			Help: "Freed pages rewritten with fresh random filler.",
		}),
		MountedBases: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pagevault_mounted_bases",
			Help: "Bases currently mounted.",
		}),
		MountFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagevault_mount_failures_total",
			Help: "Unlock attempts that returned an auth failure.",
		}),
		TxnCommits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagevault_txn_commits_total",
			Help: "Committed page table transactions.",
		}),
		TxnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pagevault_txn_duration_seconds",
			Help:    "Page table transaction commit latency.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		IntegrityFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagevault_integrity_faults_total",
			Help: "AEAD authentication failures on pages or tables.",
		}),
		MediaFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagevault_media_faults_total",
			Help: "Flash I/O faults surfaced to callers.",
		}),
		registry: promReg,
	}

	promReg.MustRegister(
		r.PagesProgrammed,
		r.PagesRenewed,
		r.MountedBases,
		r.MountFailures,
		r.TxnCommits,
		r.TxnDuration,
		r.IntegrityFaults,
		r.MediaFaults,
	)
	return r
}

// Handler returns the HTTP handler serving this registry in Prometheus
// exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Nil-safe recording helpers: storage layers record without caring
// whether metrics are wired (tests typically pass a nil Registry).

// AddPagesProgrammed records n programmed pages.
func (r *Registry) AddPagesProgrammed(n int) {
	if r != nil && r.PagesProgrammed != nil {
		r.PagesProgrammed.Add(float64(n))
	}
}

// IncPagesRenewed records one renewed page.
func (r *Registry) IncPagesRenewed() {
	if r != nil && r.PagesRenewed != nil {
		r.PagesRenewed.Inc()
	}
}

// IncTxnCommits records one committed transaction.
func (r *Registry) IncTxnCommits() {
	if r != nil && r.TxnCommits != nil {
		r.TxnCommits.Inc()
	}
}

// IncIntegrityFaults records one authentication failure.
func (r *Registry) IncIntegrityFaults() {
	if r != nil && r.IntegrityFaults != nil {
		r.IntegrityFaults.Inc()
	}
}

// IncMediaFaults records one media fault.
func (r *Registry) IncMediaFaults() {
	if r != nil && r.MediaFaults != nil {
		r.MediaFaults.Inc()
	}
}

// IncMountFailures records one failed unlock.
func (r *Registry) IncMountFailures() {
	if r != nil && r.MountFailures != nil {
		r.MountFailures.Inc()
	}
}

// SetMountedBases records the mounted basis count.
func (r *Registry) SetMountedBases(n int) {
	if r != nil && r.MountedBases != nil {
		r.MountedBases.Set(float64(n))
	}
}

// ObserveTxnDuration records one transaction latency sample.
func (r *Registry) ObserveTxnDuration(seconds float64) {
	if r != nil && r.TxnDuration != nil {
		r.TxnDuration.Observe(seconds)
	}
}

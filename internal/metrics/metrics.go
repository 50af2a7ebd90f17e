// Package metrics holds the Prometheus instruments of the matrix engine.
// A nil *Metrics is valid and records nothing, so tests and tools can pass
// nil instead of wiring a registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "matrixnet"

// Metrics groups the engine's counters and histograms.
type Metrics struct {
	Placements        *prometheus.CounterVec
	PlacementDuration prometheus.Histogram
	ClaimConflicts    *prometheus.CounterVec
	Cycles            *prometheus.CounterVec
	LedgerPostings    *prometheus.CounterVec
	Settlements       *prometheus.CounterVec
	ArchivedRows      *prometheus.CounterVec
}

// New registers the instruments on reg. Pass prometheus.DefaultRegisterer
// in production and a fresh prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Placements: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "placement",
			Name:      "total",
			Help:      "Placements by board and outcome",
		}, []string{"board", "outcome"}),
		PlacementDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "placement",
			Name:      "duration_seconds",
			Help:      "Time to place a member including cycle and commission work",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		ClaimConflicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "placement",
			Name:      "claim_conflicts_total",
			Help:      "Slot claims lost to a concurrent placement",
		}, []string{"board"}),
		Cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "total",
			Help:      "Completed cycles by board",
		}, []string{"board"}),
		LedgerPostings: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "postings_total",
			Help:      "Ledger entries posted by bonus type",
		}, []string{"type"}),
		Settlements: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "settlements_total",
			Help:      "Settlement attempts by outcome (paid, failed, retry)",
		}, []string{"outcome"}),
		ArchivedRows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "rows_total",
			Help:      "Rows exported to object storage by kind",
		}, []string{"kind"}),
	}
}

func (m *Metrics) ObservePlacement(board, outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.Placements.WithLabelValues(board, outcome).Inc()
	m.PlacementDuration.Observe(time.Since(started).Seconds())
}

func (m *Metrics) ClaimConflict(board string) {
	if m == nil {
		return
	}
	m.ClaimConflicts.WithLabelValues(board).Inc()
}

func (m *Metrics) Cycle(board string) {
	if m == nil {
		return
	}
	m.Cycles.WithLabelValues(board).Inc()
}

func (m *Metrics) Posted(bonusType string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.LedgerPostings.WithLabelValues(bonusType).Add(float64(n))
}

func (m *Metrics) Settled(outcome string) {
	if m == nil {
		return
	}
	m.Settlements.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Archived(kind string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.ArchivedRows.WithLabelValues(kind).Add(float64(n))
}

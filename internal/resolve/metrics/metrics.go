package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the resolution module.
type Metrics struct {
	// Decision outcomes by type and source system
	DecisionOutcome *prometheus.CounterVec

	// Candidate pool sizes per resolution
	CandidateCount prometheus.Histogram

	// Full resolution latency including candidate lookup and scoring
	ResolveLatency prometheus.Histogram

	// Identifiers discarded by the hard blocklist, by identifier type
	BlocklistHits *prometheus.CounterVec
}

// New creates a Metrics instance with all resolution metrics registered.
func New() *Metrics {
	return &Metrics{
		DecisionOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "trapper_resolve_decisions_total",
			Help: "Total resolution outcomes by decision type and source system",
		}, []string{"decision", "source_system"}),

		CandidateCount: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "trapper_resolve_candidates",
			Help:    "Candidate pool size per resolution",
			Buckets: []float64{0, 1, 2, 3, 5, 10, 25, 50},
		}),

		ResolveLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "trapper_resolve_duration_seconds",
			Help:    "Duration of full resolution including candidate lookup and scoring",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),

		BlocklistHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "trapper_resolve_blocklist_hits_total",
			Help: "Identifiers discarded by the hard blocklist, by identifier type",
		}, []string{"identifier_type"}),
	}
}

// IncrementOutcome records one resolution outcome.
func (m *Metrics) IncrementOutcome(decision, sourceSystem string) {
	if m != nil {
		m.DecisionOutcome.WithLabelValues(decision, sourceSystem).Inc()
	}
}

// ObserveCandidates records the candidate pool size for one resolution.
func (m *Metrics) ObserveCandidates(n int) {
	if m != nil {
		m.CandidateCount.Observe(float64(n))
	}
}

// IncrementBlocklistHit records one identifier discarded by the hard
// blocklist.
func (m *Metrics) IncrementBlocklistHit(identifierType string) {
	if m != nil {
		m.BlocklistHits.WithLabelValues(identifierType).Inc()
	}
}

// ObserveResolveLatency records the total resolution duration.
func (m *Metrics) ObserveResolveLatency(d time.Duration) {
	if m != nil {
		m.ResolveLatency.Observe(d.Seconds())
	}
}

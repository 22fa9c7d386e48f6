package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PDPMetrics holds Prometheus metrics for the policy decision point.
type PDPMetrics struct {
	// DecisionsTotal counts decisions by outcome (allow|deny|conditional).
	DecisionsTotal *prometheus.CounterVec
	// EvaluationDuration tracks evaluate() latency.
	EvaluationDuration prometheus.Histogram
	// CacheHits and CacheMisses count decision cache lookups.
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
	// EvaluationErrors counts fail-closed evaluation faults.
	EvaluationErrors prometheus.Counter
}

// NewPDPMetrics creates and registers PDP metrics against the default registry.
func NewPDPMetrics() *PDPMetrics {
	return &PDPMetrics{
		DecisionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "finguard_pdp_decisions_total",
			Help: "Total number of policy decisions by outcome",
		}, []string{"outcome"}),

		EvaluationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "finguard_pdp_evaluation_duration_seconds",
			Help:    "Duration of policy evaluation",
			Buckets: prometheus.DefBuckets,
		}),

		CacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "finguard_pdp_cache_hits_total",
			Help: "Total number of decision cache hits",
		}),

		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "finguard_pdp_cache_misses_total",
			Help: "Total number of decision cache misses",
		}),

		EvaluationErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "finguard_pdp_evaluation_errors_total",
			Help: "Total number of fail-closed evaluation errors",
		}),
	}
}

// NewPDPMetricsWithRegistry creates PDP metrics registered against reg, for
// test isolation.
func NewPDPMetricsWithRegistry(reg *prometheus.Registry) *PDPMetrics {
	m := &PDPMetrics{
		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "finguard_pdp_decisions_total",
			Help: "Total number of policy decisions by outcome",
		}, []string{"outcome"}),

		EvaluationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "finguard_pdp_evaluation_duration_seconds",
			Help:    "Duration of policy evaluation",
			Buckets: prometheus.DefBuckets,
		}),

		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "finguard_pdp_cache_hits_total",
			Help: "Total number of decision cache hits",
		}),

		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "finguard_pdp_cache_misses_total",
			Help: "Total number of decision cache misses",
		}),

		EvaluationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "finguard_pdp_evaluation_errors_total",
			Help: "Total number of fail-closed evaluation errors",
		}),
	}

	reg.MustRegister(m.DecisionsTotal, m.EvaluationDuration, m.CacheHits,
		m.CacheMisses, m.EvaluationErrors)

	return m
}

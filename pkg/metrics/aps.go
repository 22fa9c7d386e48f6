package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// APSMetrics holds Prometheus metrics for the atomic policy set.
type APSMetrics struct {
	// TransactionsTotal counts transactions by final state (committed|failed).
	TransactionsTotal *prometheus.CounterVec
	// TransactionDuration tracks Execute() latency.
	TransactionDuration prometheus.Histogram
	// OperationsTotal counts individual operations by kind.
	OperationsTotal *prometheus.CounterVec
}

// NewAPSMetrics creates and registers APS metrics against the default registry.
func NewAPSMetrics() *APSMetrics {
	return &APSMetrics{
		TransactionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "finguard_aps_transactions_total",
			Help: "Total number of atomic policy set transactions by final state",
		}, []string{"state"}),

		TransactionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "finguard_aps_transaction_duration_seconds",
			Help:    "Duration of atomic policy set transactions",
			Buckets: prometheus.DefBuckets,
		}),

		OperationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "finguard_aps_operations_total",
			Help: "Total number of policy operations executed within transactions",
		}, []string{"kind"}),
	}
}

// NewAPSMetricsWithRegistry creates APS metrics registered against reg, for
// test isolation.
func NewAPSMetricsWithRegistry(reg *prometheus.Registry) *APSMetrics {
	m := &APSMetrics{
		TransactionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "finguard_aps_transactions_total",
			Help: "Total number of atomic policy set transactions by final state",
		}, []string{"state"}),

		TransactionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "finguard_aps_transaction_duration_seconds",
			Help:    "Duration of atomic policy set transactions",
			Buckets: prometheus.DefBuckets,
		}),

		OperationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "finguard_aps_operations_total",
			Help: "Total number of policy operations executed within transactions",
		}, []string{"kind"}),
	}

	reg.MustRegister(m.TransactionsTotal, m.TransactionDuration, m.OperationsTotal)
	return m
}

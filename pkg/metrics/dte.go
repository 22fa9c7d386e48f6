package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DTEMetrics holds Prometheus metrics for the data transformation engine.
type DTEMetrics struct {
	// FieldsProcessed counts fields transformed by rule kind
	// (redact|tokenize|mask|drop|pass).
	FieldsProcessed *prometheus.CounterVec
	// SovereigntyOverrides counts CARE sovereignty overrides applied.
	SovereigntyOverrides prometheus.Counter
	// TransformDuration tracks transform() latency.
	TransformDuration prometheus.Histogram
}

// NewDTEMetrics creates and registers DTE metrics against the default registry.
func NewDTEMetrics() *DTEMetrics {
	return &DTEMetrics{
		FieldsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "finguard_dte_fields_processed_total",
			Help: "Total number of fields processed by rule kind",
		}, []string{"kind"}),

		SovereigntyOverrides: promauto.NewCounter(prometheus.CounterOpts{
			Name: "finguard_dte_sovereignty_overrides_total",
			Help: "Total number of Indigenous data sovereignty overrides applied",
		}),

		TransformDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "finguard_dte_transform_duration_seconds",
			Help:    "Duration of field transformation passes",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// NewDTEMetricsWithRegistry creates DTE metrics registered against reg, for
// test isolation.
func NewDTEMetricsWithRegistry(reg *prometheus.Registry) *DTEMetrics {
	m := &DTEMetrics{
		FieldsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "finguard_dte_fields_processed_total",
			Help: "Total number of fields processed by rule kind",
		}, []string{"kind"}),

		SovereigntyOverrides: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "finguard_dte_sovereignty_overrides_total",
			Help: "Total number of Indigenous data sovereignty overrides applied",
		}),

		TransformDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "finguard_dte_transform_duration_seconds",
			Help:    "Duration of field transformation passes",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(m.FieldsProcessed, m.SovereigntyOverrides, m.TransformDuration)

	return m
}

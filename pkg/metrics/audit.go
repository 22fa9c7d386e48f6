package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// AuditMetrics holds Prometheus metrics for the audit ledger.
type AuditMetrics struct {
	// EntriesRecorded counts recorded entries by action.
	EntriesRecorded *prometheus.CounterVec
	// WriteErrors counts write failures by action.
	WriteErrors *prometheus.CounterVec
	// WriteDuration tracks write latency by action.
	WriteDuration *prometheus.HistogramVec
	// BufferDrops counts non-chained telemetry dropped on a full buffer. The
	// audit ledger has no drop path and never increments it.
	BufferDrops prometheus.Counter
	// ChainVerifications counts verify() invocations.
	ChainVerifications prometheus.Counter
	// ChainBreaks counts integrityHash mismatches found during verify().
	ChainBreaks prometheus.Counter
	// QueryDuration tracks query() latency.
	QueryDuration prometheus.Histogram
}

// NewAuditMetrics creates and registers audit ledger metrics against the
// default registry.
func NewAuditMetrics() *AuditMetrics {
	return &AuditMetrics{
		EntriesRecorded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "finguard_audit_entries_recorded_total",
			Help: "Total number of audit entries recorded",
		}, []string{"action"}),

		WriteErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "finguard_audit_write_errors_total",
			Help: "Total number of audit write errors",
		}, []string{"action"}),

		WriteDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "finguard_audit_write_duration_seconds",
			Help:    "Duration of audit ledger writes",
			Buckets: prometheus.DefBuckets,
		}, []string{"action"}),

		BufferDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "finguard_audit_buffer_drops_total",
			Help: "Total number of non-chained audit telemetry dropped due to a full buffer",
		}),

		ChainVerifications: promauto.NewCounter(prometheus.CounterOpts{
			Name: "finguard_audit_chain_verifications_total",
			Help: "Total number of hash-chain verification runs",
		}),

		ChainBreaks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "finguard_audit_chain_breaks_total",
			Help: "Total number of hash-chain integrity breaks detected",
		}),

		QueryDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "finguard_audit_query_duration_seconds",
			Help:    "Duration of audit ledger queries",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// NewAuditMetricsWithRegistry creates audit ledger metrics registered
// against reg, for test isolation.
func NewAuditMetricsWithRegistry(reg *prometheus.Registry) *AuditMetrics {
	m := &AuditMetrics{
		EntriesRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "finguard_audit_entries_recorded_total",
			Help: "Total number of audit entries recorded",
		}, []string{"action"}),

		WriteErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "finguard_audit_write_errors_total",
			Help: "Total number of audit write errors",
		}, []string{"action"}),

		WriteDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "finguard_audit_write_duration_seconds",
			Help:    "Duration of audit ledger writes",
			Buckets: prometheus.DefBuckets,
		}, []string{"action"}),

		BufferDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "finguard_audit_buffer_drops_total",
			Help: "Total number of non-chained audit telemetry dropped due to a full buffer",
		}),

		ChainVerifications: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "finguard_audit_chain_verifications_total",
			Help: "Total number of hash-chain verification runs",
		}),

		ChainBreaks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "finguard_audit_chain_breaks_total",
			Help: "Total number of hash-chain integrity breaks detected",
		}),

		QueryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "finguard_audit_query_duration_seconds",
			Help:    "Duration of audit ledger queries",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(m.EntriesRecorded, m.WriteErrors, m.WriteDuration,
		m.BufferDrops, m.ChainVerifications, m.ChainBreaks, m.QueryDuration)

	return m
}

// Package metrics holds the Prometheus collectors for each FinGuard core
// subsystem, following the same NewXMetrics / NewXMetricsWithRegistry
// shape for every subsystem so tests can register against an isolated
// registry instead of the global default.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// KMMetrics holds Prometheus metrics for the Key Manager.
type KMMetrics struct {
	// KeysGenerated counts keys created, by purpose.
	KeysGenerated *prometheus.CounterVec
	// KeysRotated counts rotations, by purpose.
	KeysRotated *prometheus.CounterVec
	// KeysRevoked counts revocations, by purpose.
	KeysRevoked *prometheus.CounterVec
	// IntegrityFailures counts KeyIntegrityError occurrences, by purpose.
	IntegrityFailures *prometheus.CounterVec
	// SealDuration tracks seal/unseal latency, by operation (seal|unseal).
	SealDuration *prometheus.HistogramVec
	// MaintenanceRuns counts maintenance() invocations.
	MaintenanceRuns prometheus.Counter
}

// NewKMMetrics creates and registers KM metrics against the default registry.
func NewKMMetrics() *KMMetrics {
	return &KMMetrics{
		KeysGenerated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "finguard_km_keys_generated_total",
			Help: "Total number of encryption keys generated",
		}, []string{"purpose"}),

		KeysRotated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "finguard_km_keys_rotated_total",
			Help: "Total number of encryption key rotations",
		}, []string{"purpose"}),

		KeysRevoked: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "finguard_km_keys_revoked_total",
			Help: "Total number of encryption key revocations",
		}, []string{"purpose"}),

		IntegrityFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "finguard_km_integrity_failures_total",
			Help: "Total number of key integrity check failures",
		}, []string{"purpose"}),

		SealDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "finguard_km_seal_duration_seconds",
			Help:    "Duration of key seal/unseal operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),

		MaintenanceRuns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "finguard_km_maintenance_runs_total",
			Help: "Total number of maintenance() invocations",
		}),
	}
}

// NewKMMetricsWithRegistry creates KM metrics registered against reg, for
// test isolation.
func NewKMMetricsWithRegistry(reg *prometheus.Registry) *KMMetrics {
	m := &KMMetrics{
		KeysGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "finguard_km_keys_generated_total",
			Help: "Total number of encryption keys generated",
		}, []string{"purpose"}),

		KeysRotated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "finguard_km_keys_rotated_total",
			Help: "Total number of encryption key rotations",
		}, []string{"purpose"}),

		KeysRevoked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "finguard_km_keys_revoked_total",
			Help: "Total number of encryption key revocations",
		}, []string{"purpose"}),

		IntegrityFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "finguard_km_integrity_failures_total",
			Help: "Total number of key integrity check failures",
		}, []string{"purpose"}),

		SealDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "finguard_km_seal_duration_seconds",
			Help:    "Duration of key seal/unseal operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),

		MaintenanceRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "finguard_km_maintenance_runs_total",
			Help: "Total number of maintenance() invocations",
		}),
	}

	reg.MustRegister(m.KeysGenerated, m.KeysRotated, m.KeysRevoked,
		m.IntegrityFailures, m.SealDuration, m.MaintenanceRuns)

	return m
}

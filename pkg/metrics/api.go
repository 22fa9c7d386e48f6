package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultHTTPDurationBuckets are histogram buckets for HTTP request durations.
var DefaultHTTPDurationBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// HTTPMetrics holds Prometheus metrics for the core's HTTP surface.
type HTTPMetrics struct {
	// RequestDuration tracks request duration in seconds by method, route, and status code.
	RequestDuration *prometheus.HistogramVec
	// RequestsTotal counts requests by method, route, and status code.
	RequestsTotal *prometheus.CounterVec
}

// NewHTTPMetrics creates and registers HTTP metrics against the default registry.
func NewHTTPMetrics() *HTTPMetrics {
	return &HTTPMetrics{
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "finguard_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: DefaultHTTPDurationBuckets,
		}, []string{"method", "route", "status_code"}),

		RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "finguard_http_requests_total",
			Help: "Total HTTP requests by method, route, and status code",
		}, []string{"method", "route", "status_code"}),
	}
}

// NewHTTPMetricsWithRegistry creates HTTP metrics registered against reg, for
// test isolation.
func NewHTTPMetricsWithRegistry(reg *prometheus.Registry) *HTTPMetrics {
	m := &HTTPMetrics{
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "finguard_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: DefaultHTTPDurationBuckets,
		}, []string{"method", "route", "status_code"}),

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "finguard_http_requests_total",
			Help: "Total HTTP requests by method, route, and status code",
		}, []string{"method", "route", "status_code"}),
	}
	reg.MustRegister(m.RequestDuration, m.RequestsTotal)
	return m
}

// Package telemetry provides observability primitives for the conductor.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the conductor.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ActiveRequests  prometheus.Gauge

	TokensProcessed *prometheus.CounterVec // labels: model, type (prompt|completion)

	KeyRotationsTotal    *prometheus.CounterVec // labels: provider, reason
	ReservationWaitSecs  *prometheus.HistogramVec
	KeyAvailableRequests *prometheus.GaugeVec // labels: provider, key_name
	KeyAvailableTokens   *prometheus.GaugeVec // labels: provider, key_name

	CircuitBreakerState   *prometheus.GaugeVec   // labels: provider (value encodes the state)
	CircuitBreakerRejects *prometheus.CounterVec // labels: provider

	BatchSize        prometheus.Histogram
	BatchFailedTotal prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conductor",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "conductor",
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "conductor",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		TokensProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conductor",
			Name:      "tokens_processed_total",
			Help:      "Total tokens processed.",
		}, []string{"model", "type"}),

		KeyRotationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conductor",
			Name:      "key_rotations_total",
			Help:      "Total number of times the dispatcher rotated away from a candidate key.",
		}, []string{"provider", "reason"}),

		ReservationWaitSecs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "conductor",
			Name:      "reservation_wait_seconds",
			Help:      "Time spent waiting for ledger capacity before a reservation succeeded.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),

		KeyAvailableRequests: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "conductor",
			Name:      "key_available_requests",
			Help:      "Requests remaining in the current window for a key.",
		}, []string{"provider", "key_name"}),

		KeyAvailableTokens: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "conductor",
			Name:      "key_available_tokens",
			Help:      "Tokens remaining in the current window for a key.",
		}, []string{"provider", "key_name"}),

		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "conductor",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per provider (0=closed, 1=open, 2=half_open).",
		}, []string{"provider"}),

		CircuitBreakerRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conductor",
			Name:      "circuit_breaker_rejects_total",
			Help:      "Total requests rejected by circuit breaker.",
		}, []string{"provider"}),

		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "conductor",
			Name:      "batch_size",
			Help:      "Number of requests per batch call.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250},
		}),

		BatchFailedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "conductor",
			Name:      "batch_failed_total",
			Help:      "Total number of batch positions that did not complete successfully.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.TokensProcessed,
		m.KeyRotationsTotal,
		m.ReservationWaitSecs,
		m.KeyAvailableRequests,
		m.KeyAvailableTokens,
		m.CircuitBreakerState,
		m.CircuitBreakerRejects,
		m.BatchSize,
		m.BatchFailedTotal,
	)

	return m
}

// KeySnapshot is the minimal per-key view Metrics needs from the ledger,
// decoupled from the ledger package's own status type so telemetry does not
// import it directly.
type KeySnapshot struct {
	Provider          string
	KeyName           string
	AvailableRequests int64
	AvailableTokens   int64
}

// RefreshKeyGauges updates the per-key availability gauges from a ledger
// snapshot. Called periodically by a background worker rather than per
// request, since it walks every registered key.
func (m *Metrics) RefreshKeyGauges(snapshot []KeySnapshot) {
	for _, s := range snapshot {
		m.KeyAvailableRequests.WithLabelValues(s.Provider, s.KeyName).Set(float64(s.AvailableRequests))
		m.KeyAvailableTokens.WithLabelValues(s.Provider, s.KeyName).Set(float64(s.AvailableTokens))
	}
}

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// RequestLatency tracks HTTP request latency by endpoint and method
	RequestLatency *prometheus.HistogramVec
	// RefreshOutcomes counts token refresh results by outcome
	RefreshOutcomes *prometheus.CounterVec
	// RefreshFanoutSize tracks the number of users per refresh batch
	RefreshFanoutSize prometheus.Histogram
	// ProviderCallDuration tracks provider call latency by operation and outcome
	ProviderCallDuration *prometheus.HistogramVec
	// BusyQueryOutcomes counts free/busy query results by outcome
	BusyQueryOutcomes *prometheus.CounterVec
	// SlotsGenerated tracks the number of candidate slots per suggestion request
	SlotsGenerated prometheus.Histogram
	// EventOperations counts event materializer operations by operation and status
	EventOperations *prometheus.CounterVec
	// CredentialStatus tracks stored credentials by status
	CredentialStatus *prometheus.GaugeVec
	// ErrorCounter counts errors by type and endpoint
	ErrorCounter *prometheus.CounterVec
	// HTTPRequestsTotal total HTTP requests
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTPRequestsInFlight current HTTP requests being processed
	HTTPRequestsInFlight prometheus.Gauge
	// registry is the custom registry for this metrics instance
	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		RequestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_latency_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"endpoint", "method", "status"},
		),
		RefreshOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_refresh_total",
				Help:      "Total number of token refresh attempts",
			},
			[]string{"outcome"},
		),
		RefreshFanoutSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "refresh_fanout_size",
				Help:      "Number of users per refresh batch",
				Buckets:   []float64{1, 2, 5, 10, 20, 50, 100},
			},
		),
		ProviderCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_call_duration_seconds",
				Help:      "Calendar provider call latency in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"operation", "outcome"},
		),
		BusyQueryOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "busy_query_total",
				Help:      "Total number of per-user free/busy queries",
			},
			[]string{"outcome"},
		),
		SlotsGenerated: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "slots_generated",
				Help:      "Number of candidate slots produced per suggestion request",
				Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
			},
		),
		EventOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "event_operations_total",
				Help:      "Total number of event materializer operations",
			},
			[]string{"operation", "status"},
		),
		CredentialStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "credentials_by_status",
				Help:      "Number of stored credentials by status",
			},
			[]string{"provider", "status"},
		),
		ErrorCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors",
			},
			[]string{"type", "endpoint", "method"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"endpoint", "method", "status"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),
	}

	// Register metrics with custom registry
	registry.MustRegister(
		m.RequestLatency,
		m.RefreshOutcomes,
		m.RefreshFanoutSize,
		m.ProviderCallDuration,
		m.BusyQueryOutcomes,
		m.SlotsGenerated,
		m.EventOperations,
		m.CredentialStatus,
		m.ErrorCounter,
		m.HTTPRequestsTotal,
		m.HTTPRequestsInFlight,
	)

	return m
}

// Handler returns a Prometheus handler for these metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for test assertions
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRequestLatency records the latency of an HTTP request
func (m *Metrics) RecordRequestLatency(endpoint, method, status string, durationSeconds float64) {
	m.RequestLatency.WithLabelValues(endpoint, method, status).Observe(durationSeconds)
}

// RecordRefresh records a token refresh attempt outcome
// (success, fast_path, no_credential, no_refresh_token, failure)
func (m *Metrics) RecordRefresh(outcome string) {
	m.RefreshOutcomes.WithLabelValues(outcome).Inc()
}

// RecordRefreshFanout records the size of a refresh batch
func (m *Metrics) RecordRefreshFanout(size int) {
	m.RefreshFanoutSize.Observe(float64(size))
}

// RecordProviderCall records a provider call with its duration
func (m *Metrics) RecordProviderCall(operation, outcome string, durationSeconds float64) {
	m.ProviderCallDuration.WithLabelValues(operation, outcome).Observe(durationSeconds)
}

// RecordBusyQuery records a per-user free/busy query outcome
// (success, no_credential, failure)
func (m *Metrics) RecordBusyQuery(outcome string) {
	m.BusyQueryOutcomes.WithLabelValues(outcome).Inc()
}

// RecordSlotsGenerated records how many candidate slots a request produced
func (m *Metrics) RecordSlotsGenerated(count int) {
	m.SlotsGenerated.Observe(float64(count))
}

// RecordEventOperation records an event materializer operation
func (m *Metrics) RecordEventOperation(operation, status string) {
	m.EventOperations.WithLabelValues(operation, status).Inc()
}

// SetCredentialStatus sets the credential count gauge for a provider/status pair
func (m *Metrics) SetCredentialStatus(provider, status string, count int) {
	m.CredentialStatus.WithLabelValues(provider, status).Set(float64(count))
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, endpoint, method string) {
	m.ErrorCounter.WithLabelValues(errorType, endpoint, method).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(endpoint, method, status string) {
	m.HTTPRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
}

// IncHTTPRequestsInFlight increments the in-flight requests counter
func (m *Metrics) IncHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Inc()
}

// DecHTTPRequestsInFlight decrements the in-flight requests counter
func (m *Metrics) DecHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Dec()
}

// Package metrics exposes Prometheus instrumentation for the session
// lifecycle, the backend API clients and the local web front.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for BookTracker.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Session lifecycle metrics
	SessionOps      *prometheus.CounterVec
	SessionDuration *prometheus.HistogramVec
	Authenticated   prometheus.Gauge

	// Backend API metrics
	APIRequests *prometheus.CounterVec
	APILatency  *prometheus.HistogramVec

	// Web front metrics
	HTTPRequests    *prometheus.CounterVec
	GuardRedirects  *prometheus.CounterVec
	RateLimitDenied prometheus.Counter

	gatherer prometheus.Gatherer
}

// New creates a Metrics instance registered on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	return NewMetrics(reg, reg)
}

// NewMetrics creates a Metrics instance with all metrics registered on
// registry. gatherer backs Handler and may be nil when no endpoint is served.
func NewMetrics(registry prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		SessionOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "booktracker_session_operations_total",
				Help: "Total number of session operations by outcome",
			},
			[]string{"op", "result"},
		),
		SessionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "booktracker_session_operation_duration_seconds",
				Help:    "Session operation duration in seconds, including backend round trips",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"op"},
		),
		Authenticated: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "booktracker_session_authenticated",
				Help: "1 when a session is active, 0 otherwise",
			},
		),

		APIRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "booktracker_api_requests_total",
				Help: "Total number of backend API requests by service and status code",
			},
			[]string{"service", "code"},
		),
		APILatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "booktracker_api_latency_seconds",
				Help:    "Backend API request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service"},
		),

		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "booktracker_http_requests_total",
				Help: "Total number of requests served by the local web front",
			},
			[]string{"method", "code"},
		),
		GuardRedirects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "booktracker_guard_redirects_total",
				Help: "Protected route requests redirected to the login route",
			},
			[]string{"route"},
		),
		RateLimitDenied: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "booktracker_http_rate_limited_total",
				Help: "Requests rejected by the per-IP rate limiter",
			},
		),

		gatherer: gatherer,
	}
}

// Handler returns an HTTP handler serving the registry m was created with.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveSession records the outcome of one session operation.
func (m *Metrics) ObserveSession(op, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.SessionOps.WithLabelValues(op, result).Inc()
	m.SessionDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// SetAuthenticated tracks the current session state.
func (m *Metrics) SetAuthenticated(authenticated bool) {
	if m == nil {
		return
	}
	if authenticated {
		m.Authenticated.Set(1)
	} else {
		m.Authenticated.Set(0)
	}
}

// ObserveAPI records one backend API call. code is 0 for transport failures.
func (m *Metrics) ObserveAPI(service string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	label := "error"
	if code > 0 {
		label = strconv.Itoa(code)
	}
	m.APIRequests.WithLabelValues(service, label).Inc()
	m.APILatency.WithLabelValues(service).Observe(elapsed.Seconds())
}

// ObserveHTTP records one request served by the web front.
func (m *Metrics) ObserveHTTP(method string, code int) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
}

// GuardRedirect records a protected route bounced to login.
func (m *Metrics) GuardRedirect(route string) {
	if m == nil {
		return
	}
	m.GuardRedirects.WithLabelValues(route).Inc()
}

// RateLimited records a request rejected by the rate limiter.
func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.RateLimitDenied.Inc()
}

package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/channeladmin/channeladmin/internal/access"
	jobmetrics "github.com/channeladmin/channeladmin/internal/jobs"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	// Access records cache, authorization and mutation counters.
	Access *AccessMetrics
}

// NewMetrics initialises the registry and the base collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "channeladmin_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "channeladmin_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	registry.MustRegister(requests, duration)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		Access:          NewAccessMetrics(registry),
	}
}

// WorkerMetrics is the registry the worker process serves.
type WorkerMetrics struct {
	handler http.Handler
	// Jobs tracks background task runs.
	Jobs *jobmetrics.Metrics
}

// NewWorkerMetrics registers the job collectors on a fresh registry.
func NewWorkerMetrics() *WorkerMetrics {
	registry := prometheus.NewRegistry()
	return &WorkerMetrics{
		handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Jobs:    jobmetrics.NewMetrics(registry),
	}
}

// Handler returns the http.Handler for the worker's /metrics endpoint.
func (m *WorkerMetrics) Handler() http.Handler {
	return m.handler
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for custom collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// AccessMetrics is the Prometheus implementation of access.Metrics.
type AccessMetrics struct {
	cacheLookups *prometheus.CounterVec
	decisions    *prometheus.CounterVec
	mutations    *prometheus.CounterVec
}

var _ access.Metrics = (*AccessMetrics)(nil)

// NewAccessMetrics registers the access-control collectors.
func NewAccessMetrics(registerer prometheus.Registerer) *AccessMetrics {
	m := &AccessMetrics{
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "channeladmin_role_cache_lookups_total",
			Help: "Role cache lookups by result.",
		}, []string{"result"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "channeladmin_authz_decisions_total",
			Help: "Authorization decisions by outcome.",
		}, []string{"outcome"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "channeladmin_role_mutations_total",
			Help: "Role grants and revokes by action and status.",
		}, []string{"action", "status"}),
	}
	registerer.MustRegister(m.cacheLookups, m.decisions, m.mutations)
	return m
}

// CacheLookup implements access.Metrics.
func (m *AccessMetrics) CacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// Decision implements access.Metrics.
func (m *AccessMetrics) Decision(allowed bool) {
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	m.decisions.WithLabelValues(outcome).Inc()
}

// Mutation implements access.Metrics.
func (m *AccessMetrics) Mutation(action, status string) {
	m.mutations.WithLabelValues(action, status).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}

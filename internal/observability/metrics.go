package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	ledgerOpsTotal  *prometheus.CounterVec
	sweepRuns       *prometheus.CounterVec
	sequenceAllocs  *prometheus.CounterVec
}

// NewMetrics initialises the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "praxis_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "praxis_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	ledgerOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "praxis_ledger_operations_total",
		Help: "Committed ledger operations by kind.",
	}, []string{"op"})
	sweeps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "praxis_sweep_runs_total",
		Help: "Background sweep executions by task and outcome.",
	}, []string{"task", "outcome"})
	allocs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "praxis_sequence_allocations_total",
		Help: "Document numbers allocated by document type.",
	}, []string{"doc_type"})
	registry.MustRegister(requests, duration, ledgerOps, sweeps, allocs)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		ledgerOpsTotal:  ledgerOps,
		sweepRuns:       sweeps,
		sequenceAllocs:  allocs,
	}
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

// LedgerOp counts a committed ledger operation.
func (m *Metrics) LedgerOp(op string) {
	if m == nil {
		return
	}
	m.ledgerOpsTotal.WithLabelValues(op).Inc()
}

// SweepRun counts a background sweep execution.
func (m *Metrics) SweepRun(task, outcome string) {
	if m == nil {
		return
	}
	m.sweepRuns.WithLabelValues(task, outcome).Inc()
}

// SequenceAllocation counts an allocated document number.
func (m *Metrics) SequenceAllocation(docType string) {
	if m == nil {
		return
	}
	m.sequenceAllocs.WithLabelValues(docType).Inc()
}

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
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

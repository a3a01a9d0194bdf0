package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics mengumpulkan metrik Prometheus untuk aplikasi.
type Metrics struct {
	registry          *prometheus.Registry
	handler           http.Handler
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	snapshotDuration  *prometheus.HistogramVec
	transitions       *prometheus.CounterVec
	exportDuration    *prometheus.HistogramVec
	integrityFailures *prometheus.CounterVec
}

// NewMetrics menginisialisasi registry, metrik HTTP dan metrik audit hub.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "audithub_http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "audithub_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	snapshots := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "audithub_snapshot_duration_seconds",
		Help:    "Duration of single-module snapshot builds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"module", "outcome"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "audithub_period_transitions_total",
		Help: "Period lifecycle transitions by action and outcome.",
	}, []string{"action", "outcome"})
	exports := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "audithub_export_duration_seconds",
		Help:    "Duration of export regeneration by type.",
		Buckets: prometheus.DefBuckets,
	}, []string{"export_type", "outcome"})
	integrity := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "audithub_integrity_failures_total",
		Help: "Exports whose regenerated hash differs from the stored artifact.",
	}, []string{"export_type"})
	registry.MustRegister(requests, duration, snapshots, transitions, exports, integrity)
	return &Metrics{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:     requests,
		requestDuration:   duration,
		snapshotDuration:  snapshots,
		transitions:       transitions,
		exportDuration:    exports,
		integrityFailures: integrity,
	}
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
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

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// ObserveSnapshot records one module build.
func (m *Metrics) ObserveSnapshot(module string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.snapshotDuration.WithLabelValues(module, outcome(err)).Observe(elapsed.Seconds())
}

// ObserveTransition counts one period transition attempt.
func (m *Metrics) ObserveTransition(action, result string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(action, result).Inc()
}

// ObserveExport records one export regeneration.
func (m *Metrics) ObserveExport(exportType string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.exportDuration.WithLabelValues(exportType, outcome(err)).Observe(elapsed.Seconds())
}

// IncIntegrityFailure counts a determinism mismatch.
func (m *Metrics) IncIntegrityFailure(exportType string) {
	if m == nil {
		return
	}
	m.integrityFailures.WithLabelValues(exportType).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
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

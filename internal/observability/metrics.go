package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haven-crm/haven/internal/action"
)

// Metrics mengumpulkan metrik Prometheus untuk aplikasi.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	actionsTotal    *prometheus.CounterVec
	actionDuration  *prometheus.HistogramVec
	rateLimited     *prometheus.CounterVec
}

// NewMetrics menginisialisasi registry dan metrik dasar.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "haven_http_requests_total",
		Help: "Jumlah permintaan HTTP berdasarkan route dan status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "haven_http_request_duration_seconds",
		Help:    "Durasi permintaan HTTP per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	actions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "haven_actions_total",
		Help: "Jumlah eksekusi action berdasarkan nama, hasil, dan tahap terakhir.",
	}, []string{"action", "code", "stage"})
	actionDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "haven_action_duration_seconds",
		Help:    "Durasi eksekusi action.",
		Buckets: prometheus.DefBuckets,
	}, []string{"action"})
	rateLimited := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "haven_rate_limit_rejections_total",
		Help: "Jumlah permintaan yang ditolak oleh rate limiter.",
	}, []string{"limiter"})
	registry.MustRegister(requests, duration, actions, actionDuration, rateLimited)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		actionsTotal:    actions,
		actionDuration:  actionDuration,
		rateLimited:     rateLimited,
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

// ObserveAction mencatat hasil satu eksekusi action pipeline.
func (m *Metrics) ObserveAction(name string, stage action.Stage, code action.ErrorCode, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := string(code)
	if outcome == "" {
		outcome = "OK"
	}
	m.actionsTotal.WithLabelValues(name, outcome, stage.String()).Inc()
	m.actionDuration.WithLabelValues(name).Observe(elapsed.Seconds())
}

// RateLimited menambah counter penolakan untuk limiter tertentu.
func (m *Metrics) RateLimited(limiter string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(limiter).Inc()
}

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
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

var _ action.Observer = (*Metrics)(nil)

package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "study_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "study_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)

	ProctoringEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "study_proctoring_events_total",
			Help: "Proctoring events recorded, by type",
		},
		[]string{"type"},
	)

	EngagementEvents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "study_engagement_events_total",
			Help: "Engagement interaction events recorded",
		},
	)

	Fallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "study_fallback_total",
			Help: "Times a deterministic fallback replaced an external provider",
		},
		[]string{"component"},
	)

	GenerationJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "study_generation_jobs_total",
			Help: "Background test generation jobs, by outcome",
		},
		[]string{"outcome"},
	)
)

var registerOnce sync.Once

// Init registers the collectors with the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			RequestCounter,
			RequestDuration,
			ProctoringEvents,
			EngagementEvents,
			Fallbacks,
			GenerationJobs,
		)
	})
}

// Middleware records request counts and latency keyed by the chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		RequestCounter.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

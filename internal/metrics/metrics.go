// Package metrics exposes Prometheus collectors for batch runs and renders.
package metrics

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Render outcomes recorded on batchprogress_render_calls_total.
const (
	OutcomeOK         = "ok"
	OutcomeTargetGone = "target_gone"
	OutcomeError      = "error"
)

// Metrics owns every collector the service exports. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	renderCalls         *prometheus.CounterVec
	renderDuration      *prometheus.HistogramVec
	tasksFinished       *prometheus.CounterVec
	runsActive          prometheus.Gauge
	runsCompleted       *prometheus.CounterVec
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	rateLimitDelay      *prometheus.HistogramVec
}

// New registers the collectors against reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		renderCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batchprogress_render_calls_total",
			Help: "Render sink calls partitioned by operation and outcome.",
		}, []string{"op", "outcome"}),
		renderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batchprogress_render_duration_seconds",
			Help:    "Latency of render sink calls.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"op"}),
		tasksFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batchprogress_tasks_finished_total",
			Help: "Finished batch tasks partitioned by result.",
		}, []string{"result"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "batchprogress_runs_active",
			Help: "Batch runs currently in progress.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batchprogress_runs_completed_total",
			Help: "Completed batch runs partitioned by outcome.",
		}, []string{"outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batchprogress_http_requests_total",
			Help: "HTTP API requests partitioned by method and code.",
		}, []string{"method", "code"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batchprogress_http_request_duration_seconds",
			Help:    "HTTP API latency partitioned by method and route.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"method", "route"}),
		rateLimitDelay: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batchprogress_rate_limit_delay_seconds",
			Help:    "Time spent waiting on per-endpoint render rate limits.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"endpoint"}),
	}
	for _, collector := range []prometheus.Collector{
		m.renderCalls,
		m.renderDuration,
		m.tasksFinished,
		m.runsActive,
		m.runsCompleted,
		m.httpRequests,
		m.httpRequestDuration,
		m.rateLimitDelay,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register metrics collector: %w", err)
		}
	}
	return m, nil
}

// ObserveRender records one sink call.
func (m *Metrics) ObserveRender(op, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.renderCalls.WithLabelValues(op, outcome).Inc()
	m.renderDuration.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveTask records one finished task.
func (m *Metrics) ObserveTask(success bool) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.tasksFinished.WithLabelValues(result).Inc()
}

// RunStarted increments the active runs gauge.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.runsActive.Inc()
}

// RunFinished decrements the active runs gauge and counts the outcome.
func (m *Metrics) RunFinished(outcome string) {
	if m == nil {
		return
	}
	m.runsActive.Dec()
	m.runsCompleted.WithLabelValues(outcome).Inc()
}

// ObserveHTTPRequest records one API request.
func (m *Metrics) ObserveHTTPRequest(method, route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveRateLimitDelay records a rate limiter wait.
func (m *Metrics) ObserveRateLimitDelay(endpoint string, d time.Duration) {
	if m == nil {
		return
	}
	m.rateLimitDelay.WithLabelValues(SanitizeHost(endpoint)).Observe(d.Seconds())
}

// SanitizeHost reduces a URL to its lowercase hostname so credentials or
// tokens embedded in paths never reach label values. It returns "unknown" if
// the URL is invalid.
func SanitizeHost(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler exposes the collectors registered on g.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Middleware is a chi middleware that records HTTP request metrics.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		route := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		m.ObserveHTTPRequest(r.Method, route, ww.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Package metrics exposes Prometheus metrics for the editor server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "editor_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "editor_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	fileOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "editor_file_operations_total",
			Help: "Workspace file operations by kind and result",
		},
		[]string{"op", "status"},
	)

	chatRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "editor_chat_requests_total",
			Help: "AI chat requests by outcome code",
		},
		[]string{"outcome"},
	)

	chatUpstreamDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "editor_chat_upstream_duration_seconds",
			Help:    "Latency of outbound chat-completion calls",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80, 120},
		},
	)

	codeRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "editor_code_runs_total",
			Help: "Interpreter launches by result",
		},
		[]string{"status"},
	)

	codeRunsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "editor_code_runs_active",
			Help: "Interpreter processes still running",
		},
	)

	eventSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "editor_events_subscribers",
			Help: "Connected event stream subscribers",
		},
	)

	eventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "editor_events_published_total",
			Help: "Events published to the hub",
		},
		[]string{"type"},
	)

	housekeepingRemovedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "editor_housekeeping_removed_total",
			Help: "Items removed by the housekeeping sweep",
		},
		[]string{"kind"},
	)
)

// Handler returns the Prometheus exposition handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func RecordFileOperation(op string, success bool) {
	fileOperationsTotal.WithLabelValues(op, result(success)).Inc()
}

// RecordChat records the outcome code of one chat call ("ok" on success).
func RecordChat(outcome string) {
	chatRequestsTotal.WithLabelValues(outcome).Inc()
}

func ObserveChatUpstream(duration time.Duration) {
	chatUpstreamDuration.Observe(duration.Seconds())
}

func RecordCodeRun(success bool) {
	codeRunsTotal.WithLabelValues(result(success)).Inc()
}

func IncActiveRuns() { codeRunsActive.Inc() }
func DecActiveRuns() { codeRunsActive.Dec() }

func SetEventSubscribers(count int) {
	eventSubscribers.Set(float64(count))
}

func RecordEvent(eventType string) {
	eventsPublishedTotal.WithLabelValues(eventType).Inc()
}

func RecordHousekeeping(kind string, removed int) {
	if removed > 0 {
		housekeepingRemovedTotal.WithLabelValues(kind).Add(float64(removed))
	}
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// Middleware records request count and latency labelled by chi route
// pattern, never by raw path.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		RecordHTTPRequest(r.Method, route, status, time.Since(start))
	})
}

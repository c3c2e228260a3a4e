// Package metrics provides Prometheus instrumentation for the gateway.
package metrics

import (
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskgate",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "taskgate",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// VerificationsTotal counts payment verification attempts by result.
	VerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskgate",
			Name:      "verifications_total",
			Help:      "Total payment verifications by result (valid, invalid, error).",
		},
		[]string{"result"},
	)

	// SettlementsTotal counts credit settlement attempts by result.
	SettlementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskgate",
			Name:      "settlements_total",
			Help:      "Total credit settlements by result (ok, failed, skipped).",
		},
		[]string{"result"},
	)

	// SettledCredits accumulates the total credits settled.
	SettledCredits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "taskgate",
			Name:      "settled_credits_total",
			Help:      "Total credits settled against plans.",
		},
	)

	// PushDeliveriesTotal counts push notification deliveries by result.
	PushDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskgate",
			Name:      "push_deliveries_total",
			Help:      "Total push notification deliveries by result.",
		},
		[]string{"result"},
	)

	// TasksRunning tracks tasks currently being executed.
	TasksRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "taskgate",
			Name:      "tasks_running",
			Help:      "Number of tasks currently running.",
		},
	)

	// SchemeCacheLookups counts scheme resolver cache activity.
	SchemeCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskgate",
			Name:      "scheme_cache_lookups_total",
			Help:      "Scheme resolver cache lookups by outcome (hit, miss).",
		},
		[]string{"outcome"},
	)

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "taskgate",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "taskgate", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		VerificationsTotal,
		SettlementsTotal,
		SettledCredits,
		PushDeliveriesTotal,
		TasksRunning,
		SchemeCacheLookups,
		ActiveWebSocketClients,
		GoroutineCount,
	)
}

// GinMiddleware records request counts and latency per route pattern.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := statusLabel(c.Writer.Status())

		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

func statusLabel(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// Handler returns the /metrics endpoint handler.
// Goroutine count is refreshed on scrape.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		GoroutineCount.Set(float64(runtime.NumGoroutine()))
		h.ServeHTTP(c.Writer, c.Request)
	}
}

package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// unmatchedRoute labels requests that hit no registered route, so scanners
// probing random URLs cannot blow up label cardinality.
const unmatchedRoute = "unmatched"

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "notes",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	requestSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "notes",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by method and route.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"method", "route"})

	requestsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "notes",
		Subsystem: "http",
		Name:      "requests_in_flight",
		Help:      "HTTP requests currently being served.",
	})

	responseBytes = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "notes",
		Subsystem: "http",
		Name:      "response_size_bytes",
		Help:      "HTTP response body size by route.",
		Buckets:   prometheus.ExponentialBuckets(256, 4, 8), // 256B .. 4MiB
	}, []string{"route"})

	// Replays and throttling are reported by the idempotency and rate limit
	// middleware respectively.
	idempotentReplays = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "notes",
		Name:      "idempotent_replays_total",
		Help:      "Requests recognized as a replay of a stored Idempotency-Key.",
	}, []string{"route"})

	rateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "notes",
		Name:      "rate_limited_total",
		Help:      "Requests rejected with 429 by the rate limiter.",
	}, []string{"route"})
)

func init() {
	prometheus.MustRegister(requestsTotal, requestSeconds, requestsInFlight, responseBytes, idempotentReplays, rateLimited)
}

// routeLabel is the registered Gin route (e.g. /api/v1/turns/:id/replies)
// or unmatchedRoute.
func routeLabel(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return unmatchedRoute
}

// Metrics records request count, latency, in-flight requests and response
// size. Mount /metrics with promhttp next to it.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestsInFlight.Inc()
		start := time.Now()
		defer requestsInFlight.Dec()

		c.Next()

		route := routeLabel(c)
		requestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		requestSeconds.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
		// Size is -1 when nothing was written (e.g. 204).
		if n := c.Writer.Size(); n >= 0 {
			responseBytes.WithLabelValues(route).Observe(float64(n))
		}
	}
}

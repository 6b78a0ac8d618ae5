package http

import (
	"net/http"
	"strconv"
	"time"

	"notifyhub/internal/handler/http/pathutil"
	"notifyhub/internal/handler/http/responsewriter"
	"notifyhub/internal/observability/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// httpRequestsInFlight tracks the current number of HTTP requests being processed.
	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Current number of HTTP requests being served",
		},
	)

	httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_size_bytes",
			Help:    "HTTP request size in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware records HTTP request metrics including duration, size, and status codes.
// Paths are normalized first so tenant ids do not become label values
// (/admin/cache/acme/peek -> /admin/cache/:tenant/peek).
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		normalizedPath := pathutil.NormalizePath(r.URL.Path)

		if r.ContentLength > 0 {
			httpRequestSize.WithLabelValues(r.Method, normalizedPath).Observe(float64(r.ContentLength))
		}

		rw := responsewriter.Wrap(w)

		start := time.Now()
		next.ServeHTTP(rw, r)

		metrics.RecordHTTPRequest(r.Method, normalizedPath, strconv.Itoa(rw.StatusCode()),
			time.Since(start), rw.BytesWritten())
	})
}

// MetricsHandler returns an HTTP handler for the Prometheus metrics endpoint.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

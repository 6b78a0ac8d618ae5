// Package metrics provides centralized Prometheus metrics for the application.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics track HTTP request patterns and performance
var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration measures HTTP request duration in seconds
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// HTTPResponseSize measures HTTP response body size in bytes
	HTTPResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "HTTP response size in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 10, 6),
		},
		[]string{"method", "path"},
	)
)

// Dispatch metrics
var (
	// NotificationsSentTotal counts per-device deliveries by channel and result.
	NotificationsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Total number of per-device deliveries",
		},
		[]string{"channel", "result"}, // result: success, failure
	)

	// ChannelDispatchDuration measures the wall time of one channel's fan-out.
	ChannelDispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notification_channel_dispatch_duration_seconds",
			Help:    "Time taken to deliver one request over one channel",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"channel"},
	)

	// DispatchRoutesTotal counts entry requests by route (direct, queued).
	DispatchRoutesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_requests_total",
			Help: "Notification requests by routing decision",
		},
		[]string{"route"},
	)
)

// Pipeline metrics cover the queue, log sink, cache and background jobs.
var (
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notification_queue_depth",
			Help: "Pending items in the ingest queue",
		},
	)

	QueueEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_queue_events_total",
			Help: "Ingest queue events",
		},
		[]string{"event"}, // enqueued, dequeued, acked, requeued, dropped
	)

	LogSinkBuffered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "delivery_log_buffered",
			Help: "Delivery outcomes waiting to be written",
		},
	)

	LogSinkWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_log_writes_total",
			Help: "Batch writes of delivery outcomes",
		},
		[]string{"result"},
	)

	ConfigCacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "config_cache_lookups_total",
			Help: "Tenant credential lookups by serving tier",
		},
		[]string{"tier"}, // memory, redis, store, miss
	)

	RetryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_retry_attempts_total",
			Help: "Re-deliveries attempted by the reconciler",
		},
		[]string{"channel", "result"},
	)

	ScheduledJobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduled_job_runs_total",
			Help: "Scheduled job executions",
		},
		[]string{"result"}, // success, failure, skipped
	)
)

// Database metrics track database performance
var (
	// DBQueryDuration measures database query duration
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
		},
		[]string{"operation"},
	)

	DBConnectionsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_in_use",
			Help: "Number of database connections in use",
		},
	)

	DBConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_idle",
			Help: "Number of idle database connections",
		},
	)
)

// RecordHTTPRequest records an HTTP request with its metadata
func RecordHTTPRequest(method, path, status string, duration time.Duration, responseSize int) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
	if responseSize > 0 {
		HTTPResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
	}
}

// RecordOperationDuration records the duration of a named operation
func RecordOperationDuration(operation string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

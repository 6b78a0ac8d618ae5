package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"notifyhub/internal/observability/metrics"
)

const queueDepthInterval = 10 * time.Second

// QueueLengther reports the number of pending ingest items.
type QueueLengther interface {
	Length(ctx context.Context) (int64, error)
}

// startMetricsServer starts the Prometheus metrics HTTP server on METRICS_PORT
// (default 9090) and polls the ingest queue depth into a gauge.
// Both stop when ctx is canceled; the server gets 5 seconds to drain.
func startMetricsServer(ctx context.Context, logger *slog.Logger, q QueueLengther) *http.Server {
	port := getMetricsPort()

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("metrics server starting", slog.Int("port", port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", slog.Any("error", err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", slog.Any("error", err))
		} else {
			logger.Info("metrics server stopped")
		}
	}()

	if q != nil {
		go reportQueueDepth(ctx, logger, q, queueDepthInterval)
	}

	return server
}

// reportQueueDepth publishes the queue length every interval until ctx is done.
func reportQueueDepth(ctx context.Context, logger *slog.Logger, q QueueLengther, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := q.Length(ctx)
			if err != nil {
				logger.Warn("queue depth poll failed", slog.Any("error", err))
				continue
			}
			metrics.SetQueueDepth(n)
		}
	}
}

// getMetricsPort retrieves the metrics server port from environment variable.
// Defaults to 9090 if not set or invalid.
func getMetricsPort() int {
	portStr := os.Getenv("METRICS_PORT")
	if portStr == "" {
		return 9090
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return 9090
	}

	return port
}

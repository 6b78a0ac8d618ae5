// Package http provides the HTTP surface of the notification service:
// health probes, metrics, middleware and the route registration shared by
// the notify, device and cache admin handlers.
package http

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// HealthResponse represents the JSON response for health check endpoints.
type HealthResponse struct {
	Status    string                 `json:"status"`    // "healthy" or "unhealthy"
	Timestamp string                 `json:"timestamp"` // ISO 8601 format
	Checks    map[string]CheckStatus `json:"checks"`    // Status of each check item
	Version   string                 `json:"version"`   // Application version
}

// CheckStatus represents the status of a single health check.
type CheckStatus struct {
	Status  string                 `json:"status"`            // "healthy", "degraded" or "unhealthy"
	Message string                 `json:"message,omitempty"` // Optional status message
	Details map[string]interface{} `json:"details,omitempty"` // Optional additional details
}

// RedisPinger is the part of a redis client the probes need.
type RedisPinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// ChannelReporter returns the per-channel circuit view of the dispatch engine.
type ChannelReporter func() interface{}

// HealthHandler handles health check endpoint requests.
// The database is required. Redis and the channel circuits are reported but
// only degrade the status: the cache falls through to the store and small
// fan-outs are delivered inline without the queue.
type HealthHandler struct {
	DB       *sql.DB
	Redis    RedisPinger
	Channels ChannelReporter
	Version  string
}

// ServeHTTP performs health checks and returns the application health status.
// Returns 200 OK if healthy or degraded, 503 Service Unavailable if the database check fails.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]CheckStatus)
	allHealthy := true
	degraded := false

	// データベース接続チェック
	if h.DB != nil {
		dbCheck := h.checkDatabase(ctx)
		checks["database"] = dbCheck
		switch dbCheck.Status {
		case "unhealthy":
			allHealthy = false
		case "degraded":
			degraded = true
		}
	} else {
		checks["database"] = CheckStatus{
			Status:  "unhealthy",
			Message: "not configured",
		}
		allHealthy = false
	}

	// Redisチェック
	if h.Redis != nil {
		redisCheck := h.checkRedis(ctx)
		checks["redis"] = redisCheck
		if redisCheck.Status != "healthy" {
			degraded = true
		}
	}

	// チャネルのサーキット状態
	if h.Channels != nil {
		checks["channels"] = CheckStatus{
			Status:  "healthy",
			Details: map[string]interface{}{"channels": h.Channels()},
		}
	}

	status := "healthy"
	statusCode := http.StatusOK
	if degraded {
		status = "degraded"
	}
	if !allHealthy {
		status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
		Version:   h.Version,
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Printf("health: failed to encode response: %v", err)
	}
}

// checkDatabase checks database connectivity and returns connection pool statistics.
func (h *HealthHandler) checkDatabase(ctx context.Context) CheckStatus {
	if err := h.DB.PingContext(ctx); err != nil {
		return CheckStatus{
			Status:  "unhealthy",
			Message: err.Error(),
		}
	}

	stats := h.DB.Stats()
	details := map[string]interface{}{
		"max_open_connections": stats.MaxOpenConnections,
		"open_connections":     stats.OpenConnections,
		"in_use":               stats.InUse,
		"idle":                 stats.Idle,
		"wait_count":           stats.WaitCount,
		"wait_duration_ms":     stats.WaitDuration.Milliseconds(),
	}

	// Guard against zero division when MaxOpenConnections is 0 (unlimited/unconfigured)
	if stats.MaxOpenConnections == 0 {
		return CheckStatus{
			Status:  "degraded",
			Message: "connection pool max connections not configured",
			Details: details,
		}
	}

	utilizationPercent := float64(stats.InUse) / float64(stats.MaxOpenConnections) * 100
	details["utilization_percent"] = utilizationPercent

	if utilizationPercent >= 80.0 {
		return CheckStatus{
			Status:  "degraded",
			Message: "connection pool utilization above 80%",
			Details: details,
		}
	}

	return CheckStatus{
		Status:  "healthy",
		Details: details,
	}
}

func (h *HealthHandler) checkRedis(ctx context.Context) CheckStatus {
	start := time.Now()
	if err := h.Redis.Ping(ctx).Err(); err != nil {
		return CheckStatus{
			Status:  "degraded",
			Message: err.Error(),
		}
	}
	return CheckStatus{
		Status:  "healthy",
		Details: map[string]interface{}{"latency_ms": time.Since(start).Milliseconds()},
	}
}

// ReadyHandler handles Kubernetes readiness probe requests.
// It checks that the database and, when configured, redis accept traffic.
type ReadyHandler struct {
	DB    *sql.DB
	Redis RedisPinger
}

// ServeHTTP performs readiness checks and returns 200 OK if ready,
// or 503 Service Unavailable otherwise.
func (h *ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.DB == nil {
		http.Error(w, "database not configured", http.StatusServiceUnavailable)
		return
	}

	if err := h.DB.PingContext(ctx); err != nil {
		http.Error(w, "database not ready: "+err.Error(), http.StatusServiceUnavailable)
		return
	}

	if h.Redis != nil {
		if err := h.Redis.Ping(ctx).Err(); err != nil {
			http.Error(w, "redis not ready: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ready")); err != nil {
		log.Printf("ready: failed to write response: %v", err)
	}
}

// LiveHandler handles Kubernetes liveness probe requests.
type LiveHandler struct{}

// ServeHTTP always returns 200 OK if the process is able to respond.
func (h *LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("alive")); err != nil {
		log.Printf("alive: failed to write response: %v", err)
	}
}

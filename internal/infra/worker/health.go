package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// HealthServer serves the worker's probes:
//   - /health: liveness (always 200 OK)
//   - /health/ready: readiness (200 once SetReady(true), 503 before and during shutdown)
//   - /health/channels: per-channel circuit state from the dispatch engine
//   - /health/queue: pending and in-flight counts of the ingest queue
//
// The server supports graceful shutdown via context cancellation.
type HealthServer struct {
	addr    string
	logger  *slog.Logger
	isReady *atomic.Bool
	server  *http.Server

	mu       sync.RWMutex
	channels func() interface{}
	queue    QueueReporter
}

// QueueReporter is the part of the ingest queue served on /health/queue.
type QueueReporter interface {
	Length(ctx context.Context) (int64, error)
	InFlight(ctx context.Context) (int64, error)
}

type queueResponse struct {
	Status   string `json:"status"`
	Pending  int64  `json:"pending"`
	InFlight int64  `json:"in_flight"`
}

// healthResponse is the JSON response format for health check endpoints.
type healthResponse struct {
	Status string `json:"status"`
}

// channelsResponse wraps the channel report.
type channelsResponse struct {
	Status   string      `json:"status"`
	Channels interface{} `json:"channels"`
}

// NewHealthServer creates a new health check server listening on addr.
// Call Start to begin serving.
func NewHealthServer(addr string, logger *slog.Logger) *HealthServer {
	if logger == nil {
		logger = slog.Default()
	}
	isReady := &atomic.Bool{}
	isReady.Store(false) // Start as not ready

	return &HealthServer{
		addr:    addr,
		logger:  logger,
		isReady: isReady,
	}
}

// SetChannelReporter installs the function whose result is served on
// /health/channels. The value is encoded as JSON.
func (h *HealthServer) SetChannelReporter(fn func() interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.channels = fn
}

// SetQueueReporter installs the queue served on /health/queue.
func (h *HealthServer) SetQueueReporter(q QueueReporter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.queue = q
}

// Handler returns the probe routes.
func (h *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleLiveness)
	mux.HandleFunc("/health/ready", h.handleReadiness)
	mux.HandleFunc("/health/channels", h.handleChannels)
	mux.HandleFunc("/health/queue", h.handleQueue)
	return mux
}

// Start serves until ctx is cancelled, then shuts down with a 5-second timeout.
// It returns http.ErrServerClosed on graceful shutdown.
func (h *HealthServer) Start(ctx context.Context) error {
	h.server = &http.Server{
		Addr:         h.addr,
		Handler:      h.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		h.logger.Info("health server starting", slog.String("addr", h.addr))
		if err := h.server.ListenAndServe(); err != nil {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		h.logger.Info("health server shutting down")
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			h.logger.Error("health server shutdown failed", slog.Any("error", err))
			return err
		}
		h.logger.Info("health server stopped")
		return http.ErrServerClosed

	case err := <-errChan:
		if err == http.ErrServerClosed {
			return err
		}
		h.logger.Error("health server failed", slog.Any("error", err))
		return err
	}
}

// SetReady sets the readiness state reported by /health/ready.
func (h *HealthServer) SetReady(ready bool) {
	h.isReady.Store(ready)
	h.logger.Info("health server readiness changed", slog.Bool("ready", ready))
}

func (h *HealthServer) handleLiveness(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func (h *HealthServer) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if h.isReady.Load() {
		h.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
		return
	}
	h.writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "not ready"})
}

func (h *HealthServer) handleChannels(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	fn := h.channels
	h.mu.RUnlock()

	if fn == nil {
		h.writeJSON(w, http.StatusServiceUnavailable, channelsResponse{Status: "unavailable"})
		return
	}
	h.writeJSON(w, http.StatusOK, channelsResponse{Status: "ok", Channels: fn()})
}

func (h *HealthServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	q := h.queue
	h.mu.RUnlock()

	if q == nil {
		h.writeJSON(w, http.StatusServiceUnavailable, queueResponse{Status: "unavailable"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	pending, err := q.Length(ctx)
	if err == nil {
		var inFlight int64
		inFlight, err = q.InFlight(ctx)
		if err == nil {
			h.writeJSON(w, http.StatusOK, queueResponse{Status: "ok", Pending: pending, InFlight: inFlight})
			return
		}
	}
	h.logger.Warn("queue health check failed", slog.Any("error", err))
	h.writeJSON(w, http.StatusServiceUnavailable, queueResponse{Status: "unavailable"})
}

func (h *HealthServer) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode health response", slog.Any("error", err))
	}
}

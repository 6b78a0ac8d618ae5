package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"notifyhub/internal/bootstrap"
	"notifyhub/internal/config"
	"notifyhub/internal/infra/db"
	"notifyhub/internal/observability/logging"
	"notifyhub/internal/observability/tracing"
	"notifyhub/internal/usecase/logsink"
	"notifyhub/internal/usecase/registration"

	hhttp "notifyhub/internal/handler/http"
	hcache "notifyhub/internal/handler/http/cacheadmin"
	hdevice "notifyhub/internal/handler/http/device"
	hnotify "notifyhub/internal/handler/http/notify"
	"notifyhub/internal/handler/http/requestid"
)

const (
	// 1 IP あたり 20 req/s、バースト 40
	notifyRatePerSecond = 20
	notifyRateBurst     = 40

	adminTimeout = 10 * time.Second
)

func main() {
	logger := initLogger()

	cfg, err := config.LoadAppConfig()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracer := initTracing(cfg, logger)

	components, err := bootstrap.Build(ctx, cfg, logsink.Config{}, logger)
	if err != nil {
		logger.Error("failed to initialize components", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := components.Close(); err != nil {
			logger.Error("failed to close components", slog.Any("error", err))
		}
	}()

	// 小さなファンアウトは API プロセス内で配信されるため、ここでもシンクを回す
	sinkDone := make(chan struct{})
	go func() {
		defer close(sinkDone)
		components.Sink.Run(ctx)
	}()
	go db.ReportStats(ctx, components.DB, 15*time.Second)

	version := getVersion()
	handler := setupServer(logger, cfg, components, version)

	runServer(logger, cfg, handler, version)

	cancel()
	<-sinkDone
	flushTracer(logger, shutdownTracer, cfg.ShutdownTimeout)
}

// initLogger initializes the structured logger from LOG_LEVEL and LOG_FORMAT.
func initLogger() *slog.Logger {
	logger := logging.NewLogger()
	slog.SetDefault(logger)
	return logger
}

// initTracing installs the tracer provider when tracing is enabled.
func initTracing(cfg *config.AppConfig, logger *slog.Logger) func(context.Context) error {
	if !cfg.Observability.EnableTracing {
		return nil
	}
	logger.Info("tracing enabled")
	return tracing.InitTracer(tracing.Config{SampleRatio: 1})
}

func flushTracer(logger *slog.Logger, shutdown func(context.Context) error, timeout time.Duration) {
	if shutdown == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Error("failed to flush tracer", slog.Any("error", err))
	}
}

// getVersion returns the application version from environment or default.
func getVersion() string {
	version := os.Getenv("VERSION")
	if version == "" {
		version = "dev"
	}
	return version
}

// setupServer registers all routes and wraps them with the middleware chain.
func setupServer(logger *slog.Logger, cfg *config.AppConfig, c *bootstrap.Components, version string) http.Handler {
	rootMux := http.NewServeMux()

	// ヘルスチェック・メトリクス
	rootMux.Handle("GET /health", &hhttp.HealthHandler{
		DB:       c.DB,
		Redis:    c.Redis,
		Channels: func() interface{} { return c.Engine.ChannelHealth() },
		Version:  version,
	})
	rootMux.Handle("GET /ready", &hhttp.ReadyHandler{DB: c.DB, Redis: c.Redis})
	rootMux.Handle("GET /live", &hhttp.LiveHandler{})
	rootMux.Handle("GET /metrics", hhttp.MetricsHandler())

	// 通知受付（IP 単位のレート制限）
	notifyMux := http.NewServeMux()
	hnotify.Register(notifyMux, c.Notify)
	limiter := hhttp.NewRateLimiter(notifyRatePerSecond, notifyRateBurst)
	rootMux.Handle("/notify", limiter.Limit(notifyMux))

	hdevice.Register(rootMux, registration.NewService(c.Devices, logger))

	// キャッシュ管理
	adminMux := http.NewServeMux()
	hcache.Register(adminMux, c.Configs)
	rootMux.Handle("/admin/", hhttp.Timeout(adminTimeout)(adminMux))

	logger.Info("routes registered",
		slog.Int("queue_threshold", cfg.QueueThreshold),
		slog.Bool("dry_run", cfg.DryRun))

	return applyMiddleware(logger, cfg, rootMux)
}

// applyMiddleware wraps the handler with the middleware chain.
// Order: Request ID → Tracing → Recovery → Logging → Input Validation → Metrics
func applyMiddleware(logger *slog.Logger, cfg *config.AppConfig, handler http.Handler) http.Handler {
	handler = hhttp.MetricsMiddleware(handler)
	handler = hhttp.InputValidation(hhttp.DefaultMaxBodyBytes)(handler)
	handler = hhttp.Logging(logger)(handler)
	handler = hhttp.Recover(logger)(handler)
	if cfg.Observability.EnableTracing {
		handler = tracing.Middleware(handler)
	}
	handler = requestid.Middleware(handler)
	return handler
}

// runServer starts the HTTP server and blocks until SIGINT/SIGTERM, then
// shuts it down within the configured timeout.
func runServer(logger *slog.Logger, cfg *config.AppConfig, handler http.Handler, version string) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			slog.String("addr", cfg.HTTPAddr),
			slog.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutdown signal received", slog.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown failed", slog.Any("error", err))
		return
	}
	logger.Info("server stopped gracefully")
}

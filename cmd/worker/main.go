package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"notifyhub/internal/bootstrap"
	"notifyhub/internal/config"
	hhttp "notifyhub/internal/handler/http/respond"
	"notifyhub/internal/infra/db"
	workerPkg "notifyhub/internal/infra/worker"
	"notifyhub/internal/observability/logging"
	"notifyhub/internal/usecase/ingest"
	"notifyhub/internal/usecase/logsink"
	"notifyhub/internal/usecase/reconcile"
	"notifyhub/internal/usecase/schedule"
)

const (
	jobRetry    = "retry"
	jobSchedule = "schedule"
)

func main() {
	logger := initLogger()

	appConfig, err := config.LoadAppConfig()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	// Load worker configuration (fail-open strategy)
	workerMetrics := workerPkg.NewWorkerMetrics()
	workerConfig, err := workerPkg.LoadConfigFromEnv(logger, workerMetrics)
	if err != nil {
		logger.Error("failed to load worker configuration", slog.Any("error", err))
		os.Exit(1)
	}
	appConfig.Queue.VisibilityTimeout = workerConfig.VisibilityTimeout
	logger.Info("worker configuration loaded",
		slog.String("retry_cron", workerConfig.RetryCron),
		slog.String("schedule_cron", workerConfig.ScheduleCron),
		slog.String("timezone", workerConfig.Timezone),
		slog.Duration("job_timeout", workerConfig.JobTimeout),
		slog.Int("health_port", workerConfig.HealthPort))

	// Create context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	components, err := bootstrap.Build(ctx, appConfig, logsink.Config{
		Capacity:   workerConfig.LogCapacity,
		BatchSize:  workerConfig.LogBatchSize,
		RetryDelay: workerConfig.LogRetryDelay,
	}, logger)
	if err != nil {
		logger.Error("failed to initialize components", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := components.Close(); err != nil {
			logger.Error("failed to close components", slog.Any("error", err))
		}
	}()

	// Start metrics HTTP server
	startMetricsServer(ctx, logger, components.Queue)

	// Start health check server
	healthAddr := fmt.Sprintf(":%d", workerConfig.HealthPort)
	healthServer := workerPkg.NewHealthServer(healthAddr, logger)
	healthServer.SetChannelReporter(func() interface{} { return components.Engine.ChannelHealth() })
	healthServer.SetQueueReporter(components.Queue)
	go func() {
		if err := healthServer.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health server failed", slog.Any("error", err))
		}
	}()

	var wg sync.WaitGroup
	background := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}

	// シンクは最後まで書き切る必要があるので、ワーカー停止後に止める
	sinkCtx, stopSink := context.WithCancel(context.Background())
	sinkDone := make(chan struct{})
	go func() {
		defer close(sinkDone)
		components.Sink.Run(sinkCtx)
	}()

	queueWorker := ingest.NewWorker(components.Queue, components.Notify, ingest.Config{
		PollInterval:      workerConfig.QueuePollInterval,
		ErrorBackoff:      workerConfig.QueueErrorBackoff,
		VisibilityTimeout: workerConfig.VisibilityTimeout,
	}, logger)
	background(queueWorker.Run)
	background(queueWorker.RunReaper)
	background(func(ctx context.Context) { db.ReportStats(ctx, components.DB, 15*time.Second) })

	reconciler := reconcile.New(components.Outcomes, components.Devices, components.Engine, logger)
	trigger := schedule.NewTrigger(components.Jobs, components.Templates, components.Outcomes, components.Notify, logger)

	scheduler := startCronWorker(logger, reconciler, trigger, workerConfig, workerMetrics)

	healthServer.SetReady(true)
	logger.Info("worker marked as ready")

	<-ctx.Done()
	logger.Info("shutdown signal received")
	healthServer.SetReady(false)

	// 実行中のジョブを待つ
	<-scheduler.Stop().Done()
	wg.Wait()

	stopSink()
	<-sinkDone
	logger.Info("worker stopped gracefully")
}

// initLogger initializes the structured logger from LOG_LEVEL and LOG_FORMAT.
func initLogger() *slog.Logger {
	logger := logging.NewLogger()
	slog.SetDefault(logger)
	return logger
}

// startCronWorker schedules the retry reconciler and the job trigger.
func startCronWorker(
	logger *slog.Logger,
	reconciler *reconcile.Reconciler,
	trigger *schedule.Trigger,
	cfg *workerPkg.WorkerConfig,
	metrics *workerPkg.WorkerMetrics,
) *cron.Cron {
	// Load timezone
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Error("invalid timezone, using UTC", slog.String("timezone", cfg.Timezone), slog.Any("error", err))
		loc = time.UTC
	}
	// 前回の実行が終わっていなければスキップする
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)

	if _, err := c.AddFunc(cfg.RetryCron, func() {
		runRetryJob(logger, reconciler, cfg, metrics)
	}); err != nil {
		logger.Error("failed to add retry job", slog.Any("error", err))
		os.Exit(1)
	}
	if _, err := c.AddFunc(cfg.ScheduleCron, func() {
		runScheduleJob(logger, trigger, cfg, metrics)
	}); err != nil {
		logger.Error("failed to add schedule job", slog.Any("error", err))
		os.Exit(1)
	}
	c.Start()

	logger.Info("cron started",
		slog.String("retry_cron", cfg.RetryCron),
		slog.String("schedule_cron", cfg.ScheduleCron),
		slog.String("timezone", cfg.Timezone))
	return c
}

// runRetryJob executes one reconciler pass with timeout and metrics.
func runRetryJob(logger *slog.Logger, reconciler *reconcile.Reconciler, cfg *workerPkg.WorkerConfig, metrics *workerPkg.WorkerMetrics) {
	startTime := time.Now()
	metrics.RecordJobRun(jobRetry, "started")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.JobTimeout)
	defer cancel()

	stats, err := reconciler.ProcessAllRetries(ctx)
	metrics.RecordJobDuration(jobRetry, time.Since(startTime).Seconds())
	if err != nil {
		// 機密情報をマスクしてログ出力
		logger.Error("retry pass failed", slog.String("error", hhttp.SanitizeError(err)))
		metrics.RecordJobRun(jobRetry, "failure")
		return
	}

	metrics.RecordJobRun(jobRetry, "success")
	metrics.RecordItems(jobRetry, stats.Eligible)
	metrics.RecordLastSuccess(jobRetry)

	logger.Info("retry pass completed",
		slog.Int("pending", stats.Pending),
		slog.Int("eligible", stats.Eligible),
		slog.Int("succeeded", stats.Succeeded),
		slog.Int("failed", stats.Failed),
		slog.Int("errors", stats.Errors),
		slog.Duration("duration", stats.Duration),
	)
}

// runScheduleJob fires the due scheduled jobs with timeout and metrics.
func runScheduleJob(logger *slog.Logger, trigger *schedule.Trigger, cfg *workerPkg.WorkerConfig, metrics *workerPkg.WorkerMetrics) {
	startTime := time.Now()
	metrics.RecordJobRun(jobSchedule, "started")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.JobTimeout)
	defer cancel()

	stats, err := trigger.ExecuteDue(ctx)
	metrics.RecordJobDuration(jobSchedule, time.Since(startTime).Seconds())
	if err != nil {
		logger.Error("schedule pass failed", slog.String("error", hhttp.SanitizeError(err)))
		metrics.RecordJobRun(jobSchedule, "failure")
		return
	}

	metrics.RecordJobRun(jobSchedule, "success")
	metrics.RecordItems(jobSchedule, stats.Due)
	metrics.RecordLastSuccess(jobSchedule)

	if stats.Due > 0 {
		logger.Info("schedule pass completed",
			slog.Int("due", stats.Due),
			slog.Int("succeeded", stats.Succeeded),
			slog.Int("failed", stats.Failed),
			slog.Int("skipped", stats.Skipped),
		)
	}
}

// Package ingest consumes the ingest queue and delivers queued requests.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"notifyhub/internal/domain/entity"
	"notifyhub/internal/infra/queue"
	"notifyhub/internal/observability/logging"
	"notifyhub/internal/usecase/dispatch"
)

const (
	DefaultPollInterval = time.Second
	DefaultErrorBackoff = 3 * time.Second
)

// Source is the queue the worker consumes.
type Source interface {
	Dequeue(ctx context.Context) (*queue.Delivery, error)
	Ack(ctx context.Context, d *queue.Delivery) error
	RecoverExpired(ctx context.Context) (int, error)
}

// Deliverer resolves and dispatches one request.
type Deliverer interface {
	Deliver(ctx context.Context, req entity.DispatchRequest) (*dispatch.Result, error)
}

// Config controls the worker's timing.
type Config struct {
	PollInterval      time.Duration
	ErrorBackoff      time.Duration
	VisibilityTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = DefaultErrorBackoff
	}
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = queue.DefaultVisibilityTimeout
	}
	return c
}

// Worker is a single-goroutine consumer. Items are acked after delivery, or
// after a delivery error (the item is then dropped). Items of a crashed
// worker come back through the reaper once their visibility timeout expires.
type Worker struct {
	src     Source
	deliver Deliverer
	cfg     Config
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration)
}

// NewWorker creates a Worker.
func NewWorker(src Source, deliver Deliverer, cfg Config, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		src:     src,
		deliver: deliver,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Run consumes the queue until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("queue worker started",
		slog.Duration("poll_interval", w.cfg.PollInterval),
		slog.Duration("visibility_timeout", w.cfg.VisibilityTimeout))
	defer w.logger.Info("queue worker stopped")

	for ctx.Err() == nil {
		w.step(ctx)
	}
}

// step handles at most one item.
func (w *Worker) step(ctx context.Context) {
	d, err := w.src.Dequeue(ctx)
	if err != nil {
		if errors.Is(err, queue.ErrPoisonItem) {
			w.logger.Error("dropped undecodable queue item", slog.Any("error", err))
			return
		}
		if ctx.Err() != nil {
			return
		}
		w.logger.Error("dequeue failed", slog.Any("error", err))
		w.sleep(ctx, w.cfg.ErrorBackoff)
		return
	}
	if d == nil {
		w.sleep(ctx, w.cfg.PollInterval)
		return
	}

	w.handle(ctx, d)
}

func (w *Worker) handle(ctx context.Context, d *queue.Delivery) {
	req := d.Item.Request
	logger := logging.WithTenant(w.logger, req.TenantID).With(
		slog.String("queue_id", d.Item.ID),
		slog.Duration("queued_for", time.Since(d.Item.EnqueuedAt)))
	if req.ID == "" {
		req.ID = d.Item.ID
	}

	res, err := w.safeDeliver(logging.WithLogger(ctx, logger), req)
	switch {
	case err != nil:
		logger.Error("queued notification dropped", slog.Any("error", err))
	case !res.Success:
		logger.Warn("queued notification partially failed", slog.String("message", res.Message))
	default:
		logger.Info("queued notification delivered", slog.Int("devices", res.TotalDevices))
	}

	if err := w.src.Ack(ctx, d); err != nil {
		// visibility timeout 経過後に再配信される
		logger.Error("ack failed", slog.Any("error", err))
	}
}

func (w *Worker) safeDeliver(ctx context.Context, req entity.DispatchRequest) (res *dispatch.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("panic during delivery")
			w.logger.Error("panic while delivering queued notification", slog.Any("panic", r))
		}
	}()
	return w.deliver.Deliver(ctx, req)
}

// RunReaper returns expired in-flight items to the queue every visibility timeout.
func (w *Worker) RunReaper(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.VisibilityTimeout)
	defer ticker.Stop()

	w.reap(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.reap(ctx)
		}
	}
}

func (w *Worker) reap(ctx context.Context) {
	n, err := w.src.RecoverExpired(ctx)
	if err != nil {
		w.logger.Error("failed to recover expired queue items", slog.Any("error", err))
		return
	}
	if n > 0 {
		w.logger.Warn("recovered expired queue items", slog.Int("count", n))
	}
}

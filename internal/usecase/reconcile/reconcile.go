// Package reconcile re-delivers failed outcomes according to each channel's retry policy.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"notifyhub/internal/domain/entity"
	"notifyhub/internal/infra/notifier"
	"notifyhub/internal/observability/metrics"
	"notifyhub/internal/repository"
	"notifyhub/internal/resilience/retry"
	"notifyhub/internal/usecase/dispatch"
)

// Dispatcher is the part of the dispatch engine the reconciler needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, devices []*entity.Device, msg notifier.Message, opts dispatch.Options) (*dispatch.Result, error)
	Policies(ctx context.Context) map[entity.ChannelType]entity.ChannelPolicy
}

// defaultPendingLimit caps one channel's pending scan when the policy has no batch size.
const defaultPendingLimit = 1000

// PassStats summarizes one reconciliation pass.
type PassStats struct {
	Pending   int
	Eligible  int
	Succeeded int
	Failed    int
	Errors    int
	Duration  time.Duration
}

// Reconciler implements ProcessAllRetries.
type Reconciler struct {
	outcomes repository.OutcomeRepository
	devices  repository.DeviceRepository
	engine   Dispatcher
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Reconciler.
func New(outcomes repository.OutcomeRepository, devices repository.DeviceRepository, engine Dispatcher, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		outcomes: outcomes,
		devices:  devices,
		engine:   engine,
		logger:   logger,
		now:      time.Now,
	}
}

// Wait returns how long after the last attempt a record with retryCount
// previous retries must wait: min(initial * multiplier^max(0, retryCount-1), max).
func Wait(p entity.RetryPolicy, retryCount int) time.Duration {
	return retry.Delay(retry.FromPolicy(p), retryCount)
}

// Eligible reports whether o may be retried at now. channelEnabled is the
// device's opt-in flag for the outcome's channel. Permanent failures are
// never retried and timeouts only when the policy allows it.
func Eligible(o *entity.DeliveryOutcome, p entity.RetryPolicy, channelEnabled bool, now time.Time) bool {
	if !channelEnabled || o.Success {
		return false
	}
	switch o.FailureKind {
	case entity.FailurePermanent:
		return false
	case entity.FailureTimeout:
		if !p.RetryOnTimeout {
			return false
		}
	}
	if o.RetryCount >= p.MaxAttempts {
		return false
	}
	if now.Sub(o.FirstAttemptAt) > p.MaxRetryDuration {
		return false
	}
	return now.Sub(o.LastAttemptAt) >= Wait(p, o.RetryCount)
}

// ProcessAllRetries runs one pass over every channel in fixed order.
// A failing record or channel is logged and the pass continues.
func (r *Reconciler) ProcessAllRetries(ctx context.Context) (*PassStats, error) {
	start := time.Now()
	stats := &PassStats{}
	policies := r.engine.Policies(ctx)

	var errs []error
	for _, ch := range entity.AllChannels() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		p, ok := policies[ch]
		if !ok {
			p = entity.DefaultPolicy(ch)
		}
		if err := r.processChannel(ctx, ch, p, stats); err != nil {
			r.logger.Error("retry pass failed for channel",
				slog.String("channel", string(ch)),
				slog.Any("error", err))
			errs = append(errs, err)
		}
	}

	stats.Duration = time.Since(start)
	r.logger.Info("retry pass completed",
		slog.Int("pending", stats.Pending),
		slog.Int("eligible", stats.Eligible),
		slog.Int("succeeded", stats.Succeeded),
		slog.Int("failed", stats.Failed),
		slog.Int("errors", stats.Errors),
		slog.Duration("duration", stats.Duration))
	return stats, errors.Join(errs...)
}

func (r *Reconciler) processChannel(ctx context.Context, ch entity.ChannelType, cp entity.ChannelPolicy, stats *PassStats) error {
	p := cp.Retry
	if p.MaxAttempts <= 0 {
		return nil
	}
	now := r.now()
	pending, err := r.outcomes.ListPending(ctx, ch, PendingFilter(cp, now))
	if err != nil {
		return fmt.Errorf("list pending %s: %w", ch, err)
	}
	if len(pending) == 0 {
		return nil
	}
	stats.Pending += len(pending)

	devices, err := r.loadDevices(ctx, pending)
	if err != nil {
		return err
	}

	for _, o := range pending {
		d := devices[o.DeviceID]
		enabled := d != nil && d.Active && d.Channels.Enabled(ch)
		if !Eligible(o, p, enabled, now) {
			continue
		}
		stats.Eligible++
		if err := r.retryOne(ctx, o, d); err != nil {
			stats.Errors++
			r.logger.Error("retry failed before producing a result",
				slog.Int64("outcome_id", o.ID),
				slog.String("channel", string(ch)),
				slog.Any("error", err))
			continue
		}
		if o.Success {
			stats.Succeeded++
		} else {
			stats.Failed++
		}
	}
	return nil
}

// PendingFilter narrows the pending scan to records cp could still retry at now.
func PendingFilter(cp entity.ChannelPolicy, now time.Time) repository.PendingFilter {
	limit := cp.BatchSize
	if limit <= 0 {
		limit = defaultPendingLimit
	}
	return repository.PendingFilter{
		MaxRetryCount:   cp.Retry.MaxAttempts,
		Since:           now.Add(-cp.Retry.MaxRetryDuration),
		IncludeTimeouts: cp.Retry.RetryOnTimeout,
		Limit:           limit,
	}
}

// loadDevices fetches the devices referenced by pending, grouped per tenant.
func (r *Reconciler) loadDevices(ctx context.Context, pending []*entity.DeliveryOutcome) (map[int64]*entity.Device, error) {
	byTenant := make(map[string][]int64)
	seen := make(map[int64]bool, len(pending))
	for _, o := range pending {
		if seen[o.DeviceID] {
			continue
		}
		seen[o.DeviceID] = true
		byTenant[o.TenantID] = append(byTenant[o.TenantID], o.DeviceID)
	}

	out := make(map[int64]*entity.Device, len(seen))
	for tenantID, ids := range byTenant {
		list, err := r.devices.ListByIDs(ctx, tenantID, ids)
		if err != nil {
			return nil, fmt.Errorf("load devices for tenant %s: %w", tenantID, err)
		}
		for _, d := range list {
			out[d.ID] = d
		}
	}
	return out, nil
}

// retryOne re-delivers o to d on o's channel only and updates o in place.
// An error means no result was produced and o is left unchanged.
func (r *Reconciler) retryOne(ctx context.Context, o *entity.DeliveryOutcome, d *entity.Device) error {
	target := *d
	target.Channels = entity.ChannelFlags{}
	switch o.Channel {
	case entity.ChannelPush:
		target.Channels.Push = true
	case entity.ChannelWeb:
		target.Channels.Web = true
	case entity.ChannelEmail:
		target.Channels.Email = true
	case entity.ChannelChat:
		target.Channels.Chat = true
	}

	res, err := r.engine.Dispatch(ctx, []*entity.Device{&target}, notifier.Message{Title: o.Title, Body: o.Body},
		dispatch.Options{WriteLog: false, Source: o.Source, JobID: o.JobID})
	if err != nil {
		return err
	}

	updated := *o
	updated.RetryCount++
	updated.LastAttemptAt = r.now()
	if res.Success {
		updated.Success = true
		updated.Message = "Retry succeeded"
		updated.FailureKind = entity.FailureNone
	} else {
		text, kind := failureOf(res)
		updated.Message = "Retry failed: " + text
		updated.FailureKind = kind
	}
	if err := r.outcomes.Update(ctx, &updated); err != nil {
		return fmt.Errorf("update outcome %d: %w", o.ID, err)
	}
	*o = updated
	metrics.RecordRetryAttempt(string(o.Channel), o.Success)
	return nil
}

// failureOf prefers the sender's error over the aggregate message.
func failureOf(res *dispatch.Result) (string, entity.FailureKind) {
	for _, rec := range res.Outcomes {
		if !rec.Success && rec.Message != "" {
			return rec.Message, rec.FailureKind
		}
	}
	return res.Message, entity.FailureTransient
}

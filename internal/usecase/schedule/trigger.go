// Package schedule fires stored campaigns whose next run time has passed.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"notifyhub/internal/domain/entity"
	"notifyhub/internal/observability/metrics"
	"notifyhub/internal/repository"
	"notifyhub/internal/usecase/notify"
)

// Notifier is the public dispatch entry point. Large jobs are routed to the
// ingest queue the same way external requests are.
type Notifier interface {
	Notify(ctx context.Context, req entity.DispatchRequest) notify.Result
}

// RunStats summarizes one ExecuteDue pass.
type RunStats struct {
	Due       int
	Succeeded int
	Failed    int
	Skipped   int
}

// Trigger implements ExecuteDue.
type Trigger struct {
	jobs      repository.JobRepository
	templates repository.TemplateRepository
	outcomes  repository.OutcomeRepository
	notifier  Notifier
	logger    *slog.Logger
	now       func() time.Time
}

// NewTrigger creates a Trigger.
func NewTrigger(jobs repository.JobRepository, templates repository.TemplateRepository, outcomes repository.OutcomeRepository,
	n Notifier, logger *slog.Logger) *Trigger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trigger{
		jobs:      jobs,
		templates: templates,
		outcomes:  outcomes,
		notifier:  n,
		logger:    logger,
		now:       time.Now,
	}
}

// ExecuteDue fires every enabled job whose NextRunAt is not after now, writes
// one job-level outcome per execution and advances NextRunAt.
// A job whose template cannot be loaded is skipped and keeps its NextRunAt.
func (t *Trigger) ExecuteDue(ctx context.Context) (*RunStats, error) {
	now := t.now()
	jobs, err := t.jobs.ListDue(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list due jobs: %w", err)
	}

	stats := &RunStats{}
	for _, job := range jobs {
		if !job.Due(now) {
			continue
		}
		stats.Due++
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		ok, err := t.execute(ctx, job)
		switch {
		case err != nil:
			stats.Skipped++
			metrics.RecordScheduledRun("skipped")
			t.logger.Warn("scheduled job skipped",
				slog.Int64("job_id", job.ID),
				slog.String("tenant_id", job.TenantID),
				slog.Any("error", err))
		case ok:
			stats.Succeeded++
			metrics.RecordScheduledRun("success")
		default:
			stats.Failed++
			metrics.RecordScheduledRun("failure")
		}
	}

	if stats.Due > 0 {
		t.logger.Info("scheduled jobs executed",
			slog.Int("due", stats.Due),
			slog.Int("succeeded", stats.Succeeded),
			slog.Int("failed", stats.Failed),
			slog.Int("skipped", stats.Skipped))
	}
	return stats, nil
}

// execute runs one job. An error means the job did not fire and NextRunAt is unchanged.
func (t *Trigger) execute(ctx context.Context, job *entity.ScheduledJob) (bool, error) {
	tpl, err := t.templates.Get(ctx, job.TemplateID)
	if err != nil {
		return false, fmt.Errorf("load template %d: %w", job.TemplateID, err)
	}
	if tpl == nil {
		return false, fmt.Errorf("template %d: %w", job.TemplateID, entity.ErrNotFound)
	}

	jobID := job.ID
	req := entity.DispatchRequest{
		TenantID: job.TenantID,
		Target:   job.Target(),
		Content: entity.Content{
			TemplateID: &tpl.ID,
			Title:      tpl.Title,
			Body:       tpl.Body,
			Locale:     tpl.Locale,
		},
		Source: entity.SourceJob,
		JobID:  &jobID,
	}
	if job.Channel != nil {
		req.Channels = []entity.ChannelType{*job.Channel}
	}

	res := t.notifier.Notify(ctx, req)
	if !res.IsSuccess {
		t.logger.Warn("scheduled notification failed",
			slog.Int64("job_id", job.ID),
			slog.String("message", res.Message))
	} else {
		t.logger.Info("scheduled notification sent",
			slog.Int64("job_id", job.ID),
			slog.Bool("queued", res.Queued))
	}

	at := t.now()
	record := &entity.DeliveryOutcome{
		DeviceID:       0,
		TenantID:       job.TenantID,
		Source:         entity.SourceJob,
		JobID:          &jobID,
		Title:          tpl.Title,
		Body:           tpl.Body,
		Success:        res.IsSuccess,
		Message:        res.Message,
		FirstAttemptAt: at,
		LastAttemptAt:  at,
	}
	if job.Channel != nil {
		record.Channel = *job.Channel
	}
	if !res.IsSuccess {
		// ジョブ単位の記録は再送しない
		record.FailureKind = entity.FailurePermanent
	}
	if err := t.outcomes.Insert(ctx, record); err != nil {
		t.logger.Error("failed to write job outcome", slog.Int64("job_id", job.ID), slog.Any("error", err))
	}

	job.Advance()
	if err := t.jobs.UpdateNextRun(ctx, job); err != nil {
		// 次回も同じ時刻で再実行される
		t.logger.Error("failed to advance job", slog.Int64("job_id", job.ID), slog.Any("error", err))
	}
	return res.IsSuccess, nil
}

package repository

import (
	"context"
	"time"

	"notifyhub/internal/domain/entity"
)

type JobRepository interface {
	ListDue(ctx context.Context, now time.Time) ([]*entity.ScheduledJob, error)
	UpdateNextRun(ctx context.Context, job *entity.ScheduledJob) error
}

package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"notifyhub/internal/domain/entity"
	"notifyhub/internal/repository"
)

type JobRepo struct{ db *sql.DB }

func NewJobRepo(db *sql.DB) repository.JobRepository {
	return &JobRepo{db: db}
}

// ListDue returns enabled jobs whose next run is at or before now.
func (repo *JobRepo) ListDue(ctx context.Context, now time.Time) ([]*entity.ScheduledJob, error) {
	const query = `
SELECT id, tenant_id, template_id, title, scope, device_ids, groups, frequency, channel,
       enabled, next_run_at, updated_at
FROM scheduled_jobs
WHERE enabled = TRUE AND next_run_at IS NOT NULL AND next_run_at <= $1
ORDER BY next_run_at ASC, id ASC`
	rows, err := repo.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("ListDue: %w", err)
	}
	defer func() { _ = rows.Close() }()

	jobs := make([]*entity.ScheduledJob, 0, 16)
	for rows.Next() {
		var (
			j                 entity.ScheduledJob
			scope, frequency  string
			deviceIDs, groups []byte
			channel           sql.NullString
			nextRun           sql.NullTime
		)
		if err := rows.Scan(
			&j.ID, &j.TenantID, &j.TemplateID, &j.Title, &scope, &deviceIDs, &groups, &frequency, &channel,
			&j.Enabled, &nextRun, &j.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("ListDue: %w", err)
		}
		j.Scope = entity.JobScope(scope)
		j.Frequency = entity.Frequency(frequency)
		if len(deviceIDs) > 0 {
			if err := json.Unmarshal(deviceIDs, &j.DeviceIDs); err != nil {
				return nil, fmt.Errorf("ListDue: unmarshal device_ids: %w", err)
			}
		}
		if len(groups) > 0 {
			if err := json.Unmarshal(groups, &j.Groups); err != nil {
				return nil, fmt.Errorf("ListDue: unmarshal groups: %w", err)
			}
		}
		if channel.Valid && channel.String != "" {
			ch := entity.ChannelType(channel.String)
			j.Channel = &ch
		}
		if nextRun.Valid {
			t := nextRun.Time
			j.NextRunAt = &t
		}
		jobs = append(jobs, &j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListDue: %w", err)
	}
	return jobs, nil
}

// UpdateNextRun persists job.NextRunAt (NULL when the job will not run again).
func (repo *JobRepo) UpdateNextRun(ctx context.Context, job *entity.ScheduledJob) error {
	const query = `
UPDATE scheduled_jobs SET
       next_run_at = $1,
       updated_at  = $2
WHERE id = $3`
	var next sql.NullTime
	if job.NextRunAt != nil {
		next = sql.NullTime{Time: *job.NextRunAt, Valid: true}
	}
	job.UpdatedAt = time.Now()
	if _, err := repo.db.ExecContext(ctx, query, next, job.UpdatedAt, job.ID); err != nil {
		return fmt.Errorf("UpdateNextRun: %w", err)
	}
	return nil
}

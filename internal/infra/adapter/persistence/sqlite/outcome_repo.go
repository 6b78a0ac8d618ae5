// Package sqlite provides an embedded delivery outcome store for single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"notifyhub/internal/domain/entity"
	"notifyhub/internal/repository"
)

var schema = []string{`
CREATE TABLE IF NOT EXISTS delivery_outcomes (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    device_id        INTEGER NOT NULL,
    tenant_id        TEXT NOT NULL,
    channel          TEXT NOT NULL,
    source           TEXT NOT NULL,
    job_id           INTEGER,
    title            TEXT NOT NULL DEFAULT '',
    body             TEXT NOT NULL DEFAULT '',
    success          BOOLEAN NOT NULL,
    message          TEXT NOT NULL DEFAULT '',
    failure_kind     TEXT NOT NULL DEFAULT '',
    retry_count      INTEGER NOT NULL DEFAULT 0,
    first_attempt_at DATETIME NOT NULL,
    last_attempt_at  DATETIME NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_outcomes_retry ON delivery_outcomes(channel, last_attempt_at) WHERE success = 0`,
}

const insertOutcome = `
INSERT INTO delivery_outcomes (device_id, tenant_id, channel, source, job_id, title, body, success, message,
                               failure_kind, retry_count, first_attempt_at, last_attempt_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

type OutcomeRepo struct{ db *sql.DB }

// NewOutcomeRepo creates the table if needed and returns the repository.
func NewOutcomeRepo(ctx context.Context, db *sql.DB) (repository.OutcomeRepository, error) {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("NewOutcomeRepo: %w", err)
		}
	}
	return &OutcomeRepo{db: db}, nil
}

func outcomeArgs(o *entity.DeliveryOutcome) []interface{} {
	var jobID sql.NullInt64
	if o.JobID != nil {
		jobID = sql.NullInt64{Int64: *o.JobID, Valid: true}
	}
	return []interface{}{
		o.DeviceID, o.TenantID, string(o.Channel), string(o.Source), jobID, o.Title, o.Body, o.Success,
		o.Message, string(o.FailureKind), o.RetryCount, o.FirstAttemptAt.UTC(), o.LastAttemptAt.UTC(),
	}
}

func (repo *OutcomeRepo) Insert(ctx context.Context, o *entity.DeliveryOutcome) error {
	res, err := repo.db.ExecContext(ctx, insertOutcome, outcomeArgs(o)...)
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}
	o.ID = id
	return nil
}

func (repo *OutcomeRepo) InsertBatch(ctx context.Context, outcomes []*entity.DeliveryOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	tx, err := repo.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("InsertBatch: begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, insertOutcome)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("InsertBatch: prepare: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, o := range outcomes {
		res, err := stmt.ExecContext(ctx, outcomeArgs(o)...)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("InsertBatch: %w", err)
		}
		if id, err := res.LastInsertId(); err == nil {
			o.ID = id
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("InsertBatch: commit: %w", err)
	}
	return nil
}

func (repo *OutcomeRepo) Update(ctx context.Context, o *entity.DeliveryOutcome) error {
	const query = `
UPDATE delivery_outcomes
SET success = ?, message = ?, failure_kind = ?, retry_count = ?, last_attempt_at = ?
WHERE id = ?`
	res, err := repo.db.ExecContext(ctx, query, o.Success, o.Message, string(o.FailureKind), o.RetryCount,
		o.LastAttemptAt.UTC(), o.ID)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("Update: %w", entity.ErrNotFound)
	}
	return nil
}

func (repo *OutcomeRepo) ListPending(ctx context.Context, channel entity.ChannelType,
	filter repository.PendingFilter) ([]*entity.DeliveryOutcome, error) {
	const query = `
SELECT id, device_id, tenant_id, channel, source, job_id, title, body, success, message,
       failure_kind, retry_count, first_attempt_at, last_attempt_at
FROM delivery_outcomes
WHERE channel = ? AND success = 0 AND device_id > 0
  AND retry_count < ?
  AND first_attempt_at >= ?
  AND failure_kind <> 'permanent'
  AND (? OR failure_kind <> 'timeout')
ORDER BY last_attempt_at ASC, id ASC
LIMIT ?`
	rows, err := repo.db.QueryContext(ctx, query, string(channel), filter.MaxRetryCount, filter.Since.UTC(),
		filter.IncludeTimeouts, filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("ListPending: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var outcomes []*entity.DeliveryOutcome
	for rows.Next() {
		var (
			o                entity.DeliveryOutcome
			ch, source, kind string
			jobID            sql.NullInt64
		)
		if err := rows.Scan(
			&o.ID, &o.DeviceID, &o.TenantID, &ch, &source, &jobID, &o.Title, &o.Body, &o.Success, &o.Message,
			&kind, &o.RetryCount, &o.FirstAttemptAt, &o.LastAttemptAt,
		); err != nil {
			return nil, fmt.Errorf("ListPending: %w", err)
		}
		o.Channel = entity.ChannelType(ch)
		o.Source = entity.SourceKind(source)
		o.FailureKind = entity.FailureKind(kind)
		if jobID.Valid {
			id := jobID.Int64
			o.JobID = &id
		}
		outcomes = append(outcomes, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListPending: %w", err)
	}
	return outcomes, nil
}

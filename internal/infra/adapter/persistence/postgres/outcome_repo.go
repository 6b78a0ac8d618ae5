package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"notifyhub/internal/domain/entity"
	"notifyhub/internal/repository"
	"notifyhub/internal/resilience/retry"
)

// outcomeInsertChunk keeps a multi-row insert well under the 65535 parameter limit.
const outcomeInsertChunk = 500

const outcomeInsertColumns = `device_id, tenant_id, channel, source, job_id, title, body, success, message,
                               failure_kind, retry_count, first_attempt_at, last_attempt_at`

const outcomeColumnCount = 13

type OutcomeRepo struct{ db *sql.DB }

func NewOutcomeRepo(db *sql.DB) repository.OutcomeRepository {
	return &OutcomeRepo{db: db}
}

// markRejected marks errors caused by the rows themselves (SQLSTATE class 22
// data exception, 23 integrity violation) as permanent: writing the same rows
// again cannot succeed.
func markRejected(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (strings.HasPrefix(pgErr.Code, "22") || strings.HasPrefix(pgErr.Code, "23")) {
		return retry.Permanent(err)
	}
	return err
}

func nullJobID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}

func outcomeArgs(o *entity.DeliveryOutcome) []interface{} {
	return []interface{}{
		o.DeviceID, o.TenantID, string(o.Channel), string(o.Source), nullJobID(o.JobID), o.Title, o.Body,
		o.Success, o.Message, string(o.FailureKind), o.RetryCount, o.FirstAttemptAt, o.LastAttemptAt,
	}
}

func (repo *OutcomeRepo) Insert(ctx context.Context, o *entity.DeliveryOutcome) error {
	query := `INSERT INTO delivery_outcomes (` + outcomeInsertColumns + `)
VALUES (` + placeholders(1, outcomeColumnCount) + `)
RETURNING id`
	if err := repo.db.QueryRowContext(ctx, query, outcomeArgs(o)...).Scan(&o.ID); err != nil {
		return fmt.Errorf("Insert: %w", markRejected(err))
	}
	return nil
}

// InsertBatch writes all outcomes in one transaction using multi-row inserts.
func (repo *OutcomeRepo) InsertBatch(ctx context.Context, outcomes []*entity.DeliveryOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	tx, err := repo.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("InsertBatch: begin: %w", err)
	}
	for start := 0; start < len(outcomes); start += outcomeInsertChunk {
		end := start + outcomeInsertChunk
		if end > len(outcomes) {
			end = len(outcomes)
		}
		chunk := outcomes[start:end]

		values := make([]string, 0, len(chunk))
		args := make([]interface{}, 0, len(chunk)*outcomeColumnCount)
		for i, o := range chunk {
			values = append(values, "("+placeholders(i*outcomeColumnCount+1, outcomeColumnCount)+")")
			args = append(args, outcomeArgs(o)...)
		}
		query := `INSERT INTO delivery_outcomes (` + outcomeInsertColumns + `)
VALUES ` + strings.Join(values, ",\n       ")
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("InsertBatch: %w", markRejected(err))
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("InsertBatch: commit: %w", err)
	}
	return nil
}

// Update rewrites the retry bookkeeping of an existing outcome.
func (repo *OutcomeRepo) Update(ctx context.Context, o *entity.DeliveryOutcome) error {
	const query = `
UPDATE delivery_outcomes SET
       success         = $1,
       message         = $2,
       failure_kind    = $3,
       retry_count     = $4,
       last_attempt_at = $5
WHERE id = $6`
	res, err := repo.db.ExecContext(ctx, query, o.Success, o.Message, string(o.FailureKind), o.RetryCount,
		o.LastAttemptAt, o.ID)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("Update: %w", entity.ErrNotFound)
	}
	return nil
}

// ListPending returns failed per-device outcomes of a channel that still have
// retries and time left, least recently attempted first.
// Job-level records (device_id 0) are never retried.
func (repo *OutcomeRepo) ListPending(ctx context.Context, channel entity.ChannelType,
	filter repository.PendingFilter) ([]*entity.DeliveryOutcome, error) {
	const query = `
SELECT id, device_id, tenant_id, channel, source, job_id, title, body, success, message,
       failure_kind, retry_count, first_attempt_at, last_attempt_at
FROM delivery_outcomes
WHERE channel = $1 AND success = FALSE AND device_id > 0
  AND retry_count < $2
  AND first_attempt_at >= $3
  AND failure_kind <> 'permanent'
  AND ($4 OR failure_kind <> 'timeout')
ORDER BY last_attempt_at ASC, id ASC
LIMIT $5`
	rows, err := repo.db.QueryContext(ctx, query, string(channel), filter.MaxRetryCount, filter.Since,
		filter.IncludeTimeouts, filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("ListPending: %w", err)
	}
	defer func() { _ = rows.Close() }()

	outcomes := make([]*entity.DeliveryOutcome, 0, min(filter.Limit, 256))
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, fmt.Errorf("ListPending: %w", err)
		}
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListPending: %w", err)
	}
	return outcomes, nil
}

func scanOutcome(s rowScanner) (*entity.DeliveryOutcome, error) {
	var (
		o       entity.DeliveryOutcome
		channel string
		source  string
		kind    string
		jobID   sql.NullInt64
	)
	if err := s.Scan(
		&o.ID, &o.DeviceID, &o.TenantID, &channel, &source, &jobID, &o.Title, &o.Body, &o.Success, &o.Message,
		&kind, &o.RetryCount, &o.FirstAttemptAt, &o.LastAttemptAt,
	); err != nil {
		return nil, err
	}
	o.Channel = entity.ChannelType(channel)
	o.Source = entity.SourceKind(source)
	o.FailureKind = entity.FailureKind(kind)
	if jobID.Valid {
		id := jobID.Int64
		o.JobID = &id
	}
	return &o, nil
}

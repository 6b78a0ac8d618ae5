package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"notifyhub/internal/domain/entity"
	"notifyhub/internal/repository"
)

// deviceLookupChunk bounds the IN list of one ListByIDs query.
const deviceLookupChunk = 1000

const deviceColumns = `id, tenant_id, external_id, push_token, email, chat_user_id, device_group, locale, gateway,
       active, push_enabled, web_enabled, email_enabled, chat_enabled, created_at, updated_at`

type DeviceRepo struct {
	db   dbtx
	root *sql.DB
}

func NewDeviceRepo(db *sql.DB) repository.DeviceRepository {
	return &DeviceRepo{db: db, root: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDevice(s rowScanner) (*entity.Device, error) {
	var d entity.Device
	if err := s.Scan(
		&d.ID, &d.TenantID, &d.ExternalID, &d.PushToken, &d.Email, &d.ChatUserID, &d.Group, &d.Locale, &d.Gateway,
		&d.Active, &d.Channels.Push, &d.Channels.Web, &d.Channels.Email, &d.Channels.Chat, &d.CreatedAt, &d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &d, nil
}

func (repo *DeviceRepo) queryDevices(ctx context.Context, op, query string, args ...interface{}) ([]*entity.Device, error) {
	rows, err := repo.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = rows.Close() }()

	devices := make([]*entity.Device, 0, 64)
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return devices, nil
}

func (repo *DeviceRepo) Get(ctx context.Context, id int64) (*entity.Device, error) {
	query := `SELECT ` + deviceColumns + `
FROM devices
WHERE id = $1
LIMIT 1`
	d, err := scanDevice(repo.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return d, nil
}

// ListByIDs returns the active devices of tenantID among ids.
func (repo *DeviceRepo) ListByIDs(ctx context.Context, tenantID string, ids []int64) ([]*entity.Device, error) {
	out := make([]*entity.Device, 0, len(ids))
	for start := 0; start < len(ids); start += deviceLookupChunk {
		end := min(start+deviceLookupChunk, len(ids))
		chunk := ids[start:end]
		args := make([]interface{}, 0, len(chunk)+1)
		args = append(args, tenantID)
		for _, id := range chunk {
			args = append(args, id)
		}
		query := `SELECT ` + deviceColumns + `
FROM devices
WHERE tenant_id = $1 AND active = TRUE AND id IN (` + placeholders(2, len(chunk)) + `)
ORDER BY id ASC`
		devices, err := repo.queryDevices(ctx, "ListByIDs", query, args...)
		if err != nil {
			return nil, err
		}
		out = append(out, devices...)
	}
	return out, nil
}

func (repo *DeviceRepo) ListByGroup(ctx context.Context, tenantID, group string) ([]*entity.Device, error) {
	query := `SELECT ` + deviceColumns + `
FROM devices
WHERE tenant_id = $1 AND device_group = $2 AND active = TRUE
ORDER BY id ASC`
	return repo.queryDevices(ctx, "ListByGroup", query, tenantID, group)
}

func (repo *DeviceRepo) ListActive(ctx context.Context, tenantID string) ([]*entity.Device, error) {
	query := `SELECT ` + deviceColumns + `
FROM devices
WHERE tenant_id = $1 AND active = TRUE
ORDER BY id ASC`
	return repo.queryDevices(ctx, "ListActive", query, tenantID)
}

func (repo *DeviceRepo) CountByGroup(ctx context.Context, tenantID, group string) (int, error) {
	const query = `SELECT COUNT(*) FROM devices WHERE tenant_id = $1 AND device_group = $2 AND active = TRUE`
	var n int
	if err := repo.db.QueryRowContext(ctx, query, tenantID, group).Scan(&n); err != nil {
		return 0, fmt.Errorf("CountByGroup: %w", err)
	}
	return n, nil
}

func (repo *DeviceRepo) CountActive(ctx context.Context, tenantID string) (int, error) {
	const query = `SELECT COUNT(*) FROM devices WHERE tenant_id = $1 AND active = TRUE`
	var n int
	if err := repo.db.QueryRowContext(ctx, query, tenantID).Scan(&n); err != nil {
		return 0, fmt.Errorf("CountActive: %w", err)
	}
	return n, nil
}

// FindActive locks and returns the active device for (tenantID, externalID).
func (repo *DeviceRepo) FindActive(ctx context.Context, tenantID, externalID string) (*entity.Device, error) {
	query := `SELECT ` + deviceColumns + `
FROM devices
WHERE tenant_id = $1 AND external_id = $2 AND active = TRUE
LIMIT 1
FOR UPDATE`
	d, err := scanDevice(repo.db.QueryRowContext(ctx, query, tenantID, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("FindActive: %w", err)
	}
	return d, nil
}

func (repo *DeviceRepo) Deactivate(ctx context.Context, id int64) error {
	const query = `UPDATE devices SET active = FALSE, updated_at = $2 WHERE id = $1`
	res, err := repo.db.ExecContext(ctx, query, id, time.Now())
	if err != nil {
		return fmt.Errorf("Deactivate: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("Deactivate: %w", entity.ErrNotFound)
	}
	return nil
}

func (repo *DeviceRepo) Create(ctx context.Context, d *entity.Device) error {
	const query = `
INSERT INTO devices (tenant_id, external_id, push_token, email, chat_user_id, device_group, locale, gateway,
                     active, push_enabled, web_enabled, email_enabled, chat_enabled, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
RETURNING id`
	now := time.Now()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = now
	}
	err := repo.db.QueryRowContext(ctx, query,
		d.TenantID, d.ExternalID, d.PushToken, d.Email, d.ChatUserID, d.Group, d.Locale, d.Gateway,
		d.Active, d.Channels.Push, d.Channels.Web, d.Channels.Email, d.Channels.Chat, d.CreatedAt, d.UpdatedAt,
	).Scan(&d.ID)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

// WithinTx runs fn with a repository bound to a single transaction.
// Nested calls reuse the outer transaction.
func (repo *DeviceRepo) WithinTx(ctx context.Context, fn func(repo repository.DeviceRepository) error) error {
	if repo.root == nil {
		return fn(repo)
	}
	tx, err := repo.root.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("WithinTx: begin: %w", err)
	}
	if err := fn(&DeviceRepo{db: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("WithinTx: commit: %w", err)
	}
	return nil
}

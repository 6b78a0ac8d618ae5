package repository

import (
	"context"

	"notifyhub/internal/domain/entity"
)

type DeviceRepository interface {
	Get(ctx context.Context, id int64) (*entity.Device, error)
	ListByIDs(ctx context.Context, tenantID string, ids []int64) ([]*entity.Device, error)
	ListByGroup(ctx context.Context, tenantID, group string) ([]*entity.Device, error)
	ListActive(ctx context.Context, tenantID string) ([]*entity.Device, error)
	CountByGroup(ctx context.Context, tenantID, group string) (int, error)
	CountActive(ctx context.Context, tenantID string) (int, error)
	FindActive(ctx context.Context, tenantID, externalID string) (*entity.Device, error)
	Deactivate(ctx context.Context, id int64) error
	Create(ctx context.Context, device *entity.Device) error
	// WithinTx runs fn against a repository bound to a single transaction.
	WithinTx(ctx context.Context, fn func(repo DeviceRepository) error) error
}

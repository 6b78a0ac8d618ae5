package repository

import (
	"context"

	"notifyhub/internal/domain/entity"
)

type TemplateRepository interface {
	Get(ctx context.Context, id int64) (*entity.Template, error)
	ListByCode(ctx context.Context, tenantID, code, locale string) ([]*entity.Template, error)
}

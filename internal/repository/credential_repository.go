package repository

import (
	"context"

	"notifyhub/internal/domain/entity"
)

type CredentialRepository interface {
	Get(ctx context.Context, tenantID string) (*entity.Credential, error)
}

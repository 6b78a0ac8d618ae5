package repository

import (
	"context"

	"notifyhub/internal/domain/entity"
)

type PolicyRepository interface {
	List(ctx context.Context) ([]*entity.ChannelPolicy, error)
}

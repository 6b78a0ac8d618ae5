package repository

import (
	"context"
	"time"

	"notifyhub/internal/domain/entity"
)

// PendingFilter narrows ListPending to failed outcomes the retry pass can still act on.
type PendingFilter struct {
	// MaxRetryCount keeps rows with retry_count < MaxRetryCount.
	MaxRetryCount int
	// Since keeps rows first attempted at or after Since.
	Since time.Time
	// IncludeTimeouts keeps rows whose failure kind is timeout.
	IncludeTimeouts bool
	// Limit caps the number of rows; the least recently attempted come first.
	Limit int
}

type OutcomeRepository interface {
	Insert(ctx context.Context, outcome *entity.DeliveryOutcome) error
	InsertBatch(ctx context.Context, outcomes []*entity.DeliveryOutcome) error
	// Update writes only the retry fields (success, message, failure kind, retry count, last attempt).
	Update(ctx context.Context, outcome *entity.DeliveryOutcome) error
	// ListPending never returns successful, job-level or permanently failed rows.
	ListPending(ctx context.Context, channel entity.ChannelType, filter PendingFilter) ([]*entity.DeliveryOutcome, error)
}

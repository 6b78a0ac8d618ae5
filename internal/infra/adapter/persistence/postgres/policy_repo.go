package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"notifyhub/internal/domain/entity"
	"notifyhub/internal/repository"
)

type PolicyRepo struct{ db *sql.DB }

func NewPolicyRepo(db *sql.DB) repository.PolicyRepository {
	return &PolicyRepo{db: db}
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func (repo *PolicyRepo) List(ctx context.Context) ([]*entity.ChannelPolicy, error) {
	const query = `
SELECT channel, max_recipients_per_request, batch_size, max_concurrent_tasks, rate_limit_per_second,
       request_timeout_seconds, max_attempts, initial_delay_seconds, max_delay_seconds, backoff_multiplier,
       max_retry_duration_seconds, retry_on_timeout, queue_max_size
FROM channel_policies
ORDER BY channel ASC`
	rows, err := repo.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	defer func() { _ = rows.Close() }()

	policies := make([]*entity.ChannelPolicy, 0, 4)
	for rows.Next() {
		var (
			p                                     entity.ChannelPolicy
			timeout, initial, maxDelay, maxWindow int
		)
		if err := rows.Scan(
			&p.Channel, &p.MaxRecipientsPerRequest, &p.BatchSize, &p.MaxConcurrentTasks, &p.RateLimitPerSecond,
			&timeout, &p.Retry.MaxAttempts, &initial, &maxDelay, &p.Retry.BackoffMultiplier,
			&maxWindow, &p.Retry.RetryOnTimeout, &p.QueueMaxSize,
		); err != nil {
			return nil, fmt.Errorf("List: %w", err)
		}
		p.RequestTimeout = seconds(timeout)
		p.Retry.InitialDelay = seconds(initial)
		p.Retry.MaxDelay = seconds(maxDelay)
		p.Retry.MaxRetryDuration = seconds(maxWindow)
		policies = append(policies, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	return policies, nil
}

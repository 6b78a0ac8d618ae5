package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"notifyhub/internal/domain/entity"
	"notifyhub/internal/repository"
)

type CredentialRepo struct{ db *sql.DB }

func NewCredentialRepo(db *sql.DB) repository.CredentialRepository {
	return &CredentialRepo{db: db}
}

// Get returns nil, nil when the tenant has no credential row.
func (repo *CredentialRepo) Get(ctx context.Context, tenantID string) (*entity.Credential, error) {
	const query = `
SELECT tenant_id, push_key, smtp_host, smtp_port, smtp_username, smtp_password,
       from_email, from_name, chat_bot_token, retry_delay_minutes, max_retry_count
FROM tenant_credentials
WHERE tenant_id = $1
LIMIT 1`
	var c entity.Credential
	err := repo.db.QueryRowContext(ctx, query, tenantID).Scan(
		&c.TenantID, &c.PushKey, &c.SMTPHost, &c.SMTPPort, &c.SMTPUsername, &c.SMTPPassword,
		&c.FromEmail, &c.FromName, &c.ChatBotToken, &c.RetryDelayMinutes, &c.MaxRetryCount,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return &c, nil
}

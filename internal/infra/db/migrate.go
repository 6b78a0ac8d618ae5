package db

import (
	"context"
	"database/sql"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS devices (
    id            BIGSERIAL PRIMARY KEY,
    tenant_id     TEXT NOT NULL,
    external_id   TEXT NOT NULL,
    push_token    TEXT NOT NULL DEFAULT '',
    email         TEXT NOT NULL DEFAULT '',
    chat_user_id  TEXT NOT NULL DEFAULT '',
    device_group  TEXT NOT NULL DEFAULT '',
    locale        TEXT NOT NULL DEFAULT '',
    gateway       TEXT NOT NULL DEFAULT '',
    active        BOOLEAN NOT NULL DEFAULT TRUE,
    push_enabled  BOOLEAN NOT NULL DEFAULT FALSE,
    web_enabled   BOOLEAN NOT NULL DEFAULT FALSE,
    email_enabled BOOLEAN NOT NULL DEFAULT FALSE,
    chat_enabled  BOOLEAN NOT NULL DEFAULT FALSE,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE TABLE IF NOT EXISTS channel_policies (
    channel                    TEXT PRIMARY KEY,
    max_recipients_per_request INTEGER NOT NULL DEFAULT 0,
    batch_size                 INTEGER NOT NULL DEFAULT 0,
    max_concurrent_tasks       INTEGER NOT NULL DEFAULT 5,
    rate_limit_per_second      DOUBLE PRECISION NOT NULL DEFAULT 0,
    request_timeout_seconds    INTEGER NOT NULL DEFAULT 30,
    max_attempts               INTEGER NOT NULL DEFAULT 3,
    initial_delay_seconds      INTEGER NOT NULL DEFAULT 60,
    max_delay_seconds          INTEGER NOT NULL DEFAULT 3600,
    backoff_multiplier         DOUBLE PRECISION NOT NULL DEFAULT 2.0,
    max_retry_duration_seconds INTEGER NOT NULL DEFAULT 86400,
    retry_on_timeout           BOOLEAN NOT NULL DEFAULT FALSE,
    queue_max_size             INTEGER NOT NULL DEFAULT 0
)`,
	`CREATE TABLE IF NOT EXISTS tenant_credentials (
    tenant_id           TEXT PRIMARY KEY,
    push_key            TEXT NOT NULL DEFAULT '',
    smtp_host           TEXT NOT NULL DEFAULT '',
    smtp_port           INTEGER NOT NULL DEFAULT 587,
    smtp_username       TEXT NOT NULL DEFAULT '',
    smtp_password       TEXT NOT NULL DEFAULT '',
    from_email          TEXT NOT NULL DEFAULT '',
    from_name           TEXT NOT NULL DEFAULT '',
    chat_bot_token      TEXT NOT NULL DEFAULT '',
    retry_delay_minutes INTEGER NOT NULL DEFAULT 0,
    max_retry_count     INTEGER NOT NULL DEFAULT 0
)`,
	`CREATE TABLE IF NOT EXISTS delivery_outcomes (
    id               BIGSERIAL PRIMARY KEY,
    device_id        BIGINT NOT NULL,
    tenant_id        TEXT NOT NULL,
    channel          TEXT NOT NULL,
    source           TEXT NOT NULL,
    job_id           BIGINT,
    title            TEXT NOT NULL DEFAULT '',
    body             TEXT NOT NULL DEFAULT '',
    success          BOOLEAN NOT NULL,
    message          TEXT NOT NULL DEFAULT '',
    failure_kind     TEXT NOT NULL DEFAULT '',
    retry_count      INTEGER NOT NULL DEFAULT 0,
    first_attempt_at TIMESTAMPTZ NOT NULL,
    last_attempt_at  TIMESTAMPTZ NOT NULL
)`,
	`ALTER TABLE delivery_outcomes ADD COLUMN IF NOT EXISTS failure_kind TEXT NOT NULL DEFAULT ''`,
	`CREATE TABLE IF NOT EXISTS templates (
    id               BIGSERIAL PRIMARY KEY,
    tenant_id        TEXT NOT NULL,
    code             TEXT NOT NULL,
    locale           TEXT NOT NULL,
    gateway          TEXT NOT NULL DEFAULT '',
    title            TEXT NOT NULL DEFAULT '',
    body             TEXT NOT NULL DEFAULT '',
    icon             TEXT NOT NULL DEFAULT '',
    click_action     TEXT NOT NULL DEFAULT '',
    click_action_web TEXT NOT NULL DEFAULT '',
    sound            TEXT NOT NULL DEFAULT '',
    badge            INTEGER NOT NULL DEFAULT 0,
    data             JSONB
)`,
	`CREATE TABLE IF NOT EXISTS scheduled_jobs (
    id          BIGSERIAL PRIMARY KEY,
    tenant_id   TEXT NOT NULL,
    template_id BIGINT NOT NULL REFERENCES templates(id),
    title       TEXT NOT NULL DEFAULT '',
    scope       TEXT NOT NULL,
    device_ids  JSONB,
    groups      JSONB,
    frequency   TEXT NOT NULL DEFAULT 'none',
    channel     TEXT,
    enabled     BOOLEAN NOT NULL DEFAULT TRUE,
    next_run_at TIMESTAMPTZ,
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
}

var indexStatements = []string{
	// (tenant, external id) ごとにアクティブな端末は1件のみ
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_devices_active_external ON devices(tenant_id, external_id) WHERE active`,
	`CREATE INDEX IF NOT EXISTS idx_devices_tenant_group ON devices(tenant_id, device_group) WHERE active`,
	// 再送対象の抽出用
	`DROP INDEX IF EXISTS idx_outcomes_pending`,
	`CREATE INDEX IF NOT EXISTS idx_outcomes_retry ON delivery_outcomes(channel, last_attempt_at, id)
    WHERE NOT success AND device_id > 0 AND failure_kind <> 'permanent'`,
	`CREATE INDEX IF NOT EXISTS idx_templates_code ON templates(tenant_id, code, locale)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_due ON scheduled_jobs(next_run_at) WHERE enabled`,
}

// MigrateUp creates every table and index. It is idempotent.
func MigrateUp(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("MigrateUp: %w", err)
		}
	}
	for _, idx := range indexStatements {
		if _, err := db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("MigrateUp: %w", err)
		}
	}
	return nil
}

// MigrateDown drops all tables in reverse dependency order.
// Use with caution: this deletes all data.
func MigrateDown(ctx context.Context, db *sql.DB) error {
	dropStatements := []string{
		`DROP TABLE IF EXISTS scheduled_jobs`,
		`DROP TABLE IF EXISTS templates`,
		`DROP TABLE IF EXISTS delivery_outcomes`,
		`DROP TABLE IF EXISTS tenant_credentials`,
		`DROP TABLE IF EXISTS channel_policies`,
		`DROP TABLE IF EXISTS devices`,
	}
	for _, stmt := range dropStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("MigrateDown: %w", err)
		}
	}
	return nil
}

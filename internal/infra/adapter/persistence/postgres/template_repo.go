package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"notifyhub/internal/domain/entity"
	"notifyhub/internal/repository"
)

const templateColumns = `id, tenant_id, code, locale, gateway, title, body, icon, click_action, click_action_web, sound, badge, data`

type TemplateRepo struct{ db *sql.DB }

func NewTemplateRepo(db *sql.DB) repository.TemplateRepository {
	return &TemplateRepo{db: db}
}

func scanTemplate(s rowScanner) (*entity.Template, error) {
	var (
		t    entity.Template
		data []byte
	)
	if err := s.Scan(
		&t.ID, &t.TenantID, &t.Code, &t.Locale, &t.Gateway, &t.Title, &t.Body, &t.Icon, &t.ClickAction,
		&t.ClickActionWeb, &t.Sound, &t.Badge, &data,
	); err != nil {
		return nil, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &t.Data); err != nil {
			return nil, fmt.Errorf("unmarshal data: %w", err)
		}
	}
	return &t, nil
}

func (repo *TemplateRepo) Get(ctx context.Context, id int64) (*entity.Template, error) {
	query := `SELECT ` + templateColumns + `
FROM templates
WHERE id = $1
LIMIT 1`
	t, err := scanTemplate(repo.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return t, nil
}

// ListByCode returns every gateway variant of (code, locale) for a tenant.
func (repo *TemplateRepo) ListByCode(ctx context.Context, tenantID, code, locale string) ([]*entity.Template, error) {
	query := `SELECT ` + templateColumns + `
FROM templates
WHERE tenant_id = $1 AND code = $2 AND locale = $3
ORDER BY id ASC`
	rows, err := repo.db.QueryContext(ctx, query, tenantID, code, locale)
	if err != nil {
		return nil, fmt.Errorf("ListByCode: %w", err)
	}
	defer func() { _ = rows.Close() }()

	templates := make([]*entity.Template, 0, 4)
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("ListByCode: %w", err)
		}
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListByCode: %w", err)
	}
	return templates, nil
}

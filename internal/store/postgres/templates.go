package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"vn.io.arda/realtime/internal/domain"
)

const templateColumns = `id, tenant_id, name, type, subject, body_template, html_template,
	variables, is_system, created_at, updated_at`

// GetTemplate resolves a tenant template or a system template.
func (s *Store) GetTemplate(ctx context.Context, tenantID string, id uuid.UUID) (*domain.NotificationTemplate, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+templateColumns+` FROM notification_templates
		WHERE id = $1 AND (tenant_id = $2 OR is_system)
	`, id, tenantID)
	return scanTemplate(row)
}

// ListTemplates returns the tenant's templates followed by the system ones.
func (s *Store) ListTemplates(ctx context.Context, tenantID string) ([]*domain.NotificationTemplate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+templateColumns+` FROM notification_templates
		WHERE tenant_id = $1 OR is_system
		ORDER BY is_system, name
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var out []*domain.NotificationTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SaveTemplate inserts or updates a template. System rows are never overwritten.
func (s *Store) SaveTemplate(ctx context.Context, t *domain.NotificationTemplate) error {
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	if t.Variables == nil {
		t.Variables = []string{}
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO notification_templates (`+templateColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, type = EXCLUDED.type, subject = EXCLUDED.subject,
			body_template = EXCLUDED.body_template, html_template = EXCLUDED.html_template,
			variables = EXCLUDED.variables, updated_at = EXCLUDED.updated_at
		WHERE notification_templates.tenant_id = EXCLUDED.tenant_id
		  AND NOT notification_templates.is_system
	`, t.ID, t.TenantID, t.Name, t.Type, t.Subject, t.BodyTemplate, t.HTMLTemplate,
		t.Variables, t.IsSystem, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save template: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSystemTemplate
	}
	return nil
}

// DeleteTemplate removes a tenant template.
func (s *Store) DeleteTemplate(ctx context.Context, tenantID string, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM notification_templates WHERE id = $1 AND tenant_id = $2 AND NOT is_system
	`, id, tenantID)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanTemplate(row scannable) (*domain.NotificationTemplate, error) {
	var t domain.NotificationTemplate
	err := row.Scan(
		&t.ID, &t.TenantID, &t.Name, &t.Type, &t.Subject, &t.BodyTemplate, &t.HTMLTemplate,
		&t.Variables, &t.IsSystem, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan template: %w", err)
	}
	return &t, nil
}

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

const webhookColumns = `id, tenant_id, url, events, secret, is_active, max_retries,
	backoff_multiplier, initial_delay_ms, created_at, updated_at`

const deliveryColumns = `id, webhook_id, tenant_id, event, payload, status, attempts,
	response_status, response_body, error, next_retry_at, delivered_at, created_at, updated_at`

// ListActiveWebhooks returns the tenant's active webhooks subscribed to event.
func (s *Store) ListActiveWebhooks(ctx context.Context, tenantID, event string) ([]*domain.Webhook, error) {
	return s.queryWebhooks(ctx, `
		SELECT `+webhookColumns+` FROM webhooks
		WHERE tenant_id = $1 AND is_active AND ($2 = ANY(events) OR '*' = ANY(events))
		ORDER BY created_at
	`, tenantID, event)
}

// ListWebhooks returns every webhook of a tenant.
func (s *Store) ListWebhooks(ctx context.Context, tenantID string) ([]*domain.Webhook, error) {
	return s.queryWebhooks(ctx, `
		SELECT `+webhookColumns+` FROM webhooks WHERE tenant_id = $1 ORDER BY created_at
	`, tenantID)
}

func (s *Store) queryWebhooks(ctx context.Context, query string, args ...any) ([]*domain.Webhook, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()

	var out []*domain.Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// GetWebhook fetches a webhook by ID.
func (s *Store) GetWebhook(ctx context.Context, id uuid.UUID) (*domain.Webhook, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+webhookColumns+` FROM webhooks WHERE id = $1`, id)
	return scanWebhook(row)
}

// SaveWebhook inserts or updates a webhook.
func (s *Store) SaveWebhook(ctx context.Context, w *domain.Webhook) error {
	now := time.Now()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	w.UpdatedAt = now
	_, err := s.pool.Exec(ctx, `
		INSERT INTO webhooks (`+webhookColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			url = EXCLUDED.url, events = EXCLUDED.events, secret = EXCLUDED.secret,
			is_active = EXCLUDED.is_active, max_retries = EXCLUDED.max_retries,
			backoff_multiplier = EXCLUDED.backoff_multiplier,
			initial_delay_ms = EXCLUDED.initial_delay_ms, updated_at = EXCLUDED.updated_at
	`, w.ID, w.TenantID, w.URL, w.Events, w.Secret, w.IsActive, w.RetryPolicy.MaxRetries,
		w.RetryPolicy.BackoffMultiplier, w.RetryPolicy.InitialDelay.Milliseconds(), w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save webhook: %w", err)
	}
	return nil
}

// DeleteWebhook removes a webhook and, by cascade, its delivery history.
func (s *Store) DeleteWebhook(ctx context.Context, tenantID string, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM webhooks WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// CreateDelivery inserts a delivery row.
func (s *Store) CreateDelivery(ctx context.Context, d *domain.WebhookDelivery) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO webhook_deliveries (`+deliveryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, d.ID, d.WebhookID, d.TenantID, d.Event, d.Payload, string(d.Status), d.Attempts,
		d.ResponseStatus, d.ResponseBody, d.Error, d.NextRetryAt, d.DeliveredAt, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}
	return nil
}

// UpdateDelivery writes the outcome of an attempt.
func (s *Store) UpdateDelivery(ctx context.Context, d *domain.WebhookDelivery) error {
	d.UpdatedAt = time.Now()
	tag, err := s.pool.Exec(ctx, `
		UPDATE webhook_deliveries
		SET status = $2, attempts = $3, response_status = $4, response_body = $5, error = $6,
		    next_retry_at = $7, delivered_at = $8, updated_at = $9
		WHERE id = $1
	`, d.ID, string(d.Status), d.Attempts, d.ResponseStatus, d.ResponseBody, d.Error,
		d.NextRetryAt, d.DeliveredAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update delivery: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetDelivery fetches one delivery.
func (s *Store) GetDelivery(ctx context.Context, id uuid.UUID) (*domain.WebhookDelivery, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM webhook_deliveries WHERE id = $1`, id)
	return scanDelivery(row)
}

// ListDeliveries returns the most recent deliveries of a webhook.
func (s *Store) ListDeliveries(ctx context.Context, webhookID uuid.UUID, limit int) ([]*domain.WebhookDelivery, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+deliveryColumns+` FROM webhook_deliveries
		WHERE webhook_id = $1 ORDER BY created_at DESC LIMIT $2
	`, webhookID, limit)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	var out []*domain.WebhookDelivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanWebhook(row scannable) (*domain.Webhook, error) {
	var w domain.Webhook
	var delayMs int64
	err := row.Scan(
		&w.ID, &w.TenantID, &w.URL, &w.Events, &w.Secret, &w.IsActive, &w.RetryPolicy.MaxRetries,
		&w.RetryPolicy.BackoffMultiplier, &delayMs, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan webhook: %w", err)
	}
	w.RetryPolicy.InitialDelay = time.Duration(delayMs) * time.Millisecond
	return &w, nil
}

func scanDelivery(row scannable) (*domain.WebhookDelivery, error) {
	var d domain.WebhookDelivery
	var status string
	err := row.Scan(
		&d.ID, &d.WebhookID, &d.TenantID, &d.Event, &d.Payload, &status, &d.Attempts,
		&d.ResponseStatus, &d.ResponseBody, &d.Error, &d.NextRetryAt, &d.DeliveredAt,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan delivery: %w", err)
	}
	d.Status = domain.DeliveryStatus(status)
	return &d, nil
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"vn.io.arda/realtime/internal/domain"
)

// ListPreferences returns a user's preferences; an empty notificationType matches all.
func (s *Store) ListPreferences(ctx context.Context, tenantID, userID, notificationType string) ([]*domain.NotificationPreference, error) {
	query := `
		SELECT tenant_id, user_id, notification_type, channel, is_enabled, frequency,
		       quiet_hours_start, quiet_hours_end, timezone, updated_at
		FROM notification_preferences
		WHERE tenant_id = $1 AND user_id = $2`
	args := []any{tenantID, userID}
	if notificationType != "" {
		query += " AND notification_type = $3"
		args = append(args, notificationType)
	}
	query += " ORDER BY notification_type, channel"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}
	defer rows.Close()

	var out []*domain.NotificationPreference
	for rows.Next() {
		var p domain.NotificationPreference
		var channel, frequency string
		if err := rows.Scan(&p.TenantID, &p.UserID, &p.NotificationType, &channel, &p.IsEnabled,
			&frequency, &p.QuietHoursStart, &p.QuietHoursEnd, &p.Timezone, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan preference: %w", err)
		}
		p.Channel = domain.Channel(channel)
		p.Frequency = domain.Frequency(frequency)
		out = append(out, &p)
	}
	return out, rows.Err()
}

// SavePreference upserts one (user, type, channel) preference.
func (s *Store) SavePreference(ctx context.Context, p *domain.NotificationPreference) error {
	p.UpdatedAt = time.Now()
	if p.Frequency == "" {
		p.Frequency = domain.FrequencyImmediate
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notification_preferences (tenant_id, user_id, notification_type, channel,
			is_enabled, frequency, quiet_hours_start, quiet_hours_end, timezone, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (tenant_id, user_id, notification_type, channel) DO UPDATE SET
			is_enabled = EXCLUDED.is_enabled, frequency = EXCLUDED.frequency,
			quiet_hours_start = EXCLUDED.quiet_hours_start, quiet_hours_end = EXCLUDED.quiet_hours_end,
			timezone = EXCLUDED.timezone, updated_at = EXCLUDED.updated_at
	`, p.TenantID, p.UserID, p.NotificationType, string(p.Channel), p.IsEnabled, string(p.Frequency),
		p.QuietHoursStart, p.QuietHoursEnd, p.Timezone, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save preference: %w", err)
	}
	return nil
}

// GetContact reads the channel addresses of a user.
func (s *Store) GetContact(ctx context.Context, tenantID, userID string) (*domain.Contact, error) {
	var c domain.Contact
	err := s.pool.QueryRow(ctx, `
		SELECT tenant_id, user_id, email, phone, device_tokens
		FROM user_contacts WHERE tenant_id = $1 AND user_id = $2
	`, tenantID, userID).Scan(&c.TenantID, &c.UserID, &c.Email, &c.Phone, &c.DeviceTokens)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get contact: %w", err)
	}
	return &c, nil
}

// SaveContact upserts a user's channel addresses.
func (s *Store) SaveContact(ctx context.Context, c *domain.Contact) error {
	tokens := c.DeviceTokens
	if tokens == nil {
		tokens = []string{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_contacts (tenant_id, user_id, email, phone, device_tokens)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, user_id) DO UPDATE SET
			email = EXCLUDED.email, phone = EXCLUDED.phone, device_tokens = EXCLUDED.device_tokens
	`, c.TenantID, c.UserID, c.Email, c.Phone, tokens)
	if err != nil {
		return fmt.Errorf("save contact: %w", err)
	}
	return nil
}

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"vn.io.arda/realtime/internal/domain"
)

const recordColumns = `id, tenant_id, recipient_id, type, channel, priority, subject, message, html,
	data, template_id, status, delivery_attempts, scheduled_at, sent_at, delivered_at, read_at,
	failure_reason, created_at, updated_at`

// CreateRecords inserts all records with a single multi-row INSERT.
func (s *Store) CreateRecords(ctx context.Context, records []*domain.NotificationRecord) error {
	if len(records) == 0 {
		return nil
	}

	// Each row has 20 params, in recordColumns order.
	const paramsPerRow = 20
	args := make([]any, 0, len(records)*paramsPerRow)
	for _, rec := range records {
		dataJSON, err := json.Marshal(rec.Data)
		if err != nil {
			return fmt.Errorf("marshal record data: %w", err)
		}
		args = append(args,
			rec.ID, rec.TenantID, rec.RecipientID, rec.Type, string(rec.Channel), string(rec.Priority),
			rec.Subject, rec.Message, rec.HTML, dataJSON, rec.TemplateID, string(rec.Status),
			rec.DeliveryAttempts, rec.ScheduledAt, rec.SentAt, rec.DeliveredAt, rec.ReadAt,
			rec.FailureReason, rec.CreatedAt, rec.UpdatedAt,
		)
	}

	query := "INSERT INTO notification_records (" + recordColumns + ") VALUES " +
		placeholders(len(records), paramsPerRow)
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("batch insert records: %w", err)
	}
	return nil
}

// GetRecord fetches a single record.
func (s *Store) GetRecord(ctx context.Context, id uuid.UUID) (*domain.NotificationRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM notification_records WHERE id = $1`, id)
	return scanRecord(row)
}

// ListRecords fetches paginated records, newest first.
func (s *Store) ListRecords(ctx context.Context, f domain.RecordFilter) ([]*domain.NotificationRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM notification_records WHERE tenant_id = $1`
	args := []any{f.TenantID}
	paramIdx := 2

	if f.RecipientID != "" {
		query += fmt.Sprintf(" AND recipient_id = $%d", paramIdx)
		args = append(args, f.RecipientID)
		paramIdx++
	}
	if f.Channel != "" {
		query += fmt.Sprintf(" AND channel = $%d", paramIdx)
		args = append(args, string(f.Channel))
		paramIdx++
	}
	if f.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", paramIdx)
		args = append(args, string(f.Status))
		paramIdx++
	}
	if f.Type != "" {
		query += fmt.Sprintf(" AND type = $%d", paramIdx)
		args = append(args, f.Type)
		paramIdx++
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", paramIdx, paramIdx+1)
	args = append(args, limit, f.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var results []*domain.NotificationRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

// UpdateRecord writes the mutable fields while the stored status still equals expected.
func (s *Store) UpdateRecord(ctx context.Context, rec *domain.NotificationRecord, expected domain.Status) error {
	rec.UpdatedAt = time.Now()
	tag, err := s.pool.Exec(ctx, `
		UPDATE notification_records
		SET status = $2, delivery_attempts = $3, scheduled_at = $4, sent_at = $5,
		    delivered_at = $6, read_at = $7, failure_reason = $8, updated_at = $9
		WHERE id = $1 AND status = $10
	`, rec.ID, string(rec.Status), rec.DeliveryAttempts, rec.ScheduledAt, rec.SentAt,
		rec.DeliveredAt, rec.ReadAt, rec.FailureReason, rec.UpdatedAt, string(expected))
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM notification_records WHERE id = $1)`, rec.ID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check record: %w", err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrConflict
}

// CountUnread counts live in-app records of a user that were not read yet.
func (s *Store) CountUnread(ctx context.Context, tenantID, recipientID string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM notification_records
		WHERE tenant_id = $1 AND recipient_id = $2 AND channel = $3 AND status NOT IN ($4, $5)
	`, tenantID, recipientID, string(domain.ChannelInApp),
		string(domain.StatusRead), string(domain.StatusFailed),
	).Scan(&count)
	return count, err
}

// PurgeOlderThan deletes records created before cutoff.
func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM notification_records WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge records: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanRecord(row scannable) (*domain.NotificationRecord, error) {
	var rec domain.NotificationRecord
	var dataJSON []byte
	var channel, priority, status string

	err := row.Scan(
		&rec.ID, &rec.TenantID, &rec.RecipientID, &rec.Type, &channel, &priority,
		&rec.Subject, &rec.Message, &rec.HTML, &dataJSON, &rec.TemplateID, &status,
		&rec.DeliveryAttempts, &rec.ScheduledAt, &rec.SentAt, &rec.DeliveredAt, &rec.ReadAt,
		&rec.FailureReason, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan record: %w", err)
	}
	rec.Channel = domain.Channel(channel)
	rec.Priority = domain.Priority(priority)
	rec.Status = domain.Status(status)
	if len(dataJSON) > 0 {
		_ = json.Unmarshal(dataJSON, &rec.Data)
	}
	return &rec, nil
}

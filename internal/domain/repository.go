package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RecordRepository persists notification records.
// Implementations live in store/postgres and store/memory.
type RecordRepository interface {
	// CreateRecords inserts all records in a single operation.
	CreateRecords(ctx context.Context, records []*NotificationRecord) error

	// GetRecord fetches a single record by its ID.
	GetRecord(ctx context.Context, id uuid.UUID) (*NotificationRecord, error)

	// ListRecords fetches records matching the filter, newest first.
	ListRecords(ctx context.Context, filter RecordFilter) ([]*NotificationRecord, error)

	// UpdateRecord overwrites the mutable fields of rec, but only while the
	// stored status still equals expected. Returns ErrConflict otherwise.
	UpdateRecord(ctx context.Context, rec *NotificationRecord, expected Status) error

	// CountUnread counts in-app records of a user that are not yet read.
	CountUnread(ctx context.Context, tenantID, recipientID string) (int64, error)

	// PurgeOlderThan deletes records created before cutoff.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// TemplateRepository persists notification templates.
type TemplateRepository interface {
	GetTemplate(ctx context.Context, tenantID string, id uuid.UUID) (*NotificationTemplate, error)
	ListTemplates(ctx context.Context, tenantID string) ([]*NotificationTemplate, error)
	SaveTemplate(ctx context.Context, t *NotificationTemplate) error
	DeleteTemplate(ctx context.Context, tenantID string, id uuid.UUID) error
}

// PreferenceRepository persists per-user channel preferences.
type PreferenceRepository interface {
	// ListPreferences returns preferences of a user; an empty notificationType matches all.
	ListPreferences(ctx context.Context, tenantID, userID, notificationType string) ([]*NotificationPreference, error)
	SavePreference(ctx context.Context, p *NotificationPreference) error
}

// ContactDirectory resolves channel addresses for a user.
type ContactDirectory interface {
	GetContact(ctx context.Context, tenantID, userID string) (*Contact, error)
	SaveContact(ctx context.Context, c *Contact) error
}

// WebhookRepository persists webhooks and their delivery history.
type WebhookRepository interface {
	ListActiveWebhooks(ctx context.Context, tenantID, event string) ([]*Webhook, error)
	ListWebhooks(ctx context.Context, tenantID string) ([]*Webhook, error)
	GetWebhook(ctx context.Context, id uuid.UUID) (*Webhook, error)
	SaveWebhook(ctx context.Context, w *Webhook) error
	DeleteWebhook(ctx context.Context, tenantID string, id uuid.UUID) error

	CreateDelivery(ctx context.Context, d *WebhookDelivery) error
	UpdateDelivery(ctx context.Context, d *WebhookDelivery) error
	GetDelivery(ctx context.Context, id uuid.UUID) (*WebhookDelivery, error)
	ListDeliveries(ctx context.Context, webhookID uuid.UUID, limit int) ([]*WebhookDelivery, error)
}

// Store bundles every repository the pipeline needs.
type Store interface {
	RecordRepository
	TemplateRepository
	PreferenceRepository
	ContactDirectory
	WebhookRepository
}

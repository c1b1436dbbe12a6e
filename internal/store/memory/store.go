// Package memory is an in-process domain.Store used by tests and by
// single-node development runs (store.backend=memory).
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"vn.io.arda/realtime/internal/domain"
)

type prefKey struct {
	tenant, user, typ string
	channel           domain.Channel
}

type contactKey struct{ tenant, user string }

// Store keeps every aggregate in maps guarded by one mutex. Structs are stored
// by value, so a caller mutating a returned pointer does not change the store.
type Store struct {
	mu          sync.RWMutex
	records     map[uuid.UUID]domain.NotificationRecord
	templates   map[uuid.UUID]domain.NotificationTemplate
	preferences map[prefKey]domain.NotificationPreference
	contacts    map[contactKey]domain.Contact
	webhooks    map[uuid.UUID]domain.Webhook
	deliveries  map[uuid.UUID]domain.WebhookDelivery
}

func New() *Store {
	return &Store{
		records:     make(map[uuid.UUID]domain.NotificationRecord),
		templates:   make(map[uuid.UUID]domain.NotificationTemplate),
		preferences: make(map[prefKey]domain.NotificationPreference),
		contacts:    make(map[contactKey]domain.Contact),
		webhooks:    make(map[uuid.UUID]domain.Webhook),
		deliveries:  make(map[uuid.UUID]domain.WebhookDelivery),
	}
}

// ── Records ──────────────────────────────────────────────────────────────────

func (s *Store) CreateRecords(_ context.Context, records []*domain.NotificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		if _, exists := s.records[r.ID]; exists {
			return domain.ErrConflict
		}
	}
	for _, r := range records {
		s.records[r.ID] = *r
	}
	return nil
}

func (s *Store) GetRecord(_ context.Context, id uuid.UUID) (*domain.NotificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &r, nil
}

func (s *Store) ListRecords(_ context.Context, f domain.RecordFilter) ([]*domain.NotificationRecord, error) {
	s.mu.RLock()
	var out []*domain.NotificationRecord
	for _, r := range s.records {
		if r.TenantID != f.TenantID ||
			(f.RecipientID != "" && r.RecipientID != f.RecipientID) ||
			(f.Channel != "" && r.Channel != f.Channel) ||
			(f.Status != "" && r.Status != f.Status) ||
			(f.Type != "" && r.Type != f.Type) {
			continue
		}
		r := r
		out = append(out, &r)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	return page(out, f.Offset, limit), nil
}

func (s *Store) UpdateRecord(_ context.Context, rec *domain.NotificationRecord, expected domain.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.records[rec.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Status != expected {
		return domain.ErrConflict
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	s.records[rec.ID] = *rec
	return nil
}

func (s *Store) CountUnread(_ context.Context, tenantID, recipientID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, r := range s.records {
		if r.TenantID == tenantID && r.RecipientID == recipientID && r.Channel == domain.ChannelInApp &&
			r.Status != domain.StatusRead && r.Status != domain.StatusFailed {
			n++
		}
	}
	return n, nil
}

func (s *Store) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, r := range s.records {
		if r.CreatedAt.Before(cutoff) {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

// ── Templates ────────────────────────────────────────────────────────────────

func (s *Store) GetTemplate(_ context.Context, tenantID string, id uuid.UUID) (*domain.NotificationTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[id]
	if !ok || (t.TenantID != tenantID && !t.IsSystem) {
		return nil, domain.ErrNotFound
	}
	return &t, nil
}

func (s *Store) ListTemplates(_ context.Context, tenantID string) ([]*domain.NotificationTemplate, error) {
	s.mu.RLock()
	var out []*domain.NotificationTemplate
	for _, t := range s.templates {
		if t.TenantID == tenantID || t.IsSystem {
			t := t
			out = append(out, &t)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsSystem != out[j].IsSystem {
			return !out[i].IsSystem
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *Store) SaveTemplate(_ context.Context, t *domain.NotificationTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if cur, ok := s.templates[t.ID]; ok {
		if cur.IsSystem || cur.TenantID != t.TenantID {
			return domain.ErrSystemTemplate
		}
		t.CreatedAt = cur.CreatedAt
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	s.templates[t.ID] = *t
	return nil
}

func (s *Store) DeleteTemplate(_ context.Context, tenantID string, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.templates[id]
	if !ok || t.TenantID != tenantID || t.IsSystem {
		return domain.ErrNotFound
	}
	delete(s.templates, id)
	return nil
}

// ── Preferences & contacts ───────────────────────────────────────────────────

func (s *Store) ListPreferences(_ context.Context, tenantID, userID, notificationType string) ([]*domain.NotificationPreference, error) {
	s.mu.RLock()
	var out []*domain.NotificationPreference
	for k, p := range s.preferences {
		if k.tenant != tenantID || k.user != userID {
			continue
		}
		if notificationType != "" && k.typ != notificationType {
			continue
		}
		p := p
		out = append(out, &p)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].NotificationType != out[j].NotificationType {
			return out[i].NotificationType < out[j].NotificationType
		}
		return out[i].Channel < out[j].Channel
	})
	return out, nil
}

func (s *Store) SavePreference(_ context.Context, p *domain.NotificationPreference) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.UpdatedAt = time.Now()
	if p.Frequency == "" {
		p.Frequency = domain.FrequencyImmediate
	}
	s.preferences[prefKey{p.TenantID, p.UserID, p.NotificationType, p.Channel}] = *p
	return nil
}

func (s *Store) GetContact(_ context.Context, tenantID, userID string) (*domain.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[contactKey{tenantID, userID}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &c, nil
}

func (s *Store) SaveContact(_ context.Context, c *domain.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[contactKey{c.TenantID, c.UserID}] = *c
	return nil
}

// ── Webhooks ─────────────────────────────────────────────────────────────────

func (s *Store) ListActiveWebhooks(_ context.Context, tenantID, event string) ([]*domain.Webhook, error) {
	return s.filterWebhooks(func(w *domain.Webhook) bool {
		return w.TenantID == tenantID && w.IsActive && w.Subscribed(event)
	}), nil
}

func (s *Store) ListWebhooks(_ context.Context, tenantID string) ([]*domain.Webhook, error) {
	return s.filterWebhooks(func(w *domain.Webhook) bool { return w.TenantID == tenantID }), nil
}

func (s *Store) filterWebhooks(keep func(*domain.Webhook) bool) []*domain.Webhook {
	s.mu.RLock()
	var out []*domain.Webhook
	for _, w := range s.webhooks {
		w := w
		if keep(&w) {
			out = append(out, &w)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Store) GetWebhook(_ context.Context, id uuid.UUID) (*domain.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.webhooks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &w, nil
}

func (s *Store) SaveWebhook(_ context.Context, w *domain.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	w.UpdatedAt = now
	s.webhooks[w.ID] = *w
	return nil
}

func (s *Store) DeleteWebhook(_ context.Context, tenantID string, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.webhooks[id]
	if !ok || w.TenantID != tenantID {
		return domain.ErrNotFound
	}
	delete(s.webhooks, id)
	for did, d := range s.deliveries {
		if d.WebhookID == id {
			delete(s.deliveries, did)
		}
	}
	return nil
}

func (s *Store) CreateDelivery(_ context.Context, d *domain.WebhookDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries[d.ID] = *d
	return nil
}

func (s *Store) UpdateDelivery(_ context.Context, d *domain.WebhookDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deliveries[d.ID]; !ok {
		return domain.ErrNotFound
	}
	d.UpdatedAt = time.Now()
	s.deliveries[d.ID] = *d
	return nil
}

func (s *Store) GetDelivery(_ context.Context, id uuid.UUID) (*domain.WebhookDelivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deliveries[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &d, nil
}

func (s *Store) ListDeliveries(_ context.Context, webhookID uuid.UUID, limit int) ([]*domain.WebhookDelivery, error) {
	s.mu.RLock()
	var out []*domain.WebhookDelivery
	for _, d := range s.deliveries {
		if d.WebhookID == webhookID {
			d := d
			out = append(out, &d)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit <= 0 {
		limit = 50
	}
	return page(out, 0, limit), nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit < len(items) {
		items = items[:limit]
	}
	return items
}

package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"vn.io.arda/realtime/internal/channel"
	"vn.io.arda/realtime/internal/domain"
	"vn.io.arda/realtime/internal/metrics"
	"vn.io.arda/realtime/internal/queue"
)

// SendNotification turns one request into a record per (recipient, channel),
// stores them in one batch and enqueues a delivery job per record. It returns
// the IDs of the records created; recipients without any enabled channel are
// skipped.
func (s *Service) SendNotification(ctx context.Context, tenantID string, req domain.NotificationRequest) ([]uuid.UUID, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if req.Priority == "" {
		req.Priority = domain.PriorityNormal
	}

	recipients, err := s.recipients(ctx, tenantID, req)
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		return nil, domain.ErrNoRecipients
	}

	subject, message, html := req.Subject, req.Message, ""
	if req.TemplateID != nil {
		tpl, err := s.store.GetTemplate(ctx, tenantID, *req.TemplateID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrTemplateNotFound, req.TemplateID)
		}
		if err != nil {
			return nil, fmt.Errorf("load template: %w", err)
		}
		if tpl.Subject != "" {
			subject = Render(tpl.Subject, req.Variables)
		}
		message = Render(tpl.BodyTemplate, req.Variables)
		html = Render(tpl.HTMLTemplate, req.Variables)
		if req.Type == "" {
			req.Type = tpl.Type
		}
	}

	now := s.now().UTC()
	var records []*domain.NotificationRecord
	for _, recipient := range recipients {
		channels, prefs, err := s.resolveChannels(ctx, tenantID, recipient, req)
		if err != nil {
			return nil, err
		}
		if len(channels) == 0 {
			log.Warn().
				Str("tenant", tenantID).
				Str("recipient", recipient).
				Str("type", req.Type).
				Msg("recipient has no enabled channel, skipping")
			continue
		}
		for _, ch := range channels {
			rec := &domain.NotificationRecord{
				ID:          uuid.New(),
				TenantID:    tenantID,
				RecipientID: recipient,
				Type:        req.Type,
				Channel:     ch,
				Priority:    req.Priority,
				Subject:     subject,
				Message:     message,
				HTML:        html,
				Data:        req.Data,
				TemplateID:  req.TemplateID,
				Status:      domain.StatusPending,
				ScheduledAt: s.scheduleFor(req, prefs[ch], now),
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			records = append(records, rec)
		}
	}
	if len(records) == 0 {
		return []uuid.UUID{}, nil
	}

	if err := s.store.CreateRecords(ctx, records); err != nil {
		return nil, fmt.Errorf("create records: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.ID)
		metrics.NotificationRecordsCreated.WithLabelValues(string(rec.Channel)).Inc()

		// Push the live event right away; the in-app worker only pushes deferred records.
		if rec.Channel == domain.ChannelInApp && rec.ScheduledAt == nil {
			s.hub.Broadcast(domain.UserTopic(tenantID, rec.RecipientID), domain.EventNotification, channel.Payload(rec))
		}
		s.enqueue(ctx, rec, now)
	}

	log.Info().
		Str("tenant", tenantID).
		Str("type", req.Type).
		Int("recipients", len(recipients)).
		Int("records", len(records)).
		Msg("notification dispatched")
	return ids, nil
}

// enqueue schedules delivery of rec. A queue failure fails only that record.
func (s *Service) enqueue(ctx context.Context, rec *domain.NotificationRecord, now time.Time) {
	opts := queue.Options{Priority: rec.Priority, Attempts: s.cfg.MaxAttempts}
	if rec.ScheduledAt != nil {
		if d := rec.ScheduledAt.Sub(now); d > 0 {
			opts.Delay = d
		}
	}

	err := s.queue.Enqueue(ctx, &queue.Job{
		Kind:     queue.KindNotification,
		Queue:    string(rec.Channel),
		RefID:    rec.ID,
		TenantID: rec.TenantID,
	}, opts)
	if err == nil {
		return
	}

	log.Error().Err(err).
		Str("record", rec.ID.String()).
		Str("tenant", rec.TenantID).
		Str("channel", string(rec.Channel)).
		Msg("enqueue delivery failed, marking record failed")
	rec.Status = domain.StatusFailed
	rec.FailureReason = "enqueue: " + err.Error()
	if uerr := s.store.UpdateRecord(ctx, rec, domain.StatusPending); uerr != nil {
		log.Error().Err(uerr).Str("record", rec.ID.String()).Msg("mark record failed")
	}
}

// recipients merges explicit recipients with role members, keeping order and
// dropping duplicates.
func (s *Service) recipients(ctx context.Context, tenantID string, req domain.NotificationRequest) ([]string, error) {
	seen := make(map[string]struct{}, len(req.Recipients))
	var out []string
	add := func(id string) {
		if id == "" {
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, r := range req.Recipients {
		add(r)
	}
	for _, role := range req.Roles {
		if s.resolver == nil {
			log.Warn().Str("tenant", tenantID).Str("role", role).Msg("no recipient resolver, role ignored")
			continue
		}
		users, err := s.resolver.UsersByRole(ctx, tenantID, role)
		if err != nil {
			return nil, fmt.Errorf("resolve role %s: %w", role, err)
		}
		for _, u := range users {
			add(u)
		}
	}
	return out, nil
}

// resolveChannels returns the channels a recipient gets, plus their
// preferences keyed by channel. Explicit request channels win over preferences.
func (s *Service) resolveChannels(ctx context.Context, tenantID, recipient string, req domain.NotificationRequest) ([]domain.Channel, map[domain.Channel]*domain.NotificationPreference, error) {
	prefs, err := s.store.ListPreferences(ctx, tenantID, recipient, req.Type)
	if err != nil {
		return nil, nil, fmt.Errorf("load preferences of %s: %w", recipient, err)
	}
	byChannel := make(map[domain.Channel]*domain.NotificationPreference, len(prefs))
	for _, p := range prefs {
		byChannel[p.Channel] = p
	}

	if len(req.Channels) > 0 {
		return dedupeChannels(req.Channels), byChannel, nil
	}
	var channels []domain.Channel
	for _, ch := range domain.Channels {
		if p, ok := byChannel[ch]; ok && p.IsEnabled {
			channels = append(channels, ch)
		}
	}
	return channels, byChannel, nil
}

// scheduleFor decides when a record is delivered. An explicit scheduledAt
// always wins; otherwise non-urgent records are held until the recipient's
// quiet hours end. Frequency batching (hourly/daily/weekly) is not applied.
func (s *Service) scheduleFor(req domain.NotificationRequest, pref *domain.NotificationPreference, now time.Time) *time.Time {
	if req.ScheduledAt != nil {
		t := req.ScheduledAt.UTC()
		return &t
	}
	if pref == nil || req.Priority == domain.PriorityUrgent {
		return nil
	}
	if until := pref.QuietUntil(now); !until.IsZero() {
		t := until.UTC()
		return &t
	}
	return nil
}

func dedupeChannels(in []domain.Channel) []domain.Channel {
	seen := make(map[domain.Channel]struct{}, len(in))
	out := make([]domain.Channel, 0, len(in))
	for _, c := range in {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

func validateRequest(req domain.NotificationRequest) error {
	for _, c := range req.Channels {
		if !c.Valid() {
			return fmt.Errorf("%w: unknown channel %q", domain.ErrInvalidInput, c)
		}
	}
	if req.Priority != "" && !req.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", domain.ErrInvalidInput, req.Priority)
	}
	if req.TemplateID == nil && req.Message == "" {
		return fmt.Errorf("%w: message or template_id is required", domain.ErrInvalidInput)
	}
	return nil
}

// ── Bulk ─────────────────────────────────────────────────────────────────────

// BulkItem is the outcome of one request of a bulk send, at its input index.
type BulkItem struct {
	Index int         `json:"index"`
	IDs   []uuid.UUID `json:"ids,omitempty"`
	Error string      `json:"error,omitempty"`
}

// BulkResult aggregates a bulk send.
type BulkResult struct {
	Batches   int        `json:"batches"`
	Succeeded int        `json:"succeeded"`
	Failed    int        `json:"failed"`
	Items     []BulkItem `json:"items"`
}

// SendBulkNotifications sends requests in batches of BulkBatchSize. Requests
// within a batch run concurrently and fail independently; BulkBatchDelay is
// waited between batches. A cancelled context stops before the next batch.
func (s *Service) SendBulkNotifications(ctx context.Context, tenantID string, reqs []domain.NotificationRequest) (*BulkResult, error) {
	size := s.cfg.BulkBatchSize
	res := &BulkResult{Items: make([]BulkItem, len(reqs))}

	for start := 0; start < len(reqs); start += size {
		if start > 0 && s.cfg.BulkBatchDelay > 0 {
			timer := time.NewTimer(s.cfg.BulkBatchDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return s.tally(res), ctx.Err()
			case <-timer.C:
			}
		}
		end := start + size
		if end > len(reqs) {
			end = len(reqs)
		}
		res.Batches++

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				item := BulkItem{Index: i}
				ids, err := s.SendNotification(ctx, tenantID, reqs[i])
				if err != nil {
					item.Error = err.Error()
					log.Warn().Err(err).Str("tenant", tenantID).Int("index", i).Msg("bulk item failed")
				} else {
					item.IDs = ids
				}
				res.Items[i] = item
				return nil
			})
		}
		_ = g.Wait()
	}
	return s.tally(res), nil
}

func (s *Service) tally(res *BulkResult) *BulkResult {
	for i := range res.Items {
		res.Items[i].Index = i
		switch {
		case res.Items[i].Error != "":
			res.Failed++
		case res.Items[i].IDs != nil:
			res.Succeeded++
		}
	}
	return res
}

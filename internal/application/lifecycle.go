package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"vn.io.arda/realtime/internal/domain"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// transition moves a record from its current status to `to`, applying mutate
// before the compare-and-set. The status seen on read is the expected value.
func (s *Service) transition(ctx context.Context, id uuid.UUID, to domain.Status, mutate func(*domain.NotificationRecord)) (*domain.NotificationRecord, error) {
	rec, err := s.store.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	from := rec.Status
	if !domain.CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}
	rec.Status = to
	rec.UpdatedAt = s.now().UTC()
	if mutate != nil {
		mutate(rec)
	}
	if err := s.store.UpdateRecord(ctx, rec, from); err != nil {
		return nil, err
	}
	return rec, nil
}

// MarkSent records that the provider accepted the record.
func (s *Service) MarkSent(ctx context.Context, id uuid.UUID) (*domain.NotificationRecord, error) {
	return s.transition(ctx, id, domain.StatusSent, func(r *domain.NotificationRecord) {
		t := r.UpdatedAt
		r.SentAt = &t
	})
}

// MarkDelivered records that the record reached the recipient.
func (s *Service) MarkDelivered(ctx context.Context, id uuid.UUID) (*domain.NotificationRecord, error) {
	return s.transition(ctx, id, domain.StatusDelivered, func(r *domain.NotificationRecord) {
		t := r.UpdatedAt
		r.DeliveredAt = &t
	})
}

// MarkFailed fails a record with reason.
func (s *Service) MarkFailed(ctx context.Context, id uuid.UUID, reason string) (*domain.NotificationRecord, error) {
	return s.transition(ctx, id, domain.StatusFailed, func(r *domain.NotificationRecord) {
		r.FailureReason = reason
	})
}

// MarkRead marks a tenant user's record as read. A record the worker has not
// picked up yet is first moved to delivered, so read is only ever reached
// from sent or delivered. Marking an already-read record again is a no-op.
func (s *Service) MarkRead(ctx context.Context, tenantID, userID string, id uuid.UUID) (*domain.NotificationRecord, error) {
	rec, err := s.store.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.TenantID != tenantID || rec.RecipientID != userID {
		return nil, domain.ErrNotFound
	}
	switch rec.Status {
	case domain.StatusRead:
		return rec, nil
	case domain.StatusPending:
		// The worker may have moved it on already; the read below decides.
		_, err := s.MarkDelivered(ctx, id)
		if err != nil && !errors.Is(err, domain.ErrInvalidTransition) && !errors.Is(err, domain.ErrConflict) {
			return nil, err
		}
	}
	return s.transition(ctx, id, domain.StatusRead, func(r *domain.NotificationRecord) {
		t := r.UpdatedAt
		if r.DeliveredAt == nil {
			r.DeliveredAt = &t
		}
		r.ReadAt = &t
	})
}

// MarkAllRead marks every unread in-app record of a user as read and returns
// how many were updated. Records that change concurrently are skipped.
func (s *Service) MarkAllRead(ctx context.Context, tenantID, userID string) (int, error) {
	var updated int
	for _, status := range []domain.Status{domain.StatusPending, domain.StatusSent, domain.StatusDelivered} {
		for {
			recs, err := s.store.ListRecords(ctx, domain.RecordFilter{
				TenantID:    tenantID,
				RecipientID: userID,
				Channel:     domain.ChannelInApp,
				Status:      status,
				Limit:       maxListLimit,
			})
			if err != nil {
				return updated, err
			}
			progressed := 0
			for _, r := range recs {
				if _, err := s.MarkRead(ctx, tenantID, userID, r.ID); err != nil {
					log.Debug().Err(err).Str("record", r.ID.String()).Msg("mark read skipped")
					continue
				}
				progressed++
			}
			updated += progressed
			if len(recs) < maxListLimit || progressed == 0 {
				break
			}
		}
	}
	return updated, nil
}

// Retry moves a failed record back to pending and enqueues it again with a
// fresh attempt budget.
func (s *Service) Retry(ctx context.Context, tenantID string, id uuid.UUID) (*domain.NotificationRecord, error) {
	rec, err := s.store.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.TenantID != tenantID {
		return nil, domain.ErrNotFound
	}
	if rec.Status != domain.StatusFailed {
		return nil, fmt.Errorf("%w: only failed records can be retried, got %s", domain.ErrInvalidTransition, rec.Status)
	}

	now := s.now().UTC()
	rec.Status = domain.StatusPending
	rec.DeliveryAttempts = 0
	rec.FailureReason = ""
	rec.ScheduledAt = nil
	rec.UpdatedAt = now
	if err := s.store.UpdateRecord(ctx, rec, domain.StatusFailed); err != nil {
		return nil, err
	}
	s.enqueue(ctx, rec, now)
	log.Info().Str("record", rec.ID.String()).Str("tenant", tenantID).Msg("notification retry requested")
	return rec, nil
}

// GetRecord returns a record owned by the tenant.
func (s *Service) GetRecord(ctx context.Context, tenantID string, id uuid.UUID) (*domain.NotificationRecord, error) {
	rec, err := s.store.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.TenantID != tenantID {
		return nil, domain.ErrNotFound
	}
	return rec, nil
}

// ListRecords lists records newest first. The limit is clamped to [1, 100]
// and defaults to 20.
func (s *Service) ListRecords(ctx context.Context, f domain.RecordFilter) ([]*domain.NotificationRecord, error) {
	switch {
	case f.Limit <= 0:
		f.Limit = defaultListLimit
	case f.Limit > maxListLimit:
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.store.ListRecords(ctx, f)
}

// CountUnread counts in-app records of a user not yet read or failed.
func (s *Service) CountUnread(ctx context.Context, tenantID, userID string) (int64, error) {
	return s.store.CountUnread(ctx, tenantID, userID)
}

// QueueDepth reports how many jobs sit on each channel queue.
func (s *Service) QueueDepth(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64, len(domain.Channels))
	for _, ch := range domain.Channels {
		n, err := s.queue.Len(ctx, string(ch))
		if err != nil {
			return nil, err
		}
		out[string(ch)] = n
	}
	return out, nil
}

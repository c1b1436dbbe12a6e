package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"vn.io.arda/realtime/internal/domain"
)

// Events applies domain events coming from Kafka or the HTTP ingestion route.
type Events struct {
	svc      *Service
	webhooks WebhookService
}

func NewEvents(svc *Service, webhooks WebhookService) *Events {
	return &Events{svc: svc, webhooks: webhooks}
}

// Handle runs every part of ev. Parts are independent: a failing notification
// does not stop the broadcasts or the webhook trigger. Broadcasts to topics of
// another tenant are dropped.
func (e *Events) Handle(ctx context.Context, ev *domain.DomainEvent) error {
	if ev == nil {
		return nil
	}
	if ev.TenantID == "" {
		return fmt.Errorf("%w: event has no tenant", domain.ErrInvalidInput)
	}

	var errs []error
	for _, b := range ev.Broadcasts {
		if b.Topic.Tenant() != ev.TenantID {
			log.Warn().
				Str("tenant", ev.TenantID).
				Str("topic", b.Topic.String()).
				Str("source", ev.SourceID).
				Msg("event broadcast targets another tenant, dropped")
			errs = append(errs, fmt.Errorf("%w: %s", domain.ErrForeignTopic, b.Topic))
			continue
		}
		e.svc.hub.Broadcast(b.Topic, b.Event, b.Data)
	}

	if ev.Notification != nil {
		if _, err := e.svc.SendNotification(ctx, ev.TenantID, *ev.Notification); err != nil {
			if errors.Is(err, domain.ErrNoRecipients) {
				log.Debug().Str("tenant", ev.TenantID).Str("source", ev.SourceID).Msg("event notification has no recipients")
			} else {
				errs = append(errs, fmt.Errorf("notification: %w", err))
			}
		}
	}

	if ev.Webhook != nil && e.webhooks != nil {
		e.webhooks.Trigger(ctx, ev.TenantID, ev.Webhook.Event, ev.Webhook.Data)
	}
	return errors.Join(errs...)
}

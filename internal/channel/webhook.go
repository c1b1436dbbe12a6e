package channel

import (
	"context"
	"fmt"
	"time"

	"vn.io.arda/realtime/internal/domain"
)

// Triggerer is implemented by webhook.Service.
type Triggerer interface {
	Trigger(ctx context.Context, tenantID, event string, data any) []*domain.WebhookDelivery
}

// Webhook forwards a record to the tenant's webhooks subscribed to
// "notification.<type>". Failed endpoints follow their own retry policy, so
// one accepted or scheduled delivery is enough to count the record as sent.
type Webhook struct {
	hooks Triggerer
}

func NewWebhook(hooks Triggerer) *Webhook {
	return &Webhook{hooks: hooks}
}

func (w *Webhook) Send(ctx context.Context, d Delivery) (Result, error) {
	rec := d.Record
	deliveries := w.hooks.Trigger(ctx, rec.TenantID, "notification."+rec.Type, map[string]any{
		"notification_id": rec.ID.String(),
		"recipient_id":    rec.RecipientID,
		"type":            rec.Type,
		"subject":         rec.Subject,
		"message":         rec.Message,
		"data":            rec.Data,
	})
	if len(deliveries) == 0 {
		return Result{}, fmt.Errorf("no webhook subscribed to notification.%s: %w", rec.Type, ErrNoAddress)
	}

	res := Result{ProviderID: deliveries[0].ID.String(), SentAt: time.Now()}
	accepted := false
	for _, del := range deliveries {
		if del.Status != domain.DeliveryFailed {
			accepted = true
			break
		}
	}
	if !accepted {
		return Result{}, fmt.Errorf("all %d webhook deliveries failed: %s", len(deliveries), deliveries[0].Error)
	}
	return res, nil
}

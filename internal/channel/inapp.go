package channel

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"vn.io.arda/realtime/internal/domain"
)

// Broadcaster is the slice of the topic router the in-app channel needs.
type Broadcaster interface {
	Broadcast(topic domain.Topic, event string, data any) int
}

// InApp stores the notification in the user's inbox and pushes it to any
// live socket on the user's personal topic.
type InApp struct {
	router Broadcaster
}

func NewInApp(router Broadcaster) *InApp {
	return &InApp{router: router}
}

func (c *InApp) Send(_ context.Context, d Delivery) (Result, error) {
	rec := d.Record
	now := time.Now()

	// Immediate requests were already pushed live when they were dispatched;
	// only deferred ones still need the realtime event.
	if rec.ScheduledAt != nil {
		n := c.router.Broadcast(domain.UserTopic(rec.TenantID, rec.RecipientID), domain.EventNotification, Payload(rec))
		log.Debug().
			Str("record", rec.ID.String()).
			Str("tenant", rec.TenantID).
			Int("sockets", n).
			Msg("scheduled in-app notification pushed")
	}
	return Result{ProviderID: rec.ID.String(), Delivered: true, SentAt: now}, nil
}

// Payload is the body of the realtime "notification" event.
func Payload(rec *domain.NotificationRecord) map[string]any {
	return map[string]any{
		"id":        rec.ID.String(),
		"type":      rec.Type,
		"subject":   rec.Subject,
		"message":   rec.Message,
		"data":      rec.Data,
		"priority":  rec.Priority,
		"createdAt": rec.CreatedAt,
	}
}

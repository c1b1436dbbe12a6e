package application

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"vn.io.arda/realtime/internal/domain"
	"vn.io.arda/realtime/internal/queue"
)

// Broadcaster is the topic router as seen by the pipeline.
// Implementation lives in internal/realtime.
type Broadcaster interface {
	Broadcast(topic domain.Topic, event string, data any) int
}

// RecipientResolver expands a role to the users holding it.
// The default implementation calls the Keycloak Admin REST API.
type RecipientResolver interface {
	UsersByRole(ctx context.Context, tenantID, roleName string) ([]string, error)
}

// WebhookService is the slice of webhook.Service the pipeline uses.
type WebhookService interface {
	Trigger(ctx context.Context, tenantID, event string, data any) []*domain.WebhookDelivery
	Redeliver(ctx context.Context, deliveryID uuid.UUID) error
	Abandon(ctx context.Context, deliveryID uuid.UUID, reason string) error
}

// Config tunes dispatch and delivery.
type Config struct {
	BulkBatchSize  int
	BulkBatchDelay time.Duration
	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

func (c Config) withDefaults() Config {
	if c.BulkBatchSize <= 0 {
		c.BulkBatchSize = 100
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 5 * time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Minute
	}
	return c
}

// Service holds all notification use-cases.
type Service struct {
	store    domain.Store
	queue    queue.Queue
	hub      Broadcaster
	resolver RecipientResolver
	cfg      Config
	now      func() time.Time
}

// NewService creates a new application Service. resolver may be nil, in which
// case role recipients are ignored.
func NewService(store domain.Store, q queue.Queue, hub Broadcaster, resolver RecipientResolver, cfg Config) *Service {
	return &Service{
		store:    store,
		queue:    q,
		hub:      hub,
		resolver: resolver,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
	}
}

// PurgeTTL deletes records older than days. Called by a background scheduler.
func (s *Service) PurgeTTL(ctx context.Context, days int) {
	cutoff := s.now().AddDate(0, 0, -days)
	count, err := s.store.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("notification TTL purge failed")
		return
	}
	log.Info().Int64("deleted", count).Int("older_than_days", days).Msg("notification TTL purge completed")
}

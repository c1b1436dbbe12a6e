package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"vn.io.arda/realtime/internal/domain"
	"vn.io.arda/realtime/internal/metrics"
	"vn.io.arda/realtime/internal/queue"
)

// QueueName is the job queue carrying scheduled redeliveries.
const QueueName = "webhook_deliveries"

// TestEvent is sent by SendTest.
const TestEvent = "webhook.test"

const (
	maxBackoff        = time.Hour
	responseBodyLimit = 4 << 10
	// jobAttempts bounds requeues of a redelivery job whose handler fails
	// before reaching the endpoint.
	jobAttempts = 5
)

// Config tunes outbound delivery.
type Config struct {
	Timeout   time.Duration
	UserAgent string
}

// Service owns webhook registration, delivery and retry scheduling.
type Service struct {
	repo      domain.WebhookRepository
	queue     queue.Queue
	client    *http.Client
	userAgent string
	now       func() time.Time
}

// NewService creates a Service. A zero timeout defaults to 30 seconds.
func NewService(repo domain.WebhookRepository, q queue.Queue, cfg Config) *Service {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "arda-realtime-webhook/1.0"
	}
	return &Service{
		repo:      repo,
		queue:     q,
		client:    &http.Client{Timeout: timeout},
		userAgent: ua,
		now:       time.Now,
	}
}

// Backoff is the wait before the given retry (1-based):
// InitialDelay * BackoffMultiplier^(retry-1), capped at one hour.
func Backoff(p domain.RetryPolicy, retry int) time.Duration {
	return queue.Backoff(retry, p.InitialDelay, p.BackoffMultiplier, maxBackoff)
}

// Trigger delivers event to every active webhook of the tenant subscribed to
// it. Endpoints are attempted concurrently and independently.
func (s *Service) Trigger(ctx context.Context, tenantID, event string, data any) []*domain.WebhookDelivery {
	hooks, err := s.repo.ListActiveWebhooks(ctx, tenantID, event)
	if err != nil {
		log.Error().Err(err).Str("tenant", tenantID).Str("event", event).Msg("list webhooks failed")
		return nil
	}
	if len(hooks) == 0 {
		return nil
	}

	results := make([]*domain.WebhookDelivery, len(hooks))
	var wg sync.WaitGroup
	for i, h := range hooks {
		wg.Add(1)
		go func(i int, h *domain.Webhook) {
			defer wg.Done()
			d, err := s.deliverNew(ctx, h, event, data, true)
			if err != nil {
				log.Error().Err(err).
					Str("tenant", tenantID).
					Str("webhook", h.ID.String()).
					Str("event", event).
					Msg("webhook delivery could not be recorded")
				return
			}
			results[i] = d
		}(i, h)
	}
	wg.Wait()

	out := results[:0]
	for _, d := range results {
		if d != nil {
			out = append(out, d)
		}
	}
	return out
}

// Redeliver runs a scheduled retry. Deliveries no longer in retrying state
// are ignored.
func (s *Service) Redeliver(ctx context.Context, deliveryID uuid.UUID) error {
	d, err := s.repo.GetDelivery(ctx, deliveryID)
	if err != nil {
		return fmt.Errorf("load delivery %s: %w", deliveryID, err)
	}
	if d.Status != domain.DeliveryRetrying {
		log.Debug().Str("delivery", d.ID.String()).Str("status", string(d.Status)).Msg("redelivery skipped")
		return nil
	}

	h, err := s.repo.GetWebhook(ctx, d.WebhookID)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && !h.IsActive) {
		d.Status = domain.DeliveryFailed
		d.Error = "webhook removed or deactivated"
		d.NextRetryAt = nil
		return s.repo.UpdateDelivery(ctx, d)
	}
	if err != nil {
		return fmt.Errorf("load webhook %s: %w", d.WebhookID, err)
	}
	s.attempt(ctx, h, d, true)
	return nil
}

// Abandon fails a retrying delivery whose redelivery job could not be run.
func (s *Service) Abandon(ctx context.Context, deliveryID uuid.UUID, reason string) error {
	d, err := s.repo.GetDelivery(ctx, deliveryID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load delivery %s: %w", deliveryID, err)
	}
	if d.Status != domain.DeliveryRetrying {
		return nil
	}
	d.Status = domain.DeliveryFailed
	d.Error = reason
	d.NextRetryAt = nil
	metrics.WebhookDeliveries.WithLabelValues(string(d.Status)).Inc()
	log.Warn().Str("tenant", d.TenantID).Str("delivery", d.ID.String()).Str("reason", reason).Msg("webhook delivery abandoned")
	return s.repo.UpdateDelivery(ctx, d)
}

// SendTest posts a test event to one webhook without scheduling retries.
func (s *Service) SendTest(ctx context.Context, tenantID string, id uuid.UUID) (*domain.WebhookDelivery, error) {
	h, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	return s.deliverNew(ctx, h, TestEvent, map[string]any{"webhook_id": h.ID.String()}, false)
}

func (s *Service) deliverNew(ctx context.Context, h *domain.Webhook, event string, data any, retry bool) (*domain.WebhookDelivery, error) {
	now := s.now().UTC()
	id := uuid.New()
	payload, err := json.Marshal(domain.WebhookEnvelope{
		ID:        id.String(),
		Event:     event,
		Timestamp: now,
		Data:      data,
		TenantID:  h.TenantID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}

	d := &domain.WebhookDelivery{
		ID:        id,
		WebhookID: h.ID,
		TenantID:  h.TenantID,
		Event:     event,
		Payload:   payload,
		Status:    domain.DeliveryPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateDelivery(ctx, d); err != nil {
		return nil, err
	}
	s.attempt(ctx, h, d, retry)
	return d, nil
}

// attempt performs one POST and records its outcome on d.
func (s *Service) attempt(ctx context.Context, h *domain.Webhook, d *domain.WebhookDelivery, retry bool) {
	d.Attempts++
	status, body, err := s.post(ctx, h, d)
	d.ResponseStatus = status
	d.ResponseBody = body
	d.NextRetryAt = nil

	logger := log.With().
		Str("tenant", d.TenantID).
		Str("webhook", h.ID.String()).
		Str("delivery", d.ID.String()).
		Str("event", d.Event).
		Int("attempt", d.Attempts).
		Logger()

	if err == nil && status >= 200 && status < 300 {
		now := s.now().UTC()
		d.Status = domain.DeliveryDelivered
		d.DeliveredAt = &now
		d.Error = ""
		logger.Info().Int("status", status).Msg("webhook delivered")
	} else {
		if err == nil {
			err = fmt.Errorf("endpoint answered %d", status)
		}
		d.Error = err.Error()
		d.Status = domain.DeliveryFailed

		retriesUsed := d.Attempts - 1
		if retry && retriesUsed < h.RetryPolicy.MaxRetries {
			delay := Backoff(h.RetryPolicy, retriesUsed+1)
			if qerr := s.schedule(ctx, d, delay); qerr != nil {
				d.Error += "; retry not scheduled: " + qerr.Error()
				logger.Error().Err(qerr).Msg("webhook retry could not be scheduled")
			} else {
				next := s.now().Add(delay).UTC()
				d.Status = domain.DeliveryRetrying
				d.NextRetryAt = &next
			}
		}
		logger.Warn().Err(err).Str("status", string(d.Status)).Msg("webhook delivery failed")
	}

	metrics.WebhookDeliveries.WithLabelValues(string(d.Status)).Inc()
	if uerr := s.repo.UpdateDelivery(ctx, d); uerr != nil {
		logger.Error().Err(uerr).Msg("update delivery failed")
	}
}

func (s *Service) schedule(ctx context.Context, d *domain.WebhookDelivery, delay time.Duration) error {
	return s.queue.Enqueue(ctx, &queue.Job{
		Kind:     queue.KindWebhookDelivery,
		Queue:    QueueName,
		RefID:    d.ID,
		TenantID: d.TenantID,
		Attempts: d.Attempts,
	}, queue.Options{Delay: delay, Priority: domain.PriorityNormal, Attempts: jobAttempts})
}

func (s *Service) post(ctx context.Context, h *domain.Webhook, d *domain.WebhookDelivery) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(d.Payload))
	if err != nil {
		return 0, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("X-Webhook-Event", d.Event)
	req.Header.Set("X-Webhook-Delivery", d.ID.String())
	if h.Secret != "" {
		req.Header.Set("X-Webhook-Signature", Sign(d.Payload, h.Secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
	return resp.StatusCode, string(body), nil
}

// ── Registration ─────────────────────────────────────────────────────────────

// CreateInput registers a webhook.
type CreateInput struct {
	URL         string              `json:"url"`
	Events      []string            `json:"events"`
	Secret      string              `json:"secret,omitempty"`
	RetryPolicy *domain.RetryPolicy `json:"retry_policy,omitempty"`
}

// Create validates and stores a new active webhook.
func (s *Service) Create(ctx context.Context, tenantID string, in CreateInput) (*domain.Webhook, error) {
	u, err := url.Parse(in.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: url must be an absolute http(s) URL", domain.ErrInvalidInput)
	}
	if len(in.Events) == 0 {
		return nil, fmt.Errorf("%w: at least one event is required", domain.ErrInvalidInput)
	}
	policy := domain.DefaultRetryPolicy
	if in.RetryPolicy != nil {
		policy = *in.RetryPolicy
		if policy.MaxRetries < 0 || policy.InitialDelay < 0 || policy.BackoffMultiplier < 1 {
			return nil, fmt.Errorf("%w: retry policy out of range", domain.ErrInvalidInput)
		}
	}

	w := &domain.Webhook{
		ID:          uuid.New(),
		TenantID:    tenantID,
		URL:         in.URL,
		Events:      in.Events,
		Secret:      in.Secret,
		IsActive:    true,
		RetryPolicy: policy,
	}
	if err := s.repo.SaveWebhook(ctx, w); err != nil {
		return nil, err
	}
	log.Info().Str("tenant", tenantID).Str("webhook", w.ID.String()).Strs("events", w.Events).Msg("webhook registered")
	return w, nil
}

// Get returns a webhook owned by the tenant.
func (s *Service) Get(ctx context.Context, tenantID string, id uuid.UUID) (*domain.Webhook, error) {
	w, err := s.repo.GetWebhook(ctx, id)
	if err != nil {
		return nil, err
	}
	if w.TenantID != tenantID {
		return nil, domain.ErrNotFound
	}
	return w, nil
}

func (s *Service) List(ctx context.Context, tenantID string) ([]*domain.Webhook, error) {
	return s.repo.ListWebhooks(ctx, tenantID)
}

func (s *Service) Delete(ctx context.Context, tenantID string, id uuid.UUID) error {
	return s.repo.DeleteWebhook(ctx, tenantID, id)
}

// Deliveries returns the delivery history of a tenant's webhook.
func (s *Service) Deliveries(ctx context.Context, tenantID string, id uuid.UUID, limit int) ([]*domain.WebhookDelivery, error) {
	if _, err := s.Get(ctx, tenantID, id); err != nil {
		return nil, err
	}
	return s.repo.ListDeliveries(ctx, id, limit)
}

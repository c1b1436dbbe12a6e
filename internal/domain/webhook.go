package domain

import (
	"time"

	"github.com/google/uuid"
)

// RetryPolicy controls redelivery of a failed webhook attempt.
type RetryPolicy struct {
	MaxRetries        int           `json:"max_retries"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
	InitialDelay      time.Duration `json:"initial_delay"`
}

// DefaultRetryPolicy is applied to webhooks registered without one.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:        3,
	BackoffMultiplier: 2,
	InitialDelay:      time.Second,
}

// Webhook is a tenant-owned outbound endpoint.
type Webhook struct {
	ID          uuid.UUID   `json:"id"`
	TenantID    string      `json:"tenant_id"`
	URL         string      `json:"url"`
	Events      []string    `json:"events"`
	Secret      string      `json:"-"`
	IsActive    bool        `json:"is_active"`
	RetryPolicy RetryPolicy `json:"retry_policy"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Subscribed reports whether the webhook listens to event. "*" matches everything.
func (w *Webhook) Subscribed(event string) bool {
	for _, e := range w.Events {
		if e == event || e == "*" {
			return true
		}
	}
	return false
}

// DeliveryStatus is the state of one webhook delivery.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliveryRetrying  DeliveryStatus = "retrying"
)

// WebhookDelivery records every attempt of one (webhook, event) pair.
type WebhookDelivery struct {
	ID             uuid.UUID      `json:"id"`
	WebhookID      uuid.UUID      `json:"webhook_id"`
	TenantID       string         `json:"tenant_id"`
	Event          string         `json:"event"`
	Payload        []byte         `json:"-"`
	Status         DeliveryStatus `json:"status"`
	Attempts       int            `json:"attempts"`
	ResponseStatus int            `json:"response_status,omitempty"`
	ResponseBody   string         `json:"response_body,omitempty"`
	Error          string         `json:"error,omitempty"`
	NextRetryAt    *time.Time     `json:"next_retry_at,omitempty"`
	DeliveredAt    *time.Time     `json:"delivered_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// WebhookEnvelope is the JSON body POSTed to an endpoint.
type WebhookEnvelope struct {
	ID        string    `json:"id"`
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	TenantID  string    `json:"tenant_id"`
}

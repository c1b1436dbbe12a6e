package domain

// Broadcast is one realtime emission to a topic.
type Broadcast struct {
	Topic Topic
	Event string
	Data  any
}

// WebhookTrigger asks the webhook subsystem to deliver an event to a tenant's endpoints.
type WebhookTrigger struct {
	Event string
	Data  any
}

// DomainEvent is what an ingestion handler (Kafka or HTTP) produces for a tenant.
// Any part may be empty.
type DomainEvent struct {
	TenantID     string
	SourceID     string
	Broadcasts   []Broadcast
	Notification *NotificationRequest
	Webhook      *WebhookTrigger
}

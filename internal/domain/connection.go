package domain

import "time"

// ConnectionInfo is a read-only snapshot of one live streaming session.
// The registry owns the mutable state; callers only ever see copies.
type ConnectionInfo struct {
	ID             string    `json:"connection_id"`
	UserID         string    `json:"user_id"`
	TenantID       string    `json:"tenant_id"`
	Role           string    `json:"role,omitempty"`
	ConnectedAt    time.Time `json:"connected_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	Topics         []Topic   `json:"topics"`
}

// Message is a server → client frame. Timestamp is always set by the server.
type Message struct {
	Event     string    `json:"event"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Socket-level event names produced by the gateway.
const (
	EventConnected           = "connected"
	EventAuthError           = "auth_error"
	EventSubscriptionSuccess = "subscription_success"
	EventSubscriptionError   = "subscription_error"
	EventUnsubscribeSuccess  = "unsubscribe_success"
	EventHealthStatus        = "health_status"
	EventPong                = "pong"
	EventUserConnected       = "user_connected"
	EventUserDisconnected    = "user_disconnected"

	EventInventoryUpdated   = "inventory_updated"
	EventTransactionCreated = "transaction_created"
	EventCustomerActivity   = "customer_activity"
	EventNotification       = "notification"
)

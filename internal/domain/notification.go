package domain

import (
	"time"

	"github.com/google/uuid"
)

// Channel is a delivery medium for a notification record.
type Channel string

const (
	ChannelInApp   Channel = "in_app"
	ChannelEmail   Channel = "email"
	ChannelSMS     Channel = "sms"
	ChannelPush    Channel = "push"
	ChannelWebhook Channel = "webhook"
)

// Channels lists every supported channel in a stable order.
var Channels = []Channel{ChannelInApp, ChannelEmail, ChannelSMS, ChannelPush, ChannelWebhook}

func (c Channel) Valid() bool {
	switch c {
	case ChannelInApp, ChannelEmail, ChannelSMS, ChannelPush, ChannelWebhook:
		return true
	}
	return false
}

// Priority orders jobs in the delivery queue.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Priorities is ordered from most to least urgent.
var Priorities = []Priority{PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow}

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Status is the lifecycle state of a NotificationRecord.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

// transitions lists the forward edges of the record state machine.
// failed is terminal here; Retry is the only way back to pending.
var transitions = map[Status][]Status{
	StatusPending:   {StatusSent, StatusDelivered, StatusFailed},
	StatusSent:      {StatusDelivered, StatusRead, StatusFailed},
	StatusDelivered: {StatusRead},
}

// CanTransition reports whether from → to is a legal forward move.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// NotificationRequest is one logical send intent. It is never stored as-is.
type NotificationRequest struct {
	Type        string         `json:"type"`
	Recipients  []string       `json:"recipients"`
	Roles       []string       `json:"roles,omitempty"` // expanded to every user holding the role
	TemplateID  *uuid.UUID     `json:"template_id,omitempty"`
	Subject     string         `json:"subject,omitempty"`
	Message     string         `json:"message"`
	Variables   map[string]any `json:"variables,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Priority    Priority       `json:"priority,omitempty"`
	Channels    []Channel      `json:"channels,omitempty"`
	ScheduledAt *time.Time     `json:"scheduled_at,omitempty"`
}

// NotificationRecord is the durable unit of delivery: one per (recipient, channel).
type NotificationRecord struct {
	ID               uuid.UUID      `json:"id"`
	TenantID         string         `json:"tenant_id"`
	RecipientID      string         `json:"recipient_id"`
	Type             string         `json:"type"`
	Channel          Channel        `json:"channel"`
	Priority         Priority       `json:"priority"`
	Subject          string         `json:"subject,omitempty"`
	Message          string         `json:"message"`
	HTML             string         `json:"html,omitempty"`
	Data             map[string]any `json:"data,omitempty"`
	TemplateID       *uuid.UUID     `json:"template_id,omitempty"`
	Status           Status         `json:"status"`
	DeliveryAttempts int            `json:"delivery_attempts"`
	ScheduledAt      *time.Time     `json:"scheduled_at,omitempty"`
	SentAt           *time.Time     `json:"sent_at,omitempty"`
	DeliveredAt      *time.Time     `json:"delivered_at,omitempty"`
	ReadAt           *time.Time     `json:"read_at,omitempty"`
	FailureReason    string         `json:"failure_reason,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// RecordFilter holds query parameters for listing records.
type RecordFilter struct {
	TenantID    string
	RecipientID string
	Channel     Channel
	Status      Status
	Type        string
	Limit       int
	Offset      int
}

// NotificationTemplate is a named render source. System templates are immutable
// from the API surface.
type NotificationTemplate struct {
	ID           uuid.UUID `json:"id"`
	TenantID     string    `json:"tenant_id"`
	Name         string    `json:"name"`
	Type         string    `json:"type"`
	Subject      string    `json:"subject,omitempty"`
	BodyTemplate string    `json:"body_template"`
	HTMLTemplate string    `json:"html_template,omitempty"`
	Variables    []string  `json:"variables,omitempty"`
	IsSystem     bool      `json:"is_system"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Frequency is the preferred delivery cadence of a preference.
type Frequency string

const (
	FrequencyImmediate Frequency = "immediate"
	FrequencyHourly    Frequency = "hourly"
	FrequencyDaily     Frequency = "daily"
	FrequencyWeekly    Frequency = "weekly"
)

// NotificationPreference is keyed by (user, notification type, channel).
type NotificationPreference struct {
	TenantID         string    `json:"tenant_id"`
	UserID           string    `json:"user_id"`
	NotificationType string    `json:"notification_type"`
	Channel          Channel   `json:"channel"`
	IsEnabled        bool      `json:"is_enabled"`
	Frequency        Frequency `json:"frequency"`
	QuietHoursStart  string    `json:"quiet_hours_start,omitempty"` // "22:00"
	QuietHoursEnd    string    `json:"quiet_hours_end,omitempty"`   // "07:00"
	Timezone         string    `json:"timezone,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Contact holds the channel addresses of a user, owned by the user directory.
type Contact struct {
	TenantID     string   `json:"tenant_id"`
	UserID       string   `json:"user_id"`
	Email        string   `json:"email,omitempty"`
	Phone        string   `json:"phone,omitempty"`
	DeviceTokens []string `json:"device_tokens,omitempty"`
}

package handlers

import (
	"encoding/json"

	"vn.io.arda/realtime/internal/kafka/registry"
)

// Register is a convenience alias so each domain file calls Register(...)
// instead of registry.Register(...), keeping imports minimal.
func Register(topic, eventType string, h registry.EventHandler) {
	registry.Register(topic, eventType, h)
}

// RegisterDirect registers a handler for topics that don't use eventType routing.
func RegisterDirect(topic string, h registry.EventHandler) {
	registry.Register(topic, "", h)
}

// envelope is the common wrapper used by all arda services for Kafka messages.
type envelope[P any] struct {
	EventType string `json:"eventType"`
	EventID   string `json:"eventId"`
	TenantKey string `json:"tenantKey"`
	Payload   P      `json:"payload"`
}

// parse decodes an envelope and rejects events without a tenant.
func parse[P any](data []byte) (*envelope[P], bool) {
	var env envelope[P]
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, false
	}
	if env.TenantKey == "" {
		return nil, false
	}
	return &env, true
}

package handlers

import (
	"strings"

	"vn.io.arda/realtime/internal/domain"
	"vn.io.arda/realtime/internal/messages"
)

// DefaultStockRole receives low-stock alerts when the event names no role.
const DefaultStockRole = "inventory_manager"

func init() {
	Register("inventory-events", "INVENTORY_UPDATED", handleInventoryUpdated)
	Register("inventory-events", "LOW_STOCK", handleLowStock)
}

type inventoryPayload struct {
	ProductID    string `json:"productId"`
	ProductName  string `json:"productName"`
	LocationID   string `json:"locationId"`
	LocationName string `json:"locationName"`
	OldQty       int    `json:"oldQty"`
	NewQty       int    `json:"newQty"`
	Threshold    int    `json:"threshold"`
	NotifyRole   string `json:"notifyRole"`
}

func (p inventoryPayload) data() map[string]any {
	return map[string]any{
		"productId":   p.ProductID,
		"productName": p.ProductName,
		"locationId":  p.LocationID,
		"oldQty":      p.OldQty,
		"newQty":      p.NewQty,
	}
}

// inventoryBroadcasts emits to the tenant-wide inventory topic and, when the
// event has a location, to that location's topic as well.
func inventoryBroadcasts(tenantID, locationID string, data any) []domain.Broadcast {
	out := []domain.Broadcast{{
		Topic: domain.NewTopic(domain.DomainInventory, tenantID, ""),
		Event: domain.EventInventoryUpdated,
		Data:  data,
	}}
	if locationID != "" {
		out = append(out, domain.Broadcast{
			Topic: domain.NewTopic(domain.DomainInventory, tenantID, locationID),
			Event: domain.EventInventoryUpdated,
			Data:  data,
		})
	}
	return out
}

func handleInventoryUpdated(data []byte) *domain.DomainEvent {
	env, ok := parse[inventoryPayload](data)
	if !ok || env.Payload.ProductID == "" {
		return nil
	}
	payload := env.Payload.data()
	return &domain.DomainEvent{
		TenantID:   env.TenantKey,
		SourceID:   env.EventID,
		Broadcasts: inventoryBroadcasts(env.TenantKey, env.Payload.LocationID, payload),
		Webhook:    &domain.WebhookTrigger{Event: "inventory.updated", Data: payload},
	}
}

func handleLowStock(data []byte) *domain.DomainEvent {
	env, ok := parse[inventoryPayload](data)
	if !ok || env.Payload.ProductID == "" {
		return nil
	}
	p := env.Payload
	location := p.LocationName
	if location == "" {
		location = p.LocationID
	}
	title, body := messages.LowStock(p.ProductName, location, p.NewQty, p.Threshold)

	role := strings.TrimSpace(p.NotifyRole)
	if role == "" {
		role = DefaultStockRole
	}
	priority := domain.PriorityHigh
	if p.NewQty <= 0 {
		priority = domain.PriorityUrgent
	}

	payload := p.data()
	payload["threshold"] = p.Threshold
	payload["lowStock"] = true
	return &domain.DomainEvent{
		TenantID:   env.TenantKey,
		SourceID:   env.EventID,
		Broadcasts: inventoryBroadcasts(env.TenantKey, p.LocationID, payload),
		Notification: &domain.NotificationRequest{
			Type:     "low_stock",
			Roles:    []string{role},
			Subject:  title,
			Message:  body,
			Data:     payload,
			Priority: priority,
		},
		Webhook: &domain.WebhookTrigger{Event: "inventory.low_stock", Data: payload},
	}
}

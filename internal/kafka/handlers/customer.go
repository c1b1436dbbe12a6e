package handlers

import (
	"vn.io.arda/realtime/internal/domain"
	"vn.io.arda/realtime/internal/messages"
)

func init() {
	Register("customer-events", "CUSTOMER_ACTIVITY", handleCustomerActivity)
}

type customerPayload struct {
	CustomerID   string         `json:"customerId"`
	CustomerName string         `json:"customerName"`
	Activity     string         `json:"activity"`
	Description  string         `json:"description"`
	OwnerID      string         `json:"ownerId"`
	Details      map[string]any `json:"details"`
}

func handleCustomerActivity(data []byte) *domain.DomainEvent {
	env, ok := parse[customerPayload](data)
	if !ok || env.Payload.CustomerID == "" {
		return nil
	}
	p := env.Payload
	payload := map[string]any{
		"customerId":   p.CustomerID,
		"customerName": p.CustomerName,
		"activity":     p.Activity,
		"details":      p.Details,
	}

	ev := &domain.DomainEvent{
		TenantID: env.TenantKey,
		SourceID: env.EventID,
		Broadcasts: []domain.Broadcast{
			{Topic: domain.NewTopic(domain.DomainCustomers, env.TenantKey, ""), Event: domain.EventCustomerActivity, Data: payload},
			{Topic: domain.NewTopic(domain.DomainCustomers, env.TenantKey, p.CustomerID), Event: domain.EventCustomerActivity, Data: payload},
		},
		Webhook: &domain.WebhookTrigger{Event: "customer.activity", Data: payload},
	}

	// The account owner hears about activity on their customers.
	if p.OwnerID != "" {
		what := p.Description
		if what == "" {
			what = p.Activity
		}
		title, body := messages.CustomerActivity(p.CustomerName, what)
		ev.Notification = &domain.NotificationRequest{
			Type:       "customer_activity",
			Recipients: []string{p.OwnerID},
			Subject:    title,
			Message:    body,
			Data:       payload,
		}
	}
	return ev
}

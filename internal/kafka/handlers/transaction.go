package handlers

import (
	"vn.io.arda/realtime/internal/domain"
	"vn.io.arda/realtime/internal/messages"
)

func init() {
	Register("transaction-events", "TRANSACTION_CREATED", handleTransactionCreated)
}

type transactionPayload struct {
	TransactionID string  `json:"transactionId"`
	Reference     string  `json:"reference"`
	Kind          string  `json:"kind"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	LocationID    string  `json:"locationId"`
	LocationName  string  `json:"locationName"`
	CreatedBy     string  `json:"createdBy"`
	// ReviewThreshold > 0 asks for a notification to ReviewRole when Amount reaches it.
	ReviewThreshold float64 `json:"reviewThreshold"`
	ReviewRole      string  `json:"reviewRole"`
}

func handleTransactionCreated(data []byte) *domain.DomainEvent {
	env, ok := parse[transactionPayload](data)
	if !ok || env.Payload.TransactionID == "" {
		return nil
	}
	p := env.Payload
	payload := map[string]any{
		"transactionId": p.TransactionID,
		"reference":     p.Reference,
		"kind":          p.Kind,
		"amount":        p.Amount,
		"currency":      p.Currency,
		"locationId":    p.LocationID,
		"createdBy":     p.CreatedBy,
	}

	ev := &domain.DomainEvent{
		TenantID: env.TenantKey,
		SourceID: env.EventID,
		Broadcasts: []domain.Broadcast{{
			Topic: domain.NewTopic(domain.DomainTransactions, env.TenantKey, ""),
			Event: domain.EventTransactionCreated,
			Data:  payload,
		}},
		Webhook: &domain.WebhookTrigger{Event: "transaction.created", Data: payload},
	}
	if p.LocationID != "" {
		ev.Broadcasts = append(ev.Broadcasts, domain.Broadcast{
			Topic: domain.NewTopic(domain.DomainTransactions, env.TenantKey, p.LocationID),
			Event: domain.EventTransactionCreated,
			Data:  payload,
		})
	}

	if p.ReviewThreshold > 0 && p.Amount >= p.ReviewThreshold && p.ReviewRole != "" {
		location := p.LocationName
		if location == "" {
			location = p.LocationID
		}
		ref := p.Reference
		if ref == "" {
			ref = p.TransactionID
		}
		title, body := messages.LargeTransaction(ref, p.Amount, p.Currency, location)
		ev.Notification = &domain.NotificationRequest{
			Type:     "large_transaction",
			Roles:    []string{p.ReviewRole},
			Subject:  title,
			Message:  body,
			Data:     payload,
			Priority: domain.PriorityHigh,
		}
	}
	return ev
}

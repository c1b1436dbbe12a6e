package handlers

import (
	"vn.io.arda/realtime/internal/domain"
	"vn.io.arda/realtime/internal/messages"
)

// Tenant lifecycle events are reported to platform administrators, who live
// in the master realm.
const (
	PlatformTenant    = "master"
	PlatformAdminRole = "PLATFORM_ADMIN"
)

func init() {
	Register("tenant-events", "TENANT_STATUS_UPDATED", handleTenantStatusUpdated)
	Register("tenant-events", "TENANT_DELETED", handleTenantDeleted)
}

type tenantPayload struct {
	Status    string `json:"status"`
	UpdatedBy string `json:"updatedBy"`
}

func adminNotice(env *envelope[tenantPayload], title, body string) *domain.DomainEvent {
	return &domain.DomainEvent{
		TenantID: PlatformTenant,
		SourceID: env.EventID,
		Notification: &domain.NotificationRequest{
			Type:     "tenant_lifecycle",
			Roles:    []string{PlatformAdminRole},
			Subject:  title,
			Message:  body,
			Channels: []domain.Channel{domain.ChannelInApp},
			Data: map[string]any{
				"eventType": env.EventType,
				"tenantKey": env.TenantKey,
				"status":    env.Payload.Status,
				"updatedBy": env.Payload.UpdatedBy,
			},
		},
	}
}

func handleTenantStatusUpdated(data []byte) *domain.DomainEvent {
	env, ok := parse[tenantPayload](data)
	if !ok {
		return nil
	}
	title, body := messages.TenantStatusUpdated(env.TenantKey, env.Payload.Status)
	return adminNotice(env, title, body)
}

func handleTenantDeleted(data []byte) *domain.DomainEvent {
	env, ok := parse[tenantPayload](data)
	if !ok {
		return nil
	}
	title, body := messages.TenantDeleted(env.TenantKey)
	return adminNotice(env, title, body)
}

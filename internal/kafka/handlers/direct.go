package handlers

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"vn.io.arda/realtime/internal/domain"
)

func init() {
	RegisterDirect("notification-commands", handleDirectCommand)
}

// handleDirectCommand turns a command from another service into a notification
// request. Unknown channels or priorities are left for the pipeline to reject.
func handleDirectCommand(data []byte) *domain.DomainEvent {
	var cmd struct {
		CommandID   string         `json:"commandId"`
		TenantKey   string         `json:"tenantKey"`
		Type        string         `json:"type"`
		Recipients  []string       `json:"recipients"`
		TargetID    string         `json:"targetId"`
		Roles       []string       `json:"roles"`
		TemplateID  string         `json:"templateId"`
		Variables   map[string]any `json:"variables"`
		Title       string         `json:"title"`
		Body        string         `json:"body"`
		Metadata    map[string]any `json:"metadata"`
		Priority    string         `json:"priority"`
		Channels    []string       `json:"channels"`
		ScheduledAt *time.Time     `json:"scheduledAt"`
	}
	if err := json.Unmarshal(data, &cmd); err != nil || cmd.TenantKey == "" {
		return nil
	}

	recipients := cmd.Recipients
	if cmd.TargetID != "" {
		recipients = append(recipients, cmd.TargetID)
	}
	if len(recipients) == 0 && len(cmd.Roles) == 0 {
		return nil
	}

	typ := cmd.Type
	if typ == "" {
		typ = "custom"
	}
	req := &domain.NotificationRequest{
		Type:        typ,
		Recipients:  recipients,
		Roles:       cmd.Roles,
		Subject:     cmd.Title,
		Message:     cmd.Body,
		Variables:   cmd.Variables,
		Data:        cmd.Metadata,
		Priority:    domain.Priority(cmd.Priority),
		ScheduledAt: cmd.ScheduledAt,
	}
	if id, err := uuid.Parse(cmd.TemplateID); err == nil {
		req.TemplateID = &id
	}
	for _, c := range cmd.Channels {
		req.Channels = append(req.Channels, domain.Channel(c))
	}

	return &domain.DomainEvent{
		TenantID:     cmd.TenantKey,
		SourceID:     cmd.CommandID,
		Notification: req,
	}
}

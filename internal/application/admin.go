package application

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"vn.io.arda/realtime/internal/domain"
)

// TemplateInput creates or replaces a tenant template.
type TemplateInput struct {
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Subject      string   `json:"subject,omitempty"`
	BodyTemplate string   `json:"body_template"`
	HTMLTemplate string   `json:"html_template,omitempty"`
	Variables    []string `json:"variables,omitempty"`
}

func (in TemplateInput) validate() error {
	if in.Name == "" || in.Type == "" || in.BodyTemplate == "" {
		return fmt.Errorf("%w: name, type and body_template are required", domain.ErrInvalidInput)
	}
	return nil
}

func (in TemplateInput) variables() []string {
	if len(in.Variables) > 0 {
		return in.Variables
	}
	return Placeholders(in.Subject, in.BodyTemplate, in.HTMLTemplate)
}

// CreateTemplate stores a new tenant template. Variables default to the
// placeholders found in its sources.
func (s *Service) CreateTemplate(ctx context.Context, tenantID string, in TemplateInput) (*domain.NotificationTemplate, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	t := &domain.NotificationTemplate{
		ID:           uuid.New(),
		TenantID:     tenantID,
		Name:         in.Name,
		Type:         in.Type,
		Subject:      in.Subject,
		BodyTemplate: in.BodyTemplate,
		HTMLTemplate: in.HTMLTemplate,
		Variables:    in.variables(),
	}
	if err := s.store.SaveTemplate(ctx, t); err != nil {
		return nil, err
	}
	log.Info().Str("tenant", tenantID).Str("template", t.ID.String()).Str("name", t.Name).Msg("template created")
	return t, nil
}

// UpdateTemplate replaces a tenant template. System templates cannot be changed.
func (s *Service) UpdateTemplate(ctx context.Context, tenantID string, id uuid.UUID, in TemplateInput) (*domain.NotificationTemplate, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	t, err := s.ownTemplate(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	t.Name = in.Name
	t.Type = in.Type
	t.Subject = in.Subject
	t.BodyTemplate = in.BodyTemplate
	t.HTMLTemplate = in.HTMLTemplate
	t.Variables = in.variables()
	if err := s.store.SaveTemplate(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// DeleteTemplate removes a tenant template. System templates cannot be deleted.
func (s *Service) DeleteTemplate(ctx context.Context, tenantID string, id uuid.UUID) error {
	if _, err := s.ownTemplate(ctx, tenantID, id); err != nil {
		return err
	}
	return s.store.DeleteTemplate(ctx, tenantID, id)
}

// ListTemplates returns the tenant's templates followed by system templates.
func (s *Service) ListTemplates(ctx context.Context, tenantID string) ([]*domain.NotificationTemplate, error) {
	return s.store.ListTemplates(ctx, tenantID)
}

// GetTemplate returns a template visible to the tenant.
func (s *Service) GetTemplate(ctx context.Context, tenantID string, id uuid.UUID) (*domain.NotificationTemplate, error) {
	return s.store.GetTemplate(ctx, tenantID, id)
}

func (s *Service) ownTemplate(ctx context.Context, tenantID string, id uuid.UUID) (*domain.NotificationTemplate, error) {
	t, err := s.store.GetTemplate(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if t.IsSystem {
		return nil, domain.ErrSystemTemplate
	}
	return t, nil
}

// PreferenceInput sets one (type, channel) preference of a user.
type PreferenceInput struct {
	NotificationType string           `json:"notification_type"`
	Channel          domain.Channel   `json:"channel"`
	IsEnabled        bool             `json:"is_enabled"`
	Frequency        domain.Frequency `json:"frequency,omitempty"`
	QuietHoursStart  string           `json:"quiet_hours_start,omitempty"`
	QuietHoursEnd    string           `json:"quiet_hours_end,omitempty"`
	Timezone         string           `json:"timezone,omitempty"`
}

// SetPreference upserts a preference after validating its fields.
func (s *Service) SetPreference(ctx context.Context, tenantID, userID string, in PreferenceInput) (*domain.NotificationPreference, error) {
	if in.NotificationType == "" {
		return nil, fmt.Errorf("%w: notification_type is required", domain.ErrInvalidInput)
	}
	if !in.Channel.Valid() {
		return nil, fmt.Errorf("%w: unknown channel %q", domain.ErrInvalidInput, in.Channel)
	}
	switch in.Frequency {
	case "":
		in.Frequency = domain.FrequencyImmediate
	case domain.FrequencyImmediate, domain.FrequencyHourly, domain.FrequencyDaily, domain.FrequencyWeekly:
	default:
		return nil, fmt.Errorf("%w: unknown frequency %q", domain.ErrInvalidInput, in.Frequency)
	}
	if (in.QuietHoursStart == "") != (in.QuietHoursEnd == "") {
		return nil, fmt.Errorf("%w: quiet hours need both start and end", domain.ErrInvalidInput)
	}
	for _, v := range []string{in.QuietHoursStart, in.QuietHoursEnd} {
		if v == "" {
			continue
		}
		if _, err := time.Parse("15:04", v); err != nil {
			return nil, fmt.Errorf("%w: quiet hours must be HH:MM, got %q", domain.ErrInvalidInput, v)
		}
	}
	if in.Timezone != "" {
		if _, err := time.LoadLocation(in.Timezone); err != nil {
			return nil, fmt.Errorf("%w: unknown timezone %q", domain.ErrInvalidInput, in.Timezone)
		}
	}

	p := &domain.NotificationPreference{
		TenantID:         tenantID,
		UserID:           userID,
		NotificationType: in.NotificationType,
		Channel:          in.Channel,
		IsEnabled:        in.IsEnabled,
		Frequency:        in.Frequency,
		QuietHoursStart:  in.QuietHoursStart,
		QuietHoursEnd:    in.QuietHoursEnd,
		Timezone:         in.Timezone,
	}
	if err := s.store.SavePreference(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// ListPreferences returns every preference of a user.
func (s *Service) ListPreferences(ctx context.Context, tenantID, userID string) ([]*domain.NotificationPreference, error) {
	return s.store.ListPreferences(ctx, tenantID, userID, "")
}

// SaveContact stores the channel addresses of a user.
func (s *Service) SaveContact(ctx context.Context, c *domain.Contact) error {
	if c.UserID == "" {
		return fmt.Errorf("%w: user id is required", domain.ErrInvalidInput)
	}
	return s.store.SaveContact(ctx, c)
}

package http

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"vn.io.arda/realtime/internal/domain"
	"vn.io.arda/realtime/internal/transport/mw"
)

// --- Connection monitoring ---

// ConnectionHealth GET /connections/health
func (h *Handler) ConnectionHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, h.monitor.CheckHealth())
}

// ConnectionMetrics GET /connections/metrics
func (h *Handler) ConnectionMetrics(c echo.Context) error {
	return c.JSON(http.StatusOK, h.monitor.Snapshot())
}

// ConnectionAnomalies GET /connections/anomalies
func (h *Handler) ConnectionAnomalies(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"data": h.monitor.Anomalies()})
}

// TenantConnections GET /connections/tenants/:tenantId
// Callers only see their own tenant unless they are platform operators.
func (h *Handler) TenantConnections(c echo.Context) error {
	tenantKey, _ := mw.Identity(c)
	target := c.Param("tenantId")
	if target != tenantKey && mw.Claims(c).Role != "admin" {
		return echo.NewHTTPError(http.StatusForbidden, "tenant mismatch")
	}
	return c.JSON(http.StatusOK, h.monitor.TenantDetail(target))
}

// --- Domain event ingestion ---

type eventBroadcast struct {
	Domain  string `json:"domain"`
	ScopeID string `json:"scope_id,omitempty"`
	Event   string `json:"event"`
	Data    any    `json:"data,omitempty"`
}

type eventRequest struct {
	SourceID     string                      `json:"source_id,omitempty"`
	Broadcasts   []eventBroadcast            `json:"broadcasts,omitempty"`
	Notification *domain.NotificationRequest `json:"notification,omitempty"`
	Webhook      *struct {
		Event string `json:"event"`
		Data  any    `json:"data,omitempty"`
	} `json:"webhook,omitempty"`
}

// toEvent builds topics from the caller's tenant, so an HTTP event can never
// address another tenant.
func (r eventRequest) toEvent(tenantID string) (*domain.DomainEvent, error) {
	ev := &domain.DomainEvent{TenantID: tenantID, SourceID: r.SourceID, Notification: r.Notification}
	for _, b := range r.Broadcasts {
		if b.Domain == "" || b.Event == "" {
			return nil, fmt.Errorf("%w: broadcast needs domain and event", domain.ErrInvalidInput)
		}
		if strings.Contains(b.Domain, ":") {
			return nil, fmt.Errorf("%w: domain %q", domain.ErrInvalidTopic, b.Domain)
		}
		topic, err := domain.ParseTopic(string(domain.NewTopic(b.Domain, tenantID, b.ScopeID)))
		if err != nil {
			return nil, err
		}
		ev.Broadcasts = append(ev.Broadcasts, domain.Broadcast{Topic: topic, Event: b.Event, Data: b.Data})
	}
	if r.Webhook != nil {
		if r.Webhook.Event == "" {
			return nil, fmt.Errorf("%w: webhook needs an event", domain.ErrInvalidInput)
		}
		ev.Webhook = &domain.WebhookTrigger{Event: r.Webhook.Event, Data: r.Webhook.Data}
	}
	return ev, nil
}

// PublishEvent POST /events
func (h *Handler) PublishEvent(c echo.Context) error {
	tenantKey, _ := mw.Identity(c)
	var req eventRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ev, err := req.toEvent(tenantKey)
	if err != nil {
		return httpError(c, err)
	}
	if err := h.events.Handle(c.Request().Context(), ev); err != nil && !errors.Is(err, domain.ErrNoRecipients) {
		return httpError(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]any{
		"broadcasts":   len(ev.Broadcasts),
		"notification": ev.Notification != nil,
		"webhook":      ev.Webhook != nil,
	})
}

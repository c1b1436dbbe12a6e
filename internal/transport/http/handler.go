package http

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"vn.io.arda/realtime/internal/application"
	"vn.io.arda/realtime/internal/domain"
	"vn.io.arda/realtime/internal/monitor"
	"vn.io.arda/realtime/internal/transport/mw"
	"vn.io.arda/realtime/internal/webhook"
)

// Handler holds all HTTP handler methods.
type Handler struct {
	svc      *application.Service
	events   *application.Events
	webhooks *webhook.Service
	monitor  *monitor.Monitor
}

// NewHandler creates a new Handler.
func NewHandler(svc *application.Service, events *application.Events, webhooks *webhook.Service, mon *monitor.Monitor) *Handler {
	return &Handler{svc: svc, events: events, webhooks: webhooks, monitor: mon}
}

// --- Notifications ---

// SendNotification POST /notifications
func (h *Handler) SendNotification(c echo.Context) error {
	tenantKey, _ := mw.Identity(c)

	var req domain.NotificationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ids, err := h.svc.SendNotification(c.Request().Context(), tenantKey, req)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]any{"ids": ids})
}

// SendBulk POST /notifications/bulk
func (h *Handler) SendBulk(c echo.Context) error {
	tenantKey, _ := mw.Identity(c)

	var body struct {
		Notifications []domain.NotificationRequest `json:"notifications"`
	}
	if err := c.Bind(&body); err != nil || len(body.Notifications) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "notifications must be a non-empty list")
	}
	res, err := h.svc.SendBulkNotifications(c.Request().Context(), tenantKey, body.Notifications)
	if err != nil {
		// Cancelled mid-way: report what was sent so far.
		return c.JSON(http.StatusServiceUnavailable, res)
	}
	return c.JSON(http.StatusOK, res)
}

// ListNotifications GET /notifications
func (h *Handler) ListNotifications(c echo.Context) error {
	tenantKey, userID := mw.Identity(c)

	filter := domain.RecordFilter{
		TenantID:    tenantKey,
		RecipientID: userID,
		Channel:     domain.Channel(c.QueryParam("channel")),
		Status:      domain.Status(c.QueryParam("status")),
		Type:        c.QueryParam("type"),
		Limit:       parseIntQuery(c, "limit", 20),
		Offset:      parseIntQuery(c, "offset", 0),
	}
	// Senders may look at any recipient's records.
	if r := c.QueryParam("recipient"); r != "" && mw.Claims(c).HasPermission(mw.PermSendNotifications) {
		filter.RecipientID = r
	}

	records, err := h.svc.ListRecords(c.Request().Context(), filter)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"data":   records,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// GetUnreadCount GET /notifications/unread-count
func (h *Handler) GetUnreadCount(c echo.Context) error {
	tenantKey, userID := mw.Identity(c)

	count, err := h.svc.CountUnread(c.Request().Context(), tenantKey, userID)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]int64{"count": count})
}

// MarkRead PATCH /notifications/:id/read
func (h *Handler) MarkRead(c echo.Context) error {
	tenantKey, userID := mw.Identity(c)
	id, err := parseID(c)
	if err != nil {
		return err
	}

	rec, err := h.svc.MarkRead(c.Request().Context(), tenantKey, userID, id)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, rec)
}

// MarkAllRead POST /notifications/read-all
func (h *Handler) MarkAllRead(c echo.Context) error {
	tenantKey, userID := mw.Identity(c)

	count, err := h.svc.MarkAllRead(c.Request().Context(), tenantKey, userID)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]int{"marked": count})
}

// MarkDelivered POST /notifications/:id/delivered
// Delivery receipt from a client or a provider callback.
func (h *Handler) MarkDelivered(c echo.Context) error {
	tenantKey, userID := mw.Identity(c)
	id, err := parseID(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	owned, err := h.svc.GetRecord(ctx, tenantKey, id)
	if err != nil {
		return httpError(c, err)
	}
	// Recipients confirm their own records; senders may confirm any.
	if owned.RecipientID != userID && !mw.Claims(c).HasPermission(mw.PermSendNotifications) {
		return httpError(c, domain.ErrNotFound)
	}
	rec, err := h.svc.MarkDelivered(ctx, id)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, rec)
}

// Retry POST /notifications/:id/retry
func (h *Handler) Retry(c echo.Context) error {
	tenantKey, _ := mw.Identity(c)
	id, err := parseID(c)
	if err != nil {
		return err
	}

	rec, err := h.svc.Retry(c.Request().Context(), tenantKey, id)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusAccepted, rec)
}

// --- Healthcheck ---

// Health GET /health
func (h *Handler) Health(c echo.Context) error {
	health := h.monitor.Current()
	queues, err := h.svc.QueueDepth(c.Request().Context())
	status := "ok"
	if err != nil {
		status = "degraded"
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":      status,
		"connections": health.TotalConnections,
		"gateway":     health.Status,
		"queues":      queues,
	})
}

// --- Helpers ---

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid id %q", c.Param("id")))
	}
	return id, nil
}

func parseIntQuery(c echo.Context, key string, def int) int {
	v, err := strconv.Atoi(c.QueryParam(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}

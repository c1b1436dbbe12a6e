package http

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"vn.io.arda/realtime/internal/transport/mw"
	"vn.io.arda/realtime/internal/webhook"
)

// ListWebhooks GET /webhooks
func (h *Handler) ListWebhooks(c echo.Context) error {
	tenantKey, _ := mw.Identity(c)
	hooks, err := h.webhooks.List(c.Request().Context(), tenantKey)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"data": hooks})
}

// CreateWebhook POST /webhooks
func (h *Handler) CreateWebhook(c echo.Context) error {
	tenantKey, _ := mw.Identity(c)
	var in webhook.CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	w, err := h.webhooks.Create(c.Request().Context(), tenantKey, in)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, w)
}

// DeleteWebhook DELETE /webhooks/:id
func (h *Handler) DeleteWebhook(c echo.Context) error {
	tenantKey, _ := mw.Identity(c)
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.webhooks.Delete(c.Request().Context(), tenantKey, id); err != nil {
		return httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ListDeliveries GET /webhooks/:id/deliveries
func (h *Handler) ListDeliveries(c echo.Context) error {
	tenantKey, _ := mw.Identity(c)
	id, err := parseID(c)
	if err != nil {
		return err
	}
	deliveries, err := h.webhooks.Deliveries(c.Request().Context(), tenantKey, id, parseIntQuery(c, "limit", 50))
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"data": deliveries})
}

// TestWebhook POST /webhooks/:id/test
func (h *Handler) TestWebhook(c echo.Context) error {
	tenantKey, _ := mw.Identity(c)
	id, err := parseID(c)
	if err != nil {
		return err
	}
	d, err := h.webhooks.SendTest(c.Request().Context(), tenantKey, id)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, d)
}

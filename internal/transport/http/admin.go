package http

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"vn.io.arda/realtime/internal/application"
	"vn.io.arda/realtime/internal/domain"
	"vn.io.arda/realtime/internal/transport/mw"
)

// --- Templates ---

// ListTemplates GET /templates
func (h *Handler) ListTemplates(c echo.Context) error {
	tenantKey, _ := mw.Identity(c)
	templates, err := h.svc.ListTemplates(c.Request().Context(), tenantKey)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"data": templates})
}

// CreateTemplate POST /templates
func (h *Handler) CreateTemplate(c echo.Context) error {
	tenantKey, _ := mw.Identity(c)
	var in application.TemplateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	t, err := h.svc.CreateTemplate(c.Request().Context(), tenantKey, in)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, t)
}

// UpdateTemplate PUT /templates/:id
func (h *Handler) UpdateTemplate(c echo.Context) error {
	tenantKey, _ := mw.Identity(c)
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in application.TemplateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	t, err := h.svc.UpdateTemplate(c.Request().Context(), tenantKey, id, in)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

// DeleteTemplate DELETE /templates/:id
func (h *Handler) DeleteTemplate(c echo.Context) error {
	tenantKey, _ := mw.Identity(c)
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteTemplate(c.Request().Context(), tenantKey, id); err != nil {
		return httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// --- Preferences ---

// ListPreferences GET /preferences
func (h *Handler) ListPreferences(c echo.Context) error {
	tenantKey, userID := mw.Identity(c)
	prefs, err := h.svc.ListPreferences(c.Request().Context(), tenantKey, userID)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"data": prefs})
}

// SetPreference PUT /preferences
func (h *Handler) SetPreference(c echo.Context) error {
	tenantKey, userID := mw.Identity(c)
	var in application.PreferenceInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p, err := h.svc.SetPreference(c.Request().Context(), tenantKey, userID, in)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

// SaveContact PUT /contacts/:userId
// Called by the user directory when a user's email, phone or devices change.
func (h *Handler) SaveContact(c echo.Context) error {
	tenantKey, _ := mw.Identity(c)
	var contact domain.Contact
	if err := c.Bind(&contact); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	contact.TenantID = tenantKey
	contact.UserID = c.Param("userId")
	if err := h.svc.SaveContact(c.Request().Context(), &contact); err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, contact)
}

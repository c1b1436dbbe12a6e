package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"vn.io.arda/realtime/internal/auth"
	"vn.io.arda/realtime/internal/metrics"
	"vn.io.arda/realtime/internal/transport/mw"
)

// NewRouter sets up all Echo routes and middleware.
func NewRouter(h *Handler, gw *Gateway, verifier auth.Verifier, allowOrigins []string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	if len(allowOrigins) == 0 {
		allowOrigins = []string{"*"}
	}

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: allowOrigins,
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Tenant-Key"},
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
	}))

	// No auth required; the gateway authenticates on its own.
	e.GET("/health", h.Health)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	e.GET("/ws", gw.ServeWS)

	// API, authenticated
	v1 := e.Group("")
	v1.Use(mw.JWTAuth(verifier))
	v1.Use(mw.TenantResolver())

	send := mw.RequirePermission(mw.PermSendNotifications)
	v1.POST("/notifications", h.SendNotification, send)
	v1.POST("/notifications/bulk", h.SendBulk, send)
	v1.GET("/notifications", h.ListNotifications)
	v1.GET("/notifications/unread-count", h.GetUnreadCount)
	v1.PATCH("/notifications/:id/read", h.MarkRead)
	v1.POST("/notifications/read-all", h.MarkAllRead)
	v1.POST("/notifications/:id/delivered", h.MarkDelivered)
	v1.POST("/notifications/:id/retry", h.Retry, send)

	templates := mw.RequirePermission(mw.PermManageTemplates)
	v1.GET("/templates", h.ListTemplates)
	v1.POST("/templates", h.CreateTemplate, templates)
	v1.PUT("/templates/:id", h.UpdateTemplate, templates)
	v1.DELETE("/templates/:id", h.DeleteTemplate, templates)

	v1.GET("/preferences", h.ListPreferences)
	v1.PUT("/preferences", h.SetPreference)
	v1.PUT("/contacts/:userId", h.SaveContact, mw.RequirePermission(mw.PermManageContacts))

	hooks := v1.Group("/webhooks", mw.RequirePermission(mw.PermManageWebhooks))
	hooks.GET("", h.ListWebhooks)
	hooks.POST("", h.CreateWebhook)
	hooks.DELETE("/:id", h.DeleteWebhook)
	hooks.GET("/:id/deliveries", h.ListDeliveries)
	hooks.POST("/:id/test", h.TestWebhook)

	v1.POST("/events", h.PublishEvent, mw.RequirePermission(mw.PermPublishEvents))

	conns := v1.Group("/connections", mw.RequirePermission(mw.PermReadConnections))
	conns.GET("/health", h.ConnectionHealth)
	conns.GET("/metrics", h.ConnectionMetrics)
	conns.GET("/anomalies", h.ConnectionAnomalies)
	conns.GET("/tenants/:tenantId", h.TenantConnections)

	return e
}

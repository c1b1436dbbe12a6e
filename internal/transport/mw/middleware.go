package mw

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"vn.io.arda/realtime/internal/auth"
)

// Context keys set by JWTAuth and TenantResolver.
const (
	claimsKey = "claims"
	userKey   = "userID"
	tenantKey = "tenantKey"
)

// Permissions checked by the REST API. Role "admin" implies all of them.
const (
	PermSendNotifications = "notifications:send"
	PermManageTemplates   = "templates:manage"
	PermManageWebhooks    = "webhooks:manage"
	PermManageContacts    = "contacts:manage"
	PermPublishEvents     = "events:publish"
	PermReadConnections   = "connections:read"
)

// JWTAuth validates the Bearer token and stores the claims in echo.Context
// for downstream use.
func JWTAuth(verifier auth.Verifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := auth.BearerToken(c.Request().Header.Get("Authorization"))
			if token == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}

			claims, err := verifier.Verify(c.Request().Context(), token)
			if err != nil {
				log.Warn().Err(err).Str("path", c.Path()).Msg("JWT verification failed")
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			c.Set(claimsKey, claims)
			c.Set(userKey, claims.Subject)
			return next(c)
		}
	}
}

// TenantResolver pins the request to the token's tenant. The X-Tenant-Key
// header is optional; when sent it must name the same tenant.
func TenantResolver() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims := Claims(c)
			if claims == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing claims")
			}
			if h := c.Request().Header.Get("X-Tenant-Key"); h != "" && h != claims.TenantID {
				return echo.NewHTTPError(http.StatusForbidden, "X-Tenant-Key does not match token tenant")
			}
			c.Set(tenantKey, claims.TenantID)
			return next(c)
		}
	}
}

// RequirePermission rejects callers whose claims lack perm.
func RequirePermission(perm string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims := Claims(c)
			if claims == nil || !claims.HasPermission(perm) {
				return echo.NewHTTPError(http.StatusForbidden, "missing permission "+perm)
			}
			return next(c)
		}
	}
}

// Claims returns the verified claims, or nil outside JWTAuth.
func Claims(c echo.Context) *auth.Claims {
	claims, _ := c.Get(claimsKey).(*auth.Claims)
	return claims
}

// Identity returns the tenant and user of the request.
func Identity(c echo.Context) (tenantID, userID string) {
	tenantID, _ = c.Get(tenantKey).(string)
	userID, _ = c.Get(userKey).(string)
	return
}

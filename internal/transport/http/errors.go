package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"vn.io.arda/realtime/internal/domain"
)

// httpError maps a use-case error to an echo.HTTPError. Unknown errors are
// logged and hidden behind a 500.
func httpError(c echo.Context, err error) error {
	tenant, _ := c.Get("tenantKey").(string)
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrTemplateNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrNoRecipients),
		errors.Is(err, domain.ErrInvalidTopic):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrSystemTemplate), errors.Is(err, domain.ErrForeignTopic):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	log.Error().Err(err).Str("tenant", tenant).Str("path", c.Path()).Msg("request failed")
	return echo.ErrInternalServerError
}

package middleware

import (
	"net/http"

	"github.com/jordanlanch/companion-api/pkg/models"
	"github.com/jordanlanch/companion-api/pkg/settings"
	"github.com/labstack/echo/v4"
)

// RequireMonetization rejects requests while monetization is switched off.
// The check runs per request so settings changes apply immediately.
func RequireMonetization(caps settings.Capabilities) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !caps.MonetizationEnabled() {
				return c.JSON(http.StatusForbidden, models.ErrorResponse{
					Error:   "feature_disabled",
					Message: "Monetization is currently disabled",
				})
			}
			return next(c)
		}
	}
}

package middleware

import (
	"net/http"

	"github.com/jordanlanch/companion-api/pkg/auth"
	"github.com/jordanlanch/companion-api/pkg/models"
	"github.com/labstack/echo/v4"
)

// RequireAdmin ensures the authenticated user carries the admin role.
// Apply it after the JWT middleware.
func RequireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if _, ok := c.Get("user_id").(string); !ok {
				return c.JSON(http.StatusUnauthorized, models.ErrorResponse{
					Error:   "unauthorized",
					Message: "Authentication required",
				})
			}

			role, _ := c.Get("user_role").(string)
			if role != auth.RoleAdmin {
				return c.JSON(http.StatusForbidden, models.ErrorResponse{
					Error:   "insufficient_permissions",
					Message: "Admin access required",
				})
			}

			c.Set("is_admin", true)
			return next(c)
		}
	}
}

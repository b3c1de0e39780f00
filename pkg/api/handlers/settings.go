package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	apierrors "github.com/jordanlanch/companion-api/pkg/api/errors"
	apimiddleware "github.com/jordanlanch/companion-api/pkg/api/middleware"
	"github.com/jordanlanch/companion-api/pkg/models"
	"github.com/jordanlanch/companion-api/pkg/settings"
	"github.com/labstack/echo/v4"
)

// SettingsHandler lets admins read and change application settings
type SettingsHandler struct {
	settings  *settings.Service
	validator *validator.Validate
}

// NewSettingsHandler creates a new settings handler
func NewSettingsHandler(s *settings.Service) *SettingsHandler {
	return &SettingsHandler{
		settings:  s,
		validator: validator.New(),
	}
}

// List godoc
// @Summary List settings (admin)
// @Description Every known setting with its type, default and effective value
// @Tags Admin Settings
// @Produce json
// @Security BearerAuth
// @Success 200 {array} settings.Value
// @Router /admin/settings [get]
func (h *SettingsHandler) List(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"settings": h.settings.List(),
	})
}

// Update godoc
// @Summary Update a setting (admin)
// @Description Set one setting. The value is parsed against the setting's type.
// @Tags Admin Settings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param key path string true "Setting key"
// @Param request body models.UpdateSettingRequest true "New value"
// @Success 200 {object} settings.Value
// @Failure 400 {object} models.ErrorResponse "Value does not match the setting type"
// @Failure 404 {object} models.ErrorResponse "Unknown setting"
// @Router /admin/settings/{key} [put]
func (h *SettingsHandler) Update(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	adminID, ok := apimiddleware.UserID(c)
	if !ok {
		return apierrors.UnauthorizedError(c, "missing user")
	}

	var req models.UpdateSettingRequest
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}
	if err := h.validator.Struct(req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	v, err := h.settings.Set(ctx, c.Param("key"), req.Value, adminID)
	if err != nil {
		return apierrors.FromDomain(c, err)
	}
	return c.JSON(http.StatusOK, v)
}

package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	apierrors "github.com/jordanlanch/companion-api/pkg/api/errors"
	apimiddleware "github.com/jordanlanch/companion-api/pkg/api/middleware"
	"github.com/jordanlanch/companion-api/pkg/models"
	"github.com/jordanlanch/companion-api/pkg/referral"
	"github.com/labstack/echo/v4"
)

// ReferralHandler handles referral operations
type ReferralHandler struct {
	service   *referral.Service
	validator *validator.Validate
}

// NewReferralHandler creates a new referral handler
func NewReferralHandler(service *referral.Service) *ReferralHandler {
	return &ReferralHandler{
		service:   service,
		validator: validator.New(),
	}
}

// GetCode godoc
// @Summary Get user's referral code
// @Description Get the caller's referral code, generating one on first use
// @Tags Referrals
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.ReferralCodeResponse
// @Failure 403 {object} models.ErrorResponse "Referrals disabled"
// @Router /referrals/code [get]
func (h *ReferralHandler) GetCode(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	userID, ok := apimiddleware.UserID(c)
	if !ok {
		return apierrors.UnauthorizedError(c, "missing user")
	}

	code, err := h.service.GetOrCreateCode(ctx, userID)
	if err != nil {
		return apierrors.FromDomain(c, err)
	}
	return c.JSON(http.StatusOK, models.ReferralCodeResponse{Code: code})
}

// ApplyCode godoc
// @Summary Apply a referral code
// @Description Link the caller to the owner of a referral code. A user can be referred only once.
// @Tags Referrals
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.ApplyReferralRequest true "Referral code"
// @Success 200 {object} models.SuccessResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse "Unknown code"
// @Failure 409 {object} models.ErrorResponse "Already referred"
// @Router /referrals/apply [post]
func (h *ReferralHandler) ApplyCode(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	userID, ok := apimiddleware.UserID(c)
	if !ok {
		return apierrors.UnauthorizedError(c, "missing user")
	}

	var req models.ApplyReferralRequest
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}
	if err := h.validator.Struct(req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	if _, err := h.service.ApplyCode(ctx, req.Code, userID); err != nil {
		return apierrors.FromDomain(c, err)
	}

	return c.JSON(http.StatusOK, models.SuccessResponse{
		Success: true,
		Message: "Referral code applied",
	})
}

// GetStats godoc
// @Summary Get referral statistics
// @Description Downline counts and commission earnings per level
// @Tags Referrals
// @Produce json
// @Security BearerAuth
// @Success 200 {object} referral.Stats
// @Router /referrals/stats [get]
func (h *ReferralHandler) GetStats(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	userID, ok := apimiddleware.UserID(c)
	if !ok {
		return apierrors.UnauthorizedError(c, "missing user")
	}

	stats, err := h.service.GetStats(ctx, userID)
	if err != nil {
		return apierrors.FromDomain(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

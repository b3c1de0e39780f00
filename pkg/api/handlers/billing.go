package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/go-playground/validator/v10"
	apierrors "github.com/jordanlanch/companion-api/pkg/api/errors"
	apimiddleware "github.com/jordanlanch/companion-api/pkg/api/middleware"
	"github.com/jordanlanch/companion-api/pkg/billing"
	"github.com/jordanlanch/companion-api/pkg/commission"
	"github.com/jordanlanch/companion-api/pkg/logger"
	"github.com/jordanlanch/companion-api/pkg/models"
	"github.com/labstack/echo/v4"
)

// Stripe rejects payloads above this size
const maxWebhookBodyBytes = 65536

// BillingHandler handles token purchases and Stripe webhooks
type BillingHandler struct {
	billingService *billing.Service
	validator      *validator.Validate
	logger         logger.Logger
}

// NewBillingHandler creates a new billing handler
func NewBillingHandler(billingService *billing.Service, log logger.Logger) *BillingHandler {
	return &BillingHandler{
		billingService: billingService,
		validator:      validator.New(),
		logger:         log.With("handler", "billing"),
	}
}

// ListPackages godoc
// @Summary List token packages
// @Description List the token packages available for purchase
// @Tags Billing
// @Produce json
// @Success 200 {object} models.PackagesResponse
// @Router /billing/packages [get]
func (h *BillingHandler) ListPackages(c echo.Context) error {
	return c.JSON(http.StatusOK, models.PackagesResponse{
		Packages: h.billingService.Packages(),
	})
}

// CreateCheckout godoc
// @Summary Create Stripe checkout session
// @Description Create a pending payment and a Stripe checkout session for a token package
// @Tags Billing
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.CheckoutRequest true "Package to buy"
// @Success 200 {object} models.CheckoutResponse
// @Failure 400 {object} models.ErrorResponse "Invalid request"
// @Failure 401 {object} models.ErrorResponse "Unauthorized"
// @Failure 403 {object} models.ErrorResponse "Monetization disabled"
// @Failure 404 {object} models.ErrorResponse "Unknown package"
// @Router /billing/checkout [post]
func (h *BillingHandler) CreateCheckout(c echo.Context) error {
	userID, ok := apimiddleware.UserID(c)
	if !ok {
		return apierrors.UnauthorizedError(c, "missing user")
	}

	var req models.CheckoutRequest
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}
	if err := h.validator.Struct(req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 30*time.Second)
	defer cancel()

	session, err := h.billingService.CreateCheckoutSession(ctx, userID, req.PackageID)
	if err != nil {
		return apierrors.FromDomain(c, err)
	}

	return c.JSON(http.StatusOK, session)
}

// HandleWebhook godoc
// @Summary Stripe webhook
// @Description Receives Stripe checkout events. Completed payments credit tokens and distribute referral commissions.
// @Tags Billing
// @Accept json
// @Produce json
// @Param Stripe-Signature header string true "Stripe signature"
// @Success 200 {object} billing.WebhookResult
// @Failure 400 {object} models.ErrorResponse "Invalid payload or signature"
// @Failure 500 {object} models.ErrorResponse "Processing failed, Stripe will retry"
// @Router /webhook/stripe [post]
func (h *BillingHandler) HandleWebhook(c echo.Context) error {
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBodyBytes))
	if err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_payload",
			Message: "Failed to read request body",
		})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 30*time.Second)
	defer cancel()

	result, err := h.billingService.HandleWebhook(ctx, payload, c.Request().Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, billing.ErrInvalidSignature) {
			h.logger.Warn("rejected webhook", "error", err)
			return c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error:   "invalid_signature",
				Message: "Webhook signature verification failed",
			})
		}
		h.logger.Error("webhook processing failed", "error", err)
		return apierrors.InternalError(c, err)
	}

	// Commission failures never fail the delivery; the reconciler retries them
	if out := result.Commission; out != nil && (out.Status == commission.StatusPartial || out.Status == commission.StatusError) {
		h.reportCommission(c, result)
	}

	return c.JSON(http.StatusOK, result)
}

func (h *BillingHandler) reportCommission(c echo.Context, result *billing.WebhookResult) {
	h.logger.Warn("commission distribution incomplete",
		"event_id", result.EventID,
		"payment_id", result.PaymentID,
		"status", result.Commission.Status,
		"errors", result.Commission.Errors,
	)

	hub := sentryecho.GetHubFromContext(c)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("payment_id", result.PaymentID)
		scope.SetTag("commission_status", string(result.Commission.Status))
		scope.SetLevel(sentry.LevelWarning)
		hub.CaptureMessage("commission distribution incomplete")
	})
}

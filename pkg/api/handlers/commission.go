package handlers

import (
	"context"
	"net/http"
	"time"

	apierrors "github.com/jordanlanch/companion-api/pkg/api/errors"
	"github.com/jordanlanch/companion-api/pkg/commission"
	"github.com/labstack/echo/v4"
)

// CommissionHandler exposes manual commission distribution to admins
type CommissionHandler struct {
	ledger *commission.Ledger
}

// NewCommissionHandler creates a new commission handler
func NewCommissionHandler(ledger *commission.Ledger) *CommissionHandler {
	return &CommissionHandler{ledger: ledger}
}

// Distribute godoc
// @Summary Distribute commission for a payment (admin)
// @Description Runs the same idempotent distribution as the webhook. Safe to call repeatedly.
// @Tags Admin Commissions
// @Produce json
// @Security BearerAuth
// @Param payment_id path string true "Payment ID"
// @Success 200 {object} commission.Outcome
// @Failure 404 {object} commission.Outcome "Payment not found"
// @Failure 500 {object} models.ErrorResponse
// @Router /admin/commissions/{payment_id}/distribute [post]
func (h *CommissionHandler) Distribute(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 30*time.Second)
	defer cancel()

	out, err := h.ledger.DistributeCommission(ctx, c.Param("payment_id"))
	if err != nil {
		return apierrors.InternalError(c, err)
	}

	status := http.StatusOK
	if out.Status == commission.StatusNotFound {
		status = http.StatusNotFound
	}
	return c.JSON(status, out)
}

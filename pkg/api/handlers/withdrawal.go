package handlers

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	apierrors "github.com/jordanlanch/companion-api/pkg/api/errors"
	apimiddleware "github.com/jordanlanch/companion-api/pkg/api/middleware"
	"github.com/jordanlanch/companion-api/pkg/models"
	"github.com/jordanlanch/companion-api/pkg/payout"
	"github.com/labstack/echo/v4"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// WithdrawalHandler handles payout requests and their review
type WithdrawalHandler struct {
	payouts   *payout.Service
	validator *validator.Validate
}

// NewWithdrawalHandler creates a new withdrawal handler
func NewWithdrawalHandler(payouts *payout.Service) *WithdrawalHandler {
	return &WithdrawalHandler{
		payouts:   payouts,
		validator: validator.New(),
	}
}

// Create godoc
// @Summary Request a withdrawal
// @Description Debit the bonus wallet and queue a withdrawal for admin review
// @Tags Withdrawals
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.WithdrawalRequest true "Withdrawal"
// @Success 201 {object} payout.Withdrawal
// @Failure 400 {object} models.ErrorResponse
// @Failure 422 {object} models.ErrorResponse "Insufficient funds"
// @Router /withdrawals [post]
func (h *WithdrawalHandler) Create(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	userID, ok := apimiddleware.UserID(c)
	if !ok {
		return apierrors.UnauthorizedError(c, "missing user")
	}

	var req models.WithdrawalRequest
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}
	if err := h.validator.Struct(req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	email, _ := c.Get("user_email").(string)
	w, err := h.payouts.Request(ctx, userID, req.AmountCents, req.Method, req.Destination, email)
	if err != nil {
		return apierrors.FromDomain(c, err)
	}
	return c.JSON(http.StatusCreated, w)
}

// ListMine godoc
// @Summary List my withdrawals
// @Tags Withdrawals
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.ListResponse
// @Router /withdrawals [get]
func (h *WithdrawalHandler) ListMine(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	userID, ok := apimiddleware.UserID(c)
	if !ok {
		return apierrors.UnauthorizedError(c, "missing user")
	}

	limit, offset := pagination(c)
	list, err := h.payouts.ListForUser(ctx, userID, limit, offset)
	if err != nil {
		return apierrors.FromDomain(c, err)
	}
	return c.JSON(http.StatusOK, models.ListResponse{Items: list, Limit: limit, Offset: offset})
}

// List godoc
// @Summary List withdrawals (admin)
// @Tags Admin Withdrawals
// @Produce json
// @Security BearerAuth
// @Param status query string false "pending, approved or rejected"
// @Success 200 {object} models.ListResponse
// @Failure 400 {object} models.ErrorResponse
// @Router /admin/withdrawals [get]
func (h *WithdrawalHandler) List(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	limit, offset := pagination(c)
	list, err := h.payouts.List(ctx, c.QueryParam("status"), limit, offset)
	if err != nil {
		return apierrors.FromDomain(c, err)
	}
	return c.JSON(http.StatusOK, models.ListResponse{Items: list, Limit: limit, Offset: offset})
}

// Export godoc
// @Summary Export withdrawals (admin)
// @Description Download withdrawals as an Excel spreadsheet
// @Tags Admin Withdrawals
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Security BearerAuth
// @Param status query string false "pending, approved or rejected"
// @Success 200 {file} file
// @Router /admin/withdrawals/export [get]
func (h *WithdrawalHandler) Export(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 60*time.Second)
	defer cancel()

	status := c.QueryParam("status")

	// Buffered so a failed export can still be answered with JSON
	var buf bytes.Buffer
	if _, err := h.payouts.ExportXLSX(ctx, &buf, status); err != nil {
		return apierrors.FromDomain(c, err)
	}

	name := "withdrawals"
	if status != "" {
		name += "-" + status
	}
	filename := fmt.Sprintf("%s-%s.xlsx", name, time.Now().UTC().Format("20060102"))
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	return c.Blob(http.StatusOK, xlsxContentType, buf.Bytes())
}

// Approve godoc
// @Summary Approve a withdrawal (admin)
// @Tags Admin Withdrawals
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Withdrawal ID"
// @Param request body models.ReviewWithdrawalRequest false "Review note"
// @Success 200 {object} payout.Withdrawal
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse "Already reviewed"
// @Router /admin/withdrawals/{id}/approve [post]
func (h *WithdrawalHandler) Approve(c echo.Context) error {
	return h.review(c, h.payouts.Approve)
}

// Reject godoc
// @Summary Reject a withdrawal (admin)
// @Description Reject a pending withdrawal and return the amount to the user's balance
// @Tags Admin Withdrawals
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Withdrawal ID"
// @Param request body models.ReviewWithdrawalRequest false "Review note"
// @Success 200 {object} payout.Withdrawal
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse "Already reviewed"
// @Router /admin/withdrawals/{id}/reject [post]
func (h *WithdrawalHandler) Reject(c echo.Context) error {
	return h.review(c, h.payouts.Reject)
}

type reviewFunc func(ctx context.Context, id, adminID, note string) (*payout.Withdrawal, error)

func (h *WithdrawalHandler) review(c echo.Context, fn reviewFunc) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	adminID, ok := apimiddleware.UserID(c)
	if !ok {
		return apierrors.UnauthorizedError(c, "missing user")
	}

	var req models.ReviewWithdrawalRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return apierrors.ValidationError(c, err)
		}
	}
	if err := h.validator.Struct(req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	w, err := fn(ctx, c.Param("id"), adminID, req.Note)
	if err != nil {
		return apierrors.FromDomain(c, err)
	}
	return c.JSON(http.StatusOK, w)
}

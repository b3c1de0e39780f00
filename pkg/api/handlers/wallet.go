package handlers

import (
	"context"
	"net/http"
	"time"

	apierrors "github.com/jordanlanch/companion-api/pkg/api/errors"
	apimiddleware "github.com/jordanlanch/companion-api/pkg/api/middleware"
	"github.com/jordanlanch/companion-api/pkg/models"
	"github.com/jordanlanch/companion-api/pkg/tokens"
	"github.com/jordanlanch/companion-api/pkg/wallet"
	"github.com/labstack/echo/v4"
)

// WalletHandler exposes bonus wallets and token balances
type WalletHandler struct {
	wallets *wallet.Service
	tokens  *tokens.Service
}

// NewWalletHandler creates a new wallet handler
func NewWalletHandler(wallets *wallet.Service, tokens *tokens.Service) *WalletHandler {
	return &WalletHandler{
		wallets: wallets,
		tokens:  tokens,
	}
}

// GetWallet godoc
// @Summary Get bonus wallet
// @Description Get the caller's commission balance and lifetime earnings
// @Tags Wallet
// @Produce json
// @Security BearerAuth
// @Success 200 {object} wallet.BonusWallet
// @Failure 401 {object} models.ErrorResponse
// @Router /wallet [get]
func (h *WalletHandler) GetWallet(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	userID, ok := apimiddleware.UserID(c)
	if !ok {
		return apierrors.UnauthorizedError(c, "missing user")
	}

	w, err := h.wallets.Get(ctx, userID)
	if err != nil {
		return apierrors.DatabaseError(c, err)
	}
	return c.JSON(http.StatusOK, w)
}

// ListCommissions godoc
// @Summary List commissions
// @Description List commissions credited to the caller, newest first
// @Tags Wallet
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Page size" default(20)
// @Param offset query int false "Offset" default(0)
// @Success 200 {object} models.ListResponse
// @Failure 401 {object} models.ErrorResponse
// @Router /wallet/commissions [get]
func (h *WalletHandler) ListCommissions(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	userID, ok := apimiddleware.UserID(c)
	if !ok {
		return apierrors.UnauthorizedError(c, "missing user")
	}

	limit, offset := pagination(c)
	entries, err := h.wallets.ListCommissions(ctx, userID, limit, offset)
	if err != nil {
		return apierrors.DatabaseError(c, err)
	}

	return c.JSON(http.StatusOK, models.ListResponse{Items: entries, Limit: limit, Offset: offset})
}

// GetTokenBalance godoc
// @Summary Get token balance
// @Tags Wallet
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.TokenBalanceResponse
// @Failure 401 {object} models.ErrorResponse
// @Router /tokens/balance [get]
func (h *WalletHandler) GetTokenBalance(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	userID, ok := apimiddleware.UserID(c)
	if !ok {
		return apierrors.UnauthorizedError(c, "missing user")
	}

	balance, err := h.tokens.Balance(ctx, userID)
	if err != nil {
		return apierrors.DatabaseError(c, err)
	}
	return c.JSON(http.StatusOK, models.TokenBalanceResponse{Balance: balance})
}

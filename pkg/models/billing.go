package models

// CheckoutRequest represents a request to buy a token package
type CheckoutRequest struct {
	PackageID string `json:"package_id" validate:"required,max=64"`
}

// CheckoutResponse represents a checkout session response
type CheckoutResponse struct {
	PaymentID string `json:"payment_id"`
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
	ExpiresAt int64  `json:"expires_at"`
}

// PackageInfo represents a token package offered for sale
type PackageInfo struct {
	ID         string `json:"id"`
	Label      string `json:"label"`
	Tokens     int64  `json:"tokens"`
	PriceCents int64  `json:"price_cents"`
	Price      string `json:"price"`
	Currency   string `json:"currency"`
}

// PackagesResponse lists token packages
type PackagesResponse struct {
	Packages []PackageInfo `json:"packages"`
}

// TokenBalanceResponse represents a user's token balance
type TokenBalanceResponse struct {
	Balance int64 `json:"balance"`
}

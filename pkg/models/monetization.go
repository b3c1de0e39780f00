package models

// ApplyReferralRequest links the caller to a referrer by code
type ApplyReferralRequest struct {
	Code string `json:"code" validate:"required,min=4,max=32"`
}

// ReferralCodeResponse carries a user's referral code
type ReferralCodeResponse struct {
	Code string `json:"code"`
}

// WithdrawalRequest asks for a payout from the bonus wallet
type WithdrawalRequest struct {
	AmountCents int64  `json:"amount_cents" validate:"required,gt=0"`
	Method      string `json:"method" validate:"required,oneof=paypal bank_transfer crypto"`
	Destination string `json:"destination" validate:"required,max=255"`
}

// ReviewWithdrawalRequest approves or rejects a withdrawal
type ReviewWithdrawalRequest struct {
	Note string `json:"note" validate:"max=1024"`
}

// UpdateSettingRequest sets one typed setting from its string form
type UpdateSettingRequest struct {
	Value string `json:"value" validate:"max=1024"`
}

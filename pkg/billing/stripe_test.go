package billing

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/jordanlanch/companion-api/pkg/commission"
	"github.com/jordanlanch/companion-api/pkg/database/dbtest"
	"github.com/jordanlanch/companion-api/pkg/domain"
	"github.com/jordanlanch/companion-api/pkg/logger"
	"github.com/jordanlanch/companion-api/pkg/payments"
	"github.com/jordanlanch/companion-api/pkg/referral"
	"github.com/jordanlanch/companion-api/pkg/settings"
	"github.com/jordanlanch/companion-api/pkg/tokens"
	"github.com/jordanlanch/companion-api/pkg/wallet"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

const testWebhookSecret = "whsec_test_secret"

type fakeSessions struct {
	params []*stripe.CheckoutSessionParams
	err    error
}

func (f *fakeSessions) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.params = append(f.params, params)
	if f.err != nil {
		return nil, f.err
	}
	return &stripe.CheckoutSession{
		ID:        "cs_test_" + params.Metadata["payment_id"],
		URL:       "https://checkout.stripe.com/c/pay/cs_test",
		ExpiresAt: 1700000000,
	}, nil
}

type webhookCounter map[string]int

func (w webhookCounter) RecordWebhookEvent(eventType, status string) {
	w[eventType+"/"+status]++
}

type billingEnv struct {
	svc       *Service
	payments  *payments.Service
	tokens    *tokens.Service
	wallets   *wallet.Service
	referrals *referral.Service
	sessions  *fakeSessions
	recorded  webhookCounter
	caps      *settings.Static
}

func setupBilling(t *testing.T) *billingEnv {
	db := dbtest.Open(t)
	caps := &settings.Static{Monetization: true, Referrals: true}
	env := &billingEnv{
		payments:  payments.NewService(db),
		tokens:    tokens.NewService(db),
		wallets:   wallet.NewService(db),
		referrals: referral.NewService(db, caps, nil, logger.Nop()),
		sessions:  &fakeSessions{},
		recorded:  webhookCounter{},
		caps:      caps,
	}
	ledger := commission.NewLedger(db, env.payments, env.referrals, env.wallets, logger.Nop())

	env.svc = NewService(db, env.payments, env.tokens, ledger, caps, &StripeConfig{
		SecretKey:     "sk_test_dummy",
		WebhookSecret: testWebhookSecret,
		SuccessURL:    "https://app.example.com/billing/success",
		CancelURL:     "https://app.example.com/billing/cancel",
	}, logger.Nop())
	env.svc.SetCheckoutSessions(env.sessions)
	env.svc.SetRecorder(env.recorded)
	return env
}

func signedEvent(t *testing.T, id, eventType string, session map[string]any) ([]byte, string) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":          id,
		"object":      "event",
		"type":        eventType,
		"api_version": stripe.APIVersion,
		"data":        map[string]any{"object": session},
	})
	require.NoError(t, err)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: payload,
		Secret:  testWebhookSecret,
	})
	return signed.Payload, signed.Header
}

func paidSession(paymentID string, amountTotal int64) map[string]any {
	return map[string]any{
		"id":             "cs_test_" + paymentID,
		"object":         "checkout.session",
		"payment_status": "paid",
		"amount_total":   amountTotal,
		"currency":       "usd",
		"metadata":       map[string]string{"payment_id": paymentID},
	}
}

func (e *billingEnv) checkout(t *testing.T, userID, packageID string) string {
	resp, err := e.svc.CreateCheckoutSession(context.Background(), userID, packageID)
	require.NoError(t, err)
	return resp.PaymentID
}

func TestPackage_PriceCents(t *testing.T) {
	assert.Equal(t, int64(499), Package{Price: decimal.RequireFromString("4.99")}.PriceCents())
	assert.Equal(t, int64(2000), Package{Price: decimal.RequireFromString("20")}.PriceCents())
}

func TestPackages_List(t *testing.T) {
	env := setupBilling(t)

	list := env.svc.Packages()
	require.Len(t, list, len(DefaultPackages))
	assert.Equal(t, "starter", list[0].ID)
	assert.Equal(t, int64(499), list[0].PriceCents)
	assert.Equal(t, "4.99", list[0].Price)
	assert.Equal(t, "USD", list[0].Currency)
}

func TestCreateCheckoutSession(t *testing.T) {
	env := setupBilling(t)
	ctx := context.Background()

	resp, err := env.svc.CreateCheckoutSession(ctx, "alice", "plus")
	require.NoError(t, err)
	assert.Equal(t, "cs_test_"+resp.PaymentID, resp.SessionID)
	assert.NotEmpty(t, resp.URL)

	require.Len(t, env.sessions.params, 1)
	params := env.sessions.params[0]
	assert.Equal(t, string(stripe.CheckoutSessionModePayment), *params.Mode)
	assert.Equal(t, int64(1999), *params.LineItems[0].PriceData.UnitAmount)
	assert.Equal(t, "alice", params.Metadata["user_id"])
	assert.Equal(t, "plus", params.Metadata["package_id"])

	payment, err := env.payments.Get(ctx, resp.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, payments.StatusPending, payment.Status)
	assert.Equal(t, int64(1999), payment.AmountCents)
	assert.Equal(t, int64(550), payment.Tokens)
	assert.Equal(t, resp.SessionID, payment.ProviderRef)
}

func TestCreateCheckoutSession_Errors(t *testing.T) {
	t.Run("unknown package", func(t *testing.T) {
		env := setupBilling(t)
		_, err := env.svc.CreateCheckoutSession(context.Background(), "alice", "gold")
		assert.True(t, domain.IsNotFound(err))
	})

	t.Run("monetization disabled", func(t *testing.T) {
		env := setupBilling(t)
		env.caps.Monetization = false
		_, err := env.svc.CreateCheckoutSession(context.Background(), "alice", "starter")
		assert.True(t, domain.IsFeatureDisabled(err))
		assert.Empty(t, env.sessions.params)
	})

	t.Run("stripe failure fails the payment", func(t *testing.T) {
		env := setupBilling(t)
		env.sessions.err = errors.New("stripe unavailable")

		_, err := env.svc.CreateCheckoutSession(context.Background(), "alice", "starter")
		require.Error(t, err)

		list, err := env.payments.ListForUser(context.Background(), "alice", 10, 0)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, payments.StatusFailed, list[0].Status)
	})
}

func TestHandleWebhook_InvalidSignature(t *testing.T) {
	env := setupBilling(t)

	payload, _ := signedEvent(t, "evt_1", EventCheckoutCompleted, paidSession("p", 100))
	_, err := env.svc.HandleWebhook(context.Background(), payload, "t=1,v1=deadbeef")
	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.Equal(t, 1, env.recorded["unknown/invalid_signature"])
}

func TestHandleWebhook_CheckoutCompleted(t *testing.T) {
	env := setupBilling(t)
	ctx := context.Background()

	require.NoError(t, env.referrals.LinkReferrer(ctx, "alice", "bob"))
	require.NoError(t, env.referrals.LinkReferrer(ctx, "bob", "carol"))
	paymentID := env.checkout(t, "alice", "plus")

	payload, sig := signedEvent(t, "evt_paid", EventCheckoutCompleted, paidSession(paymentID, 1999))
	result, err := env.svc.HandleWebhook(ctx, payload, sig)
	require.NoError(t, err)
	assert.Equal(t, WebhookProcessed, result.Status)
	assert.Equal(t, paymentID, result.PaymentID)
	require.NotNil(t, result.Commission)
	assert.Equal(t, commission.StatusDistributed, result.Commission.Status)
	assert.Equal(t, 2, result.Commission.LevelsCredited)

	payment, err := env.payments.Get(ctx, paymentID)
	require.NoError(t, err)
	assert.Equal(t, payments.StatusCompleted, payment.Status)

	balance, err := env.tokens.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(550), balance)

	bob, err := env.wallets.Get(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(999), bob.BalanceCents)

	carol, err := env.wallets.Get(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, int64(99), carol.BalanceCents)

	assert.Equal(t, 1, env.recorded[EventCheckoutCompleted+"/"+WebhookProcessed])
}

func TestHandleWebhook_Redelivery(t *testing.T) {
	env := setupBilling(t)
	ctx := context.Background()

	require.NoError(t, env.referrals.LinkReferrer(ctx, "alice", "bob"))
	paymentID := env.checkout(t, "alice", "starter")

	payload, sig := signedEvent(t, "evt_paid", EventCheckoutCompleted, paidSession(paymentID, 499))
	_, err := env.svc.HandleWebhook(ctx, payload, sig)
	require.NoError(t, err)

	result, err := env.svc.HandleWebhook(ctx, payload, sig)
	require.NoError(t, err)
	assert.Equal(t, WebhookDuplicate, result.Status)
	require.NotNil(t, result.Commission)
	assert.Equal(t, commission.StatusSkipped, result.Commission.Status)

	// A second event for the same payment credits nothing either
	payload, sig = signedEvent(t, "evt_paid_async", EventCheckoutAsyncSucceeded, paidSession(paymentID, 499))
	result, err = env.svc.HandleWebhook(ctx, payload, sig)
	require.NoError(t, err)
	assert.Equal(t, WebhookProcessed, result.Status)

	balance, err := env.tokens.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)

	bob, err := env.wallets.Get(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(249), bob.BalanceCents)
}

func TestHandleWebhook_ConfirmedAmountIsAuthoritative(t *testing.T) {
	env := setupBilling(t)
	ctx := context.Background()

	require.NoError(t, env.referrals.LinkReferrer(ctx, "alice", "bob"))
	paymentID := env.checkout(t, "alice", "starter")

	// A discount at checkout lowered the charged total
	payload, sig := signedEvent(t, "evt_paid", EventCheckoutCompleted, paidSession(paymentID, 400))
	_, err := env.svc.HandleWebhook(ctx, payload, sig)
	require.NoError(t, err)

	payment, err := env.payments.Get(ctx, paymentID)
	require.NoError(t, err)
	assert.Equal(t, int64(400), payment.AmountCents)

	bob, err := env.wallets.Get(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(200), bob.BalanceCents)
}

func TestHandleWebhook_UnpaidCheckoutWaits(t *testing.T) {
	env := setupBilling(t)
	ctx := context.Background()
	paymentID := env.checkout(t, "alice", "starter")

	session := paidSession(paymentID, 499)
	session["payment_status"] = "unpaid"
	payload, sig := signedEvent(t, "evt_unpaid", EventCheckoutCompleted, session)

	result, err := env.svc.HandleWebhook(ctx, payload, sig)
	require.NoError(t, err)
	assert.Equal(t, WebhookIgnored, result.Status)

	payment, err := env.payments.Get(ctx, paymentID)
	require.NoError(t, err)
	assert.Equal(t, payments.StatusPending, payment.Status)
}

func TestHandleWebhook_Expired(t *testing.T) {
	env := setupBilling(t)
	ctx := context.Background()
	paymentID := env.checkout(t, "alice", "starter")

	session := paidSession(paymentID, 499)
	session["payment_status"] = "unpaid"
	payload, sig := signedEvent(t, "evt_expired", EventCheckoutExpired, session)

	result, err := env.svc.HandleWebhook(ctx, payload, sig)
	require.NoError(t, err)
	assert.Equal(t, WebhookProcessed, result.Status)

	payment, err := env.payments.Get(ctx, paymentID)
	require.NoError(t, err)
	assert.Equal(t, payments.StatusFailed, payment.Status)
}

func TestHandleWebhook_UnknownPaymentIsAcknowledged(t *testing.T) {
	env := setupBilling(t)

	payload, sig := signedEvent(t, "evt_orphan", EventCheckoutCompleted, paidSession("missing", 499))
	result, err := env.svc.HandleWebhook(context.Background(), payload, sig)
	require.NoError(t, err)
	assert.Equal(t, WebhookIgnored, result.Status)
	assert.Nil(t, result.Commission)
}

func TestHandleWebhook_FallsBackToSessionReference(t *testing.T) {
	env := setupBilling(t)
	ctx := context.Background()
	paymentID := env.checkout(t, "alice", "starter")

	session := paidSession(paymentID, 499)
	delete(session, "metadata")
	payload, sig := signedEvent(t, "evt_paid", EventCheckoutCompleted, session)

	result, err := env.svc.HandleWebhook(ctx, payload, sig)
	require.NoError(t, err)
	assert.Equal(t, paymentID, result.PaymentID)
	assert.Equal(t, WebhookProcessed, result.Status)
}

func TestHandleWebhook_UnhandledType(t *testing.T) {
	env := setupBilling(t)

	payload, sig := signedEvent(t, "evt_invoice", "invoice.paid", map[string]any{"id": "in_1", "object": "invoice"})
	result, err := env.svc.HandleWebhook(context.Background(), payload, sig)
	require.NoError(t, err)
	assert.Equal(t, WebhookIgnored, result.Status)
	assert.Equal(t, 1, env.recorded["invoice.paid/"+WebhookIgnored])
}

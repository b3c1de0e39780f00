package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
	"github.com/jordanlanch/companion-api/pkg/commission"
	"github.com/jordanlanch/companion-api/pkg/database"
	"github.com/jordanlanch/companion-api/pkg/domain"
	"github.com/jordanlanch/companion-api/pkg/logger"
	"github.com/jordanlanch/companion-api/pkg/models"
	"github.com/jordanlanch/companion-api/pkg/payments"
	"github.com/jordanlanch/companion-api/pkg/settings"
	"github.com/jordanlanch/companion-api/pkg/tokens"
	"github.com/stripe/stripe-go/v76"
	checkoutsession "github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/webhook"
)

// ProviderStripe is the payments.provider value for Stripe checkouts
const ProviderStripe = "stripe"

// Webhook event types handled by HandleWebhook
const (
	EventCheckoutCompleted          = "checkout.session.completed"
	EventCheckoutAsyncSucceeded     = "checkout.session.async_payment_succeeded"
	EventCheckoutExpired            = "checkout.session.expired"
	EventCheckoutAsyncPaymentFailed = "checkout.session.async_payment_failed"
)

// Webhook result statuses
const (
	WebhookProcessed = "processed"
	WebhookDuplicate = "duplicate"
	WebhookIgnored   = "ignored"
)

// ErrInvalidSignature is returned when a webhook payload fails verification
var ErrInvalidSignature = errors.New("invalid webhook signature")

// CheckoutSessions creates Stripe checkout sessions
type CheckoutSessions interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type stripeSessions struct{}

func (stripeSessions) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return checkoutsession.New(params)
}

// Distributor pays referral commissions for a completed payment
type Distributor interface {
	DistributeCommission(ctx context.Context, paymentID string) (*commission.Outcome, error)
}

// Recorder receives webhook metrics
type Recorder interface {
	RecordWebhookEvent(eventType, status string)
}

// StripeConfig holds Stripe configuration
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
	Currency      string
}

// WebhookResult describes what a webhook delivery did
type WebhookResult struct {
	EventID    string              `json:"event_id"`
	EventType  string              `json:"event_type"`
	Status     string              `json:"status"`
	PaymentID  string              `json:"payment_id,omitempty"`
	Commission *commission.Outcome `json:"commission,omitempty"`
}

// Service handles token purchases through Stripe Checkout
type Service struct {
	db          *database.Client
	payments    *payments.Service
	tokens      *tokens.Service
	distributor Distributor
	caps        settings.Capabilities
	config      *StripeConfig
	packages    []Package
	sessions    CheckoutSessions
	recorder    Recorder
	logger      logger.Logger
}

// NewService creates a new billing service
func NewService(
	db *database.Client,
	p *payments.Service,
	t *tokens.Service,
	d Distributor,
	caps settings.Capabilities,
	config *StripeConfig,
	log logger.Logger,
) *Service {
	stripe.Key = config.SecretKey

	return &Service{
		db:          db,
		payments:    p,
		tokens:      t,
		distributor: d,
		caps:        caps,
		config:      config,
		packages:    DefaultPackages,
		sessions:    stripeSessions{},
		logger:      log.With("component", "billing"),
	}
}

// SetCheckoutSessions replaces the Stripe checkout client
func (s *Service) SetCheckoutSessions(c CheckoutSessions) {
	s.sessions = c
}

// SetRecorder sets the webhook metrics recorder
func (s *Service) SetRecorder(r Recorder) {
	s.recorder = r
}

// SetPackages replaces the token package catalog
func (s *Service) SetPackages(p []Package) {
	s.packages = p
}

func (s *Service) currency() string {
	if s.config.Currency == "" {
		return "usd"
	}
	return strings.ToLower(s.config.Currency)
}

// CreateCheckoutSession records a pending payment and opens a Stripe
// checkout for it
func (s *Service) CreateCheckoutSession(ctx context.Context, userID, packageID string) (*models.CheckoutResponse, error) {
	if !s.caps.MonetizationEnabled() {
		return nil, domain.NewFeatureDisabledError("monetization")
	}
	pkg, ok := s.Package(packageID)
	if !ok {
		return nil, domain.NewNotFoundError("package")
	}

	payment, err := s.payments.Create(ctx, payments.CreateParams{
		UserID:      userID,
		AmountCents: pkg.PriceCents(),
		Currency:    s.currency(),
		Provider:    ProviderStripe,
		PackageID:   pkg.ID,
		Tokens:      pkg.Tokens,
	})
	if err != nil {
		return nil, err
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(payment.ID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(payment.Currency),
					UnitAmount: stripe.Int64(payment.AmountCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(pkg.Label),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(s.config.SuccessURL),
		CancelURL:  stripe.String(s.config.CancelURL),
		Metadata: map[string]string{
			"payment_id": payment.ID,
			"user_id":    userID,
			"package_id": pkg.ID,
		},
	}

	sess, err := s.sessions.New(params)
	if err != nil {
		if _, markErr := s.payments.MarkFailed(ctx, payment.ID); markErr != nil {
			s.logger.Warn("failed to mark payment failed", "payment_id", payment.ID, "error", markErr)
		}
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	if err := s.payments.SetProviderRef(ctx, payment.ID, sess.ID); err != nil {
		return nil, err
	}

	s.logger.Info("checkout session created",
		"payment_id", payment.ID, "user_id", userID, "package_id", pkg.ID, "session_id", sess.ID)

	return &models.CheckoutResponse{
		PaymentID: payment.ID,
		SessionID: sess.ID,
		URL:       sess.URL,
		ExpiresAt: sess.ExpiresAt,
	}, nil
}

// HandleWebhook verifies and applies a Stripe webhook delivery. Only an
// invalid signature or a storage failure returns an error; events that
// cannot be matched to a payment are acknowledged and ignored.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.config.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		s.recordWebhook("unknown", "invalid_signature")
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	result := &WebhookResult{
		EventID:   event.ID,
		EventType: string(event.Type),
		Status:    WebhookIgnored,
	}

	switch result.EventType {
	case EventCheckoutCompleted, EventCheckoutAsyncSucceeded:
		err = s.handleCheckoutPaid(ctx, event, result)
	case EventCheckoutExpired, EventCheckoutAsyncPaymentFailed:
		err = s.handleCheckoutFailed(ctx, event, result)
	default:
		s.logger.Debug("unhandled webhook event", "event_id", event.ID, "type", result.EventType)
	}

	if err != nil {
		s.recordWebhook(result.EventType, "error")
		return nil, err
	}
	s.recordWebhook(result.EventType, result.Status)
	return result, nil
}

func (s *Service) handleCheckoutPaid(ctx context.Context, event stripe.Event, result *WebhookResult) error {
	sess, err := decodeSession(event)
	if err != nil {
		return err
	}
	if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		// Async methods complete later with async_payment_succeeded
		s.logger.Info("checkout not paid yet", "session_id", sess.ID, "payment_status", sess.PaymentStatus)
		return nil
	}

	paymentID, ok, err := s.resolvePayment(ctx, sess)
	if err != nil || !ok {
		return err
	}
	result.PaymentID = paymentID

	completed := false
	err = s.db.WithTx(ctx, func(tx dialect.Tx) error {
		fresh, err := s.recordEvent(ctx, tx, event)
		if err != nil {
			return err
		}
		if !fresh {
			result.Status = WebhookDuplicate
			return nil
		}

		payment, err := s.payments.GetTx(ctx, tx, paymentID)
		if domain.IsNotFound(err) {
			s.logger.Warn("paid checkout for unknown payment", "payment_id", paymentID, "event_id", event.ID)
			return nil
		}
		if err != nil {
			return err
		}
		if sess.Currency != "" && string(sess.Currency) != payment.Currency {
			s.logger.Warn("checkout currency differs from payment",
				"payment_id", paymentID, "expected", payment.Currency, "got", sess.Currency)
		}

		changed, err := s.payments.MarkCompletedTx(ctx, tx, paymentID, sess.AmountTotal)
		if domain.IsConflict(err) {
			s.logger.Warn("paid checkout for closed payment", "payment_id", paymentID, "error", err)
			return nil
		}
		if err != nil {
			return err
		}
		completed = true
		result.Status = WebhookProcessed

		if changed && payment.Tokens > 0 {
			if _, err := s.tokens.CreditTx(ctx, tx, payment.UserID, payment.Tokens, tokens.ReasonPurchase, payment.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to complete payment %s: %w", paymentID, err)
	}

	// Redeliveries re-run distribution; the ledger skips paid payments.
	if !completed && result.Status != WebhookDuplicate {
		return nil
	}
	outcome, err := s.distributor.DistributeCommission(ctx, paymentID)
	if err != nil {
		return err
	}
	result.Commission = outcome
	return nil
}

func (s *Service) handleCheckoutFailed(ctx context.Context, event stripe.Event, result *WebhookResult) error {
	sess, err := decodeSession(event)
	if err != nil {
		return err
	}
	paymentID, ok, err := s.resolvePayment(ctx, sess)
	if err != nil || !ok {
		return err
	}
	result.PaymentID = paymentID

	err = s.db.WithTx(ctx, func(tx dialect.Tx) error {
		fresh, err := s.recordEvent(ctx, tx, event)
		if err != nil {
			return err
		}
		if !fresh {
			result.Status = WebhookDuplicate
			return nil
		}
		_, err = s.payments.MarkFailedTx(ctx, tx, paymentID)
		if domain.IsNotFound(err) {
			s.logger.Warn("failed checkout for unknown payment", "payment_id", paymentID, "event_id", event.ID)
			return nil
		}
		if err != nil {
			return err
		}
		result.Status = WebhookProcessed
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to fail payment %s: %w", paymentID, err)
	}
	return nil
}

func decodeSession(event stripe.Event) (*stripe.CheckoutSession, error) {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, domain.NewBadRequestError(fmt.Sprintf("failed to parse checkout session: %v", err))
	}
	return &sess, nil
}

// resolvePayment finds our payment from session metadata, falling back to
// the stored session reference
func (s *Service) resolvePayment(ctx context.Context, sess *stripe.CheckoutSession) (string, bool, error) {
	if id := sess.Metadata["payment_id"]; id != "" {
		return id, true, nil
	}
	if sess.ClientReferenceID != "" {
		return sess.ClientReferenceID, true, nil
	}
	payment, err := s.payments.GetByProviderRef(ctx, sess.ID)
	if domain.IsNotFound(err) {
		s.logger.Warn("checkout session has no matching payment", "session_id", sess.ID)
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return payment.ID, true, nil
}

// recordEvent reports false when the event was already processed
func (s *Service) recordEvent(ctx context.Context, eq dialect.ExecQuerier, event stripe.Event) (bool, error) {
	b := s.db.Builder()
	q, args := b.Insert(database.BillingEventsTable).
		Columns("id", "provider", "event_id", "event_type", "created_at").
		Values(uuid.NewString(), ProviderStripe, event.ID, string(event.Type), time.Now().UTC()).
		OnConflict(
			entsql.ConflictColumns("provider", "event_id"),
			entsql.DoNothing(),
		).
		Query()
	n, err := database.Exec(ctx, eq, q, args)
	if err != nil {
		return false, fmt.Errorf("failed to record billing event: %w", err)
	}
	return n == 1, nil
}

func (s *Service) recordWebhook(eventType, status string) {
	if s.recorder != nil {
		s.recorder.RecordWebhookEvent(eventType, status)
	}
}

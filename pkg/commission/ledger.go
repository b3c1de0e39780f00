// Package commission credits referrers when a payment completes.
package commission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
	"github.com/jordanlanch/companion-api/pkg/cache"
	"github.com/jordanlanch/companion-api/pkg/database"
	"github.com/jordanlanch/companion-api/pkg/domain"
	"github.com/jordanlanch/companion-api/pkg/logger"
	"github.com/jordanlanch/companion-api/pkg/payments"
)

// Status is the result of one distribution attempt
type Status string

// Distribution statuses
const (
	StatusDistributed   Status = "distributed"
	StatusSkipped       Status = "skipped"
	StatusNotFound      Status = "not_found"
	StatusInvalidAmount Status = "invalid_amount"
	StatusPartial       Status = "partial"
	StatusError         Status = "error"
)

// Outcome reasons
const (
	ReasonNotFound           = "payment not found"
	ReasonNoAmount           = "skipped: no amount"
	ReasonNotCompleted       = "skipped: payment not completed"
	ReasonAlreadyDistributed = "skipped: already distributed"
	ReasonInProgress         = "skipped: in progress"
	ReasonNoReferrer         = "no referrer"
)

// Credit is one level paid to a beneficiary
type Credit struct {
	Level         int    `json:"level"`
	BeneficiaryID string `json:"beneficiary_user_id"`
	AmountCents   int64  `json:"amount_cents"`
}

// Outcome summarises a distribution attempt
type Outcome struct {
	PaymentID      string   `json:"payment_id"`
	Status         Status   `json:"status"`
	LevelsCredited int      `json:"levels_credited"`
	TotalCents     int64    `json:"total_cents"`
	Errors         int      `json:"errors"`
	Reason         string   `json:"reason,omitempty"`
	Credits        []Credit `json:"credits,omitempty"`
}

// PaymentReader loads payments
type PaymentReader interface {
	Get(ctx context.Context, id string) (*payments.Payment, error)
}

// ReferrerLookup resolves a user's referrer
type ReferrerLookup interface {
	Referrer(ctx context.Context, userID string) (string, bool, error)
}

// WalletCrediter increments bonus wallets inside the caller's transaction
type WalletCrediter interface {
	Credit(ctx context.Context, eq dialect.ExecQuerier, userID string, delta int64) error
}

// Locker serialises work on a single payment
type Locker interface {
	LockPayment(ctx context.Context, paymentID string) (func(), error)
}

// Recorder receives distribution metrics
type Recorder interface {
	CommissionDistributed(status string)
	CommissionCredited(level int, cents int64)
}

// Ledger distributes referral commissions for completed payments
type Ledger struct {
	db        *database.Client
	payments  PaymentReader
	referrals ReferrerLookup
	wallets   WalletCrediter
	rates     Rates
	locker    Locker   // optional
	recorder  Recorder // optional
	logger    logger.Logger
}

// NewLedger creates a ledger paying DefaultRates
func NewLedger(db *database.Client, p PaymentReader, r ReferrerLookup, w WalletCrediter, log logger.Logger) *Ledger {
	if log == nil {
		log = logger.Default()
	}
	return &Ledger{
		db:        db,
		payments:  p,
		referrals: r,
		wallets:   w,
		rates:     DefaultRates,
		logger:    log.With("component", "commission"),
	}
}

// WithLocker sets the per-payment lock
func (l *Ledger) WithLocker(locker Locker) *Ledger {
	l.locker = locker
	return l
}

// WithRecorder sets the metrics recorder
func (l *Ledger) WithRecorder(rec Recorder) *Ledger {
	l.recorder = rec
	return l
}

// WithRates overrides the level rates
func (l *Ledger) WithRates(rates Rates) *Ledger {
	l.rates = rates
	return l
}

// Rates returns the rates in use
func (l *Ledger) Rates() Rates {
	return l.rates
}

// DistributeCommission credits up to three referrers of the payment's payer.
// It is a no-op for payments that already have commission rows.
// Only a cancelled context produces an error; every other failure is
// reported in the Outcome.
func (l *Ledger) DistributeCommission(ctx context.Context, paymentID string) (*Outcome, error) {
	return l.distribute(ctx, paymentID, true)
}

// Redistribute credits the levels a previous attempt left uncredited.
// Levels already paid are skipped by the ledger's unique constraint.
func (l *Ledger) Redistribute(ctx context.Context, paymentID string) (*Outcome, error) {
	return l.distribute(ctx, paymentID, false)
}

func (l *Ledger) distribute(ctx context.Context, paymentID string, guard bool) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := &Outcome{PaymentID: paymentID}
	defer l.record(out)

	if l.locker != nil {
		unlock, err := l.locker.LockPayment(ctx, paymentID)
		switch {
		case errors.Is(err, cache.ErrLockNotAcquired):
			out.Status, out.Reason = StatusSkipped, ReasonInProgress
			return out, nil
		case err != nil:
			// The unique constraint still prevents double credits
			l.logger.Warn("Payment lock unavailable, continuing without it", "payment_id", paymentID, "error", err)
		default:
			defer unlock()
		}
	}

	payment, err := l.payments.Get(ctx, paymentID)
	if err != nil {
		if domain.IsNotFound(err) {
			out.Status, out.Reason = StatusNotFound, ReasonNotFound
			return out, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		l.logger.Error("Failed to load payment", "payment_id", paymentID, "error", err)
		out.Status, out.Reason, out.Errors = StatusError, err.Error(), 1
		return out, nil
	}

	if !payment.Eligible() {
		out.Status, out.Reason = StatusSkipped, ReasonNotCompleted
		return out, nil
	}
	if payment.AmountCents <= 0 {
		out.Status, out.Reason = StatusInvalidAmount, ReasonNoAmount
		return out, nil
	}

	if guard {
		n, err := l.ledgerRows(ctx, paymentID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			l.logger.Error("Failed to check existing commissions", "payment_id", paymentID, "error", err)
			out.Status, out.Reason, out.Errors = StatusError, err.Error(), 1
			return out, nil
		}
		if n > 0 {
			out.Status, out.Reason = StatusSkipped, ReasonAlreadyDistributed
			return out, nil
		}
	}

	if err := l.walk(ctx, payment, out); err != nil {
		// Committed levels hide the payment from the undistributed scan
		l.recordRetry(ctx, paymentID, fmt.Sprintf("interrupted after %d levels: %v", out.LevelsCredited, err))
		l.logger.Warn("Commission distribution interrupted",
			"payment_id", paymentID,
			"levels_credited", out.LevelsCredited,
			"error", err,
		)
		return nil, err
	}

	if out.Errors > 0 {
		out.Status = StatusPartial
		l.recordRetry(ctx, paymentID, out.Reason)
		l.logger.Warn("Commission partially distributed",
			"payment_id", paymentID,
			"levels_credited", out.LevelsCredited,
			"errors", out.Errors,
			"error", out.Reason,
		)
		return out, nil
	}

	out.Status = StatusDistributed
	if out.LevelsCredited == 0 && guard {
		out.Reason = ReasonNoReferrer
	}
	l.clearRetry(ctx, paymentID)
	l.logger.Info("Commission distributed",
		"payment_id", paymentID,
		"levels_credited", out.LevelsCredited,
		"total_cents", out.TotalCents,
	)
	return out, nil
}

// walk visits the payer's referrers, each level in its own transaction.
// A failed level is counted, its error kept as the outcome reason, and the
// walk moves on.
func (l *Ledger) walk(ctx context.Context, payment *payments.Payment, out *Outcome) error {
	current := payment.UserID
	seen := map[string]bool{current: true}

	for level := 1; level <= MaxLevels; level++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		referrer, found, err := l.referrals.Referrer(ctx, current)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			// Without the edge the chain cannot continue
			out.Errors++
			out.Reason = fmt.Sprintf("level %d: %v", level, err)
			break
		}
		if !found {
			break
		}
		if seen[referrer] {
			l.logger.Error("Referral cycle detected", "payment_id", payment.ID, "user_id", referrer)
			break
		}
		seen[referrer] = true

		amount := l.rates.Commission(payment.AmountCents, level)
		if amount > 0 {
			credited, err := l.creditLevel(ctx, payment, referrer, level, amount)
			switch {
			case err != nil:
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				out.Errors++
				out.Reason = fmt.Sprintf("level %d: %v", level, err)
				l.logger.Warn("Commission level failed",
					"payment_id", payment.ID,
					"level", level,
					"beneficiary_user_id", referrer,
					"error", err,
				)
			case credited:
				out.LevelsCredited++
				out.TotalCents += amount
				out.Credits = append(out.Credits, Credit{Level: level, BeneficiaryID: referrer, AmountCents: amount})
				if l.recorder != nil {
					l.recorder.CommissionCredited(level, amount)
				}
			}
		}

		current = referrer
	}

	return nil
}

// creditLevel writes the ledger row and the wallet increment together.
// credited is false when the beneficiary was already paid for this payment.
func (l *Ledger) creditLevel(ctx context.Context, payment *payments.Payment, beneficiary string, level int, amount int64) (bool, error) {
	credited := false
	err := l.db.WithTx(ctx, func(tx dialect.Tx) error {
		b := l.db.Builder()
		q, args := b.Insert(database.CommissionTransactionsTable).
			Columns("id", "payment_id", "beneficiary_user_id", "payer_user_id", "level", "rate", "amount_cents", "created_at").
			Values(uuid.NewString(), payment.ID, beneficiary, payment.UserID, level, l.rates.Rate(level).InexactFloat64(), amount, time.Now().UTC()).
			OnConflict(
				entsql.ConflictColumns("payment_id", "beneficiary_user_id"),
				entsql.DoNothing(),
			).
			Query()
		n, err := database.Exec(ctx, tx, q, args)
		if err != nil {
			return fmt.Errorf("failed to insert commission: %w", err)
		}
		if n == 0 {
			return nil
		}
		if err := l.wallets.Credit(ctx, tx, beneficiary, amount); err != nil {
			return err
		}
		credited = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return credited, nil
}

func (l *Ledger) ledgerRows(ctx context.Context, paymentID string) (int, error) {
	b := l.db.Builder()
	q, args := b.Select(entsql.Count("*")).
		From(b.Table(database.CommissionTransactionsTable)).
		Where(entsql.EQ("payment_id", paymentID)).
		Query()
	return database.Count(ctx, l.db.Driver, q, args)
}

func (l *Ledger) record(out *Outcome) {
	if l.recorder != nil && out.Status != "" {
		l.recorder.CommissionDistributed(string(out.Status))
	}
}

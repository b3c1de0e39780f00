package wallet

import (
	"context"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/jordanlanch/companion-api/pkg/database"
	"github.com/jordanlanch/companion-api/pkg/domain"
)

// BonusWallet holds a user's commission earnings
type BonusWallet struct {
	UserID                string    `json:"user_id"`
	BalanceCents          int64     `json:"balance_cents"`
	LifetimeEarningsCents int64     `json:"lifetime_earnings_cents"`
	UpdatedAt             time.Time `json:"updated_at,omitempty"`
}

// CommissionEntry is one commission credited to a beneficiary
type CommissionEntry struct {
	ID          string    `json:"id"`
	PaymentID   string    `json:"payment_id"`
	PayerUserID string    `json:"payer_user_id"`
	Level       int       `json:"level"`
	Rate        float64   `json:"rate"`
	AmountCents int64     `json:"amount_cents"`
	CreatedAt   time.Time `json:"created_at"`
}

// Service reads and mutates bonus wallets.
// All balance changes are single atomic statements.
type Service struct {
	db *database.Client
}

// NewService creates a new wallet service
func NewService(db *database.Client) *Service {
	return &Service{db: db}
}

// Credit adds delta to the wallet's balance and lifetime earnings, creating
// the wallet when absent
func (s *Service) Credit(ctx context.Context, eq dialect.ExecQuerier, userID string, delta int64) error {
	if delta <= 0 {
		return domain.NewValidationError("credit must be positive")
	}

	now := time.Now().UTC()
	b := s.db.Builder()
	q, args := b.Insert(database.BonusWalletsTable).
		Columns("user_id", "balance_cents", "lifetime_earnings_cents", "created_at", "updated_at").
		Values(userID, delta, delta, now, now).
		OnConflict(
			entsql.ConflictColumns("user_id"),
			entsql.ResolveWith(func(u *entsql.UpdateSet) {
				u.Add("balance_cents", delta)
				u.Add("lifetime_earnings_cents", delta)
				u.SetExcluded("updated_at")
			}),
		).
		Query()
	if _, err := database.Exec(ctx, eq, q, args); err != nil {
		return fmt.Errorf("failed to credit wallet: %w", err)
	}
	return nil
}

// Debit removes amount from the balance if the balance covers it.
// Lifetime earnings are unchanged.
func (s *Service) Debit(ctx context.Context, eq dialect.ExecQuerier, userID string, amount int64) error {
	if amount <= 0 {
		return domain.NewValidationError("debit must be positive")
	}

	b := s.db.Builder()
	q, args := b.Update(database.BonusWalletsTable).
		Add("balance_cents", -amount).
		Set("updated_at", time.Now().UTC()).
		Where(entsql.And(
			entsql.EQ("user_id", userID),
			entsql.GTE("balance_cents", amount),
		)).
		Query()
	n, err := database.Exec(ctx, eq, q, args)
	if err != nil {
		return fmt.Errorf("failed to debit wallet: %w", err)
	}
	if n == 0 {
		w, err := s.get(ctx, eq, userID)
		if err != nil {
			return err
		}
		return domain.NewInsufficientFundsError(w.BalanceCents, amount)
	}
	return nil
}

// Refund returns a previously debited amount to the balance
func (s *Service) Refund(ctx context.Context, eq dialect.ExecQuerier, userID string, amount int64) error {
	if amount <= 0 {
		return domain.NewValidationError("refund must be positive")
	}

	now := time.Now().UTC()
	b := s.db.Builder()
	q, args := b.Insert(database.BonusWalletsTable).
		Columns("user_id", "balance_cents", "lifetime_earnings_cents", "created_at", "updated_at").
		Values(userID, amount, 0, now, now).
		OnConflict(
			entsql.ConflictColumns("user_id"),
			entsql.ResolveWith(func(u *entsql.UpdateSet) {
				u.Add("balance_cents", amount)
				u.SetExcluded("updated_at")
			}),
		).
		Query()
	if _, err := database.Exec(ctx, eq, q, args); err != nil {
		return fmt.Errorf("failed to refund wallet: %w", err)
	}
	return nil
}

// Get returns the user's wallet; users without one get a zero wallet
func (s *Service) Get(ctx context.Context, userID string) (*BonusWallet, error) {
	return s.get(ctx, s.db.Driver, userID)
}

func (s *Service) get(ctx context.Context, eq dialect.ExecQuerier, userID string) (*BonusWallet, error) {
	b := s.db.Builder()
	q, args := b.Select("balance_cents", "lifetime_earnings_cents", "updated_at").
		From(b.Table(database.BonusWalletsTable)).
		Where(entsql.EQ("user_id", userID)).
		Limit(1).
		Query()

	w := &BonusWallet{UserID: userID}
	err := database.Query(ctx, eq, q, args, func(rows *entsql.Rows) error {
		return rows.Scan(&w.BalanceCents, &w.LifetimeEarningsCents, &w.UpdatedAt)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return w, nil
}

// ListCommissions returns the commissions credited to userID, newest first
func (s *Service) ListCommissions(ctx context.Context, userID string, limit, offset int) ([]*CommissionEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	b := s.db.Builder()
	q, args := b.Select("id", "payment_id", "payer_user_id", "level", "rate", "amount_cents", "created_at").
		From(b.Table(database.CommissionTransactionsTable)).
		Where(entsql.EQ("beneficiary_user_id", userID)).
		OrderBy(entsql.Desc("created_at")).
		Limit(limit).
		Offset(offset).
		Query()

	entries := []*CommissionEntry{}
	err := database.Query(ctx, s.db.Driver, q, args, func(rows *entsql.Rows) error {
		var e CommissionEntry
		if err := rows.Scan(&e.ID, &e.PaymentID, &e.PayerUserID, &e.Level, &e.Rate, &e.AmountCents, &e.CreatedAt); err != nil {
			return err
		}
		entries = append(entries, &e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list commissions: %w", err)
	}
	return entries, nil
}

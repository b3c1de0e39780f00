package tokens

import (
	"context"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
	"github.com/jordanlanch/companion-api/pkg/database"
	"github.com/jordanlanch/companion-api/pkg/domain"
)

// Ledger reasons
const (
	ReasonPurchase = "purchase"
	ReasonSpend    = "spend"
	ReasonRefund   = "refund"
	ReasonGrant    = "grant"
)

// Transaction is one token balance change
type Transaction struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Amount    int64     `json:"amount"`
	Reason    string    `json:"reason"`
	Reference string    `json:"reference"`
	CreatedAt time.Time `json:"created_at"`
}

// Service keeps token balances for purchases and media generation.
// Every change is recorded once per (reference, reason).
type Service struct {
	db *database.Client
}

// NewService creates a new token service
func NewService(db *database.Client) *Service {
	return &Service{db: db}
}

// Credit adds amount tokens. Repeating a reference is a no-op and reports
// applied=false.
func (s *Service) Credit(ctx context.Context, userID string, amount int64, reason, reference string) (bool, error) {
	applied := false
	err := s.db.WithTx(ctx, func(tx dialect.Tx) error {
		var err error
		applied, err = s.CreditTx(ctx, tx, userID, amount, reason, reference)
		return err
	})
	return applied, err
}

// CreditTx is Credit inside the caller's transaction
func (s *Service) CreditTx(ctx context.Context, tx dialect.ExecQuerier, userID string, amount int64, reason, reference string) (bool, error) {
	if amount <= 0 {
		return false, domain.NewValidationError("token amount must be positive")
	}
	if reference == "" {
		return false, domain.NewValidationError("reference is required")
	}

	inserted, err := s.insertEntry(ctx, tx, userID, amount, reason, reference)
	if err != nil || !inserted {
		return false, err
	}
	if err := s.increment(ctx, tx, userID, amount); err != nil {
		return false, err
	}
	return true, nil
}

// Spend removes amount tokens if the balance covers it
func (s *Service) Spend(ctx context.Context, userID string, amount int64, reference string) error {
	if amount <= 0 {
		return domain.NewValidationError("token amount must be positive")
	}
	if reference == "" {
		return domain.NewValidationError("reference is required")
	}

	return s.db.WithTx(ctx, func(tx dialect.Tx) error {
		inserted, err := s.insertEntry(ctx, tx, userID, -amount, ReasonSpend, reference)
		if err != nil {
			return err
		}
		if !inserted {
			return domain.NewConflictError("spend already recorded for " + reference)
		}

		b := s.db.Builder()
		q, args := b.Update(database.TokenWalletsTable).
			Add("balance", -amount).
			Set("updated_at", time.Now().UTC()).
			Where(entsql.And(
				entsql.EQ("user_id", userID),
				entsql.GTE("balance", amount),
			)).
			Query()
		n, err := database.Exec(ctx, tx, q, args)
		if err != nil {
			return fmt.Errorf("failed to spend tokens: %w", err)
		}
		if n == 0 {
			balance, err := s.balance(ctx, tx, userID)
			if err != nil {
				return err
			}
			return domain.NewInsufficientFundsError(balance, amount)
		}
		return nil
	})
}

// Refund reverses the spend recorded under reference, at most once
func (s *Service) Refund(ctx context.Context, userID, reference string) (bool, error) {
	refunded := false
	err := s.db.WithTx(ctx, func(tx dialect.Tx) error {
		b := s.db.Builder()
		q, args := b.Select("amount").
			From(b.Table(database.TokenTransactionsTable)).
			Where(entsql.And(
				entsql.EQ("user_id", userID),
				entsql.EQ("reference", reference),
				entsql.EQ("reason", ReasonSpend),
			)).
			Query()

		var spent int64
		err := database.Query(ctx, tx, q, args, func(rows *entsql.Rows) error {
			return rows.Scan(&spent)
		})
		if err != nil {
			return fmt.Errorf("failed to find spend: %w", err)
		}
		if spent == 0 {
			return domain.NewNotFoundError("spend " + reference)
		}

		inserted, err := s.insertEntry(ctx, tx, userID, -spent, ReasonRefund, reference)
		if err != nil || !inserted {
			return err
		}
		if err := s.increment(ctx, tx, userID, -spent); err != nil {
			return err
		}
		refunded = true
		return nil
	})
	return refunded, err
}

// Balance returns the user's token balance
func (s *Service) Balance(ctx context.Context, userID string) (int64, error) {
	return s.balance(ctx, s.db.Driver, userID)
}

// History returns the user's token transactions, newest first
func (s *Service) History(ctx context.Context, userID string, limit, offset int) ([]*Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	b := s.db.Builder()
	q, args := b.Select("id", "user_id", "amount", "reason", "reference", "created_at").
		From(b.Table(database.TokenTransactionsTable)).
		Where(entsql.EQ("user_id", userID)).
		OrderBy(entsql.Desc("created_at")).
		Limit(limit).
		Offset(offset).
		Query()

	list := []*Transaction{}
	err := database.Query(ctx, s.db.Driver, q, args, func(rows *entsql.Rows) error {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &t.Reason, &t.Reference, &t.CreatedAt); err != nil {
			return err
		}
		list = append(list, &t)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list token transactions: %w", err)
	}
	return list, nil
}

func (s *Service) balance(ctx context.Context, eq dialect.ExecQuerier, userID string) (int64, error) {
	b := s.db.Builder()
	q, args := b.Select("balance").
		From(b.Table(database.TokenWalletsTable)).
		Where(entsql.EQ("user_id", userID)).
		Query()

	var balance int64
	err := database.Query(ctx, eq, q, args, func(rows *entsql.Rows) error {
		return rows.Scan(&balance)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get token balance: %w", err)
	}
	return balance, nil
}

// insertEntry reports false when (reference, reason) already exists
func (s *Service) insertEntry(ctx context.Context, eq dialect.ExecQuerier, userID string, amount int64, reason, reference string) (bool, error) {
	b := s.db.Builder()
	q, args := b.Insert(database.TokenTransactionsTable).
		Columns("id", "user_id", "amount", "reason", "reference", "created_at").
		Values(uuid.NewString(), userID, amount, reason, reference, time.Now().UTC()).
		OnConflict(
			entsql.ConflictColumns("reference", "reason"),
			entsql.DoNothing(),
		).
		Query()
	n, err := database.Exec(ctx, eq, q, args)
	if err != nil {
		return false, fmt.Errorf("failed to record token transaction: %w", err)
	}
	return n == 1, nil
}

func (s *Service) increment(ctx context.Context, eq dialect.ExecQuerier, userID string, delta int64) error {
	now := time.Now().UTC()
	b := s.db.Builder()
	q, args := b.Insert(database.TokenWalletsTable).
		Columns("user_id", "balance", "updated_at").
		Values(userID, delta, now).
		OnConflict(
			entsql.ConflictColumns("user_id"),
			entsql.ResolveWith(func(u *entsql.UpdateSet) {
				u.Add("balance", delta)
				u.SetExcluded("updated_at")
			}),
		).
		Query()
	if _, err := database.Exec(ctx, eq, q, args); err != nil {
		return fmt.Errorf("failed to update token balance: %w", err)
	}
	return nil
}

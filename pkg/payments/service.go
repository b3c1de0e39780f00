package payments

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
	"github.com/jordanlanch/companion-api/pkg/database"
	"github.com/jordanlanch/companion-api/pkg/domain"
)

// Payment statuses
const (
	StatusPending   = "pending"
	StatusPaid      = "paid"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Payment is a single purchase by a user
type Payment struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	AmountCents int64      `json:"amount_cents"`
	Currency    string     `json:"currency"`
	Status      string     `json:"status"`
	Provider    string     `json:"provider"`
	ProviderRef string     `json:"provider_ref,omitempty"`
	PackageID   string     `json:"package_id,omitempty"`
	Tokens      int64      `json:"tokens"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Eligible reports whether the payment may earn commissions
func (p *Payment) Eligible() bool {
	return p.Status == StatusPaid || p.Status == StatusCompleted
}

// CreateParams holds the fields of a new payment
type CreateParams struct {
	UserID      string
	AmountCents int64
	Currency    string
	Provider    string
	PackageID   string
	Tokens      int64
}

var columns = []string{
	"id", "user_id", "amount_cents", "currency", "status", "provider",
	"provider_ref", "package_id", "tokens", "created_at", "updated_at", "completed_at",
}

// Service stores payments
type Service struct {
	db *database.Client
}

// NewService creates a new payments service
func NewService(db *database.Client) *Service {
	return &Service{db: db}
}

// Create records a pending payment
func (s *Service) Create(ctx context.Context, p CreateParams) (*Payment, error) {
	if p.UserID == "" {
		return nil, domain.NewValidationError("user_id is required")
	}
	if p.AmountCents <= 0 {
		return nil, domain.NewValidationError("amount must be positive")
	}
	if p.Currency == "" {
		p.Currency = "usd"
	}

	now := time.Now().UTC()
	payment := &Payment{
		ID:          uuid.NewString(),
		UserID:      p.UserID,
		AmountCents: p.AmountCents,
		Currency:    p.Currency,
		Status:      StatusPending,
		Provider:    p.Provider,
		PackageID:   p.PackageID,
		Tokens:      p.Tokens,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	b := s.db.Builder()
	q, args := b.Insert(database.PaymentsTable).
		Columns("id", "user_id", "amount_cents", "currency", "status", "provider", "package_id", "tokens", "created_at", "updated_at").
		Values(payment.ID, payment.UserID, payment.AmountCents, payment.Currency, payment.Status, payment.Provider, payment.PackageID, payment.Tokens, now, now).
		Query()
	if _, err := database.Exec(ctx, s.db.Driver, q, args); err != nil {
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}

	return payment, nil
}

// Get returns a payment by ID
func (s *Service) Get(ctx context.Context, id string) (*Payment, error) {
	return s.GetTx(ctx, s.db.Driver, id)
}

// GetTx returns a payment by ID using eq
func (s *Service) GetTx(ctx context.Context, eq dialect.ExecQuerier, id string) (*Payment, error) {
	return s.getBy(ctx, eq, "id", id)
}

// GetByProviderRef returns the payment created for a provider session
func (s *Service) GetByProviderRef(ctx context.Context, ref string) (*Payment, error) {
	return s.getBy(ctx, s.db.Driver, "provider_ref", ref)
}

func (s *Service) getBy(ctx context.Context, eq dialect.ExecQuerier, column, value string) (*Payment, error) {
	b := s.db.Builder()
	q, args := b.Select(columns...).
		From(b.Table(database.PaymentsTable)).
		Where(entsql.EQ(column, value)).
		Limit(1).
		Query()

	list, err := s.query(ctx, eq, q, args)
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	if len(list) == 0 {
		return nil, domain.NewNotFoundError("payment")
	}
	return list[0], nil
}

// SetProviderRef attaches the provider session reference to a payment
func (s *Service) SetProviderRef(ctx context.Context, id, ref string) error {
	b := s.db.Builder()
	q, args := b.Update(database.PaymentsTable).
		Set("provider_ref", ref).
		Set("updated_at", time.Now().UTC()).
		Where(entsql.EQ("id", id)).
		Query()
	n, err := database.Exec(ctx, s.db.Driver, q, args)
	if err != nil {
		return fmt.Errorf("failed to set provider reference: %w", err)
	}
	if n == 0 {
		return domain.NewNotFoundError("payment")
	}
	return nil
}

// MarkCompleted moves a pending or paid payment to completed.
// A positive confirmedAmountCents replaces the stored amount.
// changed is false when the payment was already completed.
func (s *Service) MarkCompleted(ctx context.Context, id string, confirmedAmountCents int64) (bool, error) {
	return s.MarkCompletedTx(ctx, s.db.Driver, id, confirmedAmountCents)
}

// MarkCompletedTx is MarkCompleted using eq
func (s *Service) MarkCompletedTx(ctx context.Context, eq dialect.ExecQuerier, id string, confirmedAmountCents int64) (bool, error) {
	now := time.Now().UTC()
	b := s.db.Builder()
	u := b.Update(database.PaymentsTable).
		Set("status", StatusCompleted).
		Set("completed_at", now).
		Set("updated_at", now)
	if confirmedAmountCents > 0 {
		u.Set("amount_cents", confirmedAmountCents)
	}
	q, args := u.Where(entsql.And(
		entsql.EQ("id", id),
		entsql.In("status", StatusPending, StatusPaid),
	)).Query()

	n, err := database.Exec(ctx, eq, q, args)
	if err != nil {
		return false, fmt.Errorf("failed to complete payment: %w", err)
	}
	if n == 1 {
		return true, nil
	}

	current, err := s.GetTx(ctx, eq, id)
	if err != nil {
		return false, err
	}
	if current.Status == StatusCompleted {
		return false, nil
	}
	return false, domain.NewConflictError(fmt.Sprintf("payment is %s", current.Status))
}

// MarkFailed moves a pending payment to failed. changed is false for any
// other status.
func (s *Service) MarkFailed(ctx context.Context, id string) (bool, error) {
	return s.MarkFailedTx(ctx, s.db.Driver, id)
}

// MarkFailedTx is MarkFailed using eq
func (s *Service) MarkFailedTx(ctx context.Context, eq dialect.ExecQuerier, id string) (bool, error) {
	b := s.db.Builder()
	q, args := b.Update(database.PaymentsTable).
		Set("status", StatusFailed).
		Set("updated_at", time.Now().UTC()).
		Where(entsql.And(
			entsql.EQ("id", id),
			entsql.EQ("status", StatusPending),
		)).
		Query()

	n, err := database.Exec(ctx, eq, q, args)
	if err != nil {
		return false, fmt.Errorf("failed to mark payment failed: %w", err)
	}
	if n == 0 {
		if _, err := s.GetTx(ctx, eq, id); err != nil {
			return false, err
		}
	}
	return n == 1, nil
}

// ListCompletedSince returns completed payments newer than since, oldest first
func (s *Service) ListCompletedSince(ctx context.Context, since time.Time, limit int) ([]*Payment, error) {
	b := s.db.Builder()
	t := b.Table(database.PaymentsTable)
	q, args := b.Select(t.Columns(columns...)...).
		From(t).
		Where(entsql.And(
			entsql.EQ(t.C("status"), StatusCompleted),
			entsql.GTE(t.C("completed_at"), since.UTC()),
		)).
		OrderBy(t.C("completed_at"), t.C("id")).
		Limit(limit).
		Query()

	list, err := s.query(ctx, s.db.Driver, q, args)
	if err != nil {
		return nil, fmt.Errorf("failed to list completed payments: %w", err)
	}
	return list, nil
}

// ListUndistributed returns completed payments newer than since that have
// no commission rows, oldest first
func (s *Service) ListUndistributed(ctx context.Context, since time.Time, limit int) ([]*Payment, error) {
	b := s.db.Builder()
	t := b.Table(database.PaymentsTable)
	c := b.Table(database.CommissionTransactionsTable)
	ledger := b.Select(c.C("id")).
		From(c).
		Where(entsql.ColumnsEQ(c.C("payment_id"), t.C("id")))

	q, args := b.Select(t.Columns(columns...)...).
		From(t).
		Where(entsql.And(
			entsql.EQ(t.C("status"), StatusCompleted),
			entsql.GTE(t.C("completed_at"), since.UTC()),
			entsql.NotExists(ledger),
		)).
		OrderBy(t.C("completed_at"), t.C("id")).
		Limit(limit).
		Query()

	list, err := s.query(ctx, s.db.Driver, q, args)
	if err != nil {
		return nil, fmt.Errorf("failed to list undistributed payments: %w", err)
	}
	return list, nil
}

// ListForUser returns a user's payments, newest first
func (s *Service) ListForUser(ctx context.Context, userID string, limit, offset int) ([]*Payment, error) {
	b := s.db.Builder()
	q, args := b.Select(columns...).
		From(b.Table(database.PaymentsTable)).
		Where(entsql.EQ("user_id", userID)).
		OrderBy(entsql.Desc("created_at")).
		Limit(limit).
		Offset(offset).
		Query()

	list, err := s.query(ctx, s.db.Driver, q, args)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return list, nil
}

func (s *Service) query(ctx context.Context, eq dialect.ExecQuerier, q string, args []any) ([]*Payment, error) {
	var list []*Payment
	err := database.Query(ctx, eq, q, args, func(rows *entsql.Rows) error {
		var (
			p           Payment
			providerRef sql.NullString
			completedAt sql.NullTime
		)
		if err := rows.Scan(
			&p.ID, &p.UserID, &p.AmountCents, &p.Currency, &p.Status, &p.Provider,
			&providerRef, &p.PackageID, &p.Tokens, &p.CreatedAt, &p.UpdatedAt, &completedAt,
		); err != nil {
			return err
		}
		p.ProviderRef = providerRef.String
		p.CompletedAt = database.NullTime(completedAt)
		list = append(list, &p)
		return nil
	})
	return list, err
}

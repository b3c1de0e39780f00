// Package payout turns bonus wallet balances into reviewed withdrawals.
package payout

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
	"github.com/jordanlanch/companion-api/pkg/database"
	"github.com/jordanlanch/companion-api/pkg/domain"
	"github.com/jordanlanch/companion-api/pkg/logger"
	"github.com/jordanlanch/companion-api/pkg/settings"
	"golang.org/x/text/unicode/norm"
)

// Withdrawal statuses
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// Payout methods
const (
	MethodPayPal       = "paypal"
	MethodBankTransfer = "bank_transfer"
	MethodCrypto       = "crypto"
)

// Withdrawal is a request to pay out bonus wallet funds
type Withdrawal struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	AmountCents int64      `json:"amount_cents"`
	Method      string     `json:"method"`
	Destination string     `json:"destination"`
	Status      string     `json:"status"`
	AdminNote   string     `json:"admin_note,omitempty"`
	ProcessedBy string     `json:"processed_by,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	// ContactEmail receives status notifications; never exposed
	ContactEmail string `json:"-"`
}

// Wallets moves funds in and out of bonus wallets inside a transaction
type Wallets interface {
	Debit(ctx context.Context, eq dialect.ExecQuerier, userID string, amount int64) error
	Refund(ctx context.Context, eq dialect.ExecQuerier, userID string, amount int64) error
}

// Settings exposes the capability switch and withdrawal limits
type Settings interface {
	settings.Capabilities
	Int(key string) int64
}

// Recorder receives withdrawal metrics
type Recorder interface {
	RecordWithdrawal(status string)
}

// Notifier tells users about their withdrawals
type Notifier interface {
	WithdrawalRequested(w *Withdrawal) error
	WithdrawalReviewed(w *Withdrawal) error
}

var columns = []string{
	"id", "user_id", "amount_cents", "method", "destination", "status",
	"admin_note", "processed_by", "processed_at", "created_at", "updated_at",
	"contact_email",
}

// Service manages withdrawals
type Service struct {
	db       *database.Client
	wallets  Wallets
	settings Settings
	recorder Recorder
	notifier Notifier
	logger   logger.Logger
}

// NewService creates a new payout service
func NewService(db *database.Client, w Wallets, s Settings, log logger.Logger) *Service {
	return &Service{
		db:       db,
		wallets:  w,
		settings: s,
		logger:   log.With("component", "payout"),
	}
}

// SetRecorder sets the withdrawal metrics recorder
func (s *Service) SetRecorder(r Recorder) {
	s.recorder = r
}

// SetNotifier sets the user notifier
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// Request debits the user's bonus wallet and records a pending withdrawal.
// contactEmail may be empty.
func (s *Service) Request(ctx context.Context, userID string, amountCents int64, method, destination, contactEmail string) (*Withdrawal, error) {
	if !s.settings.MonetizationEnabled() {
		return nil, domain.NewFeatureDisabledError("monetization")
	}
	if err := validateMethod(method); err != nil {
		return nil, err
	}
	destination = strings.TrimSpace(norm.NFKC.String(destination))
	if destination == "" {
		return nil, domain.NewValidationError("destination is required")
	}

	minCents := s.settings.Int(settings.KeyMinWithdrawalCents)
	maxCents := s.settings.Int(settings.KeyMaxWithdrawalCents)
	if amountCents < minCents || amountCents <= 0 {
		return nil, domain.NewValidationError(fmt.Sprintf("minimum withdrawal is %d cents", minCents))
	}
	if maxCents > 0 && amountCents > maxCents {
		return nil, domain.NewValidationError(fmt.Sprintf("maximum withdrawal is %d cents", maxCents))
	}

	now := time.Now().UTC()
	w := &Withdrawal{
		ID:          uuid.NewString(),
		UserID:      userID,
		AmountCents: amountCents,
		Method:      method,
		Destination: destination,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,

		ContactEmail: strings.TrimSpace(contactEmail),
	}

	err := s.db.WithTx(ctx, func(tx dialect.Tx) error {
		if err := s.wallets.Debit(ctx, tx, userID, amountCents); err != nil {
			return err
		}

		b := s.db.Builder()
		q, args := b.Insert(database.WithdrawalsTable).
			Columns("id", "user_id", "amount_cents", "method", "destination", "status", "admin_note", "created_at", "updated_at", "contact_email").
			Values(w.ID, w.UserID, w.AmountCents, w.Method, w.Destination, w.Status, "", now, now, w.ContactEmail).
			Query()
		if _, err := database.Exec(ctx, tx, q, args); err != nil {
			return fmt.Errorf("failed to record withdrawal: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.record("requested")
	s.logger.Info("withdrawal requested", "withdrawal_id", w.ID, "user_id", userID, "amount_cents", amountCents)
	if s.notifier != nil {
		s.notify(w, s.notifier.WithdrawalRequested(w))
	}
	return w, nil
}

// Approve marks a pending withdrawal as paid out
func (s *Service) Approve(ctx context.Context, id, adminID, note string) (*Withdrawal, error) {
	return s.review(ctx, id, adminID, note, StatusApproved)
}

// Reject declines a pending withdrawal and returns the funds to the wallet
func (s *Service) Reject(ctx context.Context, id, adminID, note string) (*Withdrawal, error) {
	return s.review(ctx, id, adminID, note, StatusRejected)
}

func (s *Service) review(ctx context.Context, id, adminID, note, status string) (*Withdrawal, error) {
	var w *Withdrawal
	err := s.db.WithTx(ctx, func(tx dialect.Tx) error {
		var err error
		w, err = s.getTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if w.Status != StatusPending {
			return domain.NewConflictError(fmt.Sprintf("withdrawal is %s", w.Status))
		}

		now := time.Now().UTC()
		b := s.db.Builder()
		q, args := b.Update(database.WithdrawalsTable).
			Set("status", status).
			Set("admin_note", note).
			Set("processed_by", adminID).
			Set("processed_at", now).
			Set("updated_at", now).
			Where(entsql.And(
				entsql.EQ("id", id),
				entsql.EQ("status", StatusPending),
			)).
			Query()
		n, err := database.Exec(ctx, tx, q, args)
		if err != nil {
			return fmt.Errorf("failed to update withdrawal: %w", err)
		}
		if n == 0 {
			return domain.NewConflictError("withdrawal was already reviewed")
		}

		if status == StatusRejected {
			if err := s.wallets.Refund(ctx, tx, w.UserID, w.AmountCents); err != nil {
				return err
			}
		}

		w.Status = status
		w.AdminNote = note
		w.ProcessedBy = adminID
		w.ProcessedAt = &now
		w.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.record(status)
	s.logger.Info("withdrawal reviewed", "withdrawal_id", id, "status", status, "admin_id", adminID)
	if s.notifier != nil {
		s.notify(w, s.notifier.WithdrawalReviewed(w))
	}
	return w, nil
}

// Get returns a withdrawal by ID
func (s *Service) Get(ctx context.Context, id string) (*Withdrawal, error) {
	return s.getTx(ctx, s.db.Driver, id)
}

func (s *Service) getTx(ctx context.Context, eq dialect.ExecQuerier, id string) (*Withdrawal, error) {
	b := s.db.Builder()
	q, args := b.Select(columns...).
		From(b.Table(database.WithdrawalsTable)).
		Where(entsql.EQ("id", id)).
		Query()

	list, err := s.query(ctx, eq, q, args)
	if err != nil {
		return nil, fmt.Errorf("failed to get withdrawal: %w", err)
	}
	if len(list) == 0 {
		return nil, domain.NewNotFoundError("withdrawal")
	}
	return list[0], nil
}

// ListForUser returns a user's withdrawals, newest first
func (s *Service) ListForUser(ctx context.Context, userID string, limit, offset int) ([]*Withdrawal, error) {
	return s.list(ctx, entsql.EQ("user_id", userID), limit, offset)
}

// List returns withdrawals with the given status, or all when status is
// empty, newest first
func (s *Service) List(ctx context.Context, status string, limit, offset int) ([]*Withdrawal, error) {
	var p *entsql.Predicate
	if status != "" {
		if err := validateStatus(status); err != nil {
			return nil, err
		}
		p = entsql.EQ("status", status)
	}
	return s.list(ctx, p, limit, offset)
}

func (s *Service) list(ctx context.Context, p *entsql.Predicate, limit, offset int) ([]*Withdrawal, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	b := s.db.Builder()
	sel := b.Select(columns...).From(b.Table(database.WithdrawalsTable))
	if p != nil {
		sel.Where(p)
	}
	q, args := sel.OrderBy(entsql.Desc("created_at")).
		Limit(limit).
		Offset(offset).
		Query()

	list, err := s.query(ctx, s.db.Driver, q, args)
	if err != nil {
		return nil, fmt.Errorf("failed to list withdrawals: %w", err)
	}
	if list == nil {
		list = []*Withdrawal{}
	}
	return list, nil
}

func (s *Service) query(ctx context.Context, eq dialect.ExecQuerier, q string, args []any) ([]*Withdrawal, error) {
	var list []*Withdrawal
	err := database.Query(ctx, eq, q, args, func(rows *entsql.Rows) error {
		var (
			w           Withdrawal
			processedBy sql.NullString
			processedAt sql.NullTime
		)
		if err := rows.Scan(
			&w.ID, &w.UserID, &w.AmountCents, &w.Method, &w.Destination, &w.Status,
			&w.AdminNote, &processedBy, &processedAt, &w.CreatedAt, &w.UpdatedAt,
			&w.ContactEmail,
		); err != nil {
			return err
		}
		w.ProcessedBy = processedBy.String
		w.ProcessedAt = database.NullTime(processedAt)
		list = append(list, &w)
		return nil
	})
	return list, err
}

// The withdrawal is already committed; a failed email is only logged
func (s *Service) notify(w *Withdrawal, err error) {
	if err != nil {
		s.logger.Warn("withdrawal notification failed", "withdrawal_id", w.ID, "status", w.Status, "error", err)
	}
}

func (s *Service) record(status string) {
	if s.recorder != nil {
		s.recorder.RecordWithdrawal(status)
	}
}

func validateMethod(method string) error {
	switch method {
	case MethodPayPal, MethodBankTransfer, MethodCrypto:
		return nil
	}
	return domain.NewValidationError("unsupported payout method: " + method)
}

func validateStatus(status string) error {
	switch status {
	case StatusPending, StatusApproved, StatusRejected:
		return nil
	}
	return domain.NewValidationError("unknown withdrawal status: " + status)
}

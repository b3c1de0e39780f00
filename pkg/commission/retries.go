package commission

import (
	"context"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/jordanlanch/companion-api/pkg/database"
)

// MaxRetryAttempts stops retrying a payment after this many failed attempts
const MaxRetryAttempts = 10

// Retry is a payment whose last distribution left levels uncredited
type Retry struct {
	PaymentID string    `json:"payment_id"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PendingRetries returns payments awaiting redistribution, least recently
// attempted first
func (l *Ledger) PendingRetries(ctx context.Context, limit int) ([]Retry, error) {
	b := l.db.Builder()
	q, args := b.Select("payment_id", "attempts", "last_error", "updated_at").
		From(b.Table(database.CommissionRetriesTable)).
		Where(entsql.LT("attempts", MaxRetryAttempts)).
		OrderBy("updated_at").
		Limit(limit).
		Query()

	var retries []Retry
	err := database.Query(ctx, l.db.Driver, q, args, func(rows *entsql.Rows) error {
		var r Retry
		if err := rows.Scan(&r.PaymentID, &r.Attempts, &r.LastError, &r.UpdatedAt); err != nil {
			return err
		}
		retries = append(retries, r)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list commission retries: %w", err)
	}
	return retries, nil
}

// recordRetry is best effort; the reconciliation scan still finds payments
// with no ledger rows. It outlives ctx so interrupted walks are recorded.
func (l *Ledger) recordRetry(ctx context.Context, paymentID, reason string) {
	ctx = context.WithoutCancel(ctx)
	if len(reason) > 1024 {
		reason = reason[:1024]
	}
	now := time.Now().UTC()
	b := l.db.Builder()
	q, args := b.Insert(database.CommissionRetriesTable).
		Columns("payment_id", "attempts", "last_error", "created_at", "updated_at").
		Values(paymentID, 1, reason, now, now).
		OnConflict(
			entsql.ConflictColumns("payment_id"),
			entsql.ResolveWith(func(u *entsql.UpdateSet) {
				u.Add("attempts", 1)
				u.SetExcluded("last_error")
				u.SetExcluded("updated_at")
			}),
		).
		Query()
	if _, err := database.Exec(ctx, l.db.Driver, q, args); err != nil {
		l.logger.Error("Failed to record commission retry", "payment_id", paymentID, "error", err)
	}
}

func (l *Ledger) clearRetry(ctx context.Context, paymentID string) {
	b := l.db.Builder()
	q, args := b.Delete(database.CommissionRetriesTable).
		Where(entsql.EQ("payment_id", paymentID)).
		Query()
	if _, err := database.Exec(ctx, l.db.Driver, q, args); err != nil {
		l.logger.Warn("Failed to clear commission retry", "payment_id", paymentID, "error", err)
	}
}

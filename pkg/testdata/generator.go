// Package testdata generates referral trees and payments for tests and local seeding.
package testdata

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/jordanlanch/companion-api/pkg/database"
	"github.com/jordanlanch/companion-api/pkg/payments"
)

// Edge links a referred user to the user who referred them
type Edge struct {
	ReferredUserID string
	ReferrerID     string
}

// TreeConfig configures referral tree generation
type TreeConfig struct {
	Users      int
	RootChance float64 // 0.0-1.0 (probability a user signed up without a referrer)
}

// PaymentConfig configures payment generation
type PaymentConfig struct {
	MinCents int64
	MaxCents int64
	Status   string
	Window   time.Duration // completed_at falls within now-Window and now
}

// DefaultPaymentConfig mirrors the token package price range
func DefaultPaymentConfig() PaymentConfig {
	return PaymentConfig{
		MinCents: 499,
		MaxCents: 4999,
		Status:   payments.StatusCompleted,
		Window:   48 * time.Hour,
	}
}

// UserID returns a random user ID
func UserID() string {
	return gofakeit.UUID()
}

// Chain returns n users where each one referred the next, root first
func Chain(n int) ([]string, []Edge) {
	users := make([]string, n)
	edges := make([]Edge, 0, n)
	for i := range users {
		users[i] = UserID()
		if i > 0 {
			edges = append(edges, Edge{ReferredUserID: users[i], ReferrerID: users[i-1]})
		}
	}
	return users, edges
}

// GenerateTree creates users whose referrers are picked among earlier users,
// so the graph is always a forest
func GenerateTree(config TreeConfig) ([]string, []Edge) {
	users := make([]string, config.Users)
	var edges []Edge
	for i := range users {
		users[i] = UserID()
		if i == 0 || rand.Float64() < config.RootChance {
			continue
		}
		edges = append(edges, Edge{
			ReferredUserID: users[i],
			ReferrerID:     users[rand.Intn(i)],
		})
	}
	return users, edges
}

// GeneratePayment creates a single payment for userID
func GeneratePayment(userID string, config PaymentConfig) *payments.Payment {
	amount := config.MinCents
	if config.MaxCents > config.MinCents {
		amount += rand.Int63n(config.MaxCents - config.MinCents + 1)
	}

	now := time.Now().UTC()
	created := now
	if config.Window > 0 {
		created = now.Add(-time.Duration(rand.Int63n(int64(config.Window))))
	}

	p := &payments.Payment{
		ID:          gofakeit.UUID(),
		UserID:      userID,
		AmountCents: amount,
		Currency:    "usd",
		Status:      config.Status,
		Provider:    "stripe",
		CreatedAt:   created,
		UpdatedAt:   created,
	}
	if p.Status == payments.StatusCompleted || p.Status == payments.StatusPaid {
		p.CompletedAt = &created
	}
	return p
}

// GeneratePayments creates count payments spread across users
func GeneratePayments(users []string, count int, config PaymentConfig) []*payments.Payment {
	list := make([]*payments.Payment, count)
	for i := range list {
		list[i] = GeneratePayment(users[rand.Intn(len(users))], config)
	}
	return list
}

// InsertEdges writes referral edges directly, bypassing cycle checks
func InsertEdges(ctx context.Context, db *database.Client, edges []Edge) error {
	now := time.Now().UTC()
	for _, e := range edges {
		q, args := db.Builder().Insert(database.ReferralEdgesTable).
			Columns("referred_user_id", "referrer_id", "created_at").
			Values(e.ReferredUserID, e.ReferrerID, now).
			Query()
		if _, err := database.Exec(ctx, db.Driver, q, args); err != nil {
			return fmt.Errorf("failed to insert edge %s: %w", e.ReferredUserID, err)
		}
	}
	return nil
}

// BulkInsertPayments inserts payments in batches
func BulkInsertPayments(ctx context.Context, db *database.Client, list []*payments.Payment, batchSize int) error {
	if batchSize <= 0 {
		batchSize = 100
	}
	for i := 0; i < len(list); i += batchSize {
		end := i + batchSize
		if end > len(list) {
			end = len(list)
		}

		insert := db.Builder().Insert(database.PaymentsTable).
			Columns("id", "user_id", "amount_cents", "currency", "status", "provider", "package_id", "tokens", "created_at", "updated_at", "completed_at")
		for _, p := range list[i:end] {
			insert.Values(p.ID, p.UserID, p.AmountCents, p.Currency, p.Status, p.Provider, p.PackageID, p.Tokens, p.CreatedAt, p.UpdatedAt, p.CompletedAt)
		}
		q, args := insert.Query()
		if _, err := database.Exec(ctx, db.Driver, q, args); err != nil {
			return fmt.Errorf("failed to insert batch %d-%d: %w", i, end, err)
		}
	}
	return nil
}

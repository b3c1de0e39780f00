package payout

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/jordanlanch/companion-api/pkg/database"
	"github.com/jordanlanch/companion-api/pkg/database/dbtest"
	"github.com/jordanlanch/companion-api/pkg/domain"
	"github.com/jordanlanch/companion-api/pkg/logger"
	"github.com/jordanlanch/companion-api/pkg/settings"
	"github.com/jordanlanch/companion-api/pkg/wallet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type statusCounter map[string]int

func (s statusCounter) RecordWithdrawal(status string) { s[status]++ }

type payoutEnv struct {
	db       *database.Client
	svc      *Service
	wallets  *wallet.Service
	settings *settings.Service
	recorded statusCounter
}

func setupPayout(t *testing.T) *payoutEnv {
	db := dbtest.Open(t)
	st := settings.NewService(db, logger.Nop())
	require.NoError(t, st.Load(context.Background()))

	env := &payoutEnv{
		db:       db,
		wallets:  wallet.NewService(db),
		settings: st,
		recorded: statusCounter{},
	}
	env.svc = NewService(db, env.wallets, st, logger.Nop())
	env.svc.SetRecorder(env.recorded)
	return env
}

func (e *payoutEnv) fund(t *testing.T, userID string, cents int64) {
	require.NoError(t, e.wallets.Credit(context.Background(), e.db.Driver, userID, cents))
}

func (e *payoutEnv) balance(t *testing.T, userID string) int64 {
	w, err := e.wallets.Get(context.Background(), userID)
	require.NoError(t, err)
	return w.BalanceCents
}

func TestRequest_DebitsWallet(t *testing.T) {
	env := setupPayout(t)
	ctx := context.Background()
	env.fund(t, "alice", 5000)

	w, err := env.svc.Request(ctx, "alice", 2000, MethodPayPal, "  alice@example.com ", "")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, w.Status)
	assert.Equal(t, "alice@example.com", w.Destination)
	assert.Equal(t, int64(3000), env.balance(t, "alice"))
	assert.Equal(t, 1, env.recorded["requested"])

	got, err := env.svc.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), got.AmountCents)
}

func TestRequest_Validation(t *testing.T) {
	env := setupPayout(t)
	ctx := context.Background()
	env.fund(t, "alice", 500000)

	tests := []struct {
		name        string
		amount      int64
		method      string
		destination string
	}{
		{"below minimum", 999, MethodPayPal, "alice@example.com"},
		{"above maximum", 100001, MethodPayPal, "alice@example.com"},
		{"negative", -5, MethodPayPal, "alice@example.com"},
		{"unknown method", 2000, "cheque", "alice@example.com"},
		{"blank destination", 2000, MethodBankTransfer, "   "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.Request(ctx, "alice", tt.amount, tt.method, tt.destination, "")
			assert.True(t, domain.IsValidation(err), "got %v", err)
		})
	}
	assert.Equal(t, int64(500000), env.balance(t, "alice"))
}

func TestRequest_InsufficientFunds(t *testing.T) {
	env := setupPayout(t)
	ctx := context.Background()
	env.fund(t, "alice", 1500)

	_, err := env.svc.Request(ctx, "alice", 2000, MethodPayPal, "alice@example.com", "")
	assert.True(t, domain.IsInsufficientFunds(err))

	list, err := env.svc.ListForUser(ctx, "alice", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Equal(t, int64(1500), env.balance(t, "alice"))
}

func TestRequest_MonetizationDisabled(t *testing.T) {
	env := setupPayout(t)
	ctx := context.Background()
	env.fund(t, "alice", 5000)

	_, err := env.settings.Set(ctx, settings.KeyMonetizationEnabled, "false", "admin")
	require.NoError(t, err)

	_, err = env.svc.Request(ctx, "alice", 2000, MethodPayPal, "alice@example.com", "")
	assert.True(t, domain.IsFeatureDisabled(err))
}

func TestRequest_HonoursUpdatedLimits(t *testing.T) {
	env := setupPayout(t)
	ctx := context.Background()
	env.fund(t, "alice", 5000)

	_, err := env.settings.Set(ctx, settings.KeyMinWithdrawalCents, "100", "admin")
	require.NoError(t, err)

	_, err = env.svc.Request(ctx, "alice", 150, MethodCrypto, "0xabc", "")
	assert.NoError(t, err)
}

func TestApprove(t *testing.T) {
	env := setupPayout(t)
	ctx := context.Background()
	env.fund(t, "alice", 5000)

	w, err := env.svc.Request(ctx, "alice", 2000, MethodPayPal, "alice@example.com", "")
	require.NoError(t, err)

	approved, err := env.svc.Approve(ctx, w.ID, "admin-1", "sent")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, approved.Status)
	assert.Equal(t, "admin-1", approved.ProcessedBy)
	require.NotNil(t, approved.ProcessedAt)
	assert.Equal(t, int64(3000), env.balance(t, "alice"))

	_, err = env.svc.Reject(ctx, w.ID, "admin-1", "too late")
	assert.True(t, domain.IsConflict(err))
	assert.Equal(t, int64(3000), env.balance(t, "alice"))

	_, err = env.svc.Approve(ctx, "missing", "admin-1", "")
	assert.True(t, domain.IsNotFound(err))
}

func TestReject_RefundsBalanceOnly(t *testing.T) {
	env := setupPayout(t)
	ctx := context.Background()
	env.fund(t, "alice", 5000)

	w, err := env.svc.Request(ctx, "alice", 2000, MethodPayPal, "alice@example.com", "")
	require.NoError(t, err)

	rejected, err := env.svc.Reject(ctx, w.ID, "admin-1", "invalid account")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, rejected.Status)
	assert.Equal(t, "invalid account", rejected.AdminNote)

	wal, err := env.wallets.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), wal.BalanceCents)
	assert.Equal(t, int64(5000), wal.LifetimeEarningsCents)
	assert.Equal(t, 1, env.recorded[StatusRejected])
}

func TestList(t *testing.T) {
	env := setupPayout(t)
	ctx := context.Background()
	env.fund(t, "alice", 10000)
	env.fund(t, "bob", 10000)

	w1, err := env.svc.Request(ctx, "alice", 2000, MethodPayPal, "alice@example.com", "")
	require.NoError(t, err)
	_, err = env.svc.Request(ctx, "bob", 3000, MethodBankTransfer, "DE89370400440532013000", "")
	require.NoError(t, err)
	_, err = env.svc.Approve(ctx, w1.ID, "admin-1", "")
	require.NoError(t, err)

	all, err := env.svc.List(ctx, "", 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pending, err := env.svc.List(ctx, StatusPending, 10, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "bob", pending[0].UserID)

	_, err = env.svc.List(ctx, "paid", 10, 0)
	assert.True(t, domain.IsValidation(err))

	mine, err := env.svc.ListForUser(ctx, "alice", 10, 0)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, StatusApproved, mine[0].Status)
}

func TestExportXLSX(t *testing.T) {
	env := setupPayout(t)
	ctx := context.Background()
	env.fund(t, "alice", 10000)

	_, err := env.svc.Request(ctx, "alice", 1250, MethodPayPal, "alice@example.com", "")
	require.NoError(t, err)
	_, err = env.svc.Request(ctx, "alice", 3000, MethodCrypto, "0xabc", "")
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := env.svc.ExportXLSX(ctx, &buf, StatusPending)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(exportSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, exportHeaders, rows[0])

	amounts := []string{rows[1][3], rows[2][3]}
	assert.Contains(t, amounts[0]+amounts[1], "$")
	assert.Contains(t, amounts[0]+amounts[1], "12.5")
}

type notifications struct {
	requested []*Withdrawal
	reviewed  []*Withdrawal
	err       error
}

func (n *notifications) WithdrawalRequested(w *Withdrawal) error {
	n.requested = append(n.requested, w)
	return n.err
}

func (n *notifications) WithdrawalReviewed(w *Withdrawal) error {
	n.reviewed = append(n.reviewed, w)
	return n.err
}

func TestNotifications(t *testing.T) {
	env := setupPayout(t)
	ctx := context.Background()
	env.fund(t, "alice", 5000)

	n := &notifications{}
	env.svc.SetNotifier(n)

	w, err := env.svc.Request(ctx, "alice", 2000, MethodPayPal, "alice@paypal.example", " alice@example.com ")
	require.NoError(t, err)
	require.Len(t, n.requested, 1)
	assert.Equal(t, "alice@example.com", n.requested[0].ContactEmail)

	// Delivery failures never undo the review
	n.err = errors.New("sendgrid down")
	approved, err := env.svc.Approve(ctx, w.ID, "admin-1", "")
	require.NoError(t, err)
	require.Len(t, n.reviewed, 1)
	assert.Equal(t, StatusApproved, n.reviewed[0].Status)
	assert.Equal(t, "alice@example.com", n.reviewed[0].ContactEmail)
	assert.Equal(t, StatusApproved, approved.Status)
}

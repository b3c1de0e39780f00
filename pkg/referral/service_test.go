package referral

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jordanlanch/companion-api/pkg/cache"
	"github.com/jordanlanch/companion-api/pkg/database"
	"github.com/jordanlanch/companion-api/pkg/database/dbtest"
	"github.com/jordanlanch/companion-api/pkg/domain"
	"github.com/jordanlanch/companion-api/pkg/logger"
	"github.com/jordanlanch/companion-api/pkg/settings"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var enabled = settings.Static{Monetization: true, Referrals: true}

func setupService(t *testing.T) (*Service, *database.Client) {
	db := dbtest.Open(t)
	return NewService(db, enabled, nil, logger.Nop()), db
}

func TestLinkReferrer(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	t.Run("Success - Link and look up", func(t *testing.T) {
		require.NoError(t, svc.LinkReferrer(ctx, "bob", "alice"))

		referrer, found, err := svc.Referrer(ctx, "bob")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "alice", referrer)
	})

	t.Run("No referrer", func(t *testing.T) {
		_, found, err := svc.Referrer(ctx, "alice")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("Error - Self referral", func(t *testing.T) {
		err := svc.LinkReferrer(ctx, "carol", "carol")
		assert.True(t, domain.IsValidation(err))
	})

	t.Run("Error - Second referrer", func(t *testing.T) {
		err := svc.LinkReferrer(ctx, "bob", "dave")
		assert.True(t, domain.IsConflict(err))

		referrer, _, err := svc.Referrer(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, "alice", referrer, "edges are never rewritten")
	})

	t.Run("Error - Cycle", func(t *testing.T) {
		// alice <- bob <- carol; linking alice under carol closes the loop
		require.NoError(t, svc.LinkReferrer(ctx, "carol", "bob"))

		err := svc.LinkReferrer(ctx, "alice", "carol")
		assert.True(t, domain.IsValidation(err))

		_, found, err := svc.Referrer(ctx, "alice")
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func TestGetOrCreateCode(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	code, err := svc.GetOrCreateCode(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, code, codeLength)

	again, err := svc.GetOrCreateCode(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, code, again)

	other, err := svc.GetOrCreateCode(ctx, "bob")
	require.NoError(t, err)
	assert.NotEqual(t, code, other)
}

func TestApplyCode(t *testing.T) {
	svc, db := setupService(t)
	ctx := context.Background()

	code, err := svc.GetOrCreateCode(ctx, "alice")
	require.NoError(t, err)

	t.Run("Success - Lower case code", func(t *testing.T) {
		owner, err := svc.ApplyCode(ctx, " "+strings.ToLower(code)+" ", "bob")
		require.NoError(t, err)
		assert.Equal(t, "alice", owner)
	})

	t.Run("Error - Unknown code", func(t *testing.T) {
		_, err := svc.ApplyCode(ctx, "NOPE1234", "carol")
		assert.True(t, domain.IsNotFound(err))
	})

	t.Run("Error - Referrals disabled", func(t *testing.T) {
		disabled := NewService(db, settings.Static{Monetization: true}, nil, logger.Nop())
		_, err := disabled.ApplyCode(ctx, code, "dave")
		assert.True(t, domain.IsFeatureDisabled(err))
	})
}

func insertCommission(t *testing.T, db *database.Client, beneficiary string, level int, cents int64) {
	b := db.Builder()
	q, args := b.Insert(database.CommissionTransactionsTable).
		Columns("id", "payment_id", "beneficiary_user_id", "payer_user_id", "level", "rate", "amount_cents", "created_at").
		Values(uuid.NewString(), uuid.NewString(), beneficiary, "payer", level, 0.5, cents, time.Now().UTC()).
		Query()
	_, err := database.Exec(context.Background(), db.Driver, q, args)
	require.NoError(t, err)
}

func TestGetStats(t *testing.T) {
	svc, db := setupService(t)
	ctx := context.Background()

	// alice <- bob, carol; bob <- dave; dave <- erin
	require.NoError(t, svc.LinkReferrer(ctx, "bob", "alice"))
	require.NoError(t, svc.LinkReferrer(ctx, "carol", "alice"))
	require.NoError(t, svc.LinkReferrer(ctx, "dave", "bob"))
	require.NoError(t, svc.LinkReferrer(ctx, "erin", "dave"))

	insertCommission(t, db, "alice", 1, 500)
	insertCommission(t, db, "alice", 2, 50)
	insertCommission(t, db, "alice", 3, 25)

	stats, err := svc.GetStats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.DirectReferrals)
	assert.Equal(t, 1, stats.Level2Referrals)
	assert.Equal(t, 1, stats.Level3Referrals)
	assert.Equal(t, int64(500), stats.Level1Cents)
	assert.Equal(t, int64(50), stats.Level2Cents)
	assert.Equal(t, int64(25), stats.Level3Cents)
	assert.Equal(t, int64(575), stats.LifetimeCents)

	empty, err := svc.GetStats(ctx, "nobody")
	require.NoError(t, err)
	assert.Equal(t, &Stats{}, empty)
}

type cacheCounter struct{ hits, misses int }

func (c *cacheCounter) RecordCacheHit(string)  { c.hits++ }
func (c *cacheCounter) RecordCacheMiss(string) { c.misses++ }

func TestGetStats_Cached(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	c := &cache.Client{Redis: redis.NewClient(&redis.Options{Addr: mr.Addr()})}
	defer c.Close()

	db := dbtest.Open(t)
	svc := NewService(db, enabled, c, logger.Nop())
	rec := &cacheCounter{}
	svc.SetRecorder(rec)
	ctx := context.Background()

	require.NoError(t, svc.LinkReferrer(ctx, "bob", "alice"))

	stats, err := svc.GetStats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DirectReferrals)
	assert.True(t, mr.Exists("referral:stats:alice"))

	_, err = svc.GetStats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.hits)
	assert.Equal(t, 1, rec.misses)

	// Linking below alice's downline invalidates her cached stats
	require.NoError(t, svc.LinkReferrer(ctx, "carol", "bob"))
	assert.False(t, mr.Exists("referral:stats:alice"))

	stats, err = svc.GetStats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Level2Referrals)
}

package referral

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/jordanlanch/companion-api/pkg/cache"
	"github.com/jordanlanch/companion-api/pkg/database"
	"github.com/jordanlanch/companion-api/pkg/domain"
	"github.com/jordanlanch/companion-api/pkg/logger"
	"github.com/jordanlanch/companion-api/pkg/settings"
)

const (
	codeLength = 8

	// Upper bound on ancestor walks when checking for cycles
	maxAncestorDepth = 256

	statsCacheTTL = 2 * time.Minute
)

// Service manages the referral graph and referral codes
type Service struct {
	db       *database.Client
	caps     settings.Capabilities
	cache    *cache.Client // optional
	recorder CacheRecorder
	logger   logger.Logger
}

// CacheRecorder receives stats cache hits and misses
type CacheRecorder interface {
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
}

// NewService creates a new referral service. cache may be nil.
func NewService(db *database.Client, caps settings.Capabilities, c *cache.Client, log logger.Logger) *Service {
	if log == nil {
		log = logger.Default()
	}
	return &Service{db: db, caps: caps, cache: c, logger: log.With("component", "referral")}
}

// Stats summarises a user's downline and commission earnings
type Stats struct {
	DirectReferrals int   `json:"direct_referrals"`
	Level2Referrals int   `json:"level2_referrals"`
	Level3Referrals int   `json:"level3_referrals"`
	Level1Cents     int64 `json:"level1_earnings_cents"`
	Level2Cents     int64 `json:"level2_earnings_cents"`
	Level3Cents     int64 `json:"level3_earnings_cents"`
	LifetimeCents   int64 `json:"lifetime_commission_cents"`
}

// SetRecorder sets the cache metrics recorder
func (s *Service) SetRecorder(r CacheRecorder) {
	s.recorder = r
}

// Referrer returns the user who referred userID
func (s *Service) Referrer(ctx context.Context, userID string) (string, bool, error) {
	return s.referrer(ctx, s.db.Driver, userID)
}

func (s *Service) referrer(ctx context.Context, eq dialect.ExecQuerier, userID string) (string, bool, error) {
	b := s.db.Builder()
	q, args := b.Select("referrer_id").
		From(b.Table(database.ReferralEdgesTable)).
		Where(entsql.EQ("referred_user_id", userID)).
		Limit(1).
		Query()

	var (
		referrerID string
		found      bool
	)
	err := database.Query(ctx, eq, q, args, func(rows *entsql.Rows) error {
		found = true
		return rows.Scan(&referrerID)
	})
	if err != nil {
		return "", false, fmt.Errorf("failed to query referrer: %w", err)
	}
	return referrerID, found, nil
}

// LinkReferrer records that referrerID referred referredUserID.
// A user has at most one referrer and the graph stays acyclic.
func (s *Service) LinkReferrer(ctx context.Context, referredUserID, referrerID string) error {
	if referredUserID == "" || referrerID == "" {
		return domain.NewValidationError("both users are required")
	}
	if referredUserID == referrerID {
		return domain.NewValidationError("cannot refer yourself")
	}

	err := s.db.WithTx(ctx, func(tx dialect.Tx) error {
		if _, found, err := s.referrer(ctx, tx, referredUserID); err != nil {
			return err
		} else if found {
			return domain.NewConflictError("user already has a referrer")
		}

		// Walk up from the referrer; meeting referredUserID means a cycle
		current := referrerID
		for depth := 0; ; depth++ {
			if depth >= maxAncestorDepth {
				return domain.NewValidationError("referral chain too deep")
			}
			parent, found, err := s.referrer(ctx, tx, current)
			if err != nil {
				return err
			}
			if !found {
				break
			}
			if parent == referredUserID {
				return domain.NewValidationError("referral would create a cycle")
			}
			current = parent
		}

		b := s.db.Builder()
		q, args := b.Insert(database.ReferralEdgesTable).
			Columns("referred_user_id", "referrer_id", "created_at").
			Values(referredUserID, referrerID, time.Now().UTC()).
			Query()
		if _, err := database.Exec(ctx, tx, q, args); err != nil {
			if database.IsUniqueViolation(err) {
				return domain.NewConflictError("user already has a referrer")
			}
			return fmt.Errorf("failed to link referrer: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("Referral linked", "referred_user_id", referredUserID, "referrer_id", referrerID)
	s.invalidateUpline(ctx, referrerID)
	return nil
}

// GetOrCreateCode returns the user's referral code, creating one on first use
func (s *Service) GetOrCreateCode(ctx context.Context, userID string) (string, error) {
	if code, found, err := s.codeFor(ctx, userID); err != nil {
		return "", err
	} else if found {
		return code, nil
	}

	for attempt := 0; attempt < 3; attempt++ {
		code, err := generateRandomCode(codeLength)
		if err != nil {
			return "", fmt.Errorf("failed to generate code: %w", err)
		}

		b := s.db.Builder()
		q, args := b.Insert(database.ReferralCodesTable).
			Columns("code", "user_id", "created_at").
			Values(code, userID, time.Now().UTC()).
			Query()
		_, err = database.Exec(ctx, s.db.Driver, q, args)
		if err == nil {
			return code, nil
		}
		if !database.IsUniqueViolation(err) {
			return "", fmt.Errorf("failed to create referral code: %w", err)
		}
		// Either a concurrent request created the user's code or the code collided
		if existing, found, err := s.codeFor(ctx, userID); err != nil {
			return "", err
		} else if found {
			return existing, nil
		}
	}

	return "", fmt.Errorf("failed to create referral code: too many collisions")
}

func (s *Service) codeFor(ctx context.Context, userID string) (string, bool, error) {
	b := s.db.Builder()
	q, args := b.Select("code").
		From(b.Table(database.ReferralCodesTable)).
		Where(entsql.EQ("user_id", userID)).
		Limit(1).
		Query()

	var (
		code  string
		found bool
	)
	err := database.Query(ctx, s.db.Driver, q, args, func(rows *entsql.Rows) error {
		found = true
		return rows.Scan(&code)
	})
	if err != nil {
		return "", false, fmt.Errorf("failed to query referral code: %w", err)
	}
	return code, found, nil
}

// ApplyCode links newUserID to the owner of code
func (s *Service) ApplyCode(ctx context.Context, code, newUserID string) (string, error) {
	if s.caps != nil && !s.caps.ReferralsEnabled() {
		return "", domain.NewFeatureDisabledError("referrals")
	}

	code = strings.ToUpper(strings.TrimSpace(code))
	b := s.db.Builder()
	q, args := b.Select("user_id").
		From(b.Table(database.ReferralCodesTable)).
		Where(entsql.EQ("code", code)).
		Limit(1).
		Query()

	var owner string
	err := database.Query(ctx, s.db.Driver, q, args, func(rows *entsql.Rows) error {
		return rows.Scan(&owner)
	})
	if err != nil {
		return "", fmt.Errorf("failed to query referral code: %w", err)
	}
	if owner == "" {
		return "", domain.NewNotFoundError("referral code")
	}

	if err := s.LinkReferrer(ctx, newUserID, owner); err != nil {
		return "", err
	}
	return owner, nil
}

// GetStats returns downline counts and commission earnings for userID
func (s *Service) GetStats(ctx context.Context, userID string) (*Stats, error) {
	key := statsCacheKey(userID)
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, key); err == nil {
			var stats Stats
			if json.Unmarshal([]byte(cached), &stats) == nil {
				if s.recorder != nil {
					s.recorder.RecordCacheHit("referral_stats")
				}
				return &stats, nil
			}
		}
		if s.recorder != nil {
			s.recorder.RecordCacheMiss("referral_stats")
		}
	}

	stats, err := s.computeStats(ctx, userID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if data, err := json.Marshal(stats); err == nil {
			_ = s.cache.Set(ctx, key, data, statsCacheTTL)
		}
	}
	return stats, nil
}

func (s *Service) computeStats(ctx context.Context, userID string) (*Stats, error) {
	b := s.db.Builder()
	stats := &Stats{}

	// Each level's members are the users referred by the previous level
	level1 := b.Select("referred_user_id").
		From(b.Table(database.ReferralEdgesTable)).
		Where(entsql.EQ("referrer_id", userID))
	level2 := b.Select("referred_user_id").
		From(b.Table(database.ReferralEdgesTable)).
		Where(entsql.In("referrer_id", level1))

	counts := []struct {
		dst   *int
		where *entsql.Predicate
	}{
		{&stats.DirectReferrals, entsql.EQ("referrer_id", userID)},
		{&stats.Level2Referrals, entsql.In("referrer_id", level1)},
		{&stats.Level3Referrals, entsql.In("referrer_id", level2)},
	}
	for _, c := range counts {
		q, args := b.Select(entsql.Count("*")).
			From(b.Table(database.ReferralEdgesTable)).
			Where(c.where).
			Query()
		n, err := database.Count(ctx, s.db.Driver, q, args)
		if err != nil {
			return nil, fmt.Errorf("failed to count referrals: %w", err)
		}
		*c.dst = n
	}

	q, args := b.Select("level", entsql.Sum("amount_cents")).
		From(b.Table(database.CommissionTransactionsTable)).
		Where(entsql.EQ("beneficiary_user_id", userID)).
		GroupBy("level").
		Query()
	err := database.Query(ctx, s.db.Driver, q, args, func(rows *entsql.Rows) error {
		var (
			level int
			sum   int64
		)
		if err := rows.Scan(&level, &sum); err != nil {
			return err
		}
		switch level {
		case 1:
			stats.Level1Cents = sum
		case 2:
			stats.Level2Cents = sum
		case 3:
			stats.Level3Cents = sum
		}
		stats.LifetimeCents += sum
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sum commissions: %w", err)
	}

	return stats, nil
}

// InvalidateStats drops cached stats for the given users
func (s *Service) InvalidateStats(ctx context.Context, userIDs ...string) {
	if s.cache == nil || len(userIDs) == 0 {
		return
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = statsCacheKey(id)
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.logger.Warn("Failed to invalidate referral stats", "error", err)
	}
}

// A new edge changes counts for the referrer and two levels above it
func (s *Service) invalidateUpline(ctx context.Context, referrerID string) {
	users := []string{referrerID}
	current := referrerID
	for i := 0; i < 2; i++ {
		parent, found, err := s.Referrer(ctx, current)
		if err != nil || !found {
			break
		}
		users = append(users, parent)
		current = parent
	}
	s.InvalidateStats(ctx, users...)
}

func statsCacheKey(userID string) string {
	return "referral:stats:" + userID
}

// Helper: Generate cryptographically secure random code
func generateRandomCode(length int) (string, error) {
	bytes := make([]byte, length/2) // Each byte = 2 hex characters
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(bytes)[:length]), nil
}

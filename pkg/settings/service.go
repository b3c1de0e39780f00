package settings

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/jordanlanch/companion-api/pkg/database"
	"github.com/jordanlanch/companion-api/pkg/domain"
	"github.com/jordanlanch/companion-api/pkg/logger"
)

// Capabilities answers feature gates for operations and routes
type Capabilities interface {
	MonetizationEnabled() bool
	ReferralsEnabled() bool
}

// Value is a setting as exposed to admins
type Value struct {
	Key         string    `json:"key"`
	Type        Type      `json:"type"`
	Value       any       `json:"value"`
	Default     any       `json:"default"`
	Description string    `json:"description"`
	Overridden  bool      `json:"overridden"`
	UpdatedBy   string    `json:"updated_by,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

type stored struct {
	value     any
	updatedBy string
	updatedAt time.Time
}

// Service holds parsed settings in memory; reads never touch the database
type Service struct {
	db     *database.Client
	logger logger.Logger

	mu     sync.RWMutex
	values map[string]stored

	// serialises Set so cross-key checks see the latest values
	writeMu sync.Mutex
}

// NewService creates a settings service populated with schema defaults
func NewService(db *database.Client, log logger.Logger) *Service {
	if log == nil {
		log = logger.Default()
	}
	return &Service{
		db:     db,
		logger: log.With("component", "settings"),
		values: map[string]stored{},
	}
}

// Load reads every stored override and parses it once.
// Unknown keys and unparseable values are logged and ignored.
func (s *Service) Load(ctx context.Context) error {
	b := s.db.Builder()
	q, args := b.Select("key", "value", "updated_by", "updated_at").
		From(b.Table(database.AppSettingsTable)).
		Query()

	values := map[string]stored{}
	err := database.Query(ctx, s.db.Driver, q, args, func(rows *entsql.Rows) error {
		var (
			key, raw  string
			updatedBy sql.NullString
			updatedAt time.Time
		)
		if err := rows.Scan(&key, &raw, &updatedBy, &updatedAt); err != nil {
			return err
		}
		def, ok := Schema[key]
		if !ok {
			s.logger.Warn("Ignoring unknown setting", "key", key)
			return nil
		}
		v, err := def.Parse(raw)
		if err != nil {
			s.logger.Warn("Ignoring invalid setting, using default", "key", key, "error", err)
			return nil
		}
		values[key] = stored{value: v, updatedBy: updatedBy.String, updatedAt: updatedAt}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	if lo, hi := withdrawalRange(values); lo > hi {
		s.logger.Warn("Ignoring inverted withdrawal range, using defaults", "min", lo, "max", hi)
		delete(values, KeyMinWithdrawalCents)
		delete(values, KeyMaxWithdrawalCents)
	}

	s.mu.Lock()
	s.values = values
	s.mu.Unlock()

	s.logger.Info("Settings loaded", "overrides", len(values))
	return nil
}

// Set validates raw against the schema, persists it and updates the snapshot
func (s *Service) Set(ctx context.Context, key, raw, updatedBy string) (*Value, error) {
	def, ok := Schema[key]
	if !ok {
		return nil, domain.NewNotFoundError("setting " + key)
	}
	v, err := def.Parse(raw)
	if err != nil {
		return nil, domain.NewValidationError(err.Error())
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.checkWithdrawalRange(key, v); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	b := s.db.Builder()
	q, args := b.Insert(database.AppSettingsTable).
		Columns("key", "value", "updated_by", "updated_at").
		Values(key, def.Format(v), updatedBy, now).
		OnConflict(entsql.ConflictColumns("key"), entsql.ResolveWithNewValues()).
		Query()
	if _, err := database.Exec(ctx, s.db.Driver, q, args); err != nil {
		return nil, fmt.Errorf("failed to save setting %s: %w", key, err)
	}

	s.mu.Lock()
	s.values[key] = stored{value: v, updatedBy: updatedBy, updatedAt: now}
	s.mu.Unlock()

	s.logger.Info("Setting updated", "key", key, "updated_by", updatedBy)

	val := s.value(def)
	return &val, nil
}

// checkWithdrawalRange rejects a value that would put the minimum withdrawal
// above the maximum
func (s *Service) checkWithdrawalRange(key string, v any) error {
	if key != KeyMinWithdrawalCents && key != KeyMaxWithdrawalCents {
		return nil
	}

	candidate := map[string]stored{}
	s.mu.RLock()
	for _, k := range []string{KeyMinWithdrawalCents, KeyMaxWithdrawalCents} {
		if st, ok := s.values[k]; ok {
			candidate[k] = st
		}
	}
	s.mu.RUnlock()
	candidate[key] = stored{value: v}

	if lo, hi := withdrawalRange(candidate); lo > hi {
		return domain.NewValidationError(fmt.Sprintf("%s (%d) must not exceed %s (%d)",
			KeyMinWithdrawalCents, lo, KeyMaxWithdrawalCents, hi))
	}
	return nil
}

// withdrawalRange returns the effective withdrawal bounds in values
func withdrawalRange(values map[string]stored) (int64, int64) {
	lookup := func(key string) int64 {
		if st, ok := values[key]; ok {
			if v, ok := st.value.(int64); ok {
				return v
			}
		}
		v, _ := Schema[key].Default.(int64)
		return v
	}
	return lookup(KeyMinWithdrawalCents), lookup(KeyMaxWithdrawalCents)
}

// List returns every setting with its effective value, sorted by key
func (s *Service) List() []Value {
	keys := make([]string, 0, len(Schema))
	for k := range Schema {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Value, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.value(Schema[k]))
	}
	return out
}

func (s *Service) value(def Definition) Value {
	s.mu.RLock()
	st, ok := s.values[def.Key]
	s.mu.RUnlock()

	v := Value{
		Key:         def.Key,
		Type:        def.Type,
		Value:       def.Default,
		Default:     def.Default,
		Description: def.Description,
	}
	if ok {
		v.Value = st.value
		v.Overridden = true
		v.UpdatedBy = st.updatedBy
		v.UpdatedAt = st.updatedAt
	}
	return v
}

func (s *Service) get(key string) any {
	s.mu.RLock()
	st, ok := s.values[key]
	s.mu.RUnlock()
	if ok {
		return st.value
	}
	return Schema[key].Default
}

// Bool returns a bool setting; non-bool keys yield false
func (s *Service) Bool(key string) bool {
	v, _ := s.get(key).(bool)
	return v
}

// Int returns an int setting; non-int keys yield 0
func (s *Service) Int(key string) int64 {
	v, _ := s.get(key).(int64)
	return v
}

// String returns a string setting; non-string keys yield ""
func (s *Service) String(key string) string {
	v, _ := s.get(key).(string)
	return v
}

// MonetizationEnabled reports whether purchases, withdrawals and commissions are on
func (s *Service) MonetizationEnabled() bool {
	return s.Bool(KeyMonetizationEnabled)
}

// ReferralsEnabled reports whether referral codes may be applied
func (s *Service) ReferralsEnabled() bool {
	return s.Bool(KeyReferralsEnabled)
}

// Static is a fixed Capabilities value
type Static struct {
	Monetization bool
	Referrals    bool
}

// MonetizationEnabled implements Capabilities
func (s Static) MonetizationEnabled() bool { return s.Monetization }

// ReferralsEnabled implements Capabilities
func (s Static) ReferralsEnabled() bool { return s.Referrals }

var (
	_ Capabilities = (*Service)(nil)
	_ Capabilities = Static{}
)

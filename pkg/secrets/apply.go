package secrets

import (
	"context"
	"errors"

	"github.com/jordanlanch/companion-api/config"
)

// Apply overrides credential fields of cfg with values held by m. Keys the
// manager does not know keep their configured value.
func Apply(ctx context.Context, m Manager, cfg *config.Config) error {
	fields := []struct {
		key    string
		target *string
	}{
		{"DATABASE_URL", &cfg.DatabaseURL},
		{"REDIS_URL", &cfg.RedisURL},
		{"JWT_SECRET", &cfg.JWTSecret},
		{"STRIPE_SECRET_KEY", &cfg.StripeSecretKey},
		{"STRIPE_WEBHOOK_SECRET", &cfg.StripeWebhookSecret},
		{"SENDGRID_API_KEY", &cfg.SendGridAPIKey},
		{"SENTRY_DSN", &cfg.SentryDSN},
	}

	for _, f := range fields {
		value, err := m.GetSecret(ctx, f.key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		*f.target = value
	}
	return nil
}

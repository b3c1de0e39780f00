package container

import (
	"context"
	"fmt"

	"github.com/jordanlanch/companion-api/config"
	"github.com/jordanlanch/companion-api/pkg/api/handlers"
	"github.com/jordanlanch/companion-api/pkg/auth"
	"github.com/jordanlanch/companion-api/pkg/billing"
	"github.com/jordanlanch/companion-api/pkg/cache"
	"github.com/jordanlanch/companion-api/pkg/commission"
	"github.com/jordanlanch/companion-api/pkg/database"
	"github.com/jordanlanch/companion-api/pkg/email"
	"github.com/jordanlanch/companion-api/pkg/jobs"
	"github.com/jordanlanch/companion-api/pkg/logger"
	"github.com/jordanlanch/companion-api/pkg/metrics"
	"github.com/jordanlanch/companion-api/pkg/payments"
	"github.com/jordanlanch/companion-api/pkg/payout"
	"github.com/jordanlanch/companion-api/pkg/referral"
	"github.com/jordanlanch/companion-api/pkg/settings"
	"github.com/jordanlanch/companion-api/pkg/tokens"
	"github.com/jordanlanch/companion-api/pkg/wallet"
)

// Container holds all application dependencies
type Container struct {
	Config  *config.Config
	Logger  logger.Logger
	Metrics *metrics.Metrics

	// Infrastructure
	DB    *database.Client
	Cache *cache.Client

	// Services
	EmailService    *email.Service
	Settings        *settings.Service
	PaymentService  *payments.Service
	TokenService    *tokens.Service
	WalletService   *wallet.Service
	ReferralService *referral.Service
	Ledger          *commission.Ledger
	BillingService  *billing.Service
	PayoutService   *payout.Service
	Reconciler      *jobs.Reconciler
	CronManager     *jobs.CronManager

	// Auth
	TokenBlacklist *auth.TokenBlacklist

	// Handlers
	BillingHandler    *handlers.BillingHandler
	WalletHandler     *handlers.WalletHandler
	ReferralHandler   *handlers.ReferralHandler
	WithdrawalHandler *handlers.WithdrawalHandler
	SettingsHandler   *handlers.SettingsHandler
	CommissionHandler *handlers.CommissionHandler
	JobsHandler       *handlers.JobsHandler
}

// New creates and initializes all application dependencies
func New(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*Container, error) {
	c := &Container{
		Config:  cfg,
		Logger:  logger.New(cfg.LogLevel),
		Metrics: m,
	}

	if err := c.initInfrastructure(ctx); err != nil {
		return nil, err
	}
	if err := c.initServices(ctx); err != nil {
		c.Close()
		return nil, err
	}
	c.initHandlers()

	c.Logger.Info("Container initialized successfully",
		"environment", cfg.APIEnvironment,
		"database", c.DB.Dialect(),
		"cache", "connected")

	return c, nil
}

// initInfrastructure connects to the database and cache and applies migrations
func (c *Container) initInfrastructure(ctx context.Context) error {
	var err error

	pool := database.DefaultPoolConfig()
	pool.MaxOpenConns = c.Config.DBMaxOpenConns
	pool.MaxIdleConns = c.Config.DBMaxIdleConns

	c.DB, err = database.NewClientWithPoolAndSSL(c.Config.DatabaseURL, pool, &database.SSLConfig{
		Mode:         c.Config.DBSSLMode,
		CertPath:     c.Config.DBSSLCertPath,
		KeyPath:      c.Config.DBSSLKeyPath,
		RootCertPath: c.Config.DBSSLRootCertPath,
	})
	if err != nil {
		c.Logger.Error("Failed to connect to database", "error", err)
		return err
	}

	if c.Config.RunMigrations {
		if err := c.DB.Migrate(ctx); err != nil {
			c.Logger.Error("Failed to run migrations", "error", err)
			c.DB.Close()
			return err
		}
	}

	c.Cache, err = cache.NewClient(c.Config.RedisURL)
	if err != nil {
		c.Logger.Error("Failed to connect to cache", "error", err)
		c.DB.Close()
		return err
	}

	c.Logger.Info("Infrastructure initialized",
		"database", "connected",
		"cache", "connected")

	return nil
}

// initServices wires the domain services
func (c *Container) initServices(ctx context.Context) error {
	c.Settings = settings.NewService(c.DB, c.Logger)
	if err := c.Settings.Load(ctx); err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	c.TokenBlacklist = auth.NewTokenBlacklist(c.Cache)

	c.PaymentService = payments.NewService(c.DB)
	c.TokenService = tokens.NewService(c.DB)
	c.WalletService = wallet.NewService(c.DB)

	c.ReferralService = referral.NewService(c.DB, c.Settings, c.Cache, c.Logger)
	c.ReferralService.SetRecorder(c.Metrics)

	c.Ledger = commission.NewLedger(c.DB, c.PaymentService, c.ReferralService, c.WalletService, c.Logger).
		WithLocker(cache.NewPaymentLocker(c.Cache, c.Config.PaymentLockTTL)).
		WithRecorder(c.Metrics)

	c.BillingService = billing.NewService(
		c.DB,
		c.PaymentService,
		c.TokenService,
		c.Ledger,
		c.Settings,
		&billing.StripeConfig{
			SecretKey:     c.Config.StripeSecretKey,
			WebhookSecret: c.Config.StripeWebhookSecret,
			SuccessURL:    c.Config.FrontendURL + "/billing?success=true",
			CancelURL:     c.Config.FrontendURL + "/billing?canceled=true",
			Currency:      c.Config.StripeCurrency,
		},
		c.Logger,
	)
	c.BillingService.SetRecorder(c.Metrics)

	c.EmailService = email.NewService(
		c.Config.EmailFrom,
		c.Config.EmailFromName,
		c.Config.FrontendURL,
		c.Config.SendGridAPIKey,
		c.Logger,
	)

	c.PayoutService = payout.NewService(c.DB, c.WalletService, c.Settings, c.Logger)
	c.PayoutService.SetRecorder(c.Metrics)
	c.PayoutService.SetNotifier(c.EmailService)

	c.Reconciler = jobs.NewReconciler(
		c.PaymentService,
		c.Ledger,
		c.Config.ReconcileLookback,
		c.Config.ReconcileBatchSize,
		c.Logger,
	).WithSettings(c.Settings).WithRecorder(c.Metrics)

	c.CronManager = jobs.NewCronManager(c.Reconciler, c.Logger)
	if err := c.CronManager.SetupJobs(c.Config.ReconcileSchedule); err != nil {
		return fmt.Errorf("failed to setup cron jobs: %w", err)
	}

	return nil
}

// initHandlers creates the HTTP handlers
func (c *Container) initHandlers() {
	c.BillingHandler = handlers.NewBillingHandler(c.BillingService, c.Logger)
	c.WalletHandler = handlers.NewWalletHandler(c.WalletService, c.TokenService)
	c.ReferralHandler = handlers.NewReferralHandler(c.ReferralService)
	c.WithdrawalHandler = handlers.NewWithdrawalHandler(c.PayoutService)
	c.SettingsHandler = handlers.NewSettingsHandler(c.Settings)
	c.CommissionHandler = handlers.NewCommissionHandler(c.Ledger)
	c.JobsHandler = handlers.NewJobsHandler(c.Reconciler)
}

// Close releases the database and cache connections
func (c *Container) Close() {
	if c.Cache != nil {
		if err := c.Cache.Close(); err != nil {
			c.Logger.Error("Failed to close cache", "error", err)
		}
	}
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			c.Logger.Error("Failed to close database", "error", err)
		}
	}
}

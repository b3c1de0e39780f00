package main

// @title Companion API
// @version 1.0
// @description Token purchases, referral commissions and bonus wallet payouts.

// @host localhost:8080
// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/jordanlanch/companion-api/config"
	apimiddleware "github.com/jordanlanch/companion-api/pkg/api/middleware"
	"github.com/jordanlanch/companion-api/pkg/container"
	"github.com/jordanlanch/companion-api/pkg/metrics"
	custommiddleware "github.com/jordanlanch/companion-api/pkg/middleware"
	"github.com/jordanlanch/companion-api/pkg/secrets"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := config.Load()
	log.Printf("🔧 Configuration loaded (environment: %s)", cfg.APIEnvironment)

	secretsCfg := secrets.ConfigFromEnv()
	if secretsCfg.Backend != secrets.BackendEnv {
		manager, err := secrets.NewManager(secretsCfg)
		if err != nil {
			log.Fatalf("❌ Failed to initialize secrets manager: %v", err)
		}
		secretsCtx, cancelSecrets := context.WithTimeout(context.Background(), 10*time.Second)
		err = secrets.Apply(secretsCtx, manager, cfg)
		cancelSecrets()
		if err != nil {
			log.Fatalf("❌ Failed to load secrets: %v", err)
		}
		log.Printf("🔐 Secrets loaded from %s", secretsCfg.Backend)
	}

	// Initialize Sentry for error tracking
	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.SentryEnvironment,
			TracesSampleRate: 0.2,
			AttachStacktrace: true,
			BeforeSend: func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
				// Webhook signatures and bearer tokens never leave the process
				if event.Request != nil {
					delete(event.Request.Headers, "Authorization")
					delete(event.Request.Headers, "Stripe-Signature")
				}
				return event
			},
		})
		if err != nil {
			log.Printf("⚠️  Failed to initialize Sentry: %v", err)
		} else {
			log.Printf("✅ Sentry initialized (environment: %s)", cfg.SentryEnvironment)
			defer sentry.Flush(2 * time.Second)
		}
	} else {
		log.Printf("ℹ️  Sentry disabled (no DSN configured)")
	}

	prometheusMetrics := metrics.New()

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	app, err := container.New(startCtx, cfg, prometheusMetrics)
	cancelStart()
	if err != nil {
		log.Fatalf("❌ Failed to initialize application: %v", err)
	}
	defer app.Close()

	e := echo.New()
	e.HideBanner = true

	globalRateLimiter := custommiddleware.NewRateLimiter(cfg.RateLimitRequestsPerMinute, cfg.RateLimitBurst)
	defer globalRateLimiter.Stop()
	webhookRateLimiter := custommiddleware.NewRateLimiter(100, 20) // Stripe retries in bursts
	defer webhookRateLimiter.Stop()

	// Global middleware
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			app.Logger.Info("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
			)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	if cfg.SentryDSN != "" {
		e.Use(sentryecho.New(sentryecho.Options{
			Repanic: true, // Repanic after capturing to let the Recover middleware handle it
		}))
	}

	e.Use(prometheusMetrics.Middleware())
	e.Use(middleware.CORSWithConfig(custommiddleware.CORSConfig(cfg.CORSAllowedOrigins)))
	e.Use(custommiddleware.SecurityHeaders(custommiddleware.DefaultSecurityHeadersConfig()))
	e.Use(middleware.Gzip())

	e.GET("/health", func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()

		dbStatus, cacheStatus := "up", "up"
		if err := app.DB.Ping(ctx); err != nil {
			dbStatus = "down"
		}
		if err := app.Cache.Ping(ctx); err != nil {
			cacheStatus = "down"
		}

		status := http.StatusOK
		if dbStatus != "up" || cacheStatus != "up" {
			status = http.StatusServiceUnavailable
		}
		return c.JSON(status, map[string]any{
			"status":       http.StatusText(status),
			"database":     dbStatus,
			"cache":        cacheStatus,
			"monetization": app.Settings.MonetizationEnabled(),
		})
	})

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := e.Group("/api/v1")

	// Stripe authenticates with its signature, not a JWT
	v1.POST("/webhook/stripe", app.BillingHandler.HandleWebhook, webhookRateLimiter.RateLimitMiddleware())

	api := v1.Group("", globalRateLimiter.RateLimitMiddleware())
	api.GET("/billing/packages", app.BillingHandler.ListPackages)

	authed := api.Group("", apimiddleware.JWTMiddlewareWithBlacklist(cfg.JWTSecret, app.TokenBlacklist))
	monetized := custommiddleware.RequireMonetization(app.Settings)

	authed.POST("/billing/checkout", app.BillingHandler.CreateCheckout, monetized)

	authed.GET("/wallet", app.WalletHandler.GetWallet)
	authed.GET("/wallet/commissions", app.WalletHandler.ListCommissions)
	authed.GET("/tokens/balance", app.WalletHandler.GetTokenBalance)

	authed.GET("/referrals/code", app.ReferralHandler.GetCode)
	authed.POST("/referrals/apply", app.ReferralHandler.ApplyCode)
	authed.GET("/referrals/stats", app.ReferralHandler.GetStats)

	authed.POST("/withdrawals", app.WithdrawalHandler.Create, monetized)
	authed.GET("/withdrawals", app.WithdrawalHandler.ListMine)

	admin := authed.Group("/admin", custommiddleware.RequireAdmin())
	admin.GET("/settings", app.SettingsHandler.List)
	admin.PUT("/settings/:key", app.SettingsHandler.Update)
	admin.POST("/commissions/:payment_id/distribute", app.CommissionHandler.Distribute)
	admin.POST("/jobs/reconcile", app.JobsHandler.Reconcile)
	admin.GET("/withdrawals", app.WithdrawalHandler.List)
	admin.GET("/withdrawals/export", app.WithdrawalHandler.Export)
	admin.POST("/withdrawals/:id/approve", app.WithdrawalHandler.Approve)
	admin.POST("/withdrawals/:id/reject", app.WithdrawalHandler.Reject)

	app.CronManager.Start()
	log.Printf("⏰ Reconciliation scheduled (%s)", cfg.ReconcileSchedule)

	statsCtx, stopStats := context.WithCancel(context.Background())
	defer stopStats()
	go reportDBStats(statsCtx, app, prometheusMetrics)

	address := fmt.Sprintf("%s:%s", cfg.APIHost, cfg.APIPort)
	log.Printf("🚀 Companion API starting on %s", address)
	log.Printf("🛡️  Rate limiting: %d req/min (burst: %d), webhook 100/min", cfg.RateLimitRequestsPerMinute, cfg.RateLimitBurst)

	// Graceful shutdown
	go func() {
		if err := e.Start(address); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Let a running reconciliation finish before closing the database
	select {
	case <-app.CronManager.Stop().Done():
		log.Println("✅ Cron jobs stopped")
	case <-ctx.Done():
		log.Println("⚠️  Cron jobs still running at shutdown")
	}

	if err := e.Shutdown(ctx); err != nil {
		log.Printf("❌ Server forced to shutdown: %v", err)
	}

	log.Println("✅ Server gracefully stopped")
}

func reportDBStats(ctx context.Context, app *container.Container, m *metrics.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.UpdateDBConnections(float64(app.DB.Stats().OpenConnections))
		}
	}
}

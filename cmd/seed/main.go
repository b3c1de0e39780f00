// Command seed fills a development database with a random referral forest
// and completed payments, then optionally distributes their commissions.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/jordanlanch/companion-api/config"
	"github.com/jordanlanch/companion-api/pkg/commission"
	"github.com/jordanlanch/companion-api/pkg/database"
	"github.com/jordanlanch/companion-api/pkg/jobs"
	"github.com/jordanlanch/companion-api/pkg/logger"
	"github.com/jordanlanch/companion-api/pkg/payments"
	"github.com/jordanlanch/companion-api/pkg/referral"
	"github.com/jordanlanch/companion-api/pkg/settings"
	"github.com/jordanlanch/companion-api/pkg/testdata"
	"github.com/jordanlanch/companion-api/pkg/wallet"
)

func main() {
	users := flag.Int("users", 200, "Number of users in the referral forest")
	rootChance := flag.Float64("root-chance", 0.15, "Probability that a user has no referrer")
	paymentCount := flag.Int("payments", 500, "Number of completed payments to generate")
	batchSize := flag.Int("batch-size", 100, "Number of payments to insert per batch")
	distribute := flag.Bool("distribute", true, "Run reconciliation after seeding")
	flag.Parse()

	cfg := config.Load()
	lg := logger.New(cfg.LogLevel)

	db, err := database.NewClient(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		log.Fatalf("Failed to migrate: %v", err)
	}

	start := time.Now()
	ids, edges := testdata.GenerateTree(testdata.TreeConfig{Users: *users, RootChance: *rootChance})
	if err := testdata.InsertEdges(ctx, db, edges); err != nil {
		log.Fatalf("Failed to insert referral edges: %v", err)
	}
	log.Printf("✅ %d users, %d referral links", len(ids), len(edges))

	list := testdata.GeneratePayments(ids, *paymentCount, testdata.DefaultPaymentConfig())
	if err := testdata.BulkInsertPayments(ctx, db, list, *batchSize); err != nil {
		log.Fatalf("Failed to insert payments: %v", err)
	}
	log.Printf("✅ %d completed payments", len(list))

	if *distribute {
		st := settings.NewService(db, lg)
		if err := st.Load(ctx); err != nil {
			log.Fatalf("Failed to load settings: %v", err)
		}
		p := payments.NewService(db)
		ledger := commission.NewLedger(db, p, referral.NewService(db, st, nil, lg), wallet.NewService(db), lg)

		report, err := jobs.NewReconciler(p, ledger, 0, *batchSize, lg).Run(ctx)
		if err != nil {
			log.Fatalf("Reconciliation failed: %v", err)
		}
		log.Printf("✅ Commissions: scanned %d, fixed %d, skipped %d, errors %d",
			report.Scanned, report.Fixed, report.Skipped, report.Errors)
	}

	log.Printf("🌱 Seeding finished in %s", time.Since(start).Round(time.Millisecond))
}

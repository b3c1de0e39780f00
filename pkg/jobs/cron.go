package jobs

import (
	"context"
	"time"

	"github.com/jordanlanch/companion-api/pkg/logger"
	"github.com/robfig/cron/v3"
)

// DefaultReconcileSchedule runs reconciliation every 15 minutes
const DefaultReconcileSchedule = "*/15 * * * *"

// CronManager manages scheduled jobs
type CronManager struct {
	cron       *cron.Cron
	reconciler *Reconciler
	timeout    time.Duration
	logger     logger.Logger
}

// NewCronManager creates a new cron manager
func NewCronManager(reconciler *Reconciler, log logger.Logger) *CronManager {
	return &CronManager{
		cron:       cron.New(),
		reconciler: reconciler,
		timeout:    10 * time.Minute,
		logger:     log.With("component", "cron"),
	}
}

// SetupJobs configures all scheduled jobs
func (cm *CronManager) SetupJobs(schedule string) error {
	if schedule == "" {
		schedule = DefaultReconcileSchedule
	}

	_, err := cm.cron.AddFunc(schedule, cm.runReconciliation)
	if err != nil {
		return err
	}

	cm.logger.Info("Cron jobs configured", "reconcile_schedule", schedule)
	return nil
}

func (cm *CronManager) runReconciliation() {
	ctx, cancel := context.WithTimeout(context.Background(), cm.timeout)
	defer cancel()

	// Run logs its own summary
	_, _ = cm.reconciler.Run(ctx)
}

// Start starts the cron scheduler
func (cm *CronManager) Start() {
	cm.logger.Info("Starting cron scheduler")
	cm.cron.Start()
}

// Stop stops the scheduler and waits for a running job to finish
func (cm *CronManager) Stop() context.Context {
	cm.logger.Info("Stopping cron scheduler")
	return cm.cron.Stop()
}

// GetReconciler returns the reconciler (for manual triggers)
func (cm *CronManager) GetReconciler() *Reconciler {
	return cm.reconciler
}

// Entries returns the number of scheduled jobs
func (cm *CronManager) Entries() int {
	return len(cm.cron.Entries())
}

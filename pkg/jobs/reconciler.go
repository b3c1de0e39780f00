package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/jordanlanch/companion-api/pkg/commission"
	"github.com/jordanlanch/companion-api/pkg/logger"
	"github.com/jordanlanch/companion-api/pkg/payments"
	"github.com/jordanlanch/companion-api/pkg/settings"
)

// UndistributedLister finds completed payments with no ledger rows
type UndistributedLister interface {
	ListUndistributed(ctx context.Context, since time.Time, limit int) ([]*payments.Payment, error)
}

// Distributor is the commission ledger as seen by the reconciler
type Distributor interface {
	DistributeCommission(ctx context.Context, paymentID string) (*commission.Outcome, error)
	Redistribute(ctx context.Context, paymentID string) (*commission.Outcome, error)
	PendingRetries(ctx context.Context, limit int) ([]commission.Retry, error)
}

// IntSettings reads integer settings
type IntSettings interface {
	Int(key string) int64
}

// Recorder receives reconciliation metrics
type Recorder interface {
	RecordReconciliation(success bool, fixed, skipped, errors int)
}

// Report summarises one reconciliation run
type Report struct {
	Scanned    int       `json:"scanned"`
	Fixed      int       `json:"fixed"`
	Skipped    int       `json:"skipped"`
	Errors     int       `json:"errors"`
	Retried    int       `json:"retried"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Reconciler re-runs commission distribution for completed payments that
// have no ledger rows and for payments left partially distributed
type Reconciler struct {
	payments UndistributedLister
	ledger   Distributor
	settings IntSettings // optional
	recorder Recorder    // optional
	lookback time.Duration
	batch    int
	logger   logger.Logger

	mu sync.Mutex
}

// NewReconciler creates a reconciler scanning payments completed within
// lookback, batch payments per query
func NewReconciler(p UndistributedLister, d Distributor, lookback time.Duration, batch int, log logger.Logger) *Reconciler {
	if lookback <= 0 {
		lookback = 72 * time.Hour
	}
	if batch <= 0 {
		batch = 500
	}
	return &Reconciler{
		payments: p,
		ledger:   d,
		lookback: lookback,
		batch:    batch,
		logger:   log.With("component", "reconciler"),
	}
}

// WithSettings reads the lookback window from reconcile_lookback_hours on
// every run
func (r *Reconciler) WithSettings(s IntSettings) *Reconciler {
	r.settings = s
	return r
}

// WithRecorder sets the metrics recorder
func (r *Reconciler) WithRecorder(rec Recorder) *Reconciler {
	r.recorder = rec
	return r
}

func (r *Reconciler) window() time.Duration {
	if r.settings != nil {
		if hours := r.settings.Int(settings.KeyReconcileLookbackHours); hours > 0 {
			return time.Duration(hours) * time.Hour
		}
	}
	return r.lookback
}

// Run performs one reconciliation pass. Runs are serialised. The returned
// error is only set when ctx ends or a scan query fails; the report still
// holds the counts reached so far.
func (r *Reconciler) Run(ctx context.Context) (*Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	report := &Report{StartedAt: time.Now().UTC()}
	err := r.run(ctx, report)
	report.FinishedAt = time.Now().UTC()

	if r.recorder != nil {
		r.recorder.RecordReconciliation(err == nil, report.Fixed, report.Skipped, report.Errors)
	}

	if err != nil {
		r.logger.Error("Reconciliation failed",
			"scanned", report.Scanned, "fixed", report.Fixed, "skipped", report.Skipped,
			"errors", report.Errors, "error", err)
		return report, err
	}

	r.logger.Info("Reconciliation completed",
		"scanned", report.Scanned,
		"fixed", report.Fixed,
		"skipped", report.Skipped,
		"errors", report.Errors,
		"retried", report.Retried,
		"duration", report.FinishedAt.Sub(report.StartedAt).String(),
	)
	return report, nil
}

func (r *Reconciler) run(ctx context.Context, report *Report) error {
	since := time.Now().UTC().Add(-r.window())
	handled := make(map[string]bool)

	// Payments that gain ledger rows drop out of the scan; the rest stay and
	// are stepped over with the offset.
	offset := 0
	for {
		list, err := r.payments.ListUndistributed(ctx, since, r.batch+offset)
		if err != nil {
			return err
		}
		if offset >= len(list) {
			break
		}
		page := list[offset:]

		remaining := 0
		for _, p := range page {
			if handled[p.ID] {
				remaining++
				continue
			}
			handled[p.ID] = true

			outcome, err := r.ledger.DistributeCommission(ctx, p.ID)
			if err != nil {
				return err
			}
			report.Scanned++
			if !r.tally(report, outcome) {
				remaining++
			}
		}

		if len(list) < r.batch+offset {
			break
		}
		offset += remaining
	}

	retries, err := r.ledger.PendingRetries(ctx, r.batch)
	if err != nil {
		return err
	}
	for _, retry := range retries {
		if handled[retry.PaymentID] {
			continue
		}
		handled[retry.PaymentID] = true

		outcome, err := r.ledger.Redistribute(ctx, retry.PaymentID)
		if err != nil {
			return err
		}
		report.Scanned++
		report.Retried++
		r.tally(report, outcome)
	}
	return nil
}

// tally counts the outcome and reports whether the payment now has ledger rows
func (r *Reconciler) tally(report *Report, out *commission.Outcome) bool {
	switch out.Status {
	case commission.StatusDistributed:
		if out.LevelsCredited > 0 {
			report.Fixed++
			return true
		}
		report.Skipped++
	case commission.StatusPartial:
		report.Errors++
		return out.LevelsCredited > 0
	case commission.StatusError:
		report.Errors++
	default:
		report.Skipped++
		return out.Reason == commission.ReasonAlreadyDistributed
	}
	return false
}

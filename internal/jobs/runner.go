// internal/jobs/runner.go
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/jules-labs/lending/internal/circulation"
)

// Replicator copies journal events to durable storage.
type Replicator interface {
	Sync(ctx context.Context) (int, error)
}

// Runner holds the background lending jobs.
type Runner struct {
	svc        circulation.Service
	replicator Replicator
	logger     *slog.Logger
	timeout    time.Duration
}

// NewRunner creates a job runner. replicator may be nil, in which case
// ReplicateJournal does nothing.
func NewRunner(svc circulation.Service, replicator Replicator, logger *slog.Logger) *Runner {
	return &Runner{
		svc:        svc,
		replicator: replicator,
		logger:     logger,
		timeout:    time.Minute,
	}
}

// runWithRecovery wraps job execution with panic recovery
func (r *Runner) runWithRecovery(jobName string, jobFunc func(ctx context.Context)) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Job panicked", "job", jobName, "panic", rec)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	start := time.Now()
	r.logger.Debug("Starting job", "job", jobName)
	jobFunc(ctx)
	r.logger.Debug("Job completed", "job", jobName, "elapsed", time.Since(start))
}

// SweepExpiredHolds expires ACTIVE holds past their pickup deadline and
// promotes the next waiting user.
func (r *Runner) SweepExpiredHolds() {
	r.runWithRecovery("SweepExpiredHolds", func(ctx context.Context) {
		if n := r.svc.SweepExpiredHolds(ctx); n > 0 {
			r.logger.Info("Expired holds", "count", n)
		}
	})
}

// MarkOverdue flags loans past their due date.
func (r *Runner) MarkOverdue() {
	r.runWithRecovery("MarkOverdue", func(ctx context.Context) {
		if loans := r.svc.MarkOverdue(ctx); len(loans) > 0 {
			r.logger.Info("Marked loans as overdue", "count", len(loans))
		}
	})
}

// SendDueReminders notifies borrowers whose loans fall due soon.
func (r *Runner) SendDueReminders() {
	r.runWithRecovery("SendDueReminders", func(ctx context.Context) {
		if n := r.svc.SendDueReminders(ctx); n > 0 {
			r.logger.Info("Sent due date reminders", "count", n)
		}
	})
}

// ReplicateJournal copies new journal events to the replica store.
func (r *Runner) ReplicateJournal() {
	if r.replicator == nil {
		return
	}
	r.runWithRecovery("ReplicateJournal", func(ctx context.Context) {
		n, err := r.replicator.Sync(ctx)
		if err != nil {
			r.logger.Error("Failed to replicate journal", "copied", n, "error", err)
			return
		}
		if n > 0 {
			r.logger.Info("Replicated journal events", "count", n)
		}
	})
}

// RunAll runs every job once, in order (for manual execution).
func (r *Runner) RunAll() {
	r.SweepExpiredHolds()
	r.MarkOverdue()
	r.SendDueReminders()
	r.ReplicateJournal()
}

// internal/jobs/scheduler.go
package jobs

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jules-labs/lending/internal/config"
	"github.com/jules-labs/lending/internal/validation"
)

// Scheduler manages cron job scheduling
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

type job struct {
	name string
	spec string
	fn   func()
}

// NewScheduler registers the runner's jobs on the configured schedules.
// Specs take an optional leading seconds field.
func NewScheduler(runner *Runner, cfg config.JobsConfig, logger *slog.Logger) (*Scheduler, error) {
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithParser(validation.CronParser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)

	jobs := []job{
		{"SweepExpiredHolds", cfg.SweepHolds, runner.SweepExpiredHolds},
		{"MarkOverdue", cfg.MarkOverdue, runner.MarkOverdue},
		{"SendDueReminders", cfg.SendReminders, runner.SendDueReminders},
	}
	if runner.replicator != nil {
		jobs = append(jobs, job{"ReplicateJournal", cfg.ReplicateJournal, runner.ReplicateJournal})
	}

	for _, j := range jobs {
		if _, err := c.AddFunc(j.spec, j.fn); err != nil {
			return nil, fmt.Errorf("failed to register %s job: %w", j.name, err)
		}
	}
	logger.Info("Cron jobs registered", "count", len(jobs))
	return &Scheduler{cron: c, logger: logger}, nil
}

// Start begins the cron scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Cron scheduler started")
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Cron scheduler stopped")
}

// Entries returns the number of registered jobs.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

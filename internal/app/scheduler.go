/**
 * @description
 * Cron scheduler setup for the renewal jobs.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
	"github.com/subsnooze/renewal-service/internal/config"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	logger *slog.Logger
	config config.Config
}

// NewScheduler creates a scheduler that fires in the configured timezone, so
// "daily at 09:00" means 09:00 on the calendar renewal dates live in.
func NewScheduler(jobs *Jobs, logger *slog.Logger, cfg config.Config) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(
		cron.WithLocation(cfg.Location()),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	return &Scheduler{
		cron:   c,
		jobs:   jobs,
		logger: logger,
		config: cfg,
	}
}

type scheduledJob struct {
	name     string
	schedule string
}

func (s *Scheduler) entries() []scheduledJob {
	return []scheduledJob{
		{name: JobRenewals, schedule: s.config.RenewalJobSchedule},
		{name: JobReminders, schedule: s.config.ReminderJobSchedule},
		{name: JobCancelFollowUps, schedule: s.config.CancelFollowUpJobSchedule},
	}
}

// Start registers the jobs and starts the cron scheduler. A job with an
// empty or invalid schedule is logged and left unscheduled.
func (s *Scheduler) Start() int {
	registered := 0
	for _, e := range s.entries() {
		if e.schedule == "" {
			s.logger.Warn("job schedule not configured", "job", e.name)
			continue
		}
		if _, err := s.cron.AddFunc(e.schedule, s.jobs.runFunc(e.name)); err != nil {
			s.logger.Error("failed to schedule job", "job", e.name, "schedule", e.schedule, "error", err)
			continue
		}
		registered++
		s.logger.Info("scheduled job", "job", e.name, "schedule", e.schedule, "timezone", s.config.Location().String())
	}

	s.cron.Start()
	return registered
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Package archive runs the periodic maintenance pass: it migrates terminal
// jobs and the previous day's eval aggregates into long-term storage, sweeps
// expired sessions out of memory, and triggers the alerting engine.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/arcana-app/arcana-go/internal/alerting"
	"github.com/arcana-app/arcana-go/internal/job"
	"github.com/arcana-app/arcana-go/internal/models"
)

// Store is the durable long-term side of the migration.
type Store interface {
	ArchiveReading(ctx context.Context, view models.JobView) error
	EvalsBetween(ctx context.Context, from, to time.Time) ([]models.EvalRecord, error)
	UpsertDailyRollup(ctx context.Context, day string, b models.Baseline) error
	DeleteJob(ctx context.Context, jobID string) error
}

// Alerter is the batch analysis invoked at the end of each pass.
type Alerter interface {
	Run(ctx context.Context) ([]models.Alert, error)
}

// Scheduler owns the cron trigger and the pass itself.
type Scheduler struct {
	cron      *cron.Cron
	jobs      *job.Manager
	store     Store
	alerter   Alerter
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a scheduler. alerter may be nil to run archival without
// regression analysis.
func New(jobs *job.Manager, store Store, alerter Alerter, retention time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:      cron.New(),
		jobs:      jobs,
		store:     store,
		alerter:   alerter,
		retention: retention,
		logger:    logger,
		now:       time.Now,
	}
}

// Start registers the pass on the given cron spec (e.g. "@hourly") and
// starts the trigger.
func (s *Scheduler) Start(spec string) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := s.RunOnce(ctx); err != nil {
			s.logger.Error("archival pass failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule archival: %w", err)
	}
	s.cron.Start()
	s.logger.Info("archival scheduler started", "spec", spec)
	return nil
}

// Stop halts the trigger and waits for an in-flight pass to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// RunOnce executes one full maintenance pass. Every step is idempotent, so
// overlapping or repeated runs converge instead of duplicating work.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	expired := s.jobs.SweepExpired(ctx)

	// Snapshot terminal jobs into the archive before anything is retired;
	// a job must never leave memory without its durable snapshot.
	archived := 0
	for _, view := range s.jobs.Views(ctx) {
		if !view.State.Terminal() {
			continue
		}
		if err := s.store.ArchiveReading(ctx, view); err != nil {
			s.logger.Error("failed to archive reading", "job_id", view.ID, "error", err)
			continue
		}
		archived++
	}

	// Retire jobs past retention and drop their event logs. The archived
	// snapshot is the surviving record.
	retired := s.jobs.Retire(ctx, s.retention)
	for _, id := range retired {
		if err := s.store.DeleteJob(ctx, id); err != nil {
			s.logger.Error("failed to delete retired job log", "job_id", id, "error", err)
		}
	}

	if err := s.rollupPreviousDay(ctx); err != nil {
		s.logger.Error("failed to roll up previous day", "error", err)
	}

	if s.alerter != nil {
		if _, err := s.alerter.Run(ctx); err != nil {
			s.logger.Error("alerting pass failed", "error", err)
		}
	}

	s.logger.Info("archival pass complete",
		"expired", expired,
		"archived", archived,
		"retired", len(retired),
	)
	return nil
}

// rollupPreviousDay aggregates the previous UTC day's eval records into one
// row per dimensional group. The rollup key is (dims, day), so re-running
// the same period overwrites the same rows.
func (s *Scheduler) rollupPreviousDay(ctx context.Context) error {
	dayStart := s.now().UTC().Truncate(24*time.Hour).AddDate(0, 0, -1)
	dayEnd := dayStart.AddDate(0, 0, 1)

	records, err := s.store.EvalsBetween(ctx, dayStart, dayEnd)
	if err != nil {
		return fmt.Errorf("load evals for rollup: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	day := dayStart.Format("2006-01-02")
	for _, baseline := range alerting.Aggregate(records) {
		if err := s.store.UpsertDailyRollup(ctx, day, baseline); err != nil {
			return fmt.Errorf("rollup %s %+v: %w", day, baseline.Dims, err)
		}
	}
	return nil
}

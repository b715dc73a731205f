// Package scheduler triggers suite runs on a cron schedule and prunes stored
// runs older than the retention period.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jmylchreest/codecconf/internal/models"
	"github.com/jmylchreest/codecconf/internal/suite"
)

// PruneSchedule is when stored runs past the retention period are removed.
const PruneSchedule = "@hourly"

// Launcher starts a suite run in the background.
type Launcher interface {
	Launch(ctx context.Context, trigger models.Trigger) (*models.Run, error)
}

// Pruner deletes runs started before a cutoff.
type Pruner interface {
	DeleteBefore(ctx context.Context, t time.Time) (int64, error)
}

// parser accepts standard 5-field expressions, an optional leading seconds
// field, and descriptors such as @daily.
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Scheduler owns the cron entries of a serve process.
type Scheduler struct {
	mu sync.Mutex

	launcher  Launcher
	pruner    Pruner
	schedule  string
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time

	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// Config holds the schedules.
type Config struct {
	// Schedule triggers suite runs. Empty disables scheduled runs.
	Schedule string
	// Retention is how long runs are kept. Zero disables pruning.
	Retention time.Duration
}

// NewScheduler creates a scheduler. Either of launcher or pruner may be nil
// to disable that job.
func NewScheduler(launcher Launcher, pruner Pruner, cfg Config) *Scheduler {
	return &Scheduler{
		launcher:  launcher,
		pruner:    pruner,
		schedule:  cfg.Schedule,
		retention: cfg.Retention,
		logger:    slog.Default(),
		now:       time.Now,
	}
}

// WithLogger sets a custom logger.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger
	return s
}

// Start registers the configured entries and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return errors.New("scheduler already started")
	}

	c := cron.New(
		cron.WithParser(parser),
		cron.WithLogger(cronLogger{s.logger}),
		cron.WithChain(cron.Recover(cronLogger{s.logger}), cron.SkipIfStillRunning(cronLogger{s.logger})),
	)
	s.ctx, s.cancel = context.WithCancel(ctx)

	if s.launcher != nil && s.schedule != "" {
		if _, err := c.AddFunc(s.schedule, func() { s.TriggerRun(s.ctx) }); err != nil {
			s.cancel()
			return fmt.Errorf("invalid suite schedule %q: %w", s.schedule, err)
		}
	}
	if s.pruner != nil && s.retention > 0 {
		if _, err := c.AddFunc(PruneSchedule, func() { _, _ = s.Prune(s.ctx) }); err != nil {
			s.cancel()
			return fmt.Errorf("adding prune job: %w", err)
		}
	}

	s.cron = c
	c.Start()

	s.logger.Info("scheduler started",
		slog.String("schedule", s.schedule),
		slog.Duration("retention", s.retention),
		slog.Int("entries", len(c.Entries())),
	)
	return nil
}

// Stop stops the cron loop and waits for running jobs. Background suite runs
// are owned by the launcher and are not waited for.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	cancel()
	s.logger.Info("scheduler stopped")
}

// NextRun returns the next scheduled suite run, if any.
func (s *Scheduler) NextRun() (time.Time, bool) {
	if s.schedule == "" {
		return time.Time{}, false
	}
	sched, err := parser.Parse(s.schedule)
	if err != nil {
		return time.Time{}, false
	}
	return sched.Next(s.now()), true
}

// TriggerRun starts a scheduled suite run. A run already in progress is
// not an error; the tick is skipped.
func (s *Scheduler) TriggerRun(ctx context.Context) {
	run, err := s.launcher.Launch(ctx, models.TriggerSchedule)
	switch {
	case errors.Is(err, suite.ErrBusy):
		s.logger.Info("skipping scheduled run, a run is in progress")
	case err != nil:
		s.logger.Error("failed to start scheduled run", slog.String("error", err.Error()))
	default:
		s.logger.Info("started scheduled run", slog.String("run_id", run.ID.String()))
	}
}

// Prune deletes runs that started before now minus the retention period.
func (s *Scheduler) Prune(ctx context.Context) (int64, error) {
	if s.retention <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-s.retention)
	deleted, err := s.pruner.DeleteBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("failed to prune runs", slog.String("error", err.Error()))
		return 0, err
	}
	if deleted > 0 {
		s.logger.Info("pruned runs",
			slog.Int64("deleted", deleted),
			slog.Time("cutoff", cutoff),
		)
	}
	return deleted, nil
}

// ParseCron validates a cron expression and returns the next run time.
func ParseCron(expr string, from time.Time) (time.Time, error) {
	schedule, err := parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule.Next(from), nil
}

// ValidateCron validates a cron expression.
func ValidateCron(expr string) error {
	_, err := parser.Parse(expr)
	return err
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{slog.String("error", err.Error())}, keysAndValues...)...)
}

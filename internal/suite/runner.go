// Package suite runs the named conformance cases over the registered
// software devices and the configured test streams, and records the outcome
// as a run.
package suite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/codecconf/internal/codectest"
	"github.com/jmylchreest/codecconf/internal/config"
	"github.com/jmylchreest/codecconf/internal/device"
	"github.com/jmylchreest/codecconf/internal/models"
	"github.com/jmylchreest/codecconf/internal/observability"
	"github.com/jmylchreest/codecconf/internal/repository"
	"github.com/jmylchreest/codecconf/internal/version"
)

// standaloneDevice is recorded as the device of cases that use none.
const standaloneDevice = "mpegts"

// Runner executes suite runs.
type Runner struct {
	cfg      *config.Config
	registry *device.Registry
	store    repository.RunRepository
	streams  []*Stream
	hostInfo func(context.Context) models.Host
	logger   *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithStore persists runs as they start and finish.
func WithStore(store repository.RunRepository) Option {
	return func(r *Runner) { r.store = store }
}

// WithStreams replaces the built-in streams and configured vectors.
func WithStreams(streams ...*Stream) Option {
	return func(r *Runner) { r.streams = streams }
}

// WithRegistry replaces the default device registry.
func WithRegistry(registry *device.Registry) Option {
	return func(r *Runner) { r.registry = registry }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithHostInfo replaces the host fingerprint function.
func WithHostInfo(fn func(context.Context) models.Host) Option {
	return func(r *Runner) { r.hostInfo = fn }
}

// NewRunner creates a runner for cfg.
func NewRunner(cfg *config.Config, opts ...Option) *Runner {
	r := &Runner{cfg: cfg, hostInfo: HostInfo, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = observability.WithComponent(r.logger, "suite")
	if r.registry == nil {
		r.registry = device.DefaultRegistry(cfg.Device, r.logger)
	}
	return r
}

// Registry returns the devices the runner tests.
func (r *Runner) Registry() *device.Registry { return r.registry }

// Job is one case bound to its device and stream.
type Job struct {
	Case   *Case
	Device device.Entry
	Stream *Stream
}

func (j Job) deviceName() string {
	if j.Case.Standalone {
		return standaloneDevice
	}
	return j.Device.Name
}

// Streams returns the streams a run covers: the explicit streams when set,
// otherwise the built-in streams followed by the configured vectors.
func (r *Runner) Streams() ([]*Stream, error) {
	if r.streams != nil {
		return r.streams, nil
	}
	builtin, err := BuiltinStreams()
	if err != nil {
		return nil, err
	}
	vectors, err := LoadVectors(r.cfg.Suite.VectorsDir, r.logger)
	if err != nil {
		return nil, err
	}
	return append(builtin, vectors...), nil
}

// Plan expands the selected cases over every applicable device and stream.
func (r *Runner) Plan() ([]Job, error) {
	cases, err := SelectCases(r.cfg.Suite.Cases)
	if err != nil {
		return nil, err
	}
	streams, err := r.Streams()
	if err != nil {
		return nil, err
	}
	entries := r.registry.Entries()

	var jobs []Job
	for _, c := range cases {
		for _, s := range streams {
			if c.Standalone {
				if c.applies(device.Entry{}, s) {
					jobs = append(jobs, Job{Case: c, Stream: s})
				}
				continue
			}
			for _, e := range entries {
				if Pairs(e, s) && c.applies(e, s) {
					jobs = append(jobs, Job{Case: c, Device: e, Stream: s})
				}
			}
		}
	}
	return jobs, nil
}

// Begin records a new running run. The run is persisted when a store is
// configured.
func (r *Runner) Begin(ctx context.Context, trigger models.Trigger) (*models.Run, error) {
	run := &models.Run{
		Trigger:   trigger,
		Status:    models.RunStatusRunning,
		StartedAt: time.Now(),
		Version:   version.Short(),
		Host:      r.hostInfo(ctx),
	}
	run.ID = models.NewULID()
	if r.store != nil {
		if err := r.store.Create(ctx, run); err != nil {
			return nil, fmt.Errorf("recording run start: %w", err)
		}
	}
	return run, nil
}

// Execute runs every planned job for run and records the results. Case
// failures are reported in the run; the returned error is reserved for runs
// that could not complete.
func (r *Runner) Execute(ctx context.Context, run *models.Run) (err error) {
	logger := observability.WithRun(r.logger, run.ID.String())
	ctx = observability.ContextWithRunID(ctx, run.ID.String())
	done := observability.TimedOperationWithError(ctx, logger, "suite_run", &err)
	defer done()

	results, execErr := r.execute(ctx, logger)
	run.Results = results
	run.Finish(time.Now(), execErr)

	if r.store != nil {
		// The run must be recorded even when ctx was cancelled.
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if saveErr := r.store.Update(saveCtx, run); saveErr != nil {
			return errors.Join(execErr, fmt.Errorf("recording run result: %w", saveErr))
		}
	}
	if execErr != nil {
		return execErr
	}

	logger.Info("suite run finished",
		slog.String("status", string(run.Status)),
		slog.Int("passed", run.Passed),
		slog.Int("failed", run.Failed),
		slog.Int("skipped", run.Skipped),
	)
	return nil
}

// Run is Begin followed by Execute.
func (r *Runner) Run(ctx context.Context, trigger models.Trigger) (*models.Run, error) {
	run, err := r.Begin(ctx, trigger)
	if err != nil {
		return nil, err
	}
	return run, r.Execute(ctx, run)
}

func (r *Runner) execute(ctx context.Context, logger *slog.Logger) ([]models.CaseResult, error) {
	mode, err := codectest.ParseMode(r.cfg.Driver.Mode)
	if err != nil {
		return nil, err
	}
	jobs, err := r.Plan()
	if err != nil {
		return nil, err
	}
	logger.Info("suite run starting",
		slog.Int("jobs", len(jobs)),
		slog.Int("parallelism", r.cfg.Suite.Parallelism),
		slog.String("mode", mode.String()),
	)

	results := make([]models.CaseResult, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(r.cfg.Suite.Parallelism, 1))
	for i, job := range jobs {
		g.Go(func() error {
			results[i] = r.runJob(gctx, logger, job, mode)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return results, fmt.Errorf("suite run interrupted: %w", err)
	}
	return results, nil
}

func (r *Runner) runJob(ctx context.Context, logger *slog.Logger, job Job, mode codectest.Mode) (res models.CaseResult) {
	res = models.CaseResult{
		Case:   job.Case.Name,
		Device: job.deviceName(),
		Vector: job.Stream.Name,
	}
	res.ID = models.NewULID()
	switch {
	case job.Case.Standalone:
	case job.Case.Name == "mode-equivalence":
		res.Mode = "async+sync"
	default:
		res.Mode = mode.String()
	}

	logger = observability.WithCase(logger, job.Case.Name).With(
		slog.String("device", res.Device),
		slog.String("stream", job.Stream.Name),
	)
	if r.cfg.Suite.CaseTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Suite.CaseTimeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			res.Status = models.CaseStatusFail
			res.Error = fmt.Sprintf("panic: %v", p)
			logger.Error("case panicked", slog.Any("panic", p))
		}
		res.DurationMs = time.Since(start).Milliseconds()
	}()

	env := &Env{
		Device:     job.Device,
		Stream:     job.Stream,
		Mode:       mode,
		Driver:     r.cfg.Driver,
		FrameLimit: r.cfg.Suite.FrameLimit,
		Logger:     logger,
	}
	out, err := job.Case.Run(ctx, env)
	res.Inputs, res.Outputs = out.Inputs, out.Outputs

	switch {
	case err == nil:
		res.Status = models.CaseStatusPass
		logger.Debug("case passed")
	case errors.Is(err, ErrSkip):
		res.Status = models.CaseStatusSkip
		res.Error = strings.TrimPrefix(err.Error(), ErrSkip.Error()+": ")
		logger.Debug("case skipped", slog.String("reason", res.Error))
	default:
		res.Status = models.CaseStatusFail
		res.Error = err.Error()
		var mismatch *codectest.MismatchError
		if errors.As(err, &mismatch) {
			logger.Warn("case mismatch", slog.String("broken", strings.Join(mismatch.Broken, ", ")))
		} else {
			logger.Error("case failed", slog.String("error", err.Error()))
		}
	}
	return res
}

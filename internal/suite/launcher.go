package suite

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/jmylchreest/codecconf/internal/models"
)

// ErrBusy is returned by Launch while another run is executing.
var ErrBusy = errors.New("a suite run is already in progress")

// Launcher starts runs in the background, one at a time. It is shared by the
// HTTP API and the scheduler.
type Launcher struct {
	runner *Runner
	base   context.Context
	logger *slog.Logger

	mu      sync.Mutex
	current *models.Run
	wg      sync.WaitGroup
}

// NewLauncher creates a launcher whose runs are bound to base. Cancelling
// base interrupts the executing run.
func NewLauncher(base context.Context, runner *Runner) *Launcher {
	return &Launcher{runner: runner, base: base, logger: runner.logger}
}

// Launch records a new run and executes it in the background. The returned
// run is a copy taken before execution starts.
func (l *Launcher) Launch(ctx context.Context, trigger models.Trigger) (*models.Run, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current != nil {
		return nil, ErrBusy
	}

	run, err := l.runner.Begin(ctx, trigger)
	if err != nil {
		return nil, err
	}
	started := *run
	l.current = run

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		if err := l.runner.Execute(l.base, run); err != nil {
			l.logger.Error("background suite run failed",
				slog.String("run_id", run.ID.String()),
				slog.String("error", err.Error()),
			)
		}
		l.mu.Lock()
		l.current = nil
		l.mu.Unlock()
	}()
	return &started, nil
}

// Running returns the ID of the executing run, if any.
func (l *Launcher) Running() (models.ULID, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == nil {
		return models.ULID{}, false
	}
	return l.current.ID, true
}

// Wait blocks until the background run, if any, has been recorded.
func (l *Launcher) Wait() {
	l.wg.Wait()
}

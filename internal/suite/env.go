package suite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/jmylchreest/codecconf/internal/codectest"
	"github.com/jmylchreest/codecconf/internal/config"
	"github.com/jmylchreest/codecconf/internal/device"
	"github.com/jmylchreest/codecconf/internal/media"
)

// ErrSkip is returned by a case that does not apply to its inputs.
var ErrSkip = errors.New("case skipped")

// Env is everything one case execution needs.
type Env struct {
	Device device.Entry
	Stream *Stream
	Mode   codectest.Mode
	Driver config.DriverConfig
	// FrameLimit caps the samples fed per run. Zero feeds the whole stream.
	FrameLimit int
	Logger     *slog.Logger
}

// Outcome carries the counters of the last run a case made.
type Outcome struct {
	Inputs  int
	Outputs int
}

func outcomeOf(d *codectest.Driver) Outcome {
	return Outcome{Inputs: d.InputCount(), Outputs: d.OutputCount()}
}

// Format returns the format the device is configured with. Encoders take
// the raw stream parameters under their own mime.
func (e *Env) Format() *media.Format {
	if !e.Device.Encoder {
		return e.Stream.Format
	}
	return e.Stream.Format.Clone().SetString(media.KeyMime, e.Device.Mime)
}

func (e *Env) limit() int {
	if e.FrameLimit > 0 {
		return e.FrameLimit
	}
	return math.MaxInt
}

func (e *Env) options(mode codectest.Mode) codectest.Options {
	return codectest.Options{
		Mode:                   mode,
		SignalEOSWithLastFrame: e.Driver.EOSWithLastFrame,
		SaveToMemory:           true,
		ChecksumOutput:         true,
		Encoder:                e.Device.Encoder,
		PollTimeout:            e.Driver.PollTimeout,
		Logger:                 e.Logger,
	}
}

// NewOutput creates an empty snapshot with the configured report limit.
func (e *Env) NewOutput() *codectest.OutputManager {
	return codectest.NewOutputManager(
		codectest.WithReportLimit(e.Driver.MismatchReportLimit),
		codectest.WithLogger(e.Logger),
	)
}

// session is a started driver with its source. Callers must close it.
type session struct {
	*codectest.Driver
	src codectest.Source
}

func (s *session) Close() {
	_ = s.Release()
}

// start creates a fresh device and driver, configures and starts them.
func (e *Env) start(mode codectest.Mode, tweak func(*codectest.Options)) (*session, error) {
	opts := e.options(mode)
	if tweak != nil {
		tweak(&opts)
	}
	src, err := e.Stream.Open()
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", e.Stream.Name, err)
	}
	d := codectest.NewDriver(e.Device.New(), opts)
	d.SetSource(src)
	d.SetOutput(e.NewOutput())
	s := &session{Driver: d, src: src}
	if err := d.Configure(e.Format()); err != nil {
		s.Close()
		return nil, err
	}
	if err := d.Start(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// rerun replays the stream from a fresh source into a new snapshot.
func (e *Env) rerun(ctx context.Context, s *session) error {
	src, err := e.Stream.Open()
	if err != nil {
		return fmt.Errorf("reopening %s: %w", e.Stream.Name, err)
	}
	s.src = src
	s.SetSource(src)
	s.SetOutput(e.NewOutput())
	return s.Run(ctx, e.limit())
}

// runFull runs the whole stream once on a fresh device and releases it.
// The returned driver still answers snapshot and counter queries.
func (e *Env) runFull(ctx context.Context, mode codectest.Mode, tweak func(*codectest.Options)) (*codectest.Driver, error) {
	s, err := e.start(mode, tweak)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	if err := s.Run(ctx, e.limit()); err != nil {
		return nil, err
	}
	return s.Driver, nil
}

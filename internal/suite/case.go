package suite

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jmylchreest/codecconf/internal/codectest"
	"github.com/jmylchreest/codecconf/internal/device"
	"github.com/jmylchreest/codecconf/internal/media"
	"github.com/jmylchreest/codecconf/internal/remux"
	"github.com/jmylchreest/codecconf/internal/source"
)

// flushAfterFrames is how far into the stream the flush cases interrupt.
const flushAfterFrames = 5

// Case is one named conformance check.
type Case struct {
	Name        string
	Description string
	// Standalone cases run once per stream without a device.
	Standalone bool
	// Applies filters the device and stream pairs the case runs on. A nil
	// Applies accepts every pair. Standalone cases receive a zero Entry.
	Applies func(device.Entry, *Stream) bool
	Run     func(ctx context.Context, env *Env) (Outcome, error)
}

func (c *Case) applies(e device.Entry, s *Stream) bool {
	return c.Applies == nil || c.Applies(e, s)
}

// Pairs reports whether entry can consume stream: decoders take their own
// mime, encoders take raw samples of the same media kind.
func Pairs(entry device.Entry, s *Stream) bool {
	if entry.Encoder {
		return s.IsRaw() && media.RawMimeFor(entry.Mime) == s.Mime()
	}
	return entry.Mime == s.Mime()
}

// restarter is a source that can replay from the start with a timestamp
// offset, as encoders require after a flush.
type restarter interface {
	Restart() int64
}

// Cases returns every built-in case in execution order.
func Cases() []*Case {
	return []*Case{
		{
			Name:        "mode-equivalence",
			Description: "async and sync exchange produce identical snapshots",
			Run:         runModeEquivalence,
		},
		{
			Name:        "eos-equivalence",
			Description: "end-of-stream fused with the last frame matches a separate empty buffer",
			Run:         runEOSEquivalence,
		},
		{
			Name:        "flush",
			Description: "flush mid-stream and replay matches an uninterrupted run",
			Run:         runFlush,
		},
		{
			Name:        "reset-idempotence",
			Description: "a completed run repeated after reset produces the same snapshot",
			Run:         runResetIdempotence,
		},
		{
			Name:        "reconfigure",
			Description: "reconfigure mid-stream and replay matches an uninterrupted run",
			Run:         runReconfigure,
		},
		{
			Name:        "zero-input",
			Description: "end-of-stream with no input yields end-of-stream and no frames",
			Run:         runZeroInput,
		},
		{
			Name:        "pts-order",
			Description: "output timestamps match input timestamps in presentation order",
			Run:         runPTSOrder,
		},
		{
			Name:        "format-change",
			Description: "the announced output format is consistent with the input format",
			Run:         runFormatChange,
		},
		{
			Name:        "csd",
			Description: "codec-specific data queued in-band does not change decoded output",
			Applies: func(e device.Entry, s *Stream) bool {
				return !e.Encoder && len(s.Format.CSD()) > 0
			},
			Run: runCSD,
		},
		{
			Name:        "remux",
			Description: "MPEG-TS mux and extract round trip preserves every sample",
			Standalone:  true,
			Applies: func(_ device.Entry, s *Stream) bool {
				return s.Track != nil
			},
			Run: runRemux,
		},
	}
}

// SelectCases returns the named cases, or all of them when names is empty.
func SelectCases(names []string) ([]*Case, error) {
	all := Cases()
	if len(names) == 0 {
		return all, nil
	}
	byName := make(map[string]*Case, len(all))
	for _, c := range all {
		byName[c.Name] = c
	}
	out := make([]*Case, 0, len(names))
	var unknown []string
	for _, n := range names {
		c, ok := byName[strings.TrimSpace(n)]
		if !ok {
			unknown = append(unknown, n)
			continue
		}
		out = append(out, c)
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("unknown cases: %s", strings.Join(unknown, ", "))
	}
	return out, nil
}

func compare(ref, test *codectest.Driver, what string) error {
	if err := test.Output().Compare(ref.Output()).Err(); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}

func runModeEquivalence(ctx context.Context, env *Env) (Outcome, error) {
	async, err := env.runFull(ctx, codectest.ModeAsync, nil)
	if err != nil {
		return Outcome{}, fmt.Errorf("async run: %w", err)
	}
	sync, err := env.runFull(ctx, codectest.ModeSync, nil)
	if err != nil {
		return Outcome{}, fmt.Errorf("sync run: %w", err)
	}
	return outcomeOf(sync), compare(async, sync, "sync vs async")
}

func runEOSEquivalence(ctx context.Context, env *Env) (Outcome, error) {
	separate, err := env.runFull(ctx, env.Mode, func(o *codectest.Options) { o.SignalEOSWithLastFrame = false })
	if err != nil {
		return Outcome{}, fmt.Errorf("separate end-of-stream run: %w", err)
	}
	fused, err := env.runFull(ctx, env.Mode, func(o *codectest.Options) { o.SignalEOSWithLastFrame = true })
	if err != nil {
		return Outcome{}, fmt.Errorf("fused end-of-stream run: %w", err)
	}
	return outcomeOf(fused), compare(separate, fused, "fused vs separate end-of-stream")
}

func runFlush(ctx context.Context, env *Env) (Outcome, error) {
	var ref *codectest.Driver
	if !env.Device.Encoder {
		var err error
		if ref, err = env.runFull(ctx, env.Mode, nil); err != nil {
			return Outcome{}, fmt.Errorf("reference run: %w", err)
		}
	}

	s, err := env.start(env.Mode, nil)
	if err != nil {
		return Outcome{}, err
	}
	defer s.Close()
	if err := s.DoWork(ctx, min(flushAfterFrames, env.limit())); err != nil {
		return Outcome{}, err
	}
	if err := s.Flush(); err != nil {
		return Outcome{}, err
	}

	if ref != nil {
		if err := env.rerun(ctx, s); err != nil {
			return Outcome{}, fmt.Errorf("run after flush: %w", err)
		}
		return outcomeOf(s.Driver), compare(ref, s.Driver, "flushed vs uninterrupted")
	}

	// Encoders keep their state across a flush, so the replay starts at an
	// offset past everything already submitted.
	r, ok := s.src.(restarter)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: source of %s cannot restart with an offset", ErrSkip, env.Stream.Name)
	}
	floor := r.Restart()
	s.SetSource(s.src)
	s.SetOutput(env.NewOutput())
	s.SetOutputFloor(floor)
	if err := s.Run(ctx, env.limit()); err != nil {
		return Outcome{}, fmt.Errorf("run after flush: %w", err)
	}
	out := outcomeOf(s.Driver)
	if out.Outputs == 0 {
		return out, errors.New("no output after flush")
	}
	if !s.Output().IsPTSStrictlyIncreasing(floor) {
		return out, fmt.Errorf("output timestamps after flush are not strictly increasing above %d", floor)
	}
	return out, nil
}

func runResetIdempotence(ctx context.Context, env *Env) (Outcome, error) {
	s, err := env.start(env.Mode, nil)
	if err != nil {
		return Outcome{}, err
	}
	defer s.Close()
	if err := s.Run(ctx, env.limit()); err != nil {
		return Outcome{}, fmt.Errorf("first run: %w", err)
	}
	first := s.Output()

	if err := s.Reconfigure(env.Format()); err != nil {
		return Outcome{}, err
	}
	if err := s.Start(); err != nil {
		return Outcome{}, err
	}
	if err := env.rerun(ctx, s); err != nil {
		return Outcome{}, fmt.Errorf("run after reset: %w", err)
	}
	if err := s.Output().Compare(first).Err(); err != nil {
		return outcomeOf(s.Driver), fmt.Errorf("run after reset vs first run: %w", err)
	}
	return outcomeOf(s.Driver), nil
}

func runReconfigure(ctx context.Context, env *Env) (Outcome, error) {
	ref, err := env.runFull(ctx, env.Mode, nil)
	if err != nil {
		return Outcome{}, fmt.Errorf("reference run: %w", err)
	}

	s, err := env.start(env.Mode, nil)
	if err != nil {
		return Outcome{}, err
	}
	defer s.Close()
	if err := s.DoWork(ctx, min(flushAfterFrames, env.limit())); err != nil {
		return Outcome{}, err
	}
	if err := s.Reconfigure(env.Format()); err != nil {
		return Outcome{}, err
	}
	if err := s.Start(); err != nil {
		return Outcome{}, err
	}
	if err := env.rerun(ctx, s); err != nil {
		return Outcome{}, fmt.Errorf("run after reconfigure: %w", err)
	}
	return outcomeOf(s.Driver), compare(ref, s.Driver, "reconfigured vs uninterrupted")
}

func runZeroInput(ctx context.Context, env *Env) (Outcome, error) {
	d := codectest.NewDriver(env.Device.New(), env.options(env.Mode))
	defer d.Release()
	d.SetSource(source.NewSliceSource(nil))
	d.SetOutput(env.NewOutput())
	if err := d.Configure(env.Format()); err != nil {
		return Outcome{}, err
	}
	if err := d.Start(); err != nil {
		return Outcome{}, err
	}
	if err := d.Run(ctx, env.limit()); err != nil {
		return Outcome{}, err
	}

	out := outcomeOf(d)
	switch {
	case !d.SawOutputEOS():
		return out, errors.New("no end-of-stream on output")
	case out.Outputs != 0:
		return out, fmt.Errorf("%d frames produced from no input", out.Outputs)
	case len(d.Output().OutputPTS()) != 0:
		return out, errors.New("timestamps recorded from no input")
	}
	return out, nil
}

func runPTSOrder(ctx context.Context, env *Env) (Outcome, error) {
	d, err := env.runFull(ctx, env.Mode, nil)
	if err != nil {
		return Outcome{}, err
	}
	out, snap := outcomeOf(d), d.Output()

	if media.IsVideoMime(env.Stream.Mime()) && !env.Device.Encoder {
		// A device without a reorder window emits decode order, so only the
		// timestamp sets are compared.
		if !snap.IsOutPTSIdenticalToInPTS(!env.Device.Reorders) {
			return out, errors.New("output timestamps differ from input timestamps")
		}
		if env.Device.Reorders && !snap.IsPTSStrictlyIncreasing(d.OutputFloor()) {
			return out, errors.New("output timestamps are not in presentation order")
		}
		return out, nil
	}

	if !snap.IsPTSStrictlyIncreasing(d.OutputFloor()) {
		return out, errors.New("output timestamps are not strictly increasing")
	}
	if !snap.IsOutPTSIdenticalToInPTS(false) {
		return out, errors.New("output timestamps differ from input timestamps")
	}
	return out, nil
}

func runFormatChange(ctx context.Context, env *Env) (Outcome, error) {
	d, err := env.runFull(ctx, env.Mode, nil)
	if err != nil {
		return Outcome{}, err
	}
	out := outcomeOf(d)
	if !d.HasFormatChanged() {
		return out, errors.New("no output format announced")
	}
	in, got := d.Format(), d.OutputFormat()
	similar := media.IsFormatSimilar(in, got)
	if !similar && media.IsVideoMime(in.Mime()) && media.Width(in) == 0 {
		// Containers may omit dimensions; the device learns them in-band.
		similar = media.IsVideoMime(got.Mime())
	}
	if !similar {
		return out, fmt.Errorf("output format %s is not similar to input %s", got, in)
	}
	if env.Device.Encoder && !got.Contains(media.CSDKey(0)) {
		return out, errors.New("encoder output format carries no codec-specific data")
	}
	return out, nil
}

func runCSD(ctx context.Context, env *Env) (Outcome, error) {
	ref, err := env.runFull(ctx, env.Mode, nil)
	if err != nil {
		return Outcome{}, fmt.Errorf("reference run: %w", err)
	}

	s, err := env.start(env.Mode, nil)
	if err != nil {
		return Outcome{}, err
	}
	defer s.Close()
	if err := s.QueueCodecConfig(ctx, env.Format().CSD()); err != nil {
		return Outcome{}, err
	}
	if err := s.Run(ctx, env.limit()); err != nil {
		return Outcome{}, err
	}
	return outcomeOf(s.Driver), compare(ref, s.Driver, "in-band codec config vs format only")
}

func runRemux(_ context.Context, env *Env) (Outcome, error) {
	track := env.Stream.Track
	got, err := remux.RoundTrip(track)
	out := Outcome{Inputs: len(track.Samples)}
	if got != nil {
		out.Outputs = len(got.Samples)
	}
	return out, err
}

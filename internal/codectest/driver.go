package codectest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/jmylchreest/codecconf/internal/media"
	"github.com/jmylchreest/codecconf/internal/observability"
)

// DefaultPollTimeout is the wait budget of one sync-mode dequeue attempt.
const DefaultPollTimeout = 5 * time.Millisecond

// Mode selects the buffer exchange discipline.
type Mode int

// Exchange modes.
const (
	ModeAsync Mode = iota
	ModeSync
)

func (m Mode) String() string {
	switch m {
	case ModeAsync:
		return "async"
	case ModeSync:
		return "sync"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode parses "async" or "sync".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "async":
		return ModeAsync, nil
	case "sync":
		return ModeSync, nil
	default:
		return 0, fmt.Errorf("unknown mode %q: must be async or sync", s)
	}
}

// State is the lifecycle state of a driver run.
type State int

// Driver states.
const (
	StateIdle State = iota
	StateRunning
	StateEOSQueued
	StateDraining
	StateDone
	StateErrored
)

var stateNames = [...]string{
	StateIdle:      "idle",
	StateRunning:   "running",
	StateEOSQueued: "eos_queued",
	StateDraining:  "draining",
	StateDone:      "done",
	StateErrored:   "errored",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Options configures a Driver.
type Options struct {
	Mode Mode
	// SignalEOSWithLastFrame fuses the end-of-stream flag onto the final
	// input sample instead of sending a separate empty buffer.
	SignalEOSWithLastFrame bool
	// SaveToMemory appends every output payload to the snapshot bytes.
	SaveToMemory bool
	// ChecksumOutput records a checksum per output payload.
	ChecksumOutput bool
	// Encoder configures the device as an encoder.
	Encoder bool
	// PollTimeout is the sync-mode wait budget per dequeue attempt.
	PollTimeout time.Duration
	// OnOutput is called for every non-empty output payload before the
	// slot is released. The payload must not be retained.
	OnOutput func(info media.SampleInfo, payload []byte)
	Logger   *slog.Logger
}

// Driver runs input through a device and records the output into an
// OutputManager. A Driver is used by one goroutine.
type Driver struct {
	device  Device
	opts    Options
	handler *AsyncHandler
	output  *OutputManager
	logger  *slog.Logger

	source    Source
	lookahead *media.Sample
	exhausted bool

	state        State
	format       *media.Format
	sawInputEOS  bool
	sawOutputEOS bool
	inputCount   int
	outputCount  int
	outputFloor  int64

	syncFormat        *media.Format
	syncFormatChanged bool
}

// NewDriver creates a driver for device.
func NewDriver(device Device, opts Options) *Driver {
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = DefaultPollTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = observability.WithComponent(logger, "driver").With(
		slog.String("device", device.Name()),
		slog.String("mode", opts.Mode.String()),
	)
	return &Driver{
		device:      device,
		opts:        opts,
		handler:     NewAsyncHandler(logger),
		output:      NewOutputManager(WithLogger(logger)),
		logger:      logger,
		outputFloor: math.MinInt64,
	}
}

// SetSource replaces the input source and drops any buffered lookahead.
func (d *Driver) SetSource(src Source) {
	d.source = src
	d.lookahead = nil
	d.exhausted = false
}

// SetOutput replaces the snapshot output is recorded into.
func (d *Driver) SetOutput(m *OutputManager) {
	d.output = m
}

// Output returns the current snapshot.
func (d *Driver) Output() *OutputManager { return d.output }

// Handler returns the async event bridge.
func (d *Driver) Handler() *AsyncHandler { return d.handler }

// State returns the current state.
func (d *Driver) State() State { return d.state }

// Format returns the format the device was configured with.
func (d *Driver) Format() *media.Format { return d.format }

// Mode returns the exchange mode.
func (d *Driver) Mode() Mode { return d.opts.Mode }

// InputCount returns the number of timed input samples queued.
func (d *Driver) InputCount() int { return d.inputCount }

// OutputCount returns the number of timed output samples received.
func (d *Driver) OutputCount() int { return d.outputCount }

// SawInputEOS reports whether end-of-stream was handed to the device.
func (d *Driver) SawInputEOS() bool { return d.sawInputEOS }

// SawOutputEOS reports whether the device signalled end-of-stream.
func (d *Driver) SawOutputEOS() bool { return d.sawOutputEOS }

// OutputFloor returns the lowest acceptable first output timestamp minus
// one, for use with IsPTSStrictlyIncreasing. Configure and Flush reset it;
// recorded outputs do not move it.
func (d *Driver) OutputFloor() int64 { return d.outputFloor }

// SetOutputFloor overrides the output floor, for sources whose timestamps
// restart at an offset after a flush.
func (d *Driver) SetOutputFloor(pts int64) { d.outputFloor = pts }

// OutputFormat returns the last output format announced by the device.
func (d *Driver) OutputFormat() *media.Format {
	if d.opts.Mode == ModeAsync {
		return d.handler.OutputFormat()
	}
	return d.syncFormat
}

// HasFormatChanged reports whether the device announced an output format.
func (d *Driver) HasFormatChanged() bool {
	if d.opts.Mode == ModeAsync {
		return d.handler.HasFormatChanged()
	}
	return d.syncFormatChanged
}

func (d *Driver) setState(s State) {
	if d.state == s {
		return
	}
	d.logger.Debug("state transition",
		slog.String("from", d.state.String()),
		slog.String("to", s.String()),
	)
	d.state = s
}

func (d *Driver) resetContext() {
	d.sawInputEOS = false
	d.sawOutputEOS = false
	d.inputCount = 0
	d.outputCount = 0
	d.outputFloor = math.MinInt64
	d.syncFormat = nil
	d.syncFormatChanged = false
}

// fail moves the driver to StateErrored and wraps cause.
func (d *Driver) fail(op string, cause error) error {
	err := &RunError{State: d.state, Op: op, Err: cause}
	d.setState(StateErrored)
	d.logger.Error("run failed", slog.String("operation", op), slog.String("error", cause.Error()))
	return err
}

func deviceFailure(err error) error {
	if errors.Is(err, ErrDeviceError) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrDeviceError, err)
}

func (d *Driver) requireState(op string, allowed ...State) error {
	for _, s := range allowed {
		if d.state == s {
			return nil
		}
	}
	return &RunError{State: d.state, Op: op, Err: ErrInvalidState}
}

// Configure resets all run state and configures the device.
func (d *Driver) Configure(format *media.Format) error {
	d.handler.Reset()
	d.resetContext()

	var cb Callback
	if d.opts.Mode == ModeAsync {
		cb = d.handler
	}
	if err := d.device.Configure(format, cb, d.opts.Encoder); err != nil {
		return fmt.Errorf("configuring %s: %w", d.device.Name(), err)
	}
	d.format = format
	d.state = StateIdle
	d.logger.Debug("configured", slog.String("format", format.String()))
	return nil
}

// Start starts the device.
func (d *Driver) Start() error {
	if err := d.requireState("start", StateIdle); err != nil {
		return err
	}
	if err := d.device.Start(); err != nil {
		return d.fail("start", deviceFailure(err))
	}
	d.setState(StateRunning)
	return nil
}

// Reconfigure resets the device and configures it with format.
func (d *Driver) Reconfigure(format *media.Format) error {
	if err := d.device.Reset(); err != nil {
		return fmt.Errorf("resetting %s: %w", d.device.Name(), err)
	}
	return d.Configure(format)
}

// Flush flushes the device and resets driver bookkeeping: pending events
// are dropped, counts and end-of-stream flags are cleared and the output
// floor is reset. In async mode the device is restarted so that it posts
// its input slots again. The snapshot is left untouched.
func (d *Driver) Flush() error {
	if err := d.requireState("flush", StateRunning, StateEOSQueued, StateDraining, StateDone); err != nil {
		return err
	}
	if err := d.device.Flush(); err != nil {
		return d.fail("flush", deviceFailure(err))
	}
	d.handler.ClearQueues()
	d.sawInputEOS = false
	d.sawOutputEOS = false
	d.inputCount = 0
	d.outputCount = 0
	d.outputFloor = math.MinInt64
	d.setState(StateRunning)

	if d.opts.Mode == ModeAsync {
		if err := d.device.Start(); err != nil {
			return d.fail("restart after flush", deviceFailure(err))
		}
	}
	return nil
}

// Stop stops the device. An errored driver stays errored until it is
// configured again.
func (d *Driver) Stop() error {
	if err := d.device.Stop(); err != nil {
		return fmt.Errorf("stopping %s: %w", d.device.Name(), err)
	}
	if d.state != StateErrored {
		d.setState(StateIdle)
	}
	return nil
}

// Release stops and releases the device.
func (d *Driver) Release() error {
	return errors.Join(d.device.Stop(), d.device.Release())
}

func (d *Driver) fill() error {
	if d.source == nil {
		d.exhausted = true
		return nil
	}
	s, err := d.source.ReadSample()
	switch {
	case err == nil:
		d.lookahead = &s
	case errors.Is(err, io.EOF):
		d.exhausted = true
	default:
		return fmt.Errorf("reading source: %w", err)
	}
	return nil
}

// pull returns the next input sample and whether it is the last one.
func (d *Driver) pull() (sample media.Sample, ok, last bool, err error) {
	if d.lookahead == nil && !d.exhausted {
		if err := d.fill(); err != nil {
			return media.Sample{}, false, false, err
		}
	}
	if d.lookahead == nil {
		return media.Sample{}, false, false, nil
	}
	sample = *d.lookahead
	d.lookahead = nil
	if !d.exhausted {
		if err := d.fill(); err != nil {
			return media.Sample{}, false, false, err
		}
	}
	return sample, true, d.lookahead == nil, nil
}

func (d *Driver) enqueueEOS(index int) error {
	if d.sawInputEOS {
		return nil
	}
	if err := d.device.QueueInput(index, nil, media.SampleInfo{Flags: media.FlagEndOfStream}); err != nil {
		return d.fail("queue eos", deviceFailure(err))
	}
	d.sawInputEOS = true
	d.setState(StateEOSQueued)
	d.logger.Debug("queued end of stream", slog.Int("input_count", d.inputCount))
	return nil
}

func (d *Driver) enqueueInput(index int) error {
	sample, ok, last, err := d.pull()
	if err != nil {
		return d.fail("read input", err)
	}
	if !ok {
		return d.enqueueEOS(index)
	}

	info := sample.Info
	if last && d.opts.SignalEOSWithLastFrame {
		info.Flags |= media.FlagEndOfStream
	}
	if err := d.device.QueueInput(index, sample.Data, info); err != nil {
		return d.fail("queue input", deviceFailure(err))
	}
	if info.HasTimestamp() {
		d.output.RecordInputPTS(info.PresentationTimeUs)
		d.inputCount++
	}
	if info.IsEOS() {
		d.sawInputEOS = true
		d.setState(StateEOSQueued)
	}
	return nil
}

func (d *Driver) dequeueOutput(index int, info media.SampleInfo) error {
	if info.Size > 0 {
		buf, err := d.device.OutputBuffer(index)
		if err != nil {
			return d.fail("read output", deviceFailure(err))
		}
		end := info.Offset + info.Size
		if info.Offset < 0 || end > len(buf) {
			return d.fail("read output", fmt.Errorf("%w: output %s exceeds buffer of %d bytes", ErrDeviceError, info, len(buf)))
		}
		payload := buf[info.Offset:end]
		if d.opts.SaveToMemory {
			d.output.AppendBytes(payload)
		}
		if d.opts.ChecksumOutput {
			d.output.RecordChecksum(payload)
		}
		if d.opts.OnOutput != nil {
			d.opts.OnOutput(info, payload)
		}
		if info.HasTimestamp() {
			d.output.RecordOutputPTS(info.PresentationTimeUs)
			d.outputCount++
		}
	}
	if info.IsEOS() {
		d.sawOutputEOS = true
		d.setState(StateDone)
		d.logger.Debug("output end of stream",
			slog.Int("input_count", d.inputCount),
			slog.Int("output_count", d.outputCount),
		)
	}
	if err := d.device.ReleaseOutput(index); err != nil {
		return d.fail("release output", deviceFailure(err))
	}
	return nil
}

// checkAsync converts a stopped async pull into an error.
func (d *Driver) checkAsync(ctx context.Context, op string) error {
	if err := d.handler.Err(); err != nil {
		return d.fail(op, deviceFailure(err))
	}
	if err := ctx.Err(); err != nil {
		return d.fail(op, err)
	}
	return nil
}

// pollOutput makes one sync-mode output dequeue attempt.
func (d *Driver) pollOutput() error {
	index, info, err := d.device.DequeueOutput(d.opts.PollTimeout)
	switch {
	case err == nil:
		return d.dequeueOutput(index, info)
	case errors.Is(err, ErrFormatChanged):
		d.syncFormat = d.device.OutputFormat()
		d.syncFormatChanged = true
		d.logger.Debug("output format changed", slog.String("format", d.syncFormat.String()))
		return nil
	case errors.Is(err, ErrTryAgain):
		return nil
	default:
		return d.fail("dequeue output", deviceFailure(err))
	}
}

// pollInput makes one sync-mode input dequeue attempt and reports the slot.
func (d *Driver) pollInput() (int, bool, error) {
	index, err := d.device.DequeueInput(d.opts.PollTimeout)
	switch {
	case err == nil:
		return index, true, nil
	case errors.Is(err, ErrTryAgain):
		return -1, false, nil
	default:
		return -1, false, d.fail("dequeue input", deviceFailure(err))
	}
}

// DoWork supplies up to frameLimit input samples, consuming output as it
// becomes available. It returns once the limit is reached or end-of-stream
// was queued; reaching the limit does not imply end-of-stream.
func (d *Driver) DoWork(ctx context.Context, frameLimit int) error {
	if err := d.requireState("do work", StateRunning, StateEOSQueued); err != nil {
		return err
	}
	frames := 0

	if d.opts.Mode == ModeAsync {
		for !d.sawInputEOS && frames < frameLimit {
			ev, ok := d.handler.NextAny(ctx)
			if !ok {
				return d.checkAsync(ctx, "do work")
			}
			if ev.Output {
				if err := d.dequeueOutput(ev.Index, ev.Info); err != nil {
					return err
				}
				continue
			}
			if err := d.enqueueInput(ev.Index); err != nil {
				return err
			}
			frames++
		}
		return nil
	}

	for !d.sawInputEOS && frames < frameLimit {
		if err := ctx.Err(); err != nil {
			return d.fail("do work", err)
		}
		if err := d.pollOutput(); err != nil {
			return err
		}
		index, ok, err := d.pollInput()
		if err != nil {
			return err
		}
		if ok {
			if err := d.enqueueInput(index); err != nil {
				return err
			}
			frames++
		}
	}
	return nil
}

// QueueEOS sends a separate empty end-of-stream buffer unless end-of-stream
// was already queued.
func (d *Driver) QueueEOS(ctx context.Context) error {
	if err := d.requireState("queue eos", StateRunning, StateEOSQueued); err != nil {
		return err
	}

	if d.opts.Mode == ModeAsync {
		for !d.sawInputEOS {
			ev, ok := d.handler.NextAny(ctx)
			if !ok {
				return d.checkAsync(ctx, "queue eos")
			}
			if ev.Output {
				if err := d.dequeueOutput(ev.Index, ev.Info); err != nil {
					return err
				}
				continue
			}
			if err := d.enqueueEOS(ev.Index); err != nil {
				return err
			}
		}
		return nil
	}

	for !d.sawInputEOS {
		if err := ctx.Err(); err != nil {
			return d.fail("queue eos", err)
		}
		index, ok, err := d.pollInput()
		if err != nil {
			return err
		}
		if ok {
			return d.enqueueEOS(index)
		}
		if err := d.pollOutput(); err != nil {
			return err
		}
	}
	return nil
}

// WaitForAllOutputs drains output until the device signals end-of-stream.
func (d *Driver) WaitForAllOutputs(ctx context.Context) error {
	if d.state == StateDone {
		return nil
	}
	if err := d.requireState("wait for outputs", StateEOSQueued, StateDraining); err != nil {
		return err
	}
	d.setState(StateDraining)

	if d.opts.Mode == ModeAsync {
		for !d.sawOutputEOS {
			ev, ok := d.handler.NextOutput(ctx)
			if !ok {
				return d.checkAsync(ctx, "wait for outputs")
			}
			if err := d.dequeueOutput(ev.Index, ev.Info); err != nil {
				return err
			}
		}
		return nil
	}

	for !d.sawOutputEOS {
		if err := ctx.Err(); err != nil {
			return d.fail("wait for outputs", err)
		}
		if err := d.pollOutput(); err != nil {
			return err
		}
	}
	return nil
}

// Run supplies up to frameLimit samples, queues end-of-stream and drains
// all output.
func (d *Driver) Run(ctx context.Context, frameLimit int) (err error) {
	done := observability.TimedOperationWithError(ctx, d.logger, "codec_run", &err)
	defer done()

	if err = d.DoWork(ctx, frameLimit); err != nil {
		return err
	}
	if err = d.QueueEOS(ctx); err != nil {
		return err
	}
	return d.WaitForAllOutputs(ctx)
}

// QueueCodecConfig submits csd buffers flagged as codec config. They are
// not counted and carry no timestamp.
func (d *Driver) QueueCodecConfig(ctx context.Context, csd [][]byte) error {
	if err := d.requireState("queue codec config", StateRunning); err != nil {
		return err
	}
	for _, buf := range csd {
		index, err := d.nextInputSlot(ctx, "queue codec config")
		if err != nil {
			return err
		}
		info := media.SampleInfo{Size: len(buf), Flags: media.FlagCodecConfig}
		if err := d.device.QueueInput(index, buf, info); err != nil {
			return d.fail("queue codec config", deviceFailure(err))
		}
	}
	return nil
}

// nextInputSlot waits for a free input slot, consuming output meanwhile.
func (d *Driver) nextInputSlot(ctx context.Context, op string) (int, error) {
	if d.opts.Mode == ModeAsync {
		for {
			ev, ok := d.handler.NextAny(ctx)
			if !ok {
				return -1, d.checkAsync(ctx, op)
			}
			if !ev.Output {
				return ev.Index, nil
			}
			if err := d.dequeueOutput(ev.Index, ev.Info); err != nil {
				return -1, err
			}
		}
	}
	for {
		if err := ctx.Err(); err != nil {
			return -1, d.fail(op, err)
		}
		index, ok, err := d.pollInput()
		if err != nil {
			return -1, err
		}
		if ok {
			return index, nil
		}
		if err := d.pollOutput(); err != nil {
			return -1, err
		}
	}
}

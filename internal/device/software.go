// Package device provides in-process software devices that implement the
// codectest.Device buffer exchange contract. They stand in for hardware
// codecs so the conformance suite can exercise the driver deterministically.
package device

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/codecconf/internal/codectest"
	"github.com/jmylchreest/codecconf/internal/media"
	"github.com/jmylchreest/codecconf/internal/observability"
)

// Default slot configuration.
const (
	DefaultInputSlots   = 4
	DefaultOutputSlots  = 4
	DefaultMaxInputSize = 1 << 20
)

// ErrInjectedFault is raised by a device configured with FailAfterInputs.
var ErrInjectedFault = errors.New("injected device fault")

// Options configures a software device.
type Options struct {
	InputSlots   int
	OutputSlots  int
	MaxInputSize int
	// ReorderDepth holds up to this many decoded frames and releases them
	// in presentation order. Ignored by encoders.
	ReorderDepth int
	// FuseOutputEOS sets the end-of-stream flag on the last output frame
	// instead of emitting a separate empty buffer.
	FuseOutputEOS bool
	// FailAfterInputs raises ErrInjectedFault when input number N+1 is
	// queued. Zero disables it.
	FailAfterInputs int
	// InspectAVC reads SPS NAL units of an AVC stream and announces the
	// coded dimensions as the output format.
	InspectAVC bool
	Logger     *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.InputSlots <= 0 {
		o.InputSlots = DefaultInputSlots
	}
	if o.OutputSlots <= 0 {
		o.OutputSlots = DefaultOutputSlots
	}
	if o.MaxInputSize <= 0 {
		o.MaxInputSize = DefaultMaxInputSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

type devState int

const (
	stateUninitialized devState = iota
	stateConfigured
	stateRunning
	stateFlushed
	stateReleased
)

var devStateNames = [...]string{"uninitialized", "configured", "running", "flushed", "released"}

func (s devState) String() string { return devStateNames[s] }

type eventKind int

const (
	eventInput eventKind = iota
	eventOutput
	eventFormat
	eventError
)

type event struct {
	gen    uint64
	kind   eventKind
	index  int
	info   media.SampleInfo
	format *media.Format
	err    error
}

type outputSlot struct {
	data  []byte
	info  media.SampleInfo
	owned bool
}

// readyOutput is a sync-mode dequeue result. A non-nil format marks a
// format change that is reported before the outputs queued after it.
type readyOutput struct {
	index  int
	format *media.Format
}

// Software is a software device. Each QueueInput runs the processor
// synchronously; produced frames fill free output slots in order and the
// rest wait until slots are released.
type Software struct {
	name     string
	id       string
	mimes    []string
	encoder  bool
	opts     Options
	logger   *slog.Logger
	inputsIn atomic.Int64

	mu     sync.Mutex
	cond   *sync.Cond
	state  devState
	cb     codectest.Callback
	format *media.Format
	proc   *processor
	err    error

	inputOwned  []bool
	freeInputs  []int
	outputs     []outputSlot
	freeOutputs []int
	ready       []readyOutput
	pending     []produced
	announced   *media.Format
	outFormat   *media.Format
	sawEOS      bool

	// Async delivery. gen invalidates events posted before a flush;
	// deliverMu is held while one event is delivered.
	gen       atomic.Uint64
	deliverMu sync.Mutex
	events    chan event
	quit      chan struct{}
	done      chan struct{}
}

// NewSoftware creates a software device handling the given mime types.
func NewSoftware(name string, mimes []string, encoder bool, opts Options) *Software {
	opts = opts.withDefaults()
	id := uuid.NewString()
	s := &Software{
		name:    name,
		id:      id,
		mimes:   slices.Clone(mimes),
		encoder: encoder,
		opts:    opts,
		logger: observability.WithComponent(opts.Logger, "device").With(
			slog.String("device", name),
			slog.String("instance_id", id),
		),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Name returns the registered device name.
func (s *Software) Name() string { return s.name }

// ID returns the instance identifier.
func (s *Software) ID() string { return s.id }

// IsEncoder reports whether the device encodes.
func (s *Software) IsEncoder() bool { return s.encoder }

// Mimes returns the supported mime types.
func (s *Software) Mimes() []string { return slices.Clone(s.mimes) }

// InputsQueued returns the number of non-config input buffers accepted
// since creation.
func (s *Software) InputsQueued() int64 { return s.inputsIn.Load() }

// Supports reports whether the device handles mime.
func (s *Software) Supports(mime string) bool {
	return slices.Contains(s.mimes, mime)
}

func (s *Software) invalid(op string) error {
	return fmt.Errorf("%s: %s in state %s: %w", s.name, op, s.state, codectest.ErrInvalidState)
}

// Configure prepares the device for format. A non-nil cb selects async mode.
func (s *Software) Configure(format *media.Format, cb codectest.Callback, encoder bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateUninitialized && s.state != stateConfigured {
		return s.invalid("configure")
	}
	if format == nil {
		return fmt.Errorf("%s: nil format: %w", s.name, codectest.ErrUnsupportedFormat)
	}
	if encoder != s.encoder || !s.Supports(format.Mime()) {
		return fmt.Errorf("%s: cannot %s %q: %w", s.name, kindVerb(encoder), format.Mime(), codectest.ErrUnsupportedFormat)
	}
	proc, err := newProcessor(format, encoder, s.opts)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", s.name, codectest.ErrUnsupportedFormat, err)
	}

	s.format = format.Clone()
	s.cb = cb
	s.proc = proc
	s.err = nil
	s.announced = nil
	s.outFormat = nil
	s.resetSlots()
	s.state = stateConfigured
	s.logger.Debug("configured",
		slog.String("format", format.String()),
		slog.Bool("async", cb != nil),
	)
	return nil
}

func kindVerb(encoder bool) string {
	if encoder {
		return "encode"
	}
	return "decode"
}

// resetSlots marks every slot free and drops queued work.
func (s *Software) resetSlots() {
	s.inputOwned = make([]bool, s.opts.InputSlots)
	s.freeInputs = s.freeInputs[:0]
	for i := range s.opts.InputSlots {
		s.freeInputs = append(s.freeInputs, i)
	}
	s.outputs = make([]outputSlot, s.opts.OutputSlots)
	s.freeOutputs = s.freeOutputs[:0]
	for i := range s.opts.OutputSlots {
		s.freeOutputs = append(s.freeOutputs, i)
	}
	s.ready = nil
	s.pending = nil
	s.sawEOS = false
}

// Start begins processing. In async mode every free input slot is announced.
func (s *Software) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateConfigured && s.state != stateFlushed {
		return s.invalid("start")
	}
	if s.cb != nil {
		if s.events == nil {
			s.startNotifier()
		}
		for _, i := range s.freeInputs {
			s.inputOwned[i] = true
			s.post(event{kind: eventInput, index: i})
		}
		s.freeInputs = s.freeInputs[:0]
	}
	s.state = stateRunning
	s.cond.Broadcast()
	return nil
}

func (s *Software) startNotifier() {
	n := 4*(s.opts.InputSlots+s.opts.OutputSlots) + 16
	s.events = make(chan event, n)
	s.quit = make(chan struct{})
	s.done = make(chan struct{})
	go s.notify(s.events, s.quit, s.done, s.cb)
}

// stopNotifier must be called with mu held. The notifier never takes mu.
func (s *Software) stopNotifier() {
	if s.events == nil {
		return
	}
	s.gen.Add(1)
	close(s.quit)
	<-s.done
	s.events = nil
}

func (s *Software) notify(events <-chan event, quit, done chan struct{}, cb codectest.Callback) {
	defer close(done)
	for {
		select {
		case <-quit:
			return
		case ev := <-events:
			s.deliverMu.Lock()
			if ev.gen == s.gen.Load() {
				deliver(cb, ev)
			}
			s.deliverMu.Unlock()
		}
	}
}

func deliver(cb codectest.Callback, ev event) {
	switch ev.kind {
	case eventInput:
		cb.OnInputReady(ev.index)
	case eventOutput:
		cb.OnOutputReady(ev.index, ev.info)
	case eventFormat:
		cb.OnFormatChanged(ev.format)
	case eventError:
		cb.OnError(ev.err)
	}
}

// post queues an async event for the current generation. Called with mu
// held.
func (s *Software) post(ev event) {
	if s.events == nil {
		return
	}
	ev.gen = s.gen.Load()
	s.events <- ev
}

// raise records a device error. Async callers learn of it through OnError,
// sync callers from the next dequeue.
func (s *Software) raise(cause error) {
	err := fmt.Errorf("%s: %w: %w", s.name, codectest.ErrDeviceError, cause)
	s.logger.Warn("device error", slog.String("error", cause.Error()))
	if s.err == nil {
		s.err = err
	}
	if s.cb != nil {
		s.post(event{kind: eventError, err: err})
	}
	s.cond.Broadcast()
}

// QueueInput hands an input slot back to the device.
func (s *Software) QueueInput(index int, data []byte, info media.SampleInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateRunning {
		return s.invalid("queue input")
	}
	if index < 0 || index >= len(s.inputOwned) || !s.inputOwned[index] {
		return fmt.Errorf("%s: input slot %d not owned by caller: %w", s.name, index, codectest.ErrInvalidState)
	}
	if s.sawEOS {
		return fmt.Errorf("%s: input after end of stream: %w", s.name, codectest.ErrInvalidState)
	}
	end := info.Offset + info.Size
	if info.Offset < 0 || info.Size < 0 || end > len(data) {
		return fmt.Errorf("%s: input %s exceeds %d byte buffer: %w", s.name, info, len(data), codectest.ErrInvalidState)
	}
	if info.Size > s.opts.MaxInputSize {
		return fmt.Errorf("%s: input of %d bytes exceeds max input size %d: %w", s.name, info.Size, s.opts.MaxInputSize, codectest.ErrInvalidState)
	}
	s.inputOwned[index] = false

	if s.err == nil {
		s.consume(data[info.Offset:end], info)
	}
	s.pump()
	s.recycleInput(index)
	return nil
}

func (s *Software) consume(payload []byte, info media.SampleInfo) {
	if !info.IsCodecConfig() && info.Size > 0 {
		n := s.inputsIn.Add(1)
		if s.opts.FailAfterInputs > 0 && n > int64(s.opts.FailAfterInputs) {
			s.raise(fmt.Errorf("%w after %d inputs", ErrInjectedFault, s.opts.FailAfterInputs))
			return
		}
	}

	in := media.Sample{
		Data: slices.Clone(payload),
		Info: media.SampleInfo{Size: len(payload), PresentationTimeUs: info.PresentationTimeUs, Flags: info.Flags},
	}
	s.pending = append(s.pending, s.proc.process(in)...)

	if info.IsEOS() {
		s.sawEOS = true
		s.pending = append(s.pending, s.proc.drain()...)
		if s.opts.FuseOutputEOS && len(s.pending) > 0 {
			last := &s.pending[len(s.pending)-1]
			last.sample.Info.Flags |= media.FlagEndOfStream
		} else {
			s.pending = append(s.pending, produced{
				sample: media.Sample{Info: media.SampleInfo{Flags: media.FlagEndOfStream}},
				format: s.proc.format,
			})
		}
	}
}

// pump moves pending frames into free output slots, announcing format
// changes before the first frame produced in a new format.
func (s *Software) pump() {
	for len(s.pending) > 0 && len(s.freeOutputs) > 0 {
		p := s.pending[0]
		s.pending = s.pending[1:]

		if p.format != s.announced {
			s.announced = p.format
			s.logger.Debug("output format changed", slog.String("format", p.format.String()))
			if s.cb != nil {
				s.outFormat = p.format
				s.post(event{kind: eventFormat, format: p.format})
			} else {
				s.ready = append(s.ready, readyOutput{index: -1, format: p.format})
			}
		}

		idx := s.freeOutputs[0]
		s.freeOutputs = s.freeOutputs[1:]
		info := p.sample.Info
		info.Offset = 0
		info.Size = len(p.sample.Data)
		s.outputs[idx] = outputSlot{data: p.sample.Data, info: info, owned: true}

		if s.cb != nil {
			s.post(event{kind: eventOutput, index: idx, info: info})
		} else {
			s.ready = append(s.ready, readyOutput{index: idx})
		}
	}
	s.cond.Broadcast()
}

func (s *Software) recycleInput(index int) {
	if s.cb != nil {
		s.inputOwned[index] = true
		s.post(event{kind: eventInput, index: index})
		return
	}
	s.freeInputs = append(s.freeInputs, index)
	s.cond.Broadcast()
}

// waitLocked blocks on cond until ready returns true or timeout elapses.
// A zero timeout polls once and a negative timeout waits indefinitely.
func (s *Software) waitLocked(timeout time.Duration, ready func() bool) {
	if ready() || timeout == 0 {
		return
	}
	expired := false
	if timeout > 0 {
		t := time.AfterFunc(timeout, func() {
			s.mu.Lock()
			expired = true
			s.cond.Broadcast()
			s.mu.Unlock()
		})
		defer t.Stop()
	}
	for !ready() && !expired {
		s.cond.Wait()
	}
}

// DequeueInput returns a free input slot in sync mode.
func (s *Software) DequeueInput(timeout time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cb != nil || s.state != stateRunning {
		return -1, s.invalid("dequeue input")
	}
	s.waitLocked(timeout, func() bool {
		return len(s.freeInputs) > 0 || s.err != nil || s.state != stateRunning
	})
	switch {
	case s.err != nil:
		return -1, s.err
	case s.state != stateRunning:
		return -1, s.invalid("dequeue input")
	case len(s.freeInputs) == 0:
		return -1, codectest.ErrTryAgain
	}
	index := s.freeInputs[0]
	s.freeInputs = s.freeInputs[1:]
	s.inputOwned[index] = true
	return index, nil
}

// DequeueOutput returns a filled output slot in sync mode, or
// ErrFormatChanged once before the first frame of a new output format.
func (s *Software) DequeueOutput(timeout time.Duration) (int, media.SampleInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cb != nil || s.state != stateRunning {
		return -1, media.SampleInfo{}, s.invalid("dequeue output")
	}
	s.waitLocked(timeout, func() bool {
		return len(s.ready) > 0 || s.err != nil || s.state != stateRunning
	})
	switch {
	case s.err != nil:
		return -1, media.SampleInfo{}, s.err
	case s.state != stateRunning:
		return -1, media.SampleInfo{}, s.invalid("dequeue output")
	case len(s.ready) == 0:
		return -1, media.SampleInfo{}, codectest.ErrTryAgain
	}
	r := s.ready[0]
	s.ready = s.ready[1:]
	if r.format != nil {
		s.outFormat = r.format
		return -1, media.SampleInfo{}, codectest.ErrFormatChanged
	}
	return r.index, s.outputs[r.index].info, nil
}

func (s *Software) ownedOutput(index int) (*outputSlot, error) {
	if index < 0 || index >= len(s.outputs) || !s.outputs[index].owned {
		return nil, fmt.Errorf("%s: output slot %d not owned by caller: %w", s.name, index, codectest.ErrInvalidState)
	}
	return &s.outputs[index], nil
}

// OutputBuffer returns the contents of a delivered output slot.
func (s *Software) OutputBuffer(index int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, err := s.ownedOutput(index)
	if err != nil {
		return nil, err
	}
	return slot.data, nil
}

// ReleaseOutput returns an output slot to the device.
func (s *Software) ReleaseOutput(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateRunning {
		return s.invalid("release output")
	}
	slot, err := s.ownedOutput(index)
	if err != nil {
		return err
	}
	*slot = outputSlot{}
	s.freeOutputs = append(s.freeOutputs, index)
	s.pump()
	return nil
}

// OutputFormat returns the last announced output format.
func (s *Software) OutputFormat() *media.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outFormat
}

// Flush discards queued input and output. Events posted before the flush
// are not delivered once Flush returns. An async device must be started
// again.
func (s *Software) Flush() error {
	s.mu.Lock()
	if s.state != stateRunning && s.state != stateFlushed {
		err := s.invalid("flush")
		s.mu.Unlock()
		return err
	}
	s.gen.Add(1)
	s.proc.flush()
	s.err = nil
	s.resetSlots()
	if s.cb != nil {
		s.state = stateFlushed
	}
	s.cond.Broadcast()
	s.mu.Unlock()

	// Wait out a delivery that started before the generation changed.
	s.deliverMu.Lock()
	s.deliverMu.Unlock() //nolint:staticcheck // barrier

	s.logger.Debug("flushed")
	return nil
}

// Stop halts processing and keeps the configuration.
func (s *Software) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateUninitialized, stateConfigured:
		return nil
	case stateReleased:
		return s.invalid("stop")
	}
	s.stopNotifier()
	s.resetSlots()
	s.proc.flush()
	s.state = stateConfigured
	s.cond.Broadcast()
	return nil
}

// Reset returns the device to the unconfigured state.
func (s *Software) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateReleased {
		return s.invalid("reset")
	}
	s.resetLocked()
	s.state = stateUninitialized
	return nil
}

func (s *Software) resetLocked() {
	s.stopNotifier()
	s.resetSlots()
	s.cb = nil
	s.proc = nil
	s.format = nil
	s.err = nil
	s.announced = nil
	s.outFormat = nil
	s.cond.Broadcast()
}

// Release frees the device. Further calls other than Release fail.
func (s *Software) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateReleased {
		return nil
	}
	s.resetLocked()
	s.state = stateReleased
	s.logger.Debug("released")
	return nil
}

var _ codectest.Device = (*Software)(nil)

package codectest

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jmylchreest/codecconf/internal/media"
	"github.com/jmylchreest/codecconf/internal/observability"
)

// BufferEvent is one buffer notification posted by a device.
type BufferEvent struct {
	Index  int
	Info   media.SampleInfo
	Output bool
}

// AsyncHandler bridges device callbacks to a single consumer goroutine.
// Input and output notifications are kept in two FIFO queues; errors and
// format changes are sticky flags cleared only by Reset.
type AsyncHandler struct {
	mu   sync.Mutex
	cond *sync.Cond

	inputs  []BufferEvent
	outputs []BufferEvent

	err           error
	formatChanged bool
	format        *media.Format

	logger *slog.Logger
}

var _ Callback = (*AsyncHandler)(nil)

// NewAsyncHandler creates an empty handler.
func NewAsyncHandler(logger *slog.Logger) *AsyncHandler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &AsyncHandler{
		logger: observability.WithComponent(logger, "async_handler"),
	}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// OnInputReady queues a free input slot.
func (h *AsyncHandler) OnInputReady(index int) {
	h.mu.Lock()
	h.inputs = append(h.inputs, BufferEvent{Index: index})
	h.cond.Broadcast()
	h.mu.Unlock()
}

// OnOutputReady queues a filled output slot.
func (h *AsyncHandler) OnOutputReady(index int, info media.SampleInfo) {
	h.mu.Lock()
	h.outputs = append(h.outputs, BufferEvent{Index: index, Info: info, Output: true})
	h.cond.Broadcast()
	h.mu.Unlock()
}

// OnError records a device error. Only the first error is kept.
func (h *AsyncHandler) OnError(err error) {
	if err == nil {
		err = ErrDeviceError
	}
	h.mu.Lock()
	if h.err == nil {
		h.err = err
	}
	h.cond.Broadcast()
	h.mu.Unlock()

	h.logger.Error("device reported error", slog.String("error", err.Error()))
}

// OnFormatChanged records the new output format.
func (h *AsyncHandler) OnFormatChanged(format *media.Format) {
	h.mu.Lock()
	h.format = format
	h.formatChanged = true
	h.cond.Broadcast()
	h.mu.Unlock()

	h.logger.Debug("output format changed", slog.String("format", format.String()))
}

// wait blocks until ready returns true, an error is flagged or ctx is done.
// It must be called with h.mu held and reports whether an item may be taken.
func (h *AsyncHandler) wait(ctx context.Context, ready func() bool) bool {
	stop := context.AfterFunc(ctx, func() {
		h.mu.Lock()
		h.cond.Broadcast()
		h.mu.Unlock()
	})
	defer stop()

	for !ready() && h.err == nil && ctx.Err() == nil {
		h.cond.Wait()
	}
	return h.err == nil && ctx.Err() == nil
}

// NextInput blocks until a free input slot is queued. It returns false when
// an error is flagged or ctx is done.
func (h *AsyncHandler) NextInput(ctx context.Context) (BufferEvent, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.wait(ctx, func() bool { return len(h.inputs) > 0 }) {
		return BufferEvent{}, false
	}
	ev := h.inputs[0]
	h.inputs = h.inputs[1:]
	return ev, true
}

// NextOutput blocks until a filled output slot is queued.
func (h *AsyncHandler) NextOutput(ctx context.Context) (BufferEvent, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.wait(ctx, func() bool { return len(h.outputs) > 0 }) {
		return BufferEvent{}, false
	}
	ev := h.outputs[0]
	h.outputs = h.outputs[1:]
	return ev, true
}

// NextAny blocks until either queue has an event. Output events are
// returned before input events so the device is not starved of output slots.
func (h *AsyncHandler) NextAny(ctx context.Context) (BufferEvent, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.wait(ctx, func() bool { return len(h.outputs) > 0 || len(h.inputs) > 0 }) {
		return BufferEvent{}, false
	}
	if len(h.outputs) > 0 {
		ev := h.outputs[0]
		h.outputs = h.outputs[1:]
		return ev, true
	}
	ev := h.inputs[0]
	h.inputs = h.inputs[1:]
	return ev, true
}

// ClearQueues drops pending events but keeps the error and format flags.
func (h *AsyncHandler) ClearQueues() {
	h.mu.Lock()
	h.inputs = nil
	h.outputs = nil
	h.mu.Unlock()
}

// Reset clears the queues and all flags. It must not be called while the
// consumer is blocked in a pull.
func (h *AsyncHandler) Reset() {
	h.mu.Lock()
	h.inputs = nil
	h.outputs = nil
	h.err = nil
	h.formatChanged = false
	h.format = nil
	h.cond.Broadcast()
	h.mu.Unlock()
}

// HasError reports whether the device flagged an error.
func (h *AsyncHandler) HasError() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err != nil
}

// Err returns the first device error, if any.
func (h *AsyncHandler) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// HasFormatChanged reports whether a format change was seen.
func (h *AsyncHandler) HasFormatChanged() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.formatChanged
}

// OutputFormat returns the last announced output format.
func (h *AsyncHandler) OutputFormat() *media.Format {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.format
}

// Pending returns the number of queued input and output events.
func (h *AsyncHandler) Pending() (inputs, outputs int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.inputs), len(h.outputs)
}

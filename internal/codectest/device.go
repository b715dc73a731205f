// Package codectest drives a buffered codec-like device through its
// configure, exchange, end-of-stream and flush protocol, and records what it
// produces into snapshots that can be compared across runs.
package codectest

import (
	"time"

	"github.com/jmylchreest/codecconf/internal/media"
)

// Callback receives asynchronous notifications from a device. A device may
// invoke it from any goroutine, but never concurrently with itself.
type Callback interface {
	OnInputReady(index int)
	OnOutputReady(index int, info media.SampleInfo)
	OnError(err error)
	OnFormatChanged(format *media.Format)
}

// Device is a push/pull buffer exchange endpoint.
//
// Passing a non-nil Callback to Configure selects async mode: the device
// announces free input slots and ready output slots through the callback and
// the dequeue methods must not be used. With a nil Callback the device runs
// in sync mode and the caller polls with DequeueInput and DequeueOutput.
type Device interface {
	Name() string
	Configure(format *media.Format, cb Callback, encoder bool) error
	Start() error

	// DequeueInput returns a free input slot. A negative timeout blocks.
	DequeueInput(timeout time.Duration) (int, error)
	// DequeueOutput returns a filled output slot with its metadata.
	DequeueOutput(timeout time.Duration) (int, media.SampleInfo, error)

	QueueInput(index int, data []byte, info media.SampleInfo) error
	OutputBuffer(index int) ([]byte, error)
	ReleaseOutput(index int) error
	OutputFormat() *media.Format

	Flush() error
	Stop() error
	Reset() error
	Release() error
}

// Source yields input samples in order. ReadSample returns io.EOF once the
// source is exhausted.
type Source interface {
	ReadSample() (media.Sample, error)
}

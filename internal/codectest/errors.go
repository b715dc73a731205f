package codectest

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors.
var (
	// ErrTryAgain is returned by sync-mode dequeues when no slot became
	// available within the timeout.
	ErrTryAgain = errors.New("no buffer available, try again")

	// ErrFormatChanged is returned once by a sync-mode DequeueOutput when
	// the output format changed. Read it with Device.OutputFormat.
	ErrFormatChanged = errors.New("output format changed")

	// ErrDeviceError marks a failure reported by the device.
	ErrDeviceError = errors.New("device error")

	// ErrInvalidState is returned when an operation is not legal in the
	// current lifecycle state.
	ErrInvalidState = errors.New("invalid state")

	// ErrUnsupportedFormat is returned when a device cannot be configured
	// with the requested format.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrNoDevice is returned when no device handles a requested format.
	ErrNoDevice = errors.New("no device available")
)

// RunError is returned when a driver run fails.
type RunError struct {
	// State is the state the driver was in when the failure was observed.
	State State
	Op    string
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s in state %s: %v", e.Op, e.State, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// MismatchError lists the invariants broken by a snapshot comparison.
type MismatchError struct {
	Broken     []string
	Comparison Comparison
}

func (e *MismatchError) Error() string {
	return "snapshots differ: " + strings.Join(e.Broken, ", ")
}

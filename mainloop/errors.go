package mainloop

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	// ErrLoopAlreadyRunning is returned when Run is called on a running loop.
	ErrLoopAlreadyRunning = errors.New("mainloop: loop is already running")

	// ErrLoopTerminated is returned when operating on a loop that has stopped.
	ErrLoopTerminated = errors.New("mainloop: loop has been terminated")

	// ErrReentrantRun is returned when Run is called from a loop callback.
	ErrReentrantRun = errors.New("mainloop: cannot call Run() from within the loop")

	ErrNilCallback     = errors.New("mainloop: callback is nil")
	ErrInvalidFD       = errors.New("mainloop: invalid file descriptor")
	ErrInvalidInterval = errors.New("mainloop: periodic interval must be positive")

	// ErrTableFull is wrapped by a ResourceError when the event table would
	// grow beyond the limit configured by WithMaxSlots.
	ErrTableFull = errors.New("mainloop: event table is full")
)

// ResourceError reports a failure to acquire a resource the loop needs,
// e.g. the wakeup channel, the readiness poller, or an event table slot.
type ResourceError struct {
	Err error
	// Op names the resource, e.g. "wakeup", "poller", "table".
	Op string
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("mainloop: %s: %v", e.Op, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

// PollError is returned by Run when the readiness wait fails. The loop is
// stopped and its resources released before it is returned.
type PollError struct {
	Err error
}

func (e *PollError) Error() string {
	return fmt.Sprintf("mainloop: readiness wait failed: %v", e.Err)
}

func (e *PollError) Unwrap() error { return e.Err }

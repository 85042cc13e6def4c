package mainloop

import (
	"sync/atomic"
)

// LoopState represents the current state of the loop.
//
//	StateAwake → StateRunning          [Run]
//	StateAwake → StateTerminated       [Close]
//	StateRunning → StateTerminating    [Shutdown, Close, context done, wait failure]
//	StateTerminating → StateTerminated [Run returns]
type LoopState uint32

const (
	// StateAwake indicates the loop has been created but not started.
	StateAwake LoopState = iota
	// StateRunning indicates Run is executing the loop.
	StateRunning
	// StateTerminating indicates shutdown has been requested but Run has not
	// yet returned.
	StateTerminating
	// StateTerminated indicates the loop has stopped and released its
	// resources.
	StateTerminated
)

func (s LoopState) String() string {
	switch s {
	case StateAwake:
		return "Awake"
	case StateRunning:
		return "Running"
	case StateTerminating:
		return "Terminating"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// loopState is an atomic state cell. Transitions between temporary states
// use tryTransition; the terminal state is stored.
type loopState struct {
	v atomic.Uint32
}

func (s *loopState) load() LoopState {
	return LoopState(s.v.Load())
}

func (s *loopState) store(state LoopState) {
	s.v.Store(uint32(state))
}

func (s *loopState) tryTransition(from, to LoopState) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}

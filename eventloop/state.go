package eventloop

import (
	"sync/atomic"
)

// LoopState represents the current state of the event loop.
//
// State Machine:
//
//	StateNew (0) → StateRunning (1)         [Start()]
//	StateNew (0) → StateTerminated (3)      [Shutdown() before Start()]
//	StateRunning (1) → StateShutdown (2)    [Shutdown()]
//	StateShutdown (2) → StateTerminated (3) [loop drained]
//	StateTerminated (3) → (terminal)
//
// Transitions are strictly monotonic. Use TryTransition (CAS) for a
// transition from a known state, and Advance to force a loop forward (a
// failed ring moves it to shutdown from whichever state it is in).
type LoopState uint64

const (
	// StateNew indicates the loop has been created but not started.
	StateNew LoopState = iota
	// StateRunning indicates the loop goroutine is iterating.
	StateRunning
	// StateShutdown indicates shutdown has been requested, and the loop is
	// draining queued tasks and outstanding storage requests.
	StateShutdown
	// StateTerminated indicates the loop has stopped and released its ring.
	StateTerminated
)

// String returns a human-readable representation of the state.
func (s LoopState) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateRunning:
		return "RUNNING"
	case StateShutdown:
		return "SHUTDOWN"
	case StateTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// FastState is a lock-free state machine with cache-line padding.
//
// PERFORMANCE: Uses pure atomic CAS operations with no mutex.
// Cache-line padding prevents false sharing between cores.
type FastState struct { // betteralign:ignore
	_ [64]byte      // Cache line padding (before value) //nolint:unused
	v atomic.Uint64 // State value
	_ [56]byte      // Pad to complete cache line (64 - 8 = 56) //nolint:unused
}

// NewFastState creates a new state machine in the New state.
func NewFastState() *FastState {
	s := &FastState{}
	s.v.Store(uint64(StateNew))
	return s
}

// Load returns the current state atomically.
func (s *FastState) Load() LoopState {
	return LoopState(s.v.Load())
}

// TryTransition attempts to atomically transition from one state to another.
// Returns true if the transition was successful.
func (s *FastState) TryTransition(from, to LoopState) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}

// Advance moves the state forward to target, unless it is already at or
// beyond it. Returns the state observed before the successful transition,
// and whether a transition happened.
func (s *FastState) Advance(to LoopState) (LoopState, bool) {
	for {
		from := s.Load()
		if from >= to {
			return from, false
		}
		if s.TryTransition(from, to) {
			return from, true
		}
	}
}

// IsTerminal returns true if the current state is terminal (Terminated).
func (s *FastState) IsTerminal() bool {
	return s.Load() == StateTerminated
}

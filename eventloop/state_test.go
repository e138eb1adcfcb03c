package eventloop

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoopState_String(t *testing.T) {
	for state, want := range map[LoopState]string{
		StateNew:        "NEW",
		StateRunning:    "RUNNING",
		StateShutdown:   "SHUTDOWN",
		StateTerminated: "TERMINATED",
		LoopState(9):    "UNKNOWN",
	} {
		assert.Equal(t, want, state.String())
	}
}

func TestFastState_Advance(t *testing.T) {
	s := NewFastState()
	assert.Equal(t, StateNew, s.Load())

	from, ok := s.Advance(StateShutdown)
	assert.True(t, ok)
	assert.Equal(t, StateNew, from)
	assert.Equal(t, StateShutdown, s.Load())

	// never moves backwards
	from, ok = s.Advance(StateRunning)
	assert.False(t, ok)
	assert.Equal(t, StateShutdown, from)
	assert.Equal(t, StateShutdown, s.Load())

	assert.False(t, s.TryTransition(StateRunning, StateTerminated))
	assert.True(t, s.TryTransition(StateShutdown, StateTerminated))
	assert.True(t, s.IsTerminal())
}

func TestType_String(t *testing.T) {
	assert.Equal(t, "io_uring", TypeIOUring.String())
	assert.Equal(t, "sim", TypeSim.String())
	assert.Equal(t, "Type(7)", Type(7).String())
}

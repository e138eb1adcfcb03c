package uring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	calls []CQE
}

func (x *recordingHandler) Complete(res int32, flags uint32, userData uint64) {
	x.calls = append(x.calls, CQE{UserData: userData, Res: res, Flags: flags})
}

func reserveNop(t *testing.T, ring Ring, h CompletionHandler) uint64 {
	t.Helper()
	idx := ring.SQ().NextIndex()
	require.GreaterOrEqual(t, idx, 0)
	id := ring.CQ().NextID()
	ring.CQ().Register(id, h)
	sqe := SQE{Opcode: OpNop, UserData: id}
	sqe.Encode(ring.SQ().Slot(idx))
	return id
}

func TestSubmissionQueue_NextIndex_full(t *testing.T) {
	s := NewSim(3, nil)
	require.Equal(t, 4, s.SQ().Capacity())

	for i := 0; i < 4; i++ {
		assert.Equal(t, i, s.SQ().NextIndex())
	}
	assert.Equal(t, -1, s.SQ().NextIndex())
	assert.Equal(t, 4, s.SQ().Unflushed())

	n, err := s.Submit()
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 0, s.SQ().Pending())

	// consumed slots are writable again, wrapping around
	assert.Equal(t, 0, s.SQ().NextIndex())
}

func TestSim_manualCompletion(t *testing.T) {
	s := NewSim(8, nil)
	var h recordingHandler
	first := reserveNop(t, s, &h)
	second := reserveNop(t, s, &h)
	assert.Equal(t, uint64(1), first)
	assert.Equal(t, uint64(2), second)

	_, err := s.Submit()
	require.NoError(t, err)
	require.Len(t, s.Pending(), 2)
	assert.Equal(t, 0, s.CQ().Process())

	require.True(t, s.Complete(second, 11))
	assert.False(t, s.Complete(second, 11))
	assert.Equal(t, 1, s.CQ().Ready())
	assert.Equal(t, 1, s.CQ().Process())
	require.True(t, s.CompleteNext(-5))
	assert.False(t, s.CompleteNext(0))
	assert.Equal(t, 1, s.CQ().Process())

	assert.Equal(t, []CQE{{UserData: second, Res: 11}, {UserData: first, Res: -5}}, h.calls)
	assert.Zero(t, s.CQ().Registered())
}

func TestSim_executor(t *testing.T) {
	var seen []SQE
	s := NewSim(2, ExecutorFunc(func(sqe SQE) int32 {
		seen = append(seen, sqe)
		return int32(sqe.UserData * 10)
	}))
	var h recordingHandler
	reserveNop(t, s, &h)
	reserveNop(t, s, &h)

	_, err := s.Submit()
	require.NoError(t, err)
	assert.Empty(t, s.Pending())
	assert.Equal(t, 2, s.CQ().Process())
	assert.Equal(t, []CQE{{UserData: 1, Res: 10}, {UserData: 2, Res: 20}}, h.calls)
	require.Len(t, seen, 2)
	assert.Equal(t, OpNop, seen[0].Opcode)
	assert.Equal(t, uint64(2), s.Consumed())
}

func TestSim_completionOverflow(t *testing.T) {
	s := NewSim(1, ExecutorFunc(func(SQE) int32 { return 0 }))
	var h recordingHandler
	// two completion slots, five commands
	for i := 0; i < 5; i++ {
		reserveNop(t, s, &h)
		_, err := s.Submit()
		require.NoError(t, err)
	}
	assert.Equal(t, 2, s.CQ().Ready())
	assert.Equal(t, 2, s.CQ().Process())
	_, _ = s.Submit()
	assert.Equal(t, 2, s.CQ().Process())
	_, _ = s.Submit()
	assert.Equal(t, 1, s.CQ().Process())
	require.Len(t, h.calls, 5)
	for i, c := range h.calls {
		assert.Equal(t, uint64(i+1), c.UserData)
	}
}

func TestCompletionQueue_unknownUserData(t *testing.T) {
	s := NewSim(2, nil)
	idx := s.SQ().NextIndex()
	sqe := SQE{Opcode: OpNop, UserData: 77}
	sqe.Encode(s.SQ().Slot(idx))
	_, err := s.Submit()
	require.NoError(t, err)
	require.True(t, s.CompleteNext(0))

	defer func() {
		r := recover()
		require.NotNil(t, r)
		assert.ErrorIs(t, r.(error), ErrUnknownCompletion)
	}()
	s.CQ().Process()
	t.Fatal("expected panic")
}

func TestCompletionQueue_Register_duplicate(t *testing.T) {
	s := NewSim(2, nil)
	var h recordingHandler
	s.CQ().Register(1, &h)
	assert.Panics(t, func() { s.CQ().Register(1, &h) })
	assert.Panics(t, func() { s.CQ().Register(2, nil) })
}

func TestCompletionQueue_Cancel(t *testing.T) {
	s := NewSim(4, nil)
	var keep, drop recordingHandler
	s.CQ().Register(1, &keep)
	s.CQ().Register(2, &drop)
	s.CQ().Register(3, &drop)

	var cancelled []uint64
	n := s.CQ().Cancel(func(id uint64, h CompletionHandler) bool {
		if h != CompletionHandler(&drop) {
			return false
		}
		cancelled = append(cancelled, id)
		return true
	})
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []uint64{2, 3}, cancelled)
	assert.Equal(t, 1, s.CQ().Registered())
	assert.Empty(t, drop.calls)
	assert.Empty(t, keep.calls)
}

func TestSim_Close(t *testing.T) {
	s := NewSim(2, nil)
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Close(), ErrClosed)
	_, err := s.Submit()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRoundUpPow2(t *testing.T) {
	for in, want := range map[uint32]uint32{0: 1, 1: 1, 2: 2, 3: 4, 5: 8, 64: 64, 65: 128} {
		assert.Equal(t, want, roundUpPow2(in), "in=%d", in)
	}
}

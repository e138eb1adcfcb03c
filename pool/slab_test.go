package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widget struct {
	n int
}

func TestSlab_allocateFree(t *testing.T) {
	var built int
	s := NewSlab(3, func() *widget {
		built++
		return &widget{n: built}
	})
	assert.Equal(t, 3, built, "instances are constructed up front")
	assert.Equal(t, 3, s.Cap())
	assert.Equal(t, 3, s.Len())

	a, err := s.Allocate()
	require.NoError(t, err)
	b, err := s.Allocate()
	require.NoError(t, err)
	c, err := s.Allocate()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, []int{a.n, b.n, c.n})
	assert.Zero(t, s.Len())

	_, err = s.Allocate()
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 3, built, "exhaustion allocates nothing")

	s.Free(b)
	assert.Equal(t, 1, s.Len())
	again, err := s.Allocate()
	require.NoError(t, err)
	assert.Same(t, b, again)
}

func TestSlab_Generation(t *testing.T) {
	s := NewSlab[widget](1, nil)
	p, err := s.Allocate()
	require.NoError(t, err)
	g := s.Generation(p)
	s.Free(p)
	q, err := s.Allocate()
	require.NoError(t, err)
	require.Same(t, p, q)
	assert.Equal(t, g+1, s.Generation(q))
	assert.True(t, s.Owns(q))
	assert.False(t, s.Owns(&widget{}))
}

func TestSlab_Free_invariants(t *testing.T) {
	s := NewSlab[widget](2, nil)
	p, err := s.Allocate()
	require.NoError(t, err)
	s.Free(p)

	assertPanicsWith := func(t *testing.T, target error, fn func()) {
		t.Helper()
		defer func() {
			r := recover()
			require.NotNil(t, r)
			err, ok := r.(error)
			require.True(t, ok)
			assert.ErrorIs(t, err, target)
		}()
		fn()
	}
	assertPanicsWith(t, ErrDoubleFree, func() { s.Free(p) })
	assertPanicsWith(t, ErrForeign, func() { s.Free(&widget{}) })
	assert.Equal(t, 2, s.Len())
}

func TestNewSlab_invalid(t *testing.T) {
	assert.Panics(t, func() { NewSlab[widget](0, nil) })
	assert.Panics(t, func() { NewSlab(1, func() *widget { return nil }) })
	shared := &widget{}
	assert.Panics(t, func() { NewSlab(2, func() *widget { return shared }) })
}

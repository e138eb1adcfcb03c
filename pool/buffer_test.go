package pool

import (
	"testing"
	"unsafe"

	"github.com/ncw/directio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffers_alignment(t *testing.T) {
	align := directio.AlignSize
	x := NewBuffers(2, 100)
	if align > 0 {
		assert.Equal(t, align, x.Size())
	}
	for i := 0; i < 2; i++ {
		b, err := x.Allocate()
		require.NoError(t, err)
		assert.Equal(t, x.Size(), b.Cap())
		assert.Equal(t, b.Cap(), b.Len())
		if align > 0 {
			assert.Zero(t, uintptr(unsafe.Pointer(&b.Bytes()[0]))%uintptr(align))
		}
	}
	_, err := x.Allocate()
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Zero(t, x.Available())
}

func TestBuffer_writeAndPosition(t *testing.T) {
	x := NewBuffers(1, 8)
	b, err := x.Allocate()
	require.NoError(t, err)
	b.SetLen(8)

	base := b.Addr()
	n, err := b.WriteString("path")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	require.NoError(t, b.WriteByte(0))
	assert.Equal(t, 5, b.Position())
	assert.Equal(t, 3, b.Remaining())
	assert.Equal(t, base+5, b.Addr())

	_, err = b.WriteString("toolong")
	assert.Error(t, err)
	assert.Equal(t, 5, b.Position(), "failed writes do not move the position")

	_, err = b.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	assert.Error(t, b.WriteByte(4))

	b.Flip()
	assert.Equal(t, 0, b.Position())
	assert.Equal(t, 8, b.Len())
	assert.Equal(t, []byte("path\x00\x01\x02\x03"), b.Unread())

	b.Advance(2)
	assert.Equal(t, []byte("th\x00\x01\x02\x03"), b.Unread())
	assert.Panics(t, func() { b.Advance(7) })

	b.SetLen(1)
	assert.Equal(t, 1, b.Position())
	assert.Zero(t, b.Remaining())
}

func TestBuffer_Release(t *testing.T) {
	x := NewBuffers(1, 16)
	b, err := x.Allocate()
	require.NoError(t, err)
	_, _ = b.WriteString("dirty")
	b.Release()
	assert.Equal(t, 1, x.Available())
	assert.Panics(t, b.Release)

	again, err := x.Allocate()
	require.NoError(t, err)
	require.Same(t, b, again)
	assert.Zero(t, again.Position(), "allocation resets the position")
	assert.Equal(t, again.Cap(), again.Len())
}

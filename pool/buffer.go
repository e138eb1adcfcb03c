package pool

import (
	"errors"
	"fmt"
	"io"
	"unsafe"

	"github.com/ncw/directio"
)

// Buffers is a fixed set of equally sized, address aligned byte buffers,
// suitable as the target of kernel reads and writes (including O_DIRECT).
//
// Thread Safety: Buffers is NOT thread-safe.
type Buffers struct {
	slab *Slab[Buffer]
	size int
}

// Buffer is a pooled byte region with a position and a limit.
//
// Position advances as data is written into it, or as completed reads and
// writes consume it. Limit (Len) bounds the usable bytes. Bytes always
// returns the full backing region.
type Buffer struct {
	owner *Buffers
	b     []byte
	pos   int
	limit int
}

var (
	_ io.ByteWriter   = (*Buffer)(nil)
	_ io.StringWriter = (*Buffer)(nil)
	_ io.Writer       = (*Buffer)(nil)
)

// errShortBuffer is returned by writes past the limit.
var errShortBuffer = errors.New("pool: buffer: insufficient space")

// NewBuffers preallocates count buffers of at least size bytes. Sizes are
// rounded up to directio.AlignSize where the platform requires alignment.
func NewBuffers(count, size int) *Buffers {
	if size <= 0 {
		panic(fmt.Errorf("pool: buffers: invalid size %d", size))
	}
	if a := directio.AlignSize; a > 0 {
		size = (size + a - 1) / a * a
	}
	x := &Buffers{size: size}
	x.slab = NewSlab(count, func() *Buffer {
		return &Buffer{owner: x, b: directio.AlignedBlock(size), limit: size}
	})
	return x
}

// Allocate takes a free buffer, reset to position 0 and a full limit, or
// returns ErrExhausted.
func (x *Buffers) Allocate() (*Buffer, error) {
	b, err := x.slab.Allocate()
	if err != nil {
		return nil, err
	}
	b.Reset()
	return b, nil
}

// Size returns the capacity of each buffer.
func (x *Buffers) Size() int { return x.size }

// Available returns the number of free buffers.
func (x *Buffers) Available() int { return x.slab.Len() }

// Cap returns the total number of buffers.
func (x *Buffers) Cap() int { return x.slab.Cap() }

// Release returns the buffer to its pool. Releasing twice panics with
// ErrDoubleFree.
func (b *Buffer) Release() {
	b.owner.slab.Free(b)
}

// Bytes returns the entire backing region.
func (b *Buffer) Bytes() []byte { return b.b }

// Cap returns the size of the backing region.
func (b *Buffer) Cap() int { return len(b.b) }

// Len returns the limit.
func (b *Buffer) Len() int { return b.limit }

// SetLen sets the limit, clamping the position to it.
func (b *Buffer) SetLen(n int) {
	if n < 0 || n > len(b.b) {
		panic(fmt.Errorf("pool: buffer: limit %d out of range [0, %d]", n, len(b.b)))
	}
	b.limit = n
	b.pos = min(b.pos, n)
}

// Position returns the current position.
func (b *Buffer) Position() int { return b.pos }

// Advance moves the position forward by n.
func (b *Buffer) Advance(n int) {
	if n < 0 || n > b.Remaining() {
		panic(fmt.Errorf("pool: buffer: advance %d exceeds remaining %d", n, b.Remaining()))
	}
	b.pos += n
}

// Flip sets the limit to the position, and the position to zero, readying
// written data to be consumed.
func (b *Buffer) Flip() {
	b.limit = b.pos
	b.pos = 0
}

// Reset sets the position to zero and the limit to the full capacity.
func (b *Buffer) Reset() {
	b.pos = 0
	b.limit = len(b.b)
}

// Remaining returns the bytes between the position and the limit.
func (b *Buffer) Remaining() int { return b.limit - b.pos }

// Unread returns the bytes between the position and the limit.
func (b *Buffer) Unread() []byte { return b.b[b.pos:b.limit] }

// Addr returns the address of the byte at the current position. The
// backing memory is never moved or freed, so the address stays valid while
// the buffer is in use.
func (b *Buffer) Addr() uintptr {
	if len(b.b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(unsafe.SliceData(b.b))) + uintptr(b.pos)
}

// Write copies p at the position, failing without writing if it does not
// fit.
func (b *Buffer) Write(p []byte) (int, error) {
	if len(p) > b.Remaining() {
		return 0, errShortBuffer
	}
	n := copy(b.b[b.pos:b.limit], p)
	b.pos += n
	return n, nil
}

// WriteString is Write for strings.
func (b *Buffer) WriteString(s string) (int, error) {
	if len(s) > b.Remaining() {
		return 0, errShortBuffer
	}
	n := copy(b.b[b.pos:b.limit], s)
	b.pos += n
	return n, nil
}

// WriteByte writes a single byte at the position.
func (b *Buffer) WriteByte(c byte) error {
	if b.pos >= b.limit {
		return errShortBuffer
	}
	b.b[b.pos] = c
	b.pos++
	return nil
}

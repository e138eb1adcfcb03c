// Package queue implements the bounded FIFO queues used by the event loop.
package queue

import (
	"math/bits"
)

// Ring is a bounded FIFO queue over a power of two backing slice.
//
// Thread Safety: Ring is NOT thread-safe.
type Ring[T any] struct {
	s        []T
	r, w     uint
	capacity uint
}

// NewRing allocates a Ring that holds at most capacity elements.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic(`queue: ring: capacity must be positive`)
	}
	size := 1
	if capacity > 1 {
		size = 1 << bits.Len(uint(capacity-1))
	}
	return &Ring[T]{s: make([]T, size), capacity: uint(capacity)}
}

func (x *Ring[T]) mask(val uint) uint {
	return val & (uint(len(x.s)) - 1)
}

// Offer appends v, returning false without modifying the queue if it is full.
func (x *Ring[T]) Offer(v T) bool {
	if x.w-x.r >= x.capacity {
		return false
	}
	x.s[x.mask(x.w)] = v
	x.w++
	return true
}

// Poll removes and returns the head.
func (x *Ring[T]) Poll() (v T, ok bool) {
	if x.r == x.w {
		return
	}
	i := x.mask(x.r)
	v, ok = x.s[i], true
	var zero T
	x.s[i] = zero
	x.r++
	return
}

// Peek returns the head without removing it.
func (x *Ring[T]) Peek() (v T, ok bool) {
	if x.r == x.w {
		return
	}
	return x.s[x.mask(x.r)], true
}

// Len returns the number of queued elements.
func (x *Ring[T]) Len() int {
	return int(x.w - x.r)
}

// Cap returns the maximum number of elements.
func (x *Ring[T]) Cap() int {
	return int(x.capacity)
}

// IsEmpty reports whether Len is zero.
func (x *Ring[T]) IsEmpty() bool {
	return x.r == x.w
}

package queue

import (
	"math/bits"
	"sync/atomic"
)

const (
	sizeOfCacheLine    = 64
	sizeOfAtomicUint64 = 8
	mpscPadSize        = sizeOfCacheLine - sizeOfAtomicUint64
)

type mpscSlot[T any] struct {
	seq   atomic.Uint64
	value T
}

// MPSC is a bounded multi-producer single-consumer queue.
//
// Each slot carries a sequence number. A producer claims slot tail by CAS on
// tail, only when the slot's sequence equals tail, writes the value, then
// stores tail+1 (release). The consumer reads a slot once its sequence is
// head+1 (acquire), and hands it back by storing head+size.
//
// Concurrency Model:
//   - Offer: any goroutine
//   - Poll: the single consumer only
type MPSC[T any] struct { // betteralign:ignore
	_     [sizeOfCacheLine]byte
	tail  atomic.Uint64
	_     [mpscPadSize]byte
	head  atomic.Uint64
	_     [mpscPadSize]byte
	slots []mpscSlot[T]
	mask  uint64
}

// NewMPSC allocates a queue with capacity rounded up to a power of two.
func NewMPSC[T any](capacity int) *MPSC[T] {
	if capacity <= 0 {
		panic(`queue: mpsc: capacity must be positive`)
	}
	size := 1
	if capacity > 1 {
		size = 1 << bits.Len(uint(capacity-1))
	}
	q := &MPSC[T]{
		slots: make([]mpscSlot[T], size),
		mask:  uint64(size - 1),
	}
	for i := range q.slots {
		q.slots[i].seq.Store(uint64(i))
	}
	return q
}

// Offer enqueues v, returning false if the queue is full. It never blocks.
func (q *MPSC[T]) Offer(v T) bool {
	for {
		tail := q.tail.Load()
		slot := &q.slots[tail&q.mask]
		seq := slot.seq.Load()
		switch {
		case seq == tail:
			if q.tail.CompareAndSwap(tail, tail+1) {
				slot.value = v
				slot.seq.Store(tail + 1)
				return true
			}
		case seq < tail:
			// the consumer has not released this slot yet
			return false
		}
		// another producer claimed tail, retry
	}
}

// Poll dequeues the oldest element. It returns false if the queue is empty,
// or if the producer that claimed the head slot has not finished writing.
func (q *MPSC[T]) Poll() (v T, ok bool) {
	head := q.head.Load()
	slot := &q.slots[head&q.mask]
	if slot.seq.Load() != head+1 {
		return
	}
	v, ok = slot.value, true
	var zero T
	slot.value = zero
	slot.seq.Store(head + q.mask + 1)
	q.head.Store(head + 1)
	return
}

// Len returns the approximate number of queued elements.
func (q *MPSC[T]) Len() int {
	head := q.head.Load()
	tail := q.tail.Load()
	if tail < head {
		return 0
	}
	return int(tail - head)
}

// Cap returns the number of slots.
func (q *MPSC[T]) Cap() int {
	return len(q.slots)
}

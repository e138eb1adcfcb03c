package uring

import (
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	// ErrUnknownCompletion is the panic value (wrapped) raised when a
	// completion arrives for a correlation id that has no registered handler.
	// It indicates protocol corruption, and is never retried.
	ErrUnknownCompletion = errors.New("uring: completion for unregistered user data")

	// ErrDuplicateRegistration is the panic value (wrapped) raised when a
	// correlation id is registered while a previous registration is live.
	ErrDuplicateRegistration = errors.New("uring: user data already registered")

	// ErrClosed is returned by operations on a closed ring.
	ErrClosed = errors.New("uring: ring is closed")
)

// CompletionHandler receives the outcome of one submitted command.
type CompletionHandler interface {
	Complete(res int32, flags uint32, userData uint64)
}

// Ring is the kernel facing command ring pair. All methods must be called
// from the goroutine that owns the ring.
type Ring interface {
	// SQ returns the submission side.
	SQ() *SubmissionQueue
	// CQ returns the completion side.
	CQ() *CompletionQueue
	// Submit publishes every reserved slot and hands them to the kernel,
	// returning the number of entries consumed.
	Submit() (int, error)
	// Close releases the ring. Commands still in flight are abandoned.
	Close() error
}

// SubmissionQueue is the producer side of the command ring.
//
// Slots are reserved with NextIndex, populated in place via Slot, and made
// visible to the consumer by Flush. Reservation and population happen on one
// goroutine without interleaving, so no rollback exists.
type SubmissionQueue struct {
	head      *uint32 // advanced by the consumer
	tail      *uint32 // published by Flush
	array     []uint32
	sqes      []byte
	mask      uint32
	entries   uint32
	localTail uint32
}

func newSubmissionQueue(head, tail *uint32, array []uint32, sqes []byte, entries, mask uint32) *SubmissionQueue {
	return &SubmissionQueue{
		head:      head,
		tail:      tail,
		array:     array,
		sqes:      sqes,
		mask:      mask,
		entries:   entries,
		localTail: atomic.LoadUint32(tail),
	}
}

// NextIndex reserves the next writable slot, returning its index, or -1 if
// every slot is either reserved or still owned by the consumer.
func (q *SubmissionQueue) NextIndex() int {
	head := atomic.LoadUint32(q.head)
	if q.localTail-head >= q.entries {
		return -1
	}
	idx := q.localTail & q.mask
	q.localTail++
	return int(idx)
}

// Slot returns the SizeofSQE bytes backing the slot at index.
func (q *SubmissionQueue) Slot(index int) []byte {
	off := index * SizeofSQE
	return q.sqes[off : off+SizeofSQE : off+SizeofSQE]
}

// Flush publishes every slot reserved since the previous Flush, returning
// how many were published.
func (q *SubmissionQueue) Flush() uint32 {
	tail := atomic.LoadUint32(q.tail)
	n := q.localTail - tail
	for t := tail; t != q.localTail; t++ {
		q.array[t&q.mask] = t & q.mask
	}
	// release: slot contents and the index array become visible with tail
	atomic.StoreUint32(q.tail, q.localTail)
	return n
}

// Pending returns the number of reserved or published slots the consumer
// has not yet taken.
func (q *SubmissionQueue) Pending() int {
	return int(q.localTail - atomic.LoadUint32(q.head))
}

// Unflushed returns the number of reserved slots not yet published.
func (q *SubmissionQueue) Unflushed() int {
	return int(q.localTail - atomic.LoadUint32(q.tail))
}

// Capacity returns the number of slots.
func (q *SubmissionQueue) Capacity() int {
	return int(q.entries)
}

// CompletionQueue is the consumer side of the completion ring, plus the
// correlation table mapping user data back to the handler that submitted it.
type CompletionQueue struct {
	head     *uint32 // advanced by Process
	tail     *uint32 // advanced by the producer
	cqes     []byte
	handlers map[uint64]CompletionHandler
	mask     uint32
	entries  uint32
	nextID   uint64
}

func newCompletionQueue(head, tail *uint32, cqes []byte, entries, mask uint32, expected int) *CompletionQueue {
	return &CompletionQueue{
		head:     head,
		tail:     tail,
		cqes:     cqes,
		handlers: make(map[uint64]CompletionHandler, expected),
		mask:     mask,
		entries:  entries,
	}
}

// NextID returns a fresh correlation id. Ids start at 1 and increase
// monotonically, so they are unique among in-flight commands.
func (q *CompletionQueue) NextID() uint64 {
	q.nextID++
	return q.nextID
}

// Register associates id with handler. It must be called before the command
// carrying id is published.
func (q *CompletionQueue) Register(id uint64, handler CompletionHandler) {
	if handler == nil {
		panic(fmt.Errorf("uring: nil completion handler for user data %d", id))
	}
	if _, ok := q.handlers[id]; ok {
		panic(fmt.Errorf("%w: %d", ErrDuplicateRegistration, id))
	}
	q.handlers[id] = handler
}

// Registered returns the number of ids awaiting completion.
func (q *CompletionQueue) Registered() int {
	return len(q.handlers)
}

// Cancel removes every registration for which fn returns true, returning
// the number removed. It is for commands that will never complete, such as
// those outstanding on a failed ring; a later completion for a cancelled id
// panics in Process.
func (q *CompletionQueue) Cancel(fn func(id uint64, handler CompletionHandler) bool) int {
	var n int
	for id, handler := range q.handlers {
		if fn(id, handler) {
			delete(q.handlers, id)
			n++
		}
	}
	return n
}

// Ready returns the number of completions available to Process.
func (q *CompletionQueue) Ready() int {
	return int(atomic.LoadUint32(q.tail) - atomic.LoadUint32(q.head))
}

// Process drains every ready completion, removing each registration and
// dispatching to its handler. It returns the number dispatched.
func (q *CompletionQueue) Process() int {
	head := atomic.LoadUint32(q.head)
	tail := atomic.LoadUint32(q.tail)
	var n int
	for head != tail {
		off := int(head&q.mask) * SizeofCQE
		cqe := DecodeCQE(q.cqes[off : off+SizeofCQE])
		head++
		atomic.StoreUint32(q.head, head)

		handler, ok := q.handlers[cqe.UserData]
		if !ok {
			panic(fmt.Errorf("%w: %d (res=%d)", ErrUnknownCompletion, cqe.UserData, cqe.Res))
		}
		delete(q.handlers, cqe.UserData)
		handler.Complete(cqe.Res, cqe.Flags, cqe.UserData)
		n++
	}
	return n
}

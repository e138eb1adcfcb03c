package uring

import (
	"math/bits"
	"slices"
	"sync/atomic"
)

// Executor carries out one decoded command on behalf of a Sim, returning the
// kernel style result (non-negative on success, negated errno on failure).
type Executor interface {
	Execute(sqe SQE) int32
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(sqe SQE) int32

// Execute implements Executor.
func (f ExecutorFunc) Execute(sqe SQE) int32 { return f(sqe) }

// Sim is an in-memory Ring. It shares the SubmissionQueue and
// CompletionQueue implementations with the kernel backend, but the consumer
// is this struct: Submit decodes the published commands and, given an
// Executor, completes them immediately. Without an Executor, commands stay
// pending until Complete or CompleteNext is called, which lets callers
// script arbitrary completion orders and results.
type Sim struct {
	sq       *SubmissionQueue
	cq       *CompletionQueue
	exec     Executor
	sqArray  []uint32
	sqes     []byte
	cqes     []byte
	pending  []SQE
	overflow []CQE
	sqHead   uint32
	sqTail   uint32
	cqHead   uint32
	cqTail   uint32
	cqSize   uint32
	consumed uint64
	closed   bool
}

var _ Ring = (*Sim)(nil)

// NewSim allocates a simulated ring with at least entries submission slots
// (rounded up to a power of two) and twice as many completion slots.
func NewSim(entries uint32, exec Executor) *Sim {
	entries = roundUpPow2(max(entries, 1))
	s := &Sim{
		exec:    exec,
		sqArray: make([]uint32, entries),
		sqes:    make([]byte, int(entries)*SizeofSQE),
		cqes:    make([]byte, int(entries)*2*SizeofCQE),
		cqSize:  entries * 2,
	}
	s.sq = newSubmissionQueue(&s.sqHead, &s.sqTail, s.sqArray, s.sqes, entries, entries-1)
	s.cq = newCompletionQueue(&s.cqHead, &s.cqTail, s.cqes, s.cqSize, s.cqSize-1, int(entries))
	return s
}

// SQ implements Ring.
func (s *Sim) SQ() *SubmissionQueue { return s.sq }

// CQ implements Ring.
func (s *Sim) CQ() *CompletionQueue { return s.cq }

// Submit implements Ring.
func (s *Sim) Submit() (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	s.sq.Flush()

	head := atomic.LoadUint32(&s.sqHead)
	tail := atomic.LoadUint32(&s.sqTail)
	var n int
	for head != tail {
		idx := s.sqArray[head&s.sq.mask]
		s.pending = append(s.pending, DecodeSQE(s.sq.Slot(int(idx))))
		head++
		n++
	}
	atomic.StoreUint32(&s.sqHead, head)
	s.consumed += uint64(n)

	if s.exec != nil && len(s.pending) != 0 {
		for i := range s.pending {
			sqe := s.pending[i]
			s.post(CQE{UserData: sqe.UserData, Res: s.exec.Execute(sqe)})
		}
		clear(s.pending)
		s.pending = s.pending[:0]
	}

	s.flushOverflow()
	return n, nil
}

// Close implements Ring.
func (s *Sim) Close() error {
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	return nil
}

// Pending returns a copy of the commands consumed but not yet completed, in
// submission order.
func (s *Sim) Pending() []SQE {
	return slices.Clone(s.pending)
}

// Consumed returns the total number of commands taken from the submission
// queue.
func (s *Sim) Consumed() uint64 {
	return s.consumed
}

// Complete posts a completion with result res for the pending command with
// the given user data. It returns false if no such command is pending.
func (s *Sim) Complete(userData uint64, res int32) bool {
	i := slices.IndexFunc(s.pending, func(sqe SQE) bool { return sqe.UserData == userData })
	if i < 0 {
		return false
	}
	s.pending = slices.Delete(s.pending, i, i+1)
	s.post(CQE{UserData: userData, Res: res})
	s.flushOverflow()
	return true
}

// CompleteNext completes the oldest pending command with result res,
// returning false if nothing is pending.
func (s *Sim) CompleteNext(res int32) bool {
	if len(s.pending) == 0 {
		return false
	}
	return s.Complete(s.pending[0].UserData, res)
}

// post appends a completion, spilling to the overflow list while the
// completion ring is full (the kernel does the same with its overflow list).
func (s *Sim) post(cqe CQE) {
	if len(s.overflow) != 0 || !s.tryPost(cqe) {
		s.overflow = append(s.overflow, cqe)
	}
}

func (s *Sim) tryPost(cqe CQE) bool {
	tail := atomic.LoadUint32(&s.cqTail)
	if tail-atomic.LoadUint32(&s.cqHead) >= s.cqSize {
		return false
	}
	off := int(tail&(s.cqSize-1)) * SizeofCQE
	cqe.Encode(s.cqes[off : off+SizeofCQE])
	atomic.StoreUint32(&s.cqTail, tail+1)
	return true
}

func (s *Sim) flushOverflow() {
	var i int
	for i < len(s.overflow) && s.tryPost(s.overflow[i]) {
		i++
	}
	if i != 0 {
		s.overflow = slices.Delete(s.overflow, 0, i)
	}
}

func roundUpPow2(v uint32) uint32 {
	if v <= 1 {
		return 1
	}
	return 1 << bits.Len32(v-1)
}

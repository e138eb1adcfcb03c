package storage

import (
	"context"
	"sync"
)

// PromiseState is the lifecycle state of a Promise. Transitions out of
// Pending are irreversible until Reset.
type PromiseState int

const (
	// Pending indicates the operation has not completed.
	Pending PromiseState = iota
	// Resolved indicates the operation succeeded with a result.
	Resolved
	// Rejected indicates the operation failed.
	Rejected
)

// String implements fmt.Stringer.
func (s PromiseState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Resolved:
		return "resolved"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Promise is the single assignment outcome of one storage operation. It is
// settled on the loop goroutine and may be observed from any goroutine.
type Promise struct {
	done  chan struct{}
	err   error
	mu    sync.Mutex
	value int32
	state PromiseState
}

// NewPromise returns a pending Promise.
func NewPromise() *Promise {
	return &Promise{done: make(chan struct{})}
}

// Complete resolves the promise with v. It returns false if the promise was
// already settled.
func (p *Promise) Complete(v int32) bool {
	return p.settle(Resolved, v, nil)
}

// Fail rejects the promise with err. It returns false if the promise was
// already settled.
func (p *Promise) Fail(err error) bool {
	if err == nil {
		panic("storage: promise: nil error")
	}
	return p.settle(Rejected, 0, err)
}

func (p *Promise) settle(state PromiseState, v int32, err error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Pending {
		return false
	}
	p.state = state
	p.value = v
	p.err = err
	close(p.done)
	return true
}

// State returns the current state.
func (p *Promise) State() PromiseState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Done returns a channel closed once the promise settles.
func (p *Promise) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Result returns the outcome, with ok false while pending.
func (p *Promise) Result() (v int32, err error, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Pending {
		return 0, nil, false
	}
	return p.value, p.err, true
}

// Wait blocks until the promise settles or ctx is done.
func (p *Promise) Wait(ctx context.Context) (int32, error) {
	select {
	case <-p.Done():
		v, err, _ := p.Result()
		return v, err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Reset returns a settled promise to Pending, for reuse by the caller. It
// must not be called while the promise is attached to a scheduled request.
func (p *Promise) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Pending {
		return
	}
	p.state = Pending
	p.value = 0
	p.err = nil
	p.done = make(chan struct{})
}

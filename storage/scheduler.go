// Package storage schedules file operations onto an io_uring style ring.
//
// A Scheduler belongs to exactly one event loop, and every method must be
// called from that loop's goroutine. Outcomes reach other goroutines only
// through each request's Promise.
package storage

import (
	"fmt"
)

// Scheduler admits storage requests and drives them into a ring.
type Scheduler interface {
	// Allocate takes a request from the pool, failing with ErrExhausted.
	Allocate() (*Request, error)
	// Schedule stages a populated request, failing with ErrRejected when
	// the staging queue is full, or ErrInvalidArgument.
	Schedule(req *Request) error
	// Tick moves staged requests into the submission ring, bounded by the
	// in-flight limit.
	Tick()
	// Pending returns the number of staged and in-flight requests.
	Pending() int
}

// NopScheduler is a Scheduler without capacity, for loops that perform no
// storage I/O.
type NopScheduler struct{}

var _ Scheduler = NopScheduler{}

// Allocate always fails with ErrExhausted.
func (NopScheduler) Allocate() (*Request, error) {
	return nil, fmt.Errorf("%w: no storage scheduler configured", ErrExhausted)
}

// Schedule rejects every request.
func (NopScheduler) Schedule(req *Request) error {
	if req == nil {
		return fmt.Errorf("%w: nil request", ErrInvalidArgument)
	}
	return fmt.Errorf("%w: no storage scheduler configured", ErrRejected)
}

// Tick does nothing.
func (NopScheduler) Tick() {}

// Pending returns zero.
func (NopScheduler) Pending() int { return 0 }

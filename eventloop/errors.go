package eventloop

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	// ErrNilTask is returned when Offer is called with a nil task.
	ErrNilTask = errors.New("eventloop: nil task")

	// ErrLoopOverloaded is returned when the cross-thread task queue is full.
	ErrLoopOverloaded = errors.New("eventloop: loop is overloaded")

	// ErrLoopTerminated is returned when operations are attempted on a terminated loop.
	ErrLoopTerminated = errors.New("eventloop: loop has been terminated")

	// ErrIllegalState is returned when Start is called on a loop that is not new.
	ErrIllegalState = errors.New("eventloop: illegal state")

	// ErrInvalidOption is returned by New for an invalid LoopOption.
	ErrInvalidOption = errors.New("eventloop: invalid option")
)

// PanicError wraps a value recovered from a panicking task.
type PanicError struct {
	Value any
}

func (e PanicError) Error() string {
	return fmt.Sprintf("eventloop: task panicked: %v", e.Value)
}

// Unwrap returns the underlying error if the panic value is an error type.
// This enables use with [errors.Is] and [errors.As] for error matching
// through the cause chain.
//
// If the panic Value is not an error (e.g., a string or other type),
// returns nil.
func (e PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

package storage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joeycumines/go-tpcengine/pool"
	"golang.org/x/sys/unix"
)

var (
	// ErrExhausted is returned when the request or path buffer pool is empty.
	ErrExhausted = pool.ErrExhausted

	// ErrRejected is returned by Schedule when the staging queue is full.
	// The caller may back off and retry.
	ErrRejected = errors.New("storage: admission rejected")

	// ErrInvalidArgument indicates a nil or malformed request.
	ErrInvalidArgument = errors.New("storage: invalid argument")

	// ErrUnknownOperation is the panic value (wrapped) raised when encoding
	// a request whose operation is not one of the known variants.
	ErrUnknownOperation = errors.New("storage: unknown operation")

	// ErrAborted wraps the cause delivered to requests that were staged or
	// submitted when their ring failed.
	ErrAborted = errors.New("storage: request aborted")
)

// OpError is the failure delivered through a Promise when the kernel
// returns a negative result for a submitted operation.
type OpError struct {
	// Request describes the failed request, as it was when completed.
	Request string
	// Path is the target file's path, if any.
	Path  string
	Errno unix.Errno
	Op    Opcode
}

// Error implements the error interface. The message names the operation,
// the path, the system's description of the error, the errno, and the
// manual page for the call.
func (e *OpError) Error() string {
	var b strings.Builder
	b.WriteString("storage: failed to ")
	b.WriteString(opVerb(e.Op))
	if e.Path != `` {
		_, _ = fmt.Fprintf(&b, " %q", e.Path)
	}
	_, _ = fmt.Fprintf(&b, " (%s): %s (%s, errno %d)", e.Op, e.Errno.Error(), errnoName(e.Errno), int(e.Errno))
	if e.Request != `` {
		b.WriteString(": ")
		b.WriteString(e.Request)
	}
	if page := e.Op.ManPage(); page != `` {
		b.WriteString("; see ")
		b.WriteString(page)
	}
	return b.String()
}

// Unwrap returns the errno, so errors.Is matches both unix.Errno values and
// the fs errors they map to.
func (e *OpError) Unwrap() error {
	return e.Errno
}

func opVerb(op Opcode) string {
	switch op {
	case OpNop:
		return "perform a nop on file"
	case OpRead:
		return "read from file"
	case OpWrite:
		return "write to file"
	case OpFsync:
		return "fsync file"
	case OpFdatasync:
		return "fdatasync file"
	case OpOpen:
		return "open file"
	case OpClose:
		return "close file"
	case OpFallocate:
		return "fallocate file"
	default:
		return "perform " + op.String() + " on file"
	}
}

func errnoName(errno unix.Errno) string {
	if name := unix.ErrnoName(errno); name != `` {
		return name
	}
	return "E?"
}

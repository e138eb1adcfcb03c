package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/joeycumines/go-tpcengine/pool"
	"github.com/joeycumines/go-tpcengine/uring"
)

type requestState uint8

const (
	stateFree requestState = iota
	stateAllocated
	statePopulated
	stateStaged
	stateSubmitted
)

func (s requestState) String() string {
	switch s {
	case stateFree:
		return "free"
	case stateAllocated:
		return "allocated"
	case statePopulated:
		return "populated"
	case stateStaged:
		return "staged"
	case stateSubmitted:
		return "submitted"
	default:
		return "unknown"
	}
}

// Request is a pooled, reusable record of one storage operation, owned by
// the scheduler that allocated it. It moves through allocated, populated,
// staged and submitted, and returns to the pool once its Promise settles.
//
// Every operation variant is stored inline, and op points at the active
// one, so populating a request allocates nothing.
type Request struct {
	owner       *FIFOScheduler
	op          Operation
	promise     *Promise
	pathBuf     *pool.Buffer
	pathErr     error
	submittedAt time.Time

	nop       Nop
	read      Read
	write     Write
	fsync     Fsync
	fdatasync Fdatasync
	open      Open
	close     Close
	fallocate Fallocate

	id    uint64
	state requestState
}

var _ uring.CompletionHandler = (*Request)(nil)

// Prepare populates the request with op, to be settled through p. It may
// be called again before the request is scheduled, replacing the previous
// operation.
func (r *Request) Prepare(op Operation, p *Promise) error {
	if r.state != stateAllocated && r.state != statePopulated {
		return fmt.Errorf("%w: request is %s", ErrInvalidArgument, r.state)
	}
	if p == nil {
		return fmt.Errorf("%w: nil promise", ErrInvalidArgument)
	}
	var next Operation
	switch v := op.(type) {
	case Nop:
		r.nop = v
		next = &r.nop
	case Read:
		length, err := checkTransfer(v.Opcode(), v.File, v.Buf, v.Offset, v.Length)
		if err != nil {
			return err
		}
		v.Length = length
		r.read = v
		next = &r.read
	case Write:
		length, err := checkTransfer(v.Opcode(), v.File, v.Buf, v.Offset, v.Length)
		if err != nil {
			return err
		}
		v.Length = length
		r.write = v
		next = &r.write
	case Fsync:
		if v.File == nil {
			return errNilFile(v)
		}
		r.fsync = v
		next = &r.fsync
	case Fdatasync:
		if v.File == nil {
			return errNilFile(v)
		}
		r.fdatasync = v
		next = &r.fdatasync
	case Open:
		if v.File == nil {
			return errNilFile(v)
		}
		if v.File.Path() == `` || strings.IndexByte(v.File.Path(), 0) >= 0 {
			return fmt.Errorf("%w: %s: invalid path %q", ErrInvalidArgument, v.Opcode(), v.File.Path())
		}
		if limit := r.owner.paths.Size() - 1; len(v.File.Path()) > limit {
			return fmt.Errorf("%w: %s: path of %d bytes exceeds limit %d", ErrInvalidArgument, v.Opcode(), len(v.File.Path()), limit)
		}
		r.open = v
		next = &r.open
	case Close:
		if v.File == nil {
			return errNilFile(v)
		}
		r.close = v
		next = &r.close
	case Fallocate:
		if v.File == nil {
			return errNilFile(v)
		}
		if v.Offset < 0 || v.Length <= 0 {
			return fmt.Errorf("%w: %s: invalid range offset=%d length=%d", ErrInvalidArgument, v.Opcode(), v.Offset, v.Length)
		}
		r.fallocate = v
		next = &r.fallocate
	default:
		return fmt.Errorf("%w: unsupported operation %T", ErrInvalidArgument, op)
	}
	r.op = next
	r.promise = p
	r.state = statePopulated
	return nil
}

func errNilFile(op Operation) error {
	return fmt.Errorf("%w: %s: nil file", ErrInvalidArgument, op.Opcode())
}

func checkTransfer(op Opcode, file *File, buf *pool.Buffer, offset int64, length int) (int, error) {
	switch {
	case file == nil:
		return 0, fmt.Errorf("%w: %s: nil file", ErrInvalidArgument, op)
	case buf == nil:
		return 0, fmt.Errorf("%w: %s: nil buffer", ErrInvalidArgument, op)
	case offset < 0:
		return 0, fmt.Errorf("%w: %s: negative offset %d", ErrInvalidArgument, op, offset)
	case length < 0 || length > buf.Remaining():
		return 0, fmt.Errorf("%w: %s: length %d exceeds buffer remaining %d", ErrInvalidArgument, op, length, buf.Remaining())
	case length == 0:
		return buf.Remaining(), nil
	default:
		return length, nil
	}
}

// Op returns the populated operation, as a pointer to the request's own
// copy (e.g. *Read), or nil if the request is not populated.
func (r *Request) Op() Operation { return r.op }

// Opcode returns the opcode of the populated operation, or OpNop.
func (r *Request) Opcode() Opcode {
	if r.op == nil {
		return OpNop
	}
	return r.op.Opcode()
}

// Promise returns the promise the request settles.
func (r *Request) Promise() *Promise { return r.promise }

// ID returns the correlation id while the request is submitted, or zero.
func (r *Request) ID() uint64 { return r.id }

// Complete implements uring.CompletionHandler.
func (r *Request) Complete(res int32, _ uint32, _ uint64) {
	r.owner.complete(r, res)
}

// reset clears every field, except the owner.
func (r *Request) reset() {
	*r = Request{owner: r.owner}
}

// String implements fmt.Stringer.
func (r *Request) String() string {
	var b strings.Builder
	_, _ = fmt.Fprintf(&b, "Request{op=%s state=%s", r.Opcode(), r.state)
	if r.id != 0 {
		_, _ = fmt.Fprintf(&b, " id=%d", r.id)
	}
	switch op := r.op.(type) {
	case *Read:
		_, _ = fmt.Fprintf(&b, " file=%s offset=%d length=%d rwflags=%#x", op.File, op.Offset, op.Length, op.RWFlags)
	case *Write:
		_, _ = fmt.Fprintf(&b, " file=%s offset=%d length=%d rwflags=%#x", op.File, op.Offset, op.Length, op.RWFlags)
	case *Open:
		_, _ = fmt.Fprintf(&b, " file=%s flags=%#x perm=%#o", op.File, op.Flags, op.Perm)
	case *Fallocate:
		_, _ = fmt.Fprintf(&b, " file=%s mode=%d offset=%d length=%d", op.File, op.Mode, op.Offset, op.Length)
	default:
		if f := opFile(r.op); f != nil {
			_, _ = fmt.Fprintf(&b, " file=%s", f)
		}
	}
	b.WriteByte('}')
	return b.String()
}

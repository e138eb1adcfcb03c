//go:build linux

package uring

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sys/unix"
)

// Setup flags accepted by WithSetupFlags.
const (
	SetupClamp       uint32 = 1 << 4
	SetupCoopTaskrun uint32 = 1 << 8 // 5.19+
)

const (
	ioringEnterGetevents         = 1 << 0
	ioringRegisterIowqMaxWorkers = 19
	ioringOffSqRing              = 0
	ioringOffCqRing              = 0x8000000
	ioringOffSqes                = 0x10000000
)

type ioSqringOffsets struct {
	Head        uint32
	Tail        uint32
	RingMask    uint32
	RingEntries uint32
	Flags       uint32
	Dropped     uint32
	Array       uint32
	Resv1       uint32
	Resv2       uint64
}

type ioCqringOffsets struct {
	Head        uint32
	Tail        uint32
	RingMask    uint32
	RingEntries uint32
	Overflow    uint32
	Cqes        uint32
	Flags       uint32
	Resv1       uint32
	Resv2       uint64
}

type ioUringParams struct {
	SqEntries    uint32
	CqEntries    uint32
	Flags        uint32
	SqThreadCPU  uint32
	SqThreadIdle uint32
	Features     uint32
	WqFd         uint32
	Resv         [3]uint32
	SqOff        ioSqringOffsets
	CqOff        ioCqringOffsets
}

// Option configures New.
type Option func(c *config)

type config struct {
	setupFlags uint32
	maxWorkers [2]uint32
}

// WithSetupFlags sets the io_uring_setup flags. Flags the kernel rejects
// with EINVAL are retried without, once, falling back to SetupClamp.
func WithSetupFlags(flags uint32) Option {
	return func(c *config) {
		c.setupFlags = flags
	}
}

// WithMaxWorkers caps the kernel's bounded and unbounded io-wq workers for
// the ring. Kernels without IORING_REGISTER_IOWQ_MAX_WORKERS ignore it.
func WithMaxWorkers(bounded, unbounded uint32) Option {
	return func(c *config) {
		c.maxWorkers = [2]uint32{bounded, unbounded}
	}
}

// Uring is a Ring backed by a kernel io_uring instance.
type Uring struct {
	sq      *SubmissionQueue
	cq      *CompletionQueue
	sqRing  []byte
	cqRing  []byte
	sqesMap []byte
	params  ioUringParams
	fd      int
	closed  bool
}

var _ Ring = (*Uring)(nil)

// New creates an io_uring instance with at least entries submission slots.
func New(entries uint32, options ...Option) (*Uring, error) {
	c := config{setupFlags: SetupClamp}
	for _, o := range options {
		o(&c)
	}

	r := &Uring{fd: -1}
	r.params = ioUringParams{Flags: c.setupFlags}
	fd, _, errno := unix.Syscall(unix.SYS_IO_URING_SETUP, uintptr(entries), uintptr(unsafe.Pointer(&r.params)), 0)
	if errno == unix.EINVAL && c.setupFlags != SetupClamp {
		r.params = ioUringParams{Flags: SetupClamp}
		fd, _, errno = unix.Syscall(unix.SYS_IO_URING_SETUP, uintptr(entries), uintptr(unsafe.Pointer(&r.params)), 0)
	}
	if errno != 0 {
		return nil, fmt.Errorf("uring: io_uring_setup: %w", errno)
	}
	r.fd = int(fd)

	if err := r.mapRings(); err != nil {
		return nil, multierror.Append(err, r.Close()).ErrorOrNil()
	}

	if c.maxWorkers != [2]uint32{} {
		// older kernels return EINVAL, the cap is best effort
		_, _, _ = unix.Syscall6(
			unix.SYS_IO_URING_REGISTER,
			uintptr(r.fd),
			ioringRegisterIowqMaxWorkers,
			uintptr(unsafe.Pointer(&c.maxWorkers[0])),
			2,
			0, 0,
		)
	}

	return r, nil
}

func (r *Uring) mapRings() (err error) {
	p := &r.params
	sqRingSize := int(p.SqOff.Array + p.SqEntries*4)
	cqRingSize := int(p.CqOff.Cqes + p.CqEntries*SizeofCQE)
	sqesSize := int(p.SqEntries * SizeofSQE)

	if r.sqRing, err = unix.Mmap(r.fd, ioringOffSqRing, sqRingSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE); err != nil {
		return fmt.Errorf("uring: mmap sq ring: %w", err)
	}
	if r.cqRing, err = unix.Mmap(r.fd, ioringOffCqRing, cqRingSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE); err != nil {
		return fmt.Errorf("uring: mmap cq ring: %w", err)
	}
	if r.sqesMap, err = unix.Mmap(r.fd, ioringOffSqes, sqesSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE); err != nil {
		return fmt.Errorf("uring: mmap sqes: %w", err)
	}

	sqArray := unsafe.Slice((*uint32)(unsafe.Pointer(&r.sqRing[p.SqOff.Array])), int(p.SqEntries))
	r.sq = newSubmissionQueue(
		r.ringWord(r.sqRing, p.SqOff.Head),
		r.ringWord(r.sqRing, p.SqOff.Tail),
		sqArray,
		r.sqesMap,
		*r.ringWord(r.sqRing, p.SqOff.RingEntries),
		*r.ringWord(r.sqRing, p.SqOff.RingMask),
	)
	r.cq = newCompletionQueue(
		r.ringWord(r.cqRing, p.CqOff.Head),
		r.ringWord(r.cqRing, p.CqOff.Tail),
		r.cqRing[p.CqOff.Cqes:int(p.CqOff.Cqes)+int(p.CqEntries)*SizeofCQE],
		*r.ringWord(r.cqRing, p.CqOff.RingEntries),
		*r.ringWord(r.cqRing, p.CqOff.RingMask),
		int(p.SqEntries),
	)
	return nil
}

func (*Uring) ringWord(ring []byte, off uint32) *uint32 {
	return (*uint32)(unsafe.Pointer(&ring[off]))
}

// SQ implements Ring.
func (r *Uring) SQ() *SubmissionQueue { return r.sq }

// CQ implements Ring.
func (r *Uring) CQ() *CompletionQueue { return r.cq }

// FD returns the ring file descriptor.
func (r *Uring) FD() int { return r.fd }

// Submit implements Ring. A busy kernel (EAGAIN, EBUSY) is reported as zero
// entries consumed, leaving them published for the next call. With nothing
// to submit, but completions outstanding and none ready, Submit enters the
// kernel without waiting, to run deferred completion work.
func (r *Uring) Submit() (int, error) {
	if r.closed {
		return 0, ErrClosed
	}
	r.sq.Flush()
	toSubmit := r.sq.Pending()
	if toSubmit == 0 {
		if r.cq.Registered() == 0 || r.cq.Ready() > 0 {
			return 0, nil
		}
		_, err := r.enter(0, 0, ioringEnterGetevents)
		return 0, err
	}
	n, err := r.enter(uint32(toSubmit), 0, 0)
	if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EBUSY) {
		return 0, nil
	}
	return n, err
}

// Wait submits pending entries and blocks until at least minComplete
// completions are available.
func (r *Uring) Wait(minComplete uint32) error {
	if r.closed {
		return ErrClosed
	}
	r.sq.Flush()
	_, err := r.enter(uint32(r.sq.Pending()), minComplete, ioringEnterGetevents)
	return err
}

func (r *Uring) enter(toSubmit, minComplete uint32, flags uintptr) (int, error) {
	for {
		n, _, errno := unix.Syscall6(unix.SYS_IO_URING_ENTER, uintptr(r.fd), uintptr(toSubmit), uintptr(minComplete), flags, 0, 0)
		switch errno {
		case 0:
			return int(n), nil
		case unix.EINTR:
			continue
		default:
			return 0, fmt.Errorf("uring: io_uring_enter: %w", errno)
		}
	}
}

// Close implements Ring.
func (r *Uring) Close() error {
	if r.closed {
		return ErrClosed
	}
	r.closed = true
	var result *multierror.Error
	for _, m := range [...]*[]byte{&r.sqesMap, &r.cqRing, &r.sqRing} {
		if *m != nil {
			if err := unix.Munmap(*m); err != nil {
				result = multierror.Append(result, fmt.Errorf("uring: munmap: %w", err))
			}
			*m = nil
		}
	}
	if r.fd >= 0 {
		if err := unix.Close(r.fd); err != nil {
			result = multierror.Append(result, fmt.Errorf("uring: close: %w", err))
		}
		r.fd = -1
	}
	return result.ErrorOrNil()
}

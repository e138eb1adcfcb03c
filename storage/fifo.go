package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/go-tpcengine/internal/queue"
	"github.com/joeycumines/go-tpcengine/pool"
	"github.com/joeycumines/go-tpcengine/uring"
	"github.com/joeycumines/logiface"
	"golang.org/x/sys/unix"
)

const (
	defaultCapacity       = 512
	defaultPathBufferSize = 512
)

// FIFOConfig configures a FIFOScheduler. Zero values select defaults.
type FIFOConfig struct {
	// Logger receives admission warnings and operation failures. Nil
	// disables logging.
	Logger *logiface.Logger[logiface.Event]

	// Clock returns the current time, used to measure operation latency.
	// Defaults to time.Now.
	Clock func() time.Time

	// OnComplete, if set, is called on the loop goroutine after each
	// request's promise settles.
	OnComplete func(op Opcode, latency time.Duration, err error)

	// RejectionLogRates bounds admission rejection warnings, per opcode.
	// Defaults to 1 per second and 10 per minute.
	RejectionLogRates map[time.Duration]int

	// Capacity is the number of pooled requests. Defaults to 512.
	Capacity int

	// StagingCapacity bounds the staging queue. Defaults to Capacity.
	StagingCapacity int

	// MaxInFlight bounds the number of submitted, uncompleted requests.
	// Defaults to Capacity.
	MaxInFlight int

	// PathBufferSize is the size of each buffer used to encode Open paths,
	// including the terminating NUL. Defaults to 512.
	PathBufferSize int

	// PathBuffers is the number of path buffers. Defaults to MaxInFlight.
	PathBuffers int
}

// FIFOScheduler submits requests to a ring in the order they were
// scheduled, with at most MaxInFlight outstanding.
//
// Thread Safety: FIFOScheduler is NOT thread-safe. It is owned by the loop
// that drives the ring.
type FIFOScheduler struct {
	ring       uring.Ring
	requests   *pool.Slab[Request]
	staging    *queue.Ring[*Request]
	paths      *pool.Buffers
	logger     *logiface.Logger[logiface.Event]
	limiter    *catrate.Limiter
	clock      func() time.Time
	onComplete func(op Opcode, latency time.Duration, err error)

	inFlight    int
	maxInFlight int
	completed   uint64
	failed      uint64
	rejected    uint64
}

var _ Scheduler = (*FIFOScheduler)(nil)

// NewFIFOScheduler allocates every request and path buffer up front.
func NewFIFOScheduler(ring uring.Ring, cfg FIFOConfig) (*FIFOScheduler, error) {
	if ring == nil {
		return nil, fmt.Errorf("%w: nil ring", ErrInvalidArgument)
	}
	if cfg.Capacity < 0 || cfg.StagingCapacity < 0 || cfg.MaxInFlight < 0 || cfg.PathBufferSize < 0 || cfg.PathBuffers < 0 {
		return nil, fmt.Errorf("%w: negative scheduler config", ErrInvalidArgument)
	}
	if cfg.Capacity == 0 {
		cfg.Capacity = defaultCapacity
	}
	if cfg.StagingCapacity == 0 {
		cfg.StagingCapacity = cfg.Capacity
	}
	if cfg.MaxInFlight == 0 {
		cfg.MaxInFlight = cfg.Capacity
	}
	if cfg.PathBufferSize == 0 {
		cfg.PathBufferSize = defaultPathBufferSize
	}
	if cfg.PathBuffers == 0 {
		cfg.PathBuffers = cfg.MaxInFlight
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.RejectionLogRates == nil {
		cfg.RejectionLogRates = map[time.Duration]int{
			time.Second: 1,
			time.Minute: 10,
		}
	}

	s := &FIFOScheduler{
		ring:        ring,
		staging:     queue.NewRing[*Request](cfg.StagingCapacity),
		paths:       pool.NewBuffers(cfg.PathBuffers, cfg.PathBufferSize),
		logger:      cfg.Logger,
		limiter:     catrate.NewLimiter(cfg.RejectionLogRates),
		clock:       cfg.Clock,
		onComplete:  cfg.OnComplete,
		maxInFlight: cfg.MaxInFlight,
	}
	s.requests = pool.NewSlab(cfg.Capacity, func() *Request {
		return &Request{owner: s}
	})
	return s, nil
}

// Allocate implements Scheduler.
func (s *FIFOScheduler) Allocate() (*Request, error) {
	r, err := s.requests.Allocate()
	if err != nil {
		return nil, fmt.Errorf("%w: all %d requests in use", err, s.requests.Cap())
	}
	r.state = stateAllocated
	return r, nil
}

// Free returns an allocated request that will not be scheduled to the pool.
func (s *FIFOScheduler) Free(r *Request) error {
	if err := s.checkOwned(r); err != nil {
		return err
	}
	if r.state != stateAllocated && r.state != statePopulated {
		return fmt.Errorf("%w: cannot free %s request", ErrInvalidArgument, r.state)
	}
	r.reset()
	s.requests.Free(r)
	return nil
}

func (s *FIFOScheduler) checkOwned(r *Request) error {
	if r == nil {
		return fmt.Errorf("%w: nil request", ErrInvalidArgument)
	}
	if r.owner != s {
		return fmt.Errorf("%w: request allocated by another scheduler", ErrInvalidArgument)
	}
	return nil
}

// Schedule implements Scheduler. A rejected request stays populated and
// owned by the caller, who may retry or Free it.
func (s *FIFOScheduler) Schedule(r *Request) error {
	if err := s.checkOwned(r); err != nil {
		return err
	}
	if r.state != statePopulated {
		return fmt.Errorf("%w: cannot schedule %s request", ErrInvalidArgument, r.state)
	}
	if !s.staging.Offer(r) {
		s.rejected++
		if _, ok := s.limiter.Allow(r.Opcode()); ok {
			s.logger.Warning().
				Str(`op`, r.Opcode().String()).
				Int(`staged`, s.staging.Len()).
				Int(`in_flight`, s.inFlight).
				Uint64(`rejected_total`, s.rejected).
				Log(`storage: staging queue full, request rejected`)
		}
		return fmt.Errorf("%w: staging queue full (%d)", ErrRejected, s.staging.Cap())
	}
	r.state = stateStaged
	return nil
}

// Tick implements Scheduler.
func (s *FIFOScheduler) Tick() {
	n := min(s.maxInFlight-s.inFlight, s.staging.Len())
	if n <= 0 {
		return
	}
	sq := s.ring.SQ()
	cq := s.ring.CQ()
	for k := 0; k < n; k++ {
		idx := sq.NextIndex()
		if idx < 0 {
			// ring full, the rest wait for the next tick
			break
		}
		s.inFlight++
		r, _ := s.staging.Poll()
		id := cq.NextID()
		cq.Register(id, r)
		r.id = id
		r.state = stateSubmitted
		r.submittedAt = s.clock()
		s.encode(r, sq.Slot(idx))
	}
}

func (s *FIFOScheduler) encode(r *Request, slot []byte) {
	sqe := uring.SQE{UserData: r.id}
	switch op := r.op.(type) {
	case *Nop:
		sqe.Opcode = uring.OpNop
	case *Read:
		sqe.Opcode = uring.OpRead
		sqe.FD = op.File.FD()
		sqe.Off = uint64(op.Offset)
		sqe.Addr = uint64(op.Buf.Addr())
		sqe.Len = uint32(op.Length)
		sqe.OpFlags = op.RWFlags
	case *Write:
		sqe.Opcode = uring.OpWrite
		sqe.FD = op.File.FD()
		sqe.Off = uint64(op.Offset)
		sqe.Addr = uint64(op.Buf.Addr())
		sqe.Len = uint32(op.Length)
		sqe.OpFlags = op.RWFlags
	case *Fsync:
		sqe.Opcode = uring.OpFsync
		sqe.FD = op.File.FD()
	case *Fdatasync:
		sqe.Opcode = uring.OpFsync
		sqe.FD = op.File.FD()
		sqe.OpFlags = uring.FsyncDatasync
	case *Open:
		buf, err := s.encodePath(op.File.Path())
		if err != nil {
			// settled on completion of a nop in the same slot
			r.pathErr = err
			sqe.Opcode = uring.OpNop
			break
		}
		r.pathBuf = buf
		sqe.Opcode = uring.OpOpenat
		sqe.FD = uring.AtFDCWD
		sqe.Addr = uint64(buf.Addr())
		sqe.Len = op.Perm
		sqe.OpFlags = uint32(op.Flags)
	case *Close:
		sqe.Opcode = uring.OpClose
		sqe.FD = op.File.FD()
	case *Fallocate:
		sqe.Opcode = uring.OpFallocate
		sqe.FD = op.File.FD()
		sqe.Off = uint64(op.Offset)
		sqe.Addr = uint64(op.Length)
		sqe.Len = op.Mode
	default:
		panic(fmt.Errorf("%w: %T in %s", ErrUnknownOperation, r.op, r))
	}
	sqe.Encode(slot)
}

// encodePath copies path into a pooled buffer as a NUL terminated string,
// with the position reset to the first byte. Prepare bounds the length.
func (s *FIFOScheduler) encodePath(path string) (*pool.Buffer, error) {
	buf, err := s.paths.Allocate()
	if err != nil {
		return nil, fmt.Errorf("%w: all %d path buffers in use", err, s.paths.Cap())
	}
	_, _ = buf.WriteString(path)
	_ = buf.WriteByte(0)
	buf.Flip()
	return buf, nil
}

func (s *FIFOScheduler) complete(r *Request, res int32) {
	s.inFlight--

	var err error
	switch {
	case r.pathErr != nil:
		err = r.pathErr
	case res >= 0:
		s.applySuccess(r, res)
	default:
		err = &OpError{
			Op:      r.Opcode(),
			Path:    opFile(r.op).Path(),
			Errno:   unix.Errno(-res),
			Request: r.String(),
		}
	}

	if r.pathBuf != nil {
		r.pathBuf.Release()
	}

	if err != nil {
		s.failed++
		r.promise.Fail(err)
		s.logger.Debug().
			Str(`op`, r.Opcode().String()).
			Uint64(`id`, r.id).
			Err(err).
			Log(`storage: operation failed`)
	} else {
		s.completed++
		r.promise.Complete(res)
	}

	if s.onComplete != nil {
		s.onComplete(r.Opcode(), s.clock().Sub(r.submittedAt), err)
	}

	r.reset()
	s.requests.Free(r)
}

func (s *FIFOScheduler) applySuccess(r *Request, res int32) {
	switch op := r.op.(type) {
	case *Nop:
		if op.File != nil {
			op.File.metrics.IncNops()
		}
	case *Read:
		op.Buf.Advance(int(res))
		op.File.metrics.IncReads()
		op.File.metrics.IncBytesRead(int64(res))
	case *Write:
		op.Buf.Advance(int(res))
		op.File.metrics.IncWrites()
		op.File.metrics.IncBytesWritten(int64(res))
	case *Fsync:
		op.File.metrics.IncFsyncs()
	case *Fdatasync:
		op.File.metrics.IncFdatasyncs()
	case *Open:
		op.File.fd = res
	case *Close:
		op.File.fd = -1
	case *Fallocate:
		op.File.metrics.IncFallocates()
	default:
		panic(fmt.Errorf("%w: %T in %s", ErrUnknownOperation, r.op, r))
	}
}

// Abort fails every staged and submitted request with cause, wrapped in
// ErrAborted, and returns them to the pool. It is for a ring that has
// failed: the ring must not deliver completions for the aborted requests
// afterwards. Returns the number of requests aborted.
func (s *FIFOScheduler) Abort(cause error) int {
	err := fmt.Errorf("%w: %w", ErrAborted, cause)
	var n int
	for r, ok := s.staging.Poll(); ok; r, ok = s.staging.Poll() {
		s.abort(r, err)
		n++
	}
	s.ring.CQ().Cancel(func(_ uint64, h uring.CompletionHandler) bool {
		r, ok := h.(*Request)
		if !ok || r.owner != s {
			return false
		}
		s.inFlight--
		s.abort(r, err)
		n++
		return true
	})
	if n > 0 {
		s.logger.Warning().
			Int(`aborted`, n).
			Err(cause).
			Log(`storage: outstanding requests aborted`)
	}
	return n
}

func (s *FIFOScheduler) abort(r *Request, err error) {
	if r.pathBuf != nil {
		r.pathBuf.Release()
	}
	s.failed++
	r.promise.Fail(err)
	if s.onComplete != nil {
		var latency time.Duration
		if !r.submittedAt.IsZero() {
			latency = s.clock().Sub(r.submittedAt)
		}
		s.onComplete(r.Opcode(), latency, err)
	}
	r.reset()
	s.requests.Free(r)
}

// Pending implements Scheduler.
func (s *FIFOScheduler) Pending() int { return s.staging.Len() + s.inFlight }

// InFlight returns the number of submitted, uncompleted requests.
func (s *FIFOScheduler) InFlight() int { return s.inFlight }

// Staged returns the number of requests waiting to be submitted.
func (s *FIFOScheduler) Staged() int { return s.staging.Len() }

// MaxInFlight returns the in-flight limit.
func (s *FIFOScheduler) MaxInFlight() int { return s.maxInFlight }

// Capacity returns the number of pooled requests.
func (s *FIFOScheduler) Capacity() int { return s.requests.Cap() }

// Available returns the number of requests that may be allocated.
func (s *FIFOScheduler) Available() int { return s.requests.Len() }

// Completed returns the number of requests that succeeded.
func (s *FIFOScheduler) Completed() uint64 { return s.completed }

// Failed returns the number of requests that failed.
func (s *FIFOScheduler) Failed() uint64 { return s.failed }

// Rejected returns the number of Schedule calls rejected by admission.
func (s *FIFOScheduler) Rejected() uint64 { return s.rejected }

// IsRejected reports whether err is an admission or exhaustion failure,
// both of which the caller may back off and retry.
func IsRejected(err error) bool {
	return errors.Is(err, ErrRejected) || errors.Is(err, ErrExhausted)
}

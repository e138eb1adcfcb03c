package eventloop

import (
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joeycumines/go-tpcengine/internal/queue"
	"github.com/joeycumines/go-tpcengine/storage"
	"github.com/joeycumines/go-tpcengine/uring"
	"github.com/joeycumines/logiface"
)

// Type identifies the ring backend of a Loop.
type Type uint8

const (
	// TypeIOUring loops submit to a kernel io_uring instance.
	TypeIOUring Type = iota
	// TypeSim loops submit to an in-memory uring.Sim.
	TypeSim
)

// String returns a human-readable representation of the type.
func (t Type) String() string {
	switch t {
	case TypeIOUring:
		return "io_uring"
	case TypeSim:
		return "sim"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// Loop is a thread-per-core event loop, owning one ring and one storage
// scheduler. Each iteration runs a bounded batch of offered tasks, ticks the
// scheduler, submits the ring, then dispatches ready completions.
//
// Thread Safety: Offer, Shutdown, AwaitTermination and the accessors are
// safe to call from any goroutine. The scheduler, and everything reachable
// from it, must only be used by tasks running on the loop.
type Loop struct { // betteralign:ignore
	// Prevent copying
	_ [0]func()

	// State machine (cache-line padded internally)
	state *FastState

	// Cross-thread task queue
	tasks *queue.MPSC[queuedTask]

	ring      uring.Ring
	scheduler storage.Scheduler
	fifo      *storage.FIFOScheduler // nil unless storage is enabled

	logger  *logiface.Logger[logiface.Event]
	metrics *loopMetrics

	// Wake-up mechanism, deduplicated via wakePending
	wake        chan struct{}
	wakePending atomic.Uint32

	// Offers in progress, drained before the task queue is abandoned
	offering atomic.Int64

	// Goroutine tracking
	loopGoroutineID atomic.Uint64

	// Loop termination signaling
	done chan struct{}

	// termErr is written by the loop goroutine before done is closed
	termErr error

	name        string
	id          uint64
	idleTimeout time.Duration
	taskBudget  int
	cpu         int
	loopType    Type

	// ringFailed is set on the loop goroutine after a submit error
	ringFailed bool
}

// queuedTask is an offered task. Tasks offered by Submit carry their
// promise, failed if the task is discarded without running.
type queuedTask struct {
	run     func()
	promise *storage.Promise
}

var loopIDCounter atomic.Uint64

// New creates a loop in StateNew. Unless WithRing is given, New creates the
// ring for the configured type, failing if it cannot be set up.
func New(opts ...LoopOption) (*Loop, error) {
	cfg, err := resolveLoopOptions(opts)
	if err != nil {
		return nil, err
	}

	ring := cfg.ring
	if ring == nil {
		if ring, err = newRing(cfg); err != nil {
			return nil, err
		}
	}

	l := &Loop{
		state:       NewFastState(),
		tasks:       queue.NewMPSC[queuedTask](cfg.taskQueueCapacity),
		ring:        ring,
		logger:      cfg.logger,
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
		name:        cfg.name,
		id:          loopIDCounter.Add(1),
		idleTimeout: cfg.idleTimeout,
		taskBudget:  cfg.taskBudget,
		cpu:         cfg.cpu,
		loopType:    cfg.loopType,
	}
	if l.name == "" {
		l.name = fmt.Sprintf("eventloop-%d", l.id)
	}
	if cfg.metricsEnabled {
		l.metrics = newLoopMetrics()
	}

	if cfg.storageCapacity > 0 {
		fifoCfg := storage.FIFOConfig{
			Logger:      cfg.logger,
			Capacity:    cfg.storageCapacity,
			MaxInFlight: cfg.maxInFlight,
		}
		if l.metrics != nil {
			fifoCfg.OnComplete = func(_ storage.Opcode, latency time.Duration, err error) {
				l.metrics.recordCompletion(latency, err)
			}
		}
		fifo, err := storage.NewFIFOScheduler(ring, fifoCfg)
		if err != nil {
			return nil, multierror.Append(err, ring.Close()).ErrorOrNil()
		}
		l.scheduler, l.fifo = fifo, fifo
	} else {
		l.scheduler = storage.NopScheduler{}
	}

	return l, nil
}

// Offer enqueues task to run on the loop goroutine. Tasks offered before
// Start are buffered until the loop runs, and are discarded if the loop is
// shut down without being started. Fails with ErrNilTask,
// ErrLoopOverloaded if the task queue is full, or ErrLoopTerminated.
func (l *Loop) Offer(task func()) error {
	if task == nil {
		return ErrNilTask
	}
	return l.offer(queuedTask{run: task})
}

func (l *Loop) offer(task queuedTask) error {
	l.offering.Add(1)
	defer l.offering.Add(-1)

	if l.state.IsTerminal() {
		return ErrLoopTerminated
	}
	if !l.tasks.Offer(task) {
		return ErrLoopOverloaded
	}
	l.wakeup()
	return nil
}

// Submit offers a task that schedules op, settling p with its outcome.
// Admission failures (ErrExhausted, ErrRejected, ErrInvalidArgument) fail
// p on the loop; only Offer failures are returned. If the loop is shut down
// before it starts, p fails with ErrLoopTerminated.
func (l *Loop) Submit(op storage.Operation, p *storage.Promise) error {
	if p == nil {
		return fmt.Errorf("%w: nil promise", storage.ErrInvalidArgument)
	}
	return l.offer(queuedTask{
		run: func() {
			if err := l.schedule(op, p); err != nil {
				p.Fail(err)
			}
		},
		promise: p,
	})
}

func (l *Loop) schedule(op storage.Operation, p *storage.Promise) error {
	req, err := l.scheduler.Allocate()
	if err != nil {
		return err
	}
	err = req.Prepare(op, p)
	if err == nil {
		err = l.scheduler.Schedule(req)
	}
	if err != nil {
		if f, ok := l.scheduler.(interface{ Free(*storage.Request) error }); ok {
			_ = f.Free(req)
		}
		return err
	}
	return nil
}

// Start spawns the loop goroutine, locked to its own OS thread. Fails with
// ErrIllegalState unless the loop is new.
func (l *Loop) Start() error {
	if !l.state.TryTransition(StateNew, StateRunning) {
		return fmt.Errorf("%w: cannot start %s loop", ErrIllegalState, l.state.Load())
	}
	go l.run()
	return nil
}

// Shutdown requests termination, and is valid from every state. A new loop
// terminates immediately, discarding buffered tasks and failing the promises
// of buffered Submit calls. A running loop drains its queued tasks and
// outstanding storage requests first.
func (l *Loop) Shutdown() {
	for {
		switch l.state.Load() {
		case StateNew:
			if l.state.TryTransition(StateNew, StateTerminated) {
				l.discardTasks()
				l.termErr = l.closeRing(nil)
				close(l.done)
				l.logTerminated(l.termErr)
				return
			}
		case StateRunning:
			if l.state.TryTransition(StateRunning, StateShutdown) {
				l.wakeup()
				return
			}
		default:
			return
		}
	}
}

// discardTasks empties the task queue of a loop that never started. The
// caller is the only consumer, having won the transition to terminated.
func (l *Loop) discardTasks() {
	for l.offering.Load() > 0 {
		runtime.Gosched()
	}
	for {
		task, ok := l.tasks.Poll()
		if !ok {
			return
		}
		if task.promise != nil {
			task.promise.Fail(fmt.Errorf("%w: shut down before start", ErrLoopTerminated))
		}
	}
}

// AwaitTermination blocks until the loop terminates or timeout elapses,
// returning true if termination was observed. It must not be called from
// the loop goroutine.
func (l *Loop) AwaitTermination(timeout time.Duration) bool {
	select {
	case <-l.done:
		return true
	default:
	}
	if timeout <= 0 {
		return false
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-l.done:
		return true
	case <-timer.C:
		return false
	}
}

// Done returns a channel closed once the loop has terminated.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Err returns the ring failure that forced shutdown, or an error closing
// the ring, once Done is closed.
func (l *Loop) Err() error {
	select {
	case <-l.done:
		return l.termErr
	default:
		return nil
	}
}

// State returns the current state.
func (l *Loop) State() LoopState { return l.state.Load() }

// Type returns the ring backend type.
func (l *Loop) Type() Type { return l.loopType }

// Scheduler returns the storage scheduler, a storage.NopScheduler unless
// WithStorageCapacity was given. Loop goroutine only, beyond the accessor.
func (l *Loop) Scheduler() storage.Scheduler { return l.scheduler }

// ID returns the process-unique loop identifier.
func (l *Loop) ID() uint64 { return l.id }

// Name returns the loop name.
func (l *Loop) Name() string { return l.name }

// Metrics returns a snapshot of the loop metrics, or the zero value if
// WithMetrics was not enabled.
func (l *Loop) Metrics() Metrics {
	if l.metrics == nil {
		return Metrics{}
	}
	return l.metrics.snapshot()
}

// InLoop reports whether the caller is running on the loop goroutine.
func (l *Loop) InLoop() bool {
	return l.isLoopThread()
}

// run is the main loop goroutine.
func (l *Loop) run() {
	runtime.LockOSThread()
	if l.cpu >= 0 {
		// pinned threads are discarded when the goroutine exits locked
		if err := setAffinity(l.cpu); err != nil {
			l.logAffinityFailure(err)
		}
	} else {
		defer runtime.UnlockOSThread()
	}

	l.loopGoroutineID.Store(getGoroutineID())
	defer l.loopGoroutineID.Store(0)

	l.logStarted()

	timer := time.NewTimer(l.idleTimeout)
	timer.Stop()

	for {
		progress := l.tick()
		if l.state.Load() == StateShutdown && l.drained() && l.state.TryTransition(StateShutdown, StateTerminated) {
			break
		}
		if !progress {
			l.idle(timer)
		}
	}

	l.terminate()
}

// tick is a single iteration of the event loop, returning true if any task
// ran or completion was dispatched.
func (l *Loop) tick() bool {
	ran := l.runTasks()
	completed := l.pollStorage()
	if l.metrics != nil {
		var staged, inFlight int
		if l.fifo != nil {
			staged, inFlight = l.fifo.Staged(), l.fifo.InFlight()
		}
		l.metrics.queue.Update(l.tasks.Len(), staged, inFlight)
	}
	return ran > 0 || completed > 0
}

// runTasks executes up to the task budget.
func (l *Loop) runTasks() int {
	n := 0
	for ; n < l.taskBudget; n++ {
		task, ok := l.tasks.Poll()
		if !ok {
			break
		}
		l.safeExecute(task.run)
	}
	return n
}

// pollStorage ticks the scheduler, submits the ring, and dispatches ready
// completions.
func (l *Loop) pollStorage() int {
	if l.ringFailed {
		return 0
	}
	l.scheduler.Tick()
	if _, err := l.ring.Submit(); err != nil {
		// dispatch what the ring already delivered, then abort the rest
		n := l.ring.CQ().Process()
		l.failRing(err)
		return n
	}
	return l.ring.CQ().Process()
}

func (l *Loop) failRing(err error) {
	l.ringFailed = true
	l.termErr = err
	l.logRingFailure(err)
	l.abortStorage()
	l.state.Advance(StateShutdown)
}

// abortStorage fails every outstanding storage request with the ring
// failure, including those scheduled by tasks after the failure.
func (l *Loop) abortStorage() {
	if l.fifo != nil {
		l.fifo.Abort(l.termErr)
	}
}

// drained reports whether a shutting down loop has no remaining work. On a
// failed ring, anything still outstanding is aborted by terminate.
func (l *Loop) drained() bool {
	return l.offering.Load() == 0 &&
		l.tasks.Len() == 0 &&
		(l.ringFailed || l.scheduler.Pending() == 0)
}

// idle yields while storage requests are outstanding, and otherwise parks
// until woken or the idle timeout elapses.
func (l *Loop) idle(timer *time.Timer) {
	if l.state.Load() != StateRunning || l.scheduler.Pending() > 0 {
		runtime.Gosched()
		return
	}
	if l.tasks.Len() > 0 {
		return
	}
	timer.Reset(l.idleTimeout)
	select {
	case <-l.wake:
		l.wakePending.Store(0)
	case <-timer.C:
	}
	timer.Stop()
}

// terminate runs on the loop goroutine after the transition to
// StateTerminated.
func (l *Loop) terminate() {
	// Offers that observed StateShutdown may still be enqueuing.
	for l.offering.Load() > 0 {
		runtime.Gosched()
	}
	for {
		ran := l.runTasks()
		if l.ringFailed {
			l.abortStorage()
		}
		if ran == 0 && l.scheduler.Pending() == 0 {
			break
		}
		if l.pollStorage() == 0 && ran == 0 {
			runtime.Gosched()
		}
	}

	l.termErr = l.closeRing(l.termErr)
	close(l.done)
	l.logTerminated(l.termErr)
}

func (l *Loop) closeRing(cause error) error {
	var result *multierror.Error
	if cause != nil {
		result = multierror.Append(result, cause)
	}
	if err := l.ring.Close(); err != nil && !errors.Is(err, uring.ErrClosed) {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// wakeup unparks the loop goroutine, at most one signal in flight.
func (l *Loop) wakeup() {
	if l.wakePending.CompareAndSwap(0, 1) {
		select {
		case l.wake <- struct{}{}:
		default:
		}
	}
}

// safeExecute executes a task with panic recovery.
func (l *Loop) safeExecute(task func()) {
	defer func() {
		if r := recover(); r != nil {
			if l.metrics != nil {
				l.metrics.panics.Add(1)
			}
			l.logTaskPanic(PanicError{Value: r})
		}
	}()
	task()
}

// isLoopThread checks if we're on the loop goroutine.
func (l *Loop) isLoopThread() bool {
	loopID := l.loopGoroutineID.Load()
	if loopID == 0 {
		return false
	}
	return getGoroutineID() == loopID
}

// getGoroutineID returns the current goroutine's ID.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}

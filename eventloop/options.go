package eventloop

import (
	"fmt"
	"time"

	"github.com/joeycumines/go-tpcengine/uring"
	"github.com/joeycumines/logiface"
)

const (
	defaultRingEntries       = 256
	defaultTaskQueueCapacity = 1024
	defaultTaskBudget        = 1024
	defaultIdleTimeout       = 10 * time.Millisecond
)

// loopOptions holds configuration options for Loop creation.
type loopOptions struct {
	ring              uring.Ring
	executor          uring.Executor
	logger            *logiface.Logger[logiface.Event]
	name              string
	idleTimeout       time.Duration
	loopType          Type
	ringEntries       uint32
	storageCapacity   int
	maxInFlight       int
	taskQueueCapacity int
	taskBudget        int
	cpu               int
	executorSet       bool
	metricsEnabled    bool
}

// --- Loop Options ---

// LoopOption configures a Loop instance.
type LoopOption interface {
	applyLoop(*loopOptions) error
}

// loopOptionImpl implements LoopOption.
type loopOptionImpl struct {
	applyLoopFunc func(*loopOptions) error
}

func (l *loopOptionImpl) applyLoop(opts *loopOptions) error {
	return l.applyLoopFunc(opts)
}

// WithType selects the ring backend. Defaults to TypeIOUring.
func WithType(t Type) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		switch t {
		case TypeIOUring, TypeSim:
		default:
			return fmt.Errorf("%w: unknown loop type %d", ErrInvalidOption, t)
		}
		opts.loopType = t
		return nil
	}}
}

// WithRing supplies the ring used by the loop, which takes ownership of it,
// closing it on termination. The loop type is TypeSim for a *uring.Sim, and
// TypeIOUring otherwise.
func WithRing(ring uring.Ring) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if ring == nil {
			return fmt.Errorf("%w: nil ring", ErrInvalidOption)
		}
		opts.ring = ring
		return nil
	}}
}

// WithExecutor sets the executor of a TypeSim ring. A nil executor leaves
// completions to be posted explicitly. Defaults to uring.SyscallExecutor,
// where available.
func WithExecutor(exec uring.Executor) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.executor = exec
		opts.executorSet = true
		return nil
	}}
}

// WithRingEntries sets the submission queue size of a ring created by New.
// Defaults to 256.
func WithRingEntries(entries uint32) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if entries == 0 {
			return fmt.Errorf("%w: ring entries must be positive", ErrInvalidOption)
		}
		opts.ringEntries = entries
		return nil
	}}
}

// WithStorageCapacity enables a FIFO storage scheduler with capacity pooled
// requests. Without it the loop carries a storage.NopScheduler.
func WithStorageCapacity(capacity int) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if capacity < 0 {
			return fmt.Errorf("%w: negative storage capacity", ErrInvalidOption)
		}
		opts.storageCapacity = capacity
		return nil
	}}
}

// WithMaxInFlight bounds the submitted, uncompleted storage requests.
// Defaults to the storage capacity.
func WithMaxInFlight(n int) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if n < 0 {
			return fmt.Errorf("%w: negative max in flight", ErrInvalidOption)
		}
		opts.maxInFlight = n
		return nil
	}}
}

// WithTaskQueueCapacity bounds the cross-thread task queue. The capacity is
// rounded up to a power of two. Defaults to 1024.
func WithTaskQueueCapacity(capacity int) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if capacity <= 0 {
			return fmt.Errorf("%w: task queue capacity must be positive", ErrInvalidOption)
		}
		opts.taskQueueCapacity = capacity
		return nil
	}}
}

// WithTaskBudget limits the tasks run per iteration. Defaults to 1024.
func WithTaskBudget(budget int) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if budget <= 0 {
			return fmt.Errorf("%w: task budget must be positive", ErrInvalidOption)
		}
		opts.taskBudget = budget
		return nil
	}}
}

// WithIdleTimeout bounds how long an idle loop parks before iterating
// again. Defaults to 10ms.
func WithIdleTimeout(d time.Duration) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if d <= 0 {
			return fmt.Errorf("%w: idle timeout must be positive", ErrInvalidOption)
		}
		opts.idleTimeout = d
		return nil
	}}
}

// WithCPU pins the loop's OS thread to the given CPU. Pinning failures are
// logged, and the loop runs unpinned.
func WithCPU(cpu int) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if cpu < 0 {
			return fmt.Errorf("%w: negative cpu", ErrInvalidOption)
		}
		opts.cpu = cpu
		return nil
	}}
}

// WithLogger sets the logger used by the loop and its scheduler. A nil
// logger, the default, disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithMetrics enables runtime metrics collection on the Loop.
// When enabled, metrics can be accessed via Loop.Metrics().
// This adds minimal overhead (record latency after each storage operation, update queue depths).
func WithMetrics(enabled bool) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.metricsEnabled = enabled
		return nil
	}}
}

// WithName sets the loop name, used in logs. Defaults to "eventloop-<id>".
func WithName(name string) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.name = name
		return nil
	}}
}

// resolveLoopOptions applies LoopOption instances to loopOptions.
func resolveLoopOptions(opts []LoopOption) (*loopOptions, error) {
	cfg := &loopOptions{
		loopType:          TypeIOUring,
		ringEntries:       defaultRingEntries,
		taskQueueCapacity: defaultTaskQueueCapacity,
		taskBudget:        defaultTaskBudget,
		idleTimeout:       defaultIdleTimeout,
		cpu:               -1,
	}
	for _, opt := range opts {
		if opt == nil {
			continue // Skip nil options gracefully
		}
		if err := opt.applyLoop(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.ring != nil {
		if _, ok := cfg.ring.(*uring.Sim); ok {
			cfg.loopType = TypeSim
		} else {
			cfg.loopType = TypeIOUring
		}
	}
	return cfg, nil
}

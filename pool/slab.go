// Package pool implements the fixed capacity pools backing storage requests
// and I/O buffers. Every instance is constructed up front, so steady state
// allocation never touches the Go heap.
package pool

import (
	"errors"
	"fmt"
)

var (
	// ErrExhausted is returned when every pooled instance is in use.
	ErrExhausted = errors.New("pool: exhausted")

	// ErrDoubleFree is the panic value (wrapped) raised when an instance is
	// freed while already pooled.
	ErrDoubleFree = errors.New("pool: double free")

	// ErrForeign is the panic value (wrapped) raised when freeing an instance
	// the pool did not construct.
	ErrForeign = errors.New("pool: instance not owned by this pool")
)

// Slab is a bounded object pool of *T.
//
// Thread Safety: Slab is NOT thread-safe. It is owned by one event loop.
type Slab[T any] struct {
	items     []*T
	index     map[*T]int32
	free      []int32
	allocated []bool
	gen       []uint32
}

// NewSlab constructs capacity instances using newFn, all initially free.
func NewSlab[T any](capacity int, newFn func() *T) *Slab[T] {
	if capacity <= 0 {
		panic(fmt.Errorf("pool: slab: invalid capacity %d", capacity))
	}
	if newFn == nil {
		newFn = func() *T { return new(T) }
	}
	x := &Slab[T]{
		items:     make([]*T, capacity),
		index:     make(map[*T]int32, capacity),
		free:      make([]int32, capacity),
		allocated: make([]bool, capacity),
		gen:       make([]uint32, capacity),
	}
	for i := range x.items {
		p := newFn()
		if p == nil {
			panic(errors.New("pool: slab: constructor returned nil"))
		}
		if _, ok := x.index[p]; ok {
			panic(errors.New("pool: slab: constructor returned a duplicate instance"))
		}
		x.items[i] = p
		x.index[p] = int32(i)
		// lowest index allocated first
		x.free[capacity-1-i] = int32(i)
	}
	return x
}

// Allocate takes a free instance, or returns ErrExhausted.
func (x *Slab[T]) Allocate() (*T, error) {
	n := len(x.free)
	if n == 0 {
		return nil, ErrExhausted
	}
	i := x.free[n-1]
	x.free = x.free[:n-1]
	x.allocated[i] = true
	x.gen[i]++
	return x.items[i], nil
}

// Free returns p to the pool. Freeing an instance twice, or one from
// another pool, panics.
func (x *Slab[T]) Free(p *T) {
	i, ok := x.index[p]
	if !ok {
		panic(fmt.Errorf("%w: %p", ErrForeign, p))
	}
	if !x.allocated[i] {
		panic(fmt.Errorf("%w: slot %d", ErrDoubleFree, i))
	}
	x.allocated[i] = false
	x.free = append(x.free, i)
}

// Generation returns the number of times p has been allocated. It changes on
// every Allocate, distinguishing successive uses of the same instance.
func (x *Slab[T]) Generation(p *T) uint32 {
	i, ok := x.index[p]
	if !ok {
		panic(fmt.Errorf("%w: %p", ErrForeign, p))
	}
	return x.gen[i]
}

// Owns reports whether p was constructed by this pool.
func (x *Slab[T]) Owns(p *T) bool {
	_, ok := x.index[p]
	return ok
}

// Len returns the number of free instances.
func (x *Slab[T]) Len() int {
	return len(x.free)
}

// Cap returns the total number of instances.
func (x *Slab[T]) Cap() int {
	return len(x.items)
}

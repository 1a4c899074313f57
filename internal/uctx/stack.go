package uctx

import (
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	// ErrStackExhausted is returned when the stack budget cannot fit another stack.
	ErrStackExhausted = errors.New("stack memory exhausted")

	// ErrDoubleFree is returned when a stack is freed twice or was never allocated.
	ErrDoubleFree = errors.New("stack freed twice")
)

// Stack is a fixed-size region owned by exactly one context. Go manages
// goroutine stacks itself, so this region is a reservation: it is what the
// budget counts and what a task may use as private scratch memory. Stacks do
// not grow; writing past Mem is an index panic rather than silent corruption.
type Stack struct {
	id  uint64
	Mem []byte
}

// IsZero reports whether s is the empty stack.
func (s Stack) IsZero() bool {
	return s.id == 0
}

// StackPool hands out fixed-size stacks within a memory budget and recycles
// freed regions.
//
// Alloc and Free are called only from the running carrier; InUse may be read
// from any goroutine.
type StackPool struct {
	size   int
	limit  int64
	nextID uint64
	live   map[uint64]struct{}
	free   [][]byte
	inUse  atomic.Int64
}

// NewStackPool returns a pool of size-byte stacks. A limit of 0 means the
// pool is bounded only by process memory.
func NewStackPool(size int, limit int64) *StackPool {
	return &StackPool{
		size:  size,
		limit: limit,
		live:  make(map[uint64]struct{}),
	}
}

// Size returns the size of every stack in the pool.
func (p *StackPool) Size() int {
	return p.size
}

// InUse returns the number of bytes held by live stacks.
func (p *StackPool) InUse() int64 {
	return p.inUse.Load()
}

// Alloc reserves a zeroed stack.
func (p *StackPool) Alloc() (Stack, error) {
	if p.limit > 0 && p.inUse.Load()+int64(p.size) > p.limit {
		return Stack{}, fmt.Errorf("alloc %d-byte stack (%d of %d in use): %w",
			p.size, p.inUse.Load(), p.limit, ErrStackExhausted)
	}

	var mem []byte
	if n := len(p.free); n > 0 {
		mem = p.free[n-1]
		p.free = p.free[:n-1]
		clear(mem)
	} else {
		mem = make([]byte, p.size)
	}

	p.nextID++
	s := Stack{id: p.nextID, Mem: mem}
	p.live[s.id] = struct{}{}
	p.inUse.Add(int64(p.size))
	return s, nil
}

// Free returns s to the pool.
func (p *StackPool) Free(s Stack) error {
	if _, ok := p.live[s.id]; !ok {
		return ErrDoubleFree
	}
	delete(p.live, s.id)
	p.free = append(p.free, s.Mem)
	p.inUse.Add(-int64(p.size))
	return nil
}

package gthread

import (
	"fmt"
	"time"

	"github.com/me/gthreads/internal/uctx"
)

// Handle identifies a task. The zero Handle is invalid. A handle outlives
// its task: once the record is released the handle goes stale and every
// operation on it reports ErrInvalidHandle.
type Handle struct {
	index int32
	gen   uint32
}

// ID returns the arena index of the task, stable for the record's lifetime.
func (h Handle) ID() int {
	return int(h.index)
}

// IsZero reports whether h is the zero Handle.
func (h Handle) IsZero() bool {
	return h == Handle{}
}

func (h Handle) String() string {
	return fmt.Sprintf("T%d", h.index)
}

// slot is one task control block. Slots are heap records that never move,
// because carriers keep pointers to their ctx.
type slot struct {
	gen   uint32
	used  bool
	state State
	name  string

	ctx   uctx.Context
	stack uctx.Stack

	// Ready list links, as arena indices. Valid only while linked.
	next, prev int32
	linked     bool

	switches uint64
	created  time.Time
}

// sentinel is the index of the ready list head. It never holds a task.
const sentinel int32 = 0

// arena is the task table plus the intrusive ready list threaded through it.
type arena struct {
	slots []*slot
	free  []int32
	used  int // records in use, excluding the sentinel
	live  int // records linked into the ready list
}

func newArena() arena {
	head := &slot{used: true}
	return arena{slots: []*slot{head}}
}

// alloc returns a fresh record in the Allocated state.
func (a *arena) alloc(now time.Time) (int32, *slot) {
	var i int32
	if n := len(a.free); n > 0 {
		i = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.slots = append(a.slots, &slot{})
		i = int32(len(a.slots) - 1)
	}
	s := a.slots[i]
	gen := s.gen + 1
	*s = slot{gen: gen, used: true, state: Allocated, created: now}
	a.used++
	return i, s
}

// release returns an unlinked record to the free list.
func (a *arena) release(i int32) {
	s := a.slots[i]
	s.used = false
	s.name = ""
	s.ctx = uctx.Context{}
	a.free = append(a.free, i)
	a.used--
}

// lookup resolves a handle to its record.
func (a *arena) lookup(h Handle) (*slot, error) {
	if h.index <= sentinel || int(h.index) >= len(a.slots) {
		return nil, fmt.Errorf("%s: %w", h, ErrInvalidHandle)
	}
	s := a.slots[h.index]
	if !s.used || s.gen != h.gen {
		return nil, fmt.Errorf("%s: %w", h, ErrInvalidHandle)
	}
	return s, nil
}

func (a *arena) handle(i int32) Handle {
	if i == sentinel {
		return Handle{}
	}
	return Handle{index: i, gen: a.slots[i].gen}
}

// insert links i at the tail, just before the head.
func (a *arena) insert(i int32) {
	if i == sentinel || a.slots[i].linked {
		return
	}
	head := a.slots[sentinel]
	if a.live == 0 {
		head.next, head.prev = sentinel, sentinel
	}
	s := a.slots[i]
	tail := head.prev
	a.slots[tail].next = i
	s.prev = tail
	s.next = sentinel
	head.prev = i
	s.linked = true
	a.live++
}

// remove unlinks i. The head and unlinked records are ignored.
func (a *arena) remove(i int32) {
	if i == sentinel || !a.slots[i].linked {
		return
	}
	s := a.slots[i]
	a.slots[s.next].prev = s.prev
	a.slots[s.prev].next = s.next
	s.next, s.prev = sentinel, sentinel
	s.linked = false
	a.live--
}

// nextAfter returns the record after i in circular order, skipping the head.
// The list must not be empty.
func (a *arena) nextAfter(i int32) int32 {
	n := a.slots[i].next
	for n == sentinel {
		n = a.slots[n].next
	}
	return n
}

// members returns the linked records in list order.
func (a *arena) members() []int32 {
	out := make([]int32, 0, a.live)
	for i := a.slots[sentinel].next; i != sentinel && len(out) < a.live; i = a.slots[i].next {
		out = append(out, i)
	}
	return out
}

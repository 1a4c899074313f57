package uctx

import (
	"runtime"
	"sync/atomic"
)

// Handler is invoked on interrupt delivery with the interrupted frame.
// It may Transplant a different context into the frame. When it returns,
// execution continues in whatever context the frame then names.
type Handler func(frame *Context)

// CPU is one logical processor: the set of carriers that take turns running,
// the interrupt mask, and the pending interrupt line.
//
// Only the running carrier may call the methods of CPU, except Raise and
// Delivered which are safe from any goroutine.
type CPU struct {
	cur     *Context
	mask    int32
	handler Handler

	pending   atomic.Bool
	kick      chan struct{}
	delivered atomic.Uint64
}

// NewCPU returns a CPU that calls h for every delivered interrupt.
func NewCPU(h Handler) *CPU {
	return &CPU{
		handler: h,
		kick:    make(chan struct{}, 1),
	}
}

// Capture binds into to the calling goroutine and makes it the running
// context. It is used once, for the bootstrap context.
func (m *CPU) Capture(into *Context) {
	into.regs = resumable{pc: newCarrier(into), mask: m.mask}
	m.cur = into
}

// Make prepares ctx to run fn on its own carrier the first time it is
// resumed. When fn returns the carrier restores link and exits.
func (m *CPU) Make(ctx *Context, stack Stack, link *Context, fn func()) {
	c := newCarrier(ctx)
	ctx.regs = resumable{pc: c, stack: stack, link: link}
	go func() {
		<-c.gate
		fn()
		if ctx.regs.link == nil {
			panic("uctx: context returned without a link")
		}
		m.Restore(ctx.regs.link)
	}()
}

// Swap saves the caller's state into save and resumes restore. It returns
// only when some other context swaps back into save. save must be the
// context the caller is running as.
func (m *CPU) Swap(save, restore *Context) {
	self := save.regs.pc
	if self == nil || restore.regs.pc == nil {
		panic("uctx: swap with unbound context")
	}
	save.regs.mask = m.mask
	if restore.regs.pc == self {
		m.mask = restore.regs.mask
		m.cur = self.home
		return
	}
	m.resume(restore.regs.pc, restore.regs.mask)
	<-self.gate
}

// Restore resumes from and terminates the calling carrier. It never returns.
// It must not be called from a goroutine that is not a carrier.
func (m *CPU) Restore(from *Context) {
	if from.regs.pc == nil {
		panic("uctx: restore of unbound context")
	}
	m.resume(from.regs.pc, from.regs.mask)
	runtime.Goexit()
}

// resume loads the target's state and unparks its carrier. The caller must
// park or exit right after.
func (m *CPU) resume(c *carrier, mask int32) {
	m.cur = c.home
	m.mask = mask
	c.gate <- struct{}{}
}

// Raise requests an interrupt. It is safe to call from any goroutine.
func (m *CPU) Raise() {
	m.pending.Store(true)
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// Interrupted returns a channel that receives after Raise. Blocking host
// services select on it so that a pending interrupt cuts their wait short.
func (m *CPU) Interrupted() <-chan struct{} {
	return m.kick
}

// Delivered returns the number of interrupts delivered so far.
func (m *CPU) Delivered() uint64 {
	return m.delivered.Load()
}

// Masked reports whether interrupts are currently deferred.
func (m *CPU) Masked() bool {
	return m.mask > 0
}

// Block masks interrupts. Calls nest.
func (m *CPU) Block() {
	m.mask++
}

// Unblock undoes one Block. When the mask drops to zero a deferred
// interrupt is delivered immediately.
func (m *CPU) Unblock() {
	if m.mask <= 0 {
		panic("uctx: unblock without matching block")
	}
	m.mask--
	if m.mask == 0 {
		m.Poll()
	}
}

// Poll is a safe point. If an interrupt is pending and not masked it is
// delivered on the calling carrier, and Poll reports true once the caller
// has been resumed.
func (m *CPU) Poll() bool {
	if m.mask > 0 || !m.pending.Load() {
		return false
	}
	if !m.pending.CompareAndSwap(true, false) {
		return false
	}
	select {
	case <-m.kick:
	default:
	}
	m.delivered.Add(1)

	self := m.cur
	frame := Context{
		regs: self.regs,
		prot: protected{owner: self.regs.pc},
	}
	frame.regs.mask = m.mask

	// The handler runs masked, so a second interrupt waits for sigreturn.
	m.mask++
	m.handler(&frame)
	m.mask--

	m.sigreturn(&frame)
	return true
}

// sigreturn continues in the context named by frame. If that is not the
// interrupted carrier, the interrupted carrier parks until it is resumed
// through the context the handler transplanted it into.
func (m *CPU) sigreturn(frame *Context) {
	owner := frame.prot.owner
	if owner == nil {
		panic("uctx: interrupt frame lost its owner (protected state overwritten)")
	}
	target := frame.regs.pc
	if target == nil {
		panic("uctx: interrupt frame has no resume context")
	}
	if target == owner {
		m.mask = frame.regs.mask
		m.cur = owner.home
		return
	}
	m.resume(target, frame.regs.mask)
	<-owner.gate
}

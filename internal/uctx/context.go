// Package uctx is the execution-context primitive of the green-thread
// runtime. It is the only package that looks inside a Context.
//
// A Context does not hold CPU registers. Go offers no way to capture them.
// Instead every context is bound to a carrier: a goroutine parked on a
// one-slot gate. Resuming a context means unparking its carrier. Exactly one
// carrier per CPU is unparked at any instant, so the carriers of a CPU
// behave like stacks multiplexed onto a single thread.
//
// Unsafe boundary: Transplant copies the resumable part of a context and
// must never copy the protected part (the identity of the carrier physically
// executing an interrupt frame). Code outside this package treats Context as
// an opaque value.
package uctx

// carrier is the goroutine that executes a context. Its gate holds at most
// one pending resume.
type carrier struct {
	gate chan struct{}

	// home is the context record this carrier resumes as. It never changes.
	home *Context
}

func newCarrier(home *Context) *carrier {
	return &carrier{gate: make(chan struct{}, 1), home: home}
}

// resumable is the part of a context that Transplant moves.
type resumable struct {
	pc    *carrier // where execution continues
	stack Stack
	link  *Context // entered when the entry function returns
	mask  int32    // interrupt mask depth at suspension
}

// protected is managed by the CPU for interrupt frames only.
type protected struct {
	owner *carrier
}

// Context is a saved, resumable execution state.
// The zero value is an unbound context that cannot be resumed.
type Context struct {
	regs resumable
	prot protected
}

// Bound reports whether c has been bound to a carrier by Capture or Make.
func (c *Context) Bound() bool {
	return c.regs.pc != nil
}

// Stack returns the stack region of c.
func (c *Context) Stack() Stack {
	return c.regs.stack
}

// Transplant copies every resumable field of src into dst: carrier, stack,
// link and mask. The protected frame owner of dst is left untouched.
// Overwriting it would leave the interrupted carrier unable to park, which
// is why the CPU panics when it finds a frame without an owner.
func Transplant(dst, src *Context) {
	dst.regs = src.regs
}

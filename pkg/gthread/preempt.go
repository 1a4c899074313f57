package gthread

import "github.com/me/gthreads/internal/uctx"

// preempt is the interrupt handler. It runs on the interrupted task's
// carrier with interrupts masked: save the interrupted state into the
// current task, pick the next task, and load its state into the frame so
// that returning from the handler continues there.
func (r *Runtime) preempt(frame *uctx.Context) {
	cur := r.current
	if cur == sentinel {
		return
	}
	uctx.Transplant(&r.tasks.slots[cur].ctx, frame)
	r.switchTasks()
	uctx.Transplant(frame, &r.tasks.slots[r.current].ctx)

	if r.current != cur {
		r.stats.preemptions.Add(1)
		r.logger.Debug("preempt", "from", r.tasks.handle(cur), "to", r.tasks.handle(r.current))
		r.emit(EventPreempt, r.current, cur)
	}
}

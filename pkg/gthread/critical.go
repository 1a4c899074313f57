package gthread

// EnterCritical masks preemption for the calling task. Calls nest; each
// must be matched by LeaveCritical. A task may Yield or block inside a
// critical section: the depth is saved with its context and restored when
// it resumes.
func (r *Runtime) EnterCritical() {
	r.cpu.Block()
}

// LeaveCritical undoes one EnterCritical. Leaving the outermost level takes
// any preemption that arrived in the meantime. Unbalanced calls panic.
func (r *Runtime) LeaveCritical() {
	r.cpu.Unblock()
}

// Critical runs fn with preemption masked.
func (r *Runtime) Critical(fn func()) {
	r.EnterCritical()
	defer r.LeaveCritical()
	fn()
}

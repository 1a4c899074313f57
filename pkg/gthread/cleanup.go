package gthread

// reap is the body of the cleanup context, the link of every spawned task.
// A task whose entry point returns lands here: it is unlinked, marked
// Zombie and stripped of its stack, and the next task is resumed. The loop
// keeps interrupts masked for its whole life, so it is never preempted.
func (r *Runtime) reap() {
	r.cpu.Block()
	for {
		done := r.current
		s := r.tasks.slots[done]

		r.mu.Lock()
		r.tasks.remove(done)
		s.setState(Zombie)
		stk := s.stack
		s.stack.Mem = nil
		r.current = sentinel
		r.mu.Unlock()

		if err := r.stacks.Free(stk); err != nil {
			r.logger.Error("free task stack", "task", r.tasks.handle(done), "error", err)
		}
		r.stats.exited.Add(1)
		r.logger.Debug("task exited", "task", r.tasks.handle(done), "name", s.name)
		r.emit(EventExit, done, sentinel)

		r.switchTasks()
		r.cpu.Swap(&r.cleanup, &r.tasks.slots[r.current].ctx)
	}
}

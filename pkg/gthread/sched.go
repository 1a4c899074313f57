package gthread

import (
	"fmt"
	"time"
)

// selectNext scans the ready list round robin, starting after the current
// task (or at the head when there is none), and returns the first Ready or
// Running task. It looks at most one full lap; finding nothing means every
// live task is blocked and nothing can ever wake one, so it panics.
func (r *Runtime) selectNext() int32 {
	i := r.current
	for n := 0; n < r.tasks.live; n++ {
		i = r.tasks.nextAfter(i)
		if r.tasks.slots[i].state.IsRunnable() {
			return i
		}
	}
	panic(deadlockMsg)
}

// switchTasks moves the current-task pointer to the next runnable task and
// returns the outgoing one. The outgoing task goes back to Ready unless it
// already left Running (Blocked or Zombie). The caller performs the actual
// context switch. Must run with interrupts masked.
func (r *Runtime) switchTasks() int32 {
	old := r.current
	next := r.selectNext()

	r.mu.Lock()
	if old != sentinel {
		if o := r.tasks.slots[old]; o.state == Running && next != old {
			o.setState(Ready)
		}
	}
	n := r.tasks.slots[next]
	if n.state != Running {
		n.setState(Running)
	}
	if next != old {
		n.switches++
	}
	r.current = next
	r.mu.Unlock()

	if next != old {
		r.stats.switches.Add(1)
		r.emit(EventSwitch, next, old)
	}
	return old
}

// Yield gives up the processor to the next runnable task. It returns when
// the scheduler selects the caller again, which is immediately if no other
// task is runnable.
func (r *Runtime) Yield() {
	r.EnterCritical()
	r.stats.yields.Add(1)
	old := r.switchTasks()
	if old != r.current {
		r.cpu.Swap(&r.tasks.slots[old].ctx, &r.tasks.slots[r.current].ctx)
	}
	r.LeaveCritical()
}

// Join waits until the task h has returned from its entry point. It waits
// by yielding, so it spends scheduler turns rather than sleeping. Joining a
// task that is already a Zombie returns at once without a scheduling round.
// If the record is released while Join waits, Join returns nil.
func (r *Runtime) Join(h Handle) error {
	s, err := r.tasks.lookup(h)
	if err != nil {
		return fmt.Errorf("join: %w", err)
	}
	if h.index == r.current {
		return fmt.Errorf("join %s: %w", h, ErrJoinSelf)
	}
	if s.state == Allocated {
		return fmt.Errorf("join %s: %w", h, ErrNotStarted)
	}
	for s.gen == h.gen && s.used && s.state != Zombie {
		r.Yield()
	}
	r.emit(EventJoin, r.current, h.index)
	return nil
}

// Checkpoint is an explicit safe point: a pending preemption is taken here.
// Long computations that never call into the runtime should call it.
func (r *Runtime) Checkpoint() {
	r.cpu.Poll()
}

// Sleep blocks the calling task, and with it the whole runtime, for d.
// Preemption ticks that arrive meanwhile are delivered, so other tasks run
// while this one sleeps; the sleep then continues until d has elapsed.
func (r *Runtime) Sleep(d time.Duration) {
	if d <= 0 {
		r.Checkpoint()
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	if r.cpu.Masked() {
		<-timer.C
		return
	}
	for {
		r.cpu.Poll()
		select {
		case <-timer.C:
			return
		case <-r.cpu.Interrupted():
		}
	}
}

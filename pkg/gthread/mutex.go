package gthread

import "fmt"

// Mutex is a binary lock for tasks. A task that finds it locked is Blocked
// and yields; the thread keeps running other tasks.
//
// Unlock wakes every waiter and lets them race: each re-checks the lock when
// it is next scheduled and the first to find it free takes it. There is no
// hand-off to a particular waiter and no fairness beyond that. A woken
// waiter that was parked by a preemption tick yields once more before it
// re-checks, so an owner that unlocks, yields and relocks in a tight loop
// can starve it indefinitely.
//
// Re-locking a mutex the caller already owns would block the caller against
// itself forever. Lock detects that case and fails with ErrRecursiveLock
// instead of hanging.
type Mutex struct {
	rt      *Runtime
	locked  bool
	owner   Handle
	waiters []int32
}

// InitMutex prepares m for use with this runtime. It must be called before
// any other method and must not be called while m is in use.
func (r *Runtime) InitMutex(m *Mutex) {
	*m = Mutex{rt: r}
}

// NewMutex returns an initialised mutex.
func (r *Runtime) NewMutex() *Mutex {
	m := &Mutex{}
	r.InitMutex(m)
	return m
}

// Lock acquires m, blocking the calling task while another task holds it.
func (m *Mutex) Lock() error {
	r := m.rt
	if r == nil {
		return ErrMutexUninitialized
	}
	r.EnterCritical()
	self := r.current
	if m.locked && m.owner == r.tasks.handle(self) {
		r.LeaveCritical()
		return fmt.Errorf("lock by %s: %w", m.owner, ErrRecursiveLock)
	}

	if m.locked {
		m.waiters = append(m.waiters, self)
		for m.locked {
			r.block(self)
			r.LeaveCritical()
			r.Yield()
			r.EnterCritical()
		}
		m.dequeue(self)
	}
	m.locked = true
	m.owner = r.tasks.handle(self)
	r.LeaveCritical()
	return nil
}

// TryLock acquires m only if it is free, and never blocks.
func (m *Mutex) TryLock() bool {
	r := m.rt
	if r == nil {
		return false
	}
	r.EnterCritical()
	defer r.LeaveCritical()
	if m.locked {
		return false
	}
	m.locked = true
	m.owner = r.tasks.handle(r.current)
	return true
}

// Unlock releases m and makes every blocked waiter Ready. Only the owner
// may unlock; any other call reports an error and changes nothing.
func (m *Mutex) Unlock() error {
	r := m.rt
	if r == nil {
		return ErrMutexUninitialized
	}
	r.EnterCritical()
	defer r.LeaveCritical()
	if !m.locked {
		return ErrNotLocked
	}
	self := r.tasks.handle(r.current)
	if m.owner != self {
		return fmt.Errorf("unlock by %s, owner %s: %w", self, m.owner, ErrNotOwner)
	}
	m.locked = false
	m.owner = Handle{}
	for _, w := range m.waiters {
		r.wake(w, self.index)
	}
	return nil
}

// Owner returns the holder of m, or the zero Handle if m is unlocked.
func (m *Mutex) Owner() Handle {
	return m.owner
}

// Waiting returns the number of tasks queued on m.
func (m *Mutex) Waiting() int {
	return len(m.waiters)
}

func (m *Mutex) dequeue(i int32) {
	for n, w := range m.waiters {
		if w == i {
			m.waiters = append(m.waiters[:n], m.waiters[n+1:]...)
			return
		}
	}
}

// block marks task i Blocked. Must run with interrupts masked.
func (r *Runtime) block(i int32) {
	r.mu.Lock()
	r.tasks.slots[i].setState(Blocked)
	r.mu.Unlock()
	r.emit(EventBlock, i, sentinel)
}

// wake makes a Blocked task Ready again. Must run with interrupts masked.
func (r *Runtime) wake(i, by int32) {
	r.mu.Lock()
	s := r.tasks.slots[i]
	woke := s.state == Blocked
	if woke {
		s.setState(Ready)
	}
	r.mu.Unlock()
	if woke {
		r.emit(EventWake, i, by)
	}
}

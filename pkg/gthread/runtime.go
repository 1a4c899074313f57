// Package gthread is a single-threaded green-thread runtime: tasks share one
// logical thread, switch on Yield or on a periodic preemption tick, and block
// on a Mutex without blocking the thread.
//
// The goroutine that calls Init becomes the main task. All other methods,
// except Snapshot, Stats and Close, must be called from a task of the same
// runtime. Preemption is taken at safe points: any runtime call, and the end
// of the outermost critical section. A task that never calls into the
// runtime is never preempted.
package gthread

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/me/gthreads/internal/clock"
	"github.com/me/gthreads/internal/logging"
	"github.com/me/gthreads/internal/uctx"
)

// EntryPoint is a task body. It receives the arguments given to Spawn.
type EntryPoint func(args ...any)

// Clock drives preemption. It calls fire once per tick from its own goroutine.
type Clock interface {
	Start(interval time.Duration, fire func()) error
	Stop() error
}

// Option configures optional Runtime dependencies.
type Option func(*Runtime)

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) {
		r.logger = logger
	}
}

// WithClock replaces the default time.Ticker based clock.
func WithClock(c Clock) Option {
	return func(r *Runtime) {
		r.clock = c
	}
}

// WithTracer installs a receiver for scheduling events.
func WithTracer(t Tracer) Option {
	return func(r *Runtime) {
		r.tracer = t
	}
}

// Runtime is one green-thread scheduler and its tasks.
type Runtime struct {
	cfg    Config
	logger *slog.Logger
	clock  Clock
	tracer Tracer

	cpu    *uctx.CPU
	stacks *uctx.StackPool

	// mu guards the arena for readers on foreign goroutines. Tasks are
	// already serialised by the carrier hand-off.
	mu      sync.Mutex
	tasks   arena
	current int32
	main    int32

	cleanup      uctx.Context
	cleanupStack uctx.Stack

	closed  atomic.Bool
	seq     atomic.Uint64
	stats   counters
	started time.Time
}

type counters struct {
	switches    atomic.Uint64
	yields      atomic.Uint64
	preemptions atomic.Uint64
	spawned     atomic.Uint64
	exited      atomic.Uint64
}

// Init starts a runtime. The calling goroutine becomes the main task, the
// cleanup context is prepared and the preemption clock is armed.
func Init(cfg Config, opts ...Option) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	r := &Runtime{
		cfg:     cfg,
		logger:  logging.Discard(),
		clock:   clock.NewTicker(),
		tasks:   newArena(),
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.Component(r.logger, "gthread")
	r.cpu = uctx.NewCPU(r.preempt)
	r.stacks = uctx.NewStackPool(cfg.StackSize, cfg.MaxStackMemory)

	// The main task runs on the caller's goroutine and owns no stack region.
	r.mu.Lock()
	i, s := r.tasks.alloc(r.started)
	s.name = "main"
	r.cpu.Capture(&s.ctx)
	s.state = Running // already executing; it never passes through Ready
	s.switches = 1
	r.tasks.insert(i)
	r.current, r.main = i, i
	r.mu.Unlock()

	stk, err := r.stacks.Alloc()
	if err != nil {
		return nil, fmt.Errorf("allocate cleanup stack: %w", err)
	}
	if r.clock != nil && cfg.TickInterval > 0 {
		if err := r.clock.Start(cfg.TickInterval, r.cpu.Raise); err != nil {
			_ = r.stacks.Free(stk)
			return nil, fmt.Errorf("start preemption clock: %w", err)
		}
	}
	// The cleanup carrier is started last so that no goroutine outlives a
	// failed Init.
	r.cleanupStack = stk
	r.cpu.Make(&r.cleanup, stk, &s.ctx, r.reap)

	r.logger.Info("runtime started",
		"tick_interval", cfg.TickInterval,
		"stack_size", cfg.StackSize,
		"max_tasks", cfg.MaxTasks,
	)
	r.emit(EventStart, i, sentinel)
	return r, nil
}

// Close stops the preemption clock. Tasks that have not finished stay parked;
// there is no way to cancel them. Close may be called from any goroutine.
func (r *Runtime) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	if r.clock != nil && r.cfg.TickInterval > 0 {
		if err := r.clock.Stop(); err != nil {
			r.logger.Warn("stop preemption clock", "error", err)
			return fmt.Errorf("stop preemption clock: %w", err)
		}
	}
	r.logger.Info("runtime closed", "uptime", time.Since(r.started).Round(time.Millisecond))
	return nil
}

// Allocate creates a task record in the Allocated state. It has no stack and
// is not schedulable until Spawn.
func (r *Runtime) Allocate() (Handle, error) {
	if r.closed.Load() {
		return Handle{}, ErrClosed
	}
	r.EnterCritical()
	defer r.LeaveCritical()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cfg.MaxTasks > 0 && r.tasks.used >= r.cfg.MaxTasks {
		return Handle{}, fmt.Errorf("allocate task (%d live): %w", r.tasks.used, ErrTaskLimit)
	}
	i, _ := r.tasks.alloc(time.Now())
	return r.tasks.handle(i), nil
}

// Spawn gives an Allocated task its stack and entry point, links it into the
// ready list and immediately runs a scheduling pass. On any error the task is
// left unchanged.
func (r *Runtime) Spawn(h Handle, entry EntryPoint, args ...any) error {
	if entry == nil {
		return ErrNilEntry
	}
	if r.closed.Load() {
		return ErrClosed
	}

	r.EnterCritical()
	s, err := r.tasks.lookup(h)
	if err != nil {
		r.LeaveCritical()
		return fmt.Errorf("spawn: %w", err)
	}
	if s.state != Allocated {
		r.LeaveCritical()
		return fmt.Errorf("spawn %s (%s): %w", h, s.state, ErrNotAllocated)
	}
	stk, err := r.stacks.Alloc()
	if err != nil {
		r.LeaveCritical()
		return fmt.Errorf("spawn %s: %w", h, err)
	}

	r.cpu.Make(&s.ctx, stk, &r.cleanup, func() { entry(args...) })
	r.mu.Lock()
	s.stack = stk
	s.setState(Ready)
	r.tasks.insert(h.index)
	r.mu.Unlock()
	r.stats.spawned.Add(1)
	r.logger.Debug("task spawned", "task", h, "name", s.name)
	r.emit(EventSpawn, h.index, r.current)
	r.LeaveCritical()

	r.Yield()
	return nil
}

// Go allocates and spawns a task in one step.
func (r *Runtime) Go(entry EntryPoint, args ...any) (Handle, error) {
	h, err := r.Allocate()
	if err != nil {
		return Handle{}, err
	}
	if err := r.Spawn(h, entry, args...); err != nil {
		if rerr := r.Release(h); rerr != nil {
			r.logger.Warn("release unspawned task", "task", h, "error", rerr)
		}
		return Handle{}, err
	}
	return h, nil
}

// Release frees the record of a Zombie or never-spawned task. The handle and
// every copy of it become stale.
func (r *Runtime) Release(h Handle) error {
	r.EnterCritical()
	defer r.LeaveCritical()

	s, err := r.tasks.lookup(h)
	if err != nil {
		return fmt.Errorf("release: %w", err)
	}
	if s.state != Zombie && s.state != Allocated {
		return fmt.Errorf("release %s (%s): %w", h, s.state, ErrBusy)
	}
	r.mu.Lock()
	r.tasks.release(h.index)
	r.mu.Unlock()
	return nil
}

// SetName attaches a display name to a task.
func (r *Runtime) SetName(h Handle, name string) error {
	s, err := r.tasks.lookup(h)
	if err != nil {
		return err
	}
	r.mu.Lock()
	s.name = name
	r.mu.Unlock()
	return nil
}

// State returns the current state of a task.
func (r *Runtime) State(h Handle) (State, error) {
	s, err := r.tasks.lookup(h)
	if err != nil {
		return 0, err
	}
	return s.state, nil
}

// Self returns the handle of the calling task.
func (r *Runtime) Self() Handle {
	return r.tasks.handle(r.current)
}

// Main returns the handle of the main task.
func (r *Runtime) Main() Handle {
	return r.tasks.handle(r.main)
}

// Config returns the configuration the runtime was started with.
func (r *Runtime) Config() Config {
	return r.cfg
}

// TaskInfo is a point-in-time view of one task record.
type TaskInfo struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	State     State     `json:"state"`
	Linked    bool      `json:"linked"`
	Current   bool      `json:"current"`
	Switches  uint64    `json:"switches"`
	StackSize int       `json:"stack_size"`
	CreatedAt time.Time `json:"created_at"`
}

// Snapshot returns every live task record in arena order. It may be called
// from any goroutine.
func (r *Runtime) Snapshot() []TaskInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TaskInfo, 0, r.tasks.used)
	for i, s := range r.tasks.slots {
		if int32(i) == sentinel || !s.used {
			continue
		}
		out = append(out, TaskInfo{
			ID:        i,
			Name:      s.name,
			State:     s.state,
			Linked:    s.linked,
			Current:   int32(i) == r.current,
			Switches:  s.switches,
			StackSize: len(s.stack.Mem),
			CreatedAt: s.created,
		})
	}
	return out
}

// Stats are cumulative runtime counters.
type Stats struct {
	Switches        uint64        `json:"switches"`
	Yields          uint64        `json:"yields"`
	Preemptions     uint64        `json:"preemptions"`
	Spawned         uint64        `json:"spawned"`
	Exited          uint64        `json:"exited"`
	Tasks           int           `json:"tasks"`
	ReadyListLen    int           `json:"ready_list_len"`
	StackBytesInUse int64         `json:"stack_bytes_in_use"`
	Uptime          time.Duration `json:"uptime"`
}

// Stats returns the runtime counters. It may be called from any goroutine.
func (r *Runtime) Stats() Stats {
	r.mu.Lock()
	used, live := r.tasks.used, r.tasks.live
	r.mu.Unlock()
	return Stats{
		Switches:        r.stats.switches.Load(),
		Yields:          r.stats.yields.Load(),
		Preemptions:     r.stats.preemptions.Load(),
		Spawned:         r.stats.spawned.Load(),
		Exited:          r.stats.exited.Load(),
		Tasks:           used,
		ReadyListLen:    live,
		StackBytesInUse: r.stacks.InUse(),
		Uptime:          time.Since(r.started),
	}
}

package demo

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/me/gthreads/internal/logging"
	"github.com/me/gthreads/pkg/gthread"
)

// Options configures a demo run.
type Options struct {
	Tasks []TaskSpec

	// MainIterations bounds the main loop. Zero loops until the context
	// is cancelled.
	MainIterations int
	MainSleep      time.Duration
}

// TaskResult reports how far one task got.
type TaskResult struct {
	Name       string        `json:"name"`
	Kind       Kind          `json:"kind"`
	Handle     string        `json:"handle"`
	Iterations int           `json:"iterations"`
	Final      gthread.State `json:"state"`
}

// Summary is the outcome of Run.
type Summary struct {
	MainIterations int           `json:"main_iterations"`
	Tasks          []TaskResult  `json:"tasks"`
	Stats          gthread.Stats `json:"stats"`
	Interrupted    bool          `json:"interrupted"`
}

// Runner spawns the configured workloads on a runtime and drives its main
// loop. Run must be called from the runtime's main task.
type Runner struct {
	rt     *gthread.Runtime
	out    *Printer
	logger *slog.Logger
	opts   Options

	// coop is set when preemption is off. Workloads then yield after every
	// iteration, or a task that never finishes would starve the rest.
	coop    bool
	stop    atomic.Bool
	mutexes map[string]*gthread.Mutex
}

// NewRunner returns a Runner for rt.
func NewRunner(rt *gthread.Runtime, out *Printer, logger *slog.Logger, opts Options) *Runner {
	if opts.MainSleep <= 0 {
		opts.MainSleep = DefaultSleep
	}
	return &Runner{
		rt:      rt,
		out:     out,
		logger:  logging.Component(logger, "demo"),
		opts:    opts,
		coop:    rt.Config().TickInterval == 0,
		mutexes: make(map[string]*gthread.Mutex),
	}
}

type task struct {
	spec   TaskSpec
	handle gthread.Handle
	result *TaskResult
}

// Run spawns every task, runs the main loop, waits for the finite tasks,
// then stops the rest. Cancelling ctx stops everything at the next
// iteration boundary.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	var sum Summary

	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			r.stop.Store(true)
		case <-watchDone:
		}
	}()

	tasks := make([]*task, 0, len(r.opts.Tasks))
	for i, spec := range r.opts.Tasks {
		if spec.Name == "" {
			spec.Name = fmt.Sprintf("task%d", i+1)
		}
		t, err := r.spawn(spec)
		if err != nil {
			r.stopAll(tasks)
			return sum, err
		}
		tasks = append(tasks, t)
	}

	for i := 0; r.opts.MainIterations == 0 || i < r.opts.MainIterations; i++ {
		if r.stop.Load() {
			break
		}
		r.out.Printf("main", "main loop %d", i)
		sum.MainIterations++
		r.pause(r.opts.MainSleep)
	}

	for _, t := range tasks {
		if t.spec.Finite() {
			if err := r.rt.Join(t.handle); err != nil {
				return sum, fmt.Errorf("join %s: %w", t.spec.Name, err)
			}
		}
	}
	sum.Interrupted = ctx.Err() != nil
	r.stopAll(tasks)

	for _, t := range tasks {
		t.result.Final, _ = r.rt.State(t.handle)
		sum.Tasks = append(sum.Tasks, *t.result)
	}
	sum.Stats = r.rt.Stats()
	return sum, nil
}

// stopAll asks every task to return and waits for them.
func (r *Runner) stopAll(tasks []*task) {
	r.stop.Store(true)
	for _, t := range tasks {
		if err := r.rt.Join(t.handle); err != nil {
			r.logger.Warn("join on stop", "task", t.spec.Name, "error", err)
		}
	}
}

func (r *Runner) spawn(spec TaskSpec) (*task, error) {
	h, err := r.rt.Allocate()
	if err != nil {
		return nil, fmt.Errorf("allocate %s: %w", spec.Name, err)
	}
	if err := r.rt.SetName(h, spec.Name); err != nil {
		return nil, err
	}
	t := &task{
		spec:   spec,
		handle: h,
		result: &TaskResult{Name: spec.Name, Kind: spec.Kind, Handle: h.String()},
	}

	var body gthread.EntryPoint
	switch spec.Kind {
	case KindCounter:
		body = r.counter
	case KindForever:
		body = r.forever
	case KindLocker:
		body = r.locker
	case KindSpin:
		body = r.spin
	default:
		return nil, fmt.Errorf("unknown workload %q", spec.Kind)
	}
	r.logger.Debug("spawning", "task", spec.Name, "handle", h, "spec", spec.String())
	if err := r.rt.Spawn(h, body, t); err != nil {
		return nil, fmt.Errorf("spawn %s: %w", spec.Name, err)
	}
	return t, nil
}

// pause sleeps between iterations and, without preemption, yields.
func (r *Runner) pause(d time.Duration) {
	r.rt.Sleep(d)
	if r.coop {
		r.rt.Yield()
	}
}

func (r *Runner) mutex(name string) *gthread.Mutex {
	m, ok := r.mutexes[name]
	if !ok {
		m = r.rt.NewMutex()
		r.mutexes[name] = m
	}
	return m
}

func (r *Runner) counter(args ...any) {
	t := args[0].(*task)
	for i := 0; i < t.spec.Iterations && !r.stop.Load(); i++ {
		r.out.Printf(t.spec.Name, "%s loop %d", t.spec.Name, i)
		t.result.Iterations++
		r.pause(t.spec.Sleep)
	}
}

func (r *Runner) forever(args ...any) {
	t := args[0].(*task)
	for i := 0; !r.stop.Load(); i++ {
		r.out.Printf(t.spec.Name, "%s loop %d", t.spec.Name, i)
		t.result.Iterations++
		r.pause(t.spec.Sleep)
	}
}

func (r *Runner) locker(args ...any) {
	t := args[0].(*task)
	mu := r.mutex(t.spec.Mutex)
	for i := 0; i < t.spec.Iterations && !r.stop.Load(); i++ {
		if err := mu.Lock(); err != nil {
			r.logger.Error("lock", "task", t.spec.Name, "mutex", t.spec.Mutex, "error", err)
			return
		}
		r.out.Printf(t.spec.Name, "%s holds %s %d", t.spec.Name, t.spec.Mutex, i)
		r.rt.Sleep(t.spec.Hold)
		t.result.Iterations++
		if err := mu.Unlock(); err != nil {
			r.logger.Error("unlock", "task", t.spec.Name, "mutex", t.spec.Mutex, "error", err)
			return
		}
		r.pause(t.spec.Sleep)
	}
}

func (r *Runner) spin(args ...any) {
	t := args[0].(*task)
	for i := 1; i <= t.spec.Iterations && !r.stop.Load(); i++ {
		if i%t.spec.Every == 0 {
			r.out.Printf(t.spec.Name, "%s spin %d", t.spec.Name, i)
		}
		t.result.Iterations++
		r.rt.Checkpoint()
		if r.coop && i%t.spec.Every == 0 {
			r.rt.Yield()
		}
	}
}

package gthread

import (
	"errors"
	"io"
	"log/slog"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestInit_MainTaskRunning(t *testing.T) {
	rt, _ := testRuntime(t)

	self := rt.Self()
	if self != rt.Main() {
		t.Fatalf("Self() = %s, want main %s", self, rt.Main())
	}
	st, err := rt.State(self)
	if err != nil || st != Running {
		t.Fatalf("main state = %s, %v; want RUNNING", st, err)
	}
	snap := rt.Snapshot()
	if len(snap) != 1 || snap[0].Name != "main" || !snap[0].Current {
		t.Errorf("snapshot = %+v, want only the current main task", snap)
	}
	// The cleanup context owns the only stack so far.
	if got := rt.Stats().StackBytesInUse; got != DefaultStackSize {
		t.Errorf("StackBytesInUse = %d, want %d", got, DefaultStackSize)
	}
}

func TestInit_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StackSize = 0
	if _, err := Init(cfg); err == nil {
		t.Error("expected error for zero stack size")
	}
}

func TestAllocate_StartsAllocated(t *testing.T) {
	rt, _ := testRuntime(t)
	h, err := rt.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if h.IsZero() {
		t.Fatal("Allocate returned the zero handle")
	}
	st, _ := rt.State(h)
	if st != Allocated {
		t.Errorf("state = %s, want ALLOCATED", st)
	}
	if rt.Stats().ReadyListLen != 1 {
		t.Error("allocated task must not be on the ready list")
	}
}

func TestSpawn_RunsImmediately(t *testing.T) {
	rt, _ := testRuntime(t)
	h, _ := rt.Allocate()

	var got []any
	if err := rt.Spawn(h, func(args ...any) { got = args }, "a", 1); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	// Spawn runs a scheduling pass, so the task has already run to completion.
	if len(got) != 2 || got[0] != "a" || got[1] != 1 {
		t.Fatalf("entry args = %v, want [a 1]", got)
	}
	st, _ := rt.State(h)
	if st != Zombie {
		t.Errorf("state = %s, want ZOMBIE", st)
	}
	stats := rt.Stats()
	if stats.ReadyListLen != 1 || stats.Exited != 1 || stats.Spawned != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.StackBytesInUse != DefaultStackSize {
		t.Errorf("task stack not returned: %d bytes in use", stats.StackBytesInUse)
	}
	if rt.Self() != rt.Main() {
		t.Error("control did not return to main")
	}
}

func TestSpawn_Misuse(t *testing.T) {
	rt, _ := testRuntime(t)
	h, _ := rt.Allocate()
	if err := rt.Spawn(h, nil); !errors.Is(err, ErrNilEntry) {
		t.Errorf("nil entry error = %v, want ErrNilEntry", err)
	}
	if err := rt.Spawn(Handle{}, func(...any) {}); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("zero handle error = %v, want ErrInvalidHandle", err)
	}

	calls := 0
	if err := rt.Spawn(h, func(...any) { calls++ }); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if err := rt.Spawn(h, func(...any) { calls++ }); !errors.Is(err, ErrNotAllocated) {
		t.Errorf("respawn error = %v, want ErrNotAllocated", err)
	}
	if err := rt.Spawn(rt.Main(), func(...any) { calls++ }); !errors.Is(err, ErrNotAllocated) {
		t.Errorf("spawn main error = %v, want ErrNotAllocated", err)
	}
	if calls != 1 {
		t.Errorf("entry ran %d times, want 1", calls)
	}
}

func TestYield_RoundRobinInterleaves(t *testing.T) {
	rt, _ := testRuntime(t)

	var out []string
	body := func(args ...any) {
		name := args[0].(string)
		for i := 0; i < 3; i++ {
			out = append(out, name)
			rt.Yield()
		}
	}
	var hs []Handle
	for _, name := range []string{"a", "b", "c"} {
		h, err := rt.Go(body, name)
		if err != nil {
			t.Fatalf("Go: %v", err)
		}
		hs = append(hs, h)
	}
	for i := 0; i < 3; i++ {
		out = append(out, "m")
		rt.Yield()
	}
	for _, h := range hs {
		if err := rt.Join(h); err != nil {
			t.Fatalf("Join: %v", err)
		}
	}

	seq := strings.Join(out, "")
	if strings.Count(seq, "a") != 3 || strings.Count(seq, "b") != 3 || strings.Count(seq, "c") != 3 {
		t.Fatalf("sequence %q lost iterations", seq)
	}
	if strings.LastIndex(seq, "b")-strings.Index(seq, "b") <= 2 {
		t.Errorf("sequence %q ran b without interleaving", seq)
	}
	if strings.Index(seq, "m") > strings.LastIndex(seq, "c") {
		t.Errorf("main did not interleave: %q", seq)
	}
}

func TestSelectNext_FairOverWindow(t *testing.T) {
	r := &Runtime{tasks: newArena()}
	const n = 4
	for i := 0; i < n; i++ {
		id, s := r.tasks.alloc(time.Now())
		s.state = Ready
		r.tasks.insert(id)
	}
	r.current = r.tasks.members()[0]
	r.tasks.slots[r.current].state = Running

	var picks []int32
	for i := 0; i < 5*n; i++ {
		r.switchTasks()
		picks = append(picks, r.current)
	}
	for start := 0; start+n <= len(picks); start++ {
		seen := make(map[int32]bool)
		for _, p := range picks[start : start+n] {
			seen[p] = true
		}
		if len(seen) != n {
			t.Fatalf("window %v at %d misses a task", picks[start:start+n], start)
		}
	}
	running := 0
	for _, i := range r.tasks.members() {
		if r.tasks.slots[i].state == Running {
			running++
		}
	}
	if running != 1 {
		t.Errorf("%d tasks Running, want exactly 1", running)
	}
}

func TestSelectNext_SkipsBlocked(t *testing.T) {
	r := &Runtime{tasks: newArena()}
	var ids []int32
	for _, st := range []State{Running, Blocked, Ready} {
		id, s := r.tasks.alloc(time.Now())
		s.state = st
		r.tasks.insert(id)
		ids = append(ids, id)
	}
	r.current = ids[0]
	if got := r.selectNext(); got != ids[2] {
		t.Errorf("selectNext = %d, want %d", got, ids[2])
	}
}

func TestSelectNext_DeadlockPanics(t *testing.T) {
	r := &Runtime{tasks: newArena()}
	for i := 0; i < 3; i++ {
		id, s := r.tasks.alloc(time.Now())
		s.state = Blocked
		r.tasks.insert(id)
	}
	r.current = r.tasks.members()[0]
	defer func() {
		if rec := recover(); rec != deadlockMsg {
			t.Errorf("recover() = %v, want deadlock diagnostic", rec)
		}
	}()
	r.selectNext()
}

func TestJoin(t *testing.T) {
	rt, _ := testRuntime(t)

	steps := 0
	h, err := rt.Go(func(...any) {
		for i := 0; i < 5; i++ {
			steps++
			rt.Yield()
		}
	})
	if err != nil {
		t.Fatalf("Go: %v", err)
	}
	if err := rt.Join(h); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if steps != 5 {
		t.Errorf("Join returned after %d steps, want 5", steps)
	}

	// Joining a Zombie costs no scheduling round.
	before := rt.Stats().Yields
	if err := rt.Join(h); err != nil {
		t.Fatalf("second Join: %v", err)
	}
	if after := rt.Stats().Yields; after != before {
		t.Errorf("joining a zombie yielded %d times", after-before)
	}
}

func TestJoin_Misuse(t *testing.T) {
	rt, _ := testRuntime(t)
	if err := rt.Join(Handle{}); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("zero handle error = %v, want ErrInvalidHandle", err)
	}
	if err := rt.Join(rt.Self()); !errors.Is(err, ErrJoinSelf) {
		t.Errorf("self join error = %v, want ErrJoinSelf", err)
	}
	h, _ := rt.Allocate()
	if err := rt.Join(h); !errors.Is(err, ErrNotStarted) {
		t.Errorf("join allocated error = %v, want ErrNotStarted", err)
	}
}

func TestReadyListTracksLiveTasks(t *testing.T) {
	rt, _ := testRuntime(t)

	check := func(when string) {
		t.Helper()
		if got, want := rt.Stats().ReadyListLen, countLive(rt); got != want {
			t.Errorf("%s: ready list has %d, live states %d", when, got, want)
		}
		for _, ti := range rt.Snapshot() {
			if ti.State == Zombie && ti.Linked {
				t.Errorf("%s: zombie %d still linked", when, ti.ID)
			}
		}
	}

	var hs []Handle
	for i := 0; i < 4; i++ {
		rounds := i + 1
		h, err := rt.Go(func(...any) {
			for j := 0; j < rounds; j++ {
				rt.Yield()
			}
		})
		if err != nil {
			t.Fatalf("Go: %v", err)
		}
		hs = append(hs, h)
		check("after spawn")
	}
	for i := 0; i < 6; i++ {
		rt.Yield()
		check("after yield")
	}
	for _, h := range hs {
		rt.Join(h)
		check("after join")
	}
	if rt.Stats().Exited != 4 {
		t.Errorf("Exited = %d, want 4", rt.Stats().Exited)
	}
}

func TestAllocate_TaskLimit(t *testing.T) {
	rt, _ := testRuntime(t, func(c *Config) { c.MaxTasks = 2 })
	h, err := rt.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if _, err := rt.Allocate(); !errors.Is(err, ErrTaskLimit) {
		t.Fatalf("error = %v, want ErrTaskLimit", err)
	}
	if err := rt.Release(h); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := rt.Allocate(); err != nil {
		t.Errorf("Allocate after release: %v", err)
	}
}

func TestSpawn_StackExhausted(t *testing.T) {
	rt, _ := testRuntime(t, func(c *Config) {
		c.StackSize = 1024
		c.MaxStackMemory = 2048 // cleanup stack plus one task
	})

	stop := false
	a, err := rt.Go(func(...any) {
		for !stop {
			rt.Yield()
		}
	})
	if err != nil {
		t.Fatalf("first spawn: %v", err)
	}

	b, _ := rt.Allocate()
	if err := rt.Spawn(b, func(...any) {}); !errors.Is(err, ErrStackExhausted) {
		t.Fatalf("second spawn error = %v, want ErrStackExhausted", err)
	}
	if st, _ := rt.State(b); st != Allocated {
		t.Errorf("failed spawn left state %s, want ALLOCATED", st)
	}

	stop = true
	rt.Join(a)
	if err := rt.Spawn(b, func(...any) {}); err != nil {
		t.Errorf("spawn after stack returned: %v", err)
	}
}

func TestRelease(t *testing.T) {
	rt, _ := testRuntime(t)
	if err := rt.Release(rt.Main()); !errors.Is(err, ErrBusy) {
		t.Errorf("release main error = %v, want ErrBusy", err)
	}

	h, _ := rt.Go(func(...any) {})
	if err := rt.Release(h); err != nil {
		t.Fatalf("release zombie: %v", err)
	}
	if _, err := rt.State(h); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("State on released handle error = %v, want ErrInvalidHandle", err)
	}
	if err := rt.Release(h); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("double release error = %v, want ErrInvalidHandle", err)
	}

	h2, _ := rt.Allocate()
	if h2.ID() != h.ID() || h2 == h {
		t.Errorf("expected slot %d reused with a new generation, got %+v", h.ID(), h2)
	}
}

func TestSelfAndName(t *testing.T) {
	rt, _ := testRuntime(t)
	h, _ := rt.Allocate()
	if err := rt.SetName(h, "worker"); err != nil {
		t.Fatalf("SetName: %v", err)
	}

	var inside Handle
	rt.Spawn(h, func(...any) { inside = rt.Self() })
	if inside != h {
		t.Errorf("Self() inside task = %s, want %s", inside, h)
	}
	var name string
	for _, ti := range rt.Snapshot() {
		if ti.ID == h.ID() {
			name = ti.Name
		}
	}
	if name != "worker" {
		t.Errorf("snapshot name = %q, want worker", name)
	}
}

func TestTracer_ReceivesEvents(t *testing.T) {
	rec := &recorder{}
	rt, err := Init(DefaultConfig(), WithClock(nil), WithTracer(rec))
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer rt.Close()

	h, _ := rt.Go(func(...any) { rt.Yield() })
	rt.Join(h)

	kinds := rec.kinds()
	for _, k := range []EventKind{EventStart, EventSpawn, EventSwitch, EventExit, EventJoin} {
		if kinds[k] == 0 {
			t.Errorf("no %s event in %v", k, kinds)
		}
	}
	for i := 1; i < len(rec.events); i++ {
		if rec.events[i].Seq <= rec.events[i-1].Seq {
			t.Fatalf("event sequence not increasing at %d", i)
		}
	}
}

func TestClose_Twice(t *testing.T) {
	rt, _ := testRuntime(t)
	if err := rt.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := rt.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("second Close error = %v, want ErrClosed", err)
	}
	if _, err := rt.Allocate(); !errors.Is(err, ErrClosed) {
		t.Errorf("Allocate after Close error = %v, want ErrClosed", err)
	}
}

// brokenClock refuses to start.
type brokenClock struct{}

func (brokenClock) Start(time.Duration, func()) error { return errors.New("no timer available") }
func (brokenClock) Stop() error                       { return nil }

func TestInit_ClockFailureLeavesNothingRunning(t *testing.T) {
	before := runtime.NumGoroutine()
	rt, err := Init(DefaultConfig(),
		WithClock(brokenClock{}),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err == nil {
		rt.Close()
		t.Fatal("Init succeeded with a clock that cannot start")
	}
	if !strings.Contains(err.Error(), "no timer available") {
		t.Errorf("error = %v, want the clock failure", err)
	}
	if after := runtime.NumGoroutine(); after > before {
		t.Errorf("goroutines = %d after failed Init, want at most %d", after, before)
	}
}

func TestGo_ReleasesRecordOnSpawnError(t *testing.T) {
	rt, _ := testRuntime(t, func(c *Config) {
		c.StackSize = 1024
		c.MaxStackMemory = 2048 // cleanup stack plus one task
	})

	stop := false
	a, err := rt.Go(func(...any) {
		for !stop {
			rt.Yield()
		}
	})
	if err != nil {
		t.Fatalf("first Go: %v", err)
	}
	before := rt.Stats().Tasks

	if _, err := rt.Go(func(...any) {}); !errors.Is(err, ErrStackExhausted) {
		t.Fatalf("Go error = %v, want ErrStackExhausted", err)
	}
	if got := rt.Stats().Tasks; got != before {
		t.Errorf("Tasks = %d after failed Go, want %d", got, before)
	}
	for _, ti := range rt.Snapshot() {
		if ti.State == Allocated {
			t.Errorf("failed Go left task %d allocated", ti.ID)
		}
	}

	stop = true
	if err := rt.Join(a); err != nil {
		t.Fatalf("Join: %v", err)
	}
}

package gthread

import (
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/me/gthreads/internal/clock"
)

// testRuntime starts a runtime on the test goroutine with a manual clock, so
// preemption only happens when the test ticks it.
func testRuntime(t *testing.T, mutate ...func(*Config)) (*Runtime, *clock.Manual) {
	t.Helper()
	cfg := DefaultConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}
	man := clock.NewManual()
	rt, err := Init(cfg,
		WithClock(man),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { rt.Close() })
	return rt, man
}

// autoTick fires the manual clock from a helper goroutine until the test ends.
func autoTick(t *testing.T, man *clock.Manual, every time.Duration) {
	t.Helper()
	var stop atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		for !stop.Load() {
			man.Tick()
			time.Sleep(every)
		}
	}()
	t.Cleanup(func() {
		stop.Store(true)
		<-done
	})
}

// countLive counts tasks whose state says they belong on the ready list.
func countLive(rt *Runtime) int {
	n := 0
	for _, ti := range rt.Snapshot() {
		switch ti.State {
		case Ready, Running, Blocked:
			n++
		}
	}
	return n
}

// recorder is a Tracer that keeps every event.
type recorder struct {
	events []Event
}

func (r *recorder) Trace(ev Event) {
	r.events = append(r.events, ev)
}

func (r *recorder) kinds() map[EventKind]int {
	out := make(map[EventKind]int)
	for _, ev := range r.events {
		out[ev.Kind]++
	}
	return out
}

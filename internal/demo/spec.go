// Package demo provides the sample workloads the gthreads binary runs.
package demo

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/spf13/pflag"
)

// Kind names a workload.
type Kind string

const (
	KindCounter Kind = "counter" // print n times, sleeping between lines
	KindForever Kind = "forever" // print until the run stops
	KindLocker  Kind = "locker"  // hold a shared mutex across a sleep, n times
	KindSpin    Kind = "spin"    // busy loop that only reaches safe points
)

// DefaultSleep is the pause between iterations of every workload.
const DefaultSleep = 500 * time.Millisecond

// TaskSpec describes one task to spawn.
type TaskSpec struct {
	Kind       Kind
	Name       string
	Iterations int
	Sleep      time.Duration
	Hold       time.Duration // locker only
	Mutex      string        // locker only
	Every      int           // spin only: print every Every iterations
}

// Finite reports whether the task returns on its own.
func (t TaskSpec) Finite() bool {
	return t.Kind != KindForever
}

// String renders t in the form ParseTaskSpec accepts.
func (t TaskSpec) String() string {
	var b strings.Builder
	b.WriteString(string(t.Kind))
	if t.Name != "" {
		fmt.Fprintf(&b, " --name %s", t.Name)
	}
	if t.Kind != KindForever {
		fmt.Fprintf(&b, " -n %d", t.Iterations)
	}
	fmt.Fprintf(&b, " --sleep %s", t.Sleep)
	switch t.Kind {
	case KindLocker:
		fmt.Fprintf(&b, " --hold %s --mutex %s", t.Hold, t.Mutex)
	case KindSpin:
		fmt.Fprintf(&b, " --every %d", t.Every)
	}
	return b.String()
}

// DefaultTasks is the classic demo: one finite counter and two tasks that
// run forever.
func DefaultTasks() []TaskSpec {
	return []TaskSpec{
		{Kind: KindCounter, Name: "func1", Iterations: 10, Sleep: DefaultSleep},
		{Kind: KindForever, Name: "func2", Sleep: DefaultSleep},
		{Kind: KindForever, Name: "func3", Sleep: DefaultSleep},
	}
}

// ParseTaskSpec parses a shell-quoted task description such as
//
//	counter --name func1 -n 10 --sleep 500ms
//	locker --name writer -n 3 --hold 1s --mutex db
func ParseTaskSpec(s string) (TaskSpec, error) {
	words, err := shlex.Split(s)
	if err != nil {
		return TaskSpec{}, fmt.Errorf("split task spec %q: %w", s, err)
	}
	if len(words) == 0 {
		return TaskSpec{}, errors.New("empty task spec")
	}

	spec := TaskSpec{Kind: Kind(words[0])}
	switch spec.Kind {
	case KindCounter, KindForever, KindLocker, KindSpin:
	default:
		return TaskSpec{}, fmt.Errorf("unknown workload %q (want counter, forever, locker or spin)", words[0])
	}

	fs := pflag.NewFlagSet(words[0], pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&spec.Name, "name", "", "task name")
	fs.IntVarP(&spec.Iterations, "iterations", "n", defaultIterations(spec.Kind), "number of iterations")
	fs.DurationVar(&spec.Sleep, "sleep", DefaultSleep, "pause between iterations")
	fs.DurationVar(&spec.Hold, "hold", DefaultSleep, "time to hold the mutex (locker)")
	fs.StringVar(&spec.Mutex, "mutex", "default", "shared mutex name (locker)")
	fs.IntVar(&spec.Every, "every", 1_000_000, "print every N iterations (spin)")
	if err := fs.Parse(words[1:]); err != nil {
		return TaskSpec{}, fmt.Errorf("task spec %q: %w", s, err)
	}
	if fs.NArg() > 0 {
		return TaskSpec{}, fmt.Errorf("task spec %q: unexpected arguments %v", s, fs.Args())
	}

	if spec.Kind != KindForever && spec.Iterations <= 0 {
		return TaskSpec{}, fmt.Errorf("task spec %q: iterations must be positive", s)
	}
	if spec.Sleep < 0 || spec.Hold < 0 {
		return TaskSpec{}, fmt.Errorf("task spec %q: durations must not be negative", s)
	}
	if spec.Kind == KindSpin && spec.Every <= 0 {
		return TaskSpec{}, fmt.Errorf("task spec %q: --every must be positive", s)
	}
	return spec, nil
}

// ParseTaskSpecs parses every entry of specs.
func ParseTaskSpecs(specs []string) ([]TaskSpec, error) {
	out := make([]TaskSpec, 0, len(specs))
	for _, s := range specs {
		t, err := ParseTaskSpec(s)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func defaultIterations(k Kind) int {
	switch k {
	case KindCounter:
		return 10
	case KindLocker:
		return 5
	case KindSpin:
		return 10_000_000
	}
	return 0
}

// Package trace persists scheduling events to SQLite so that a run can be
// inspected after the process exits.
package trace

import (
	"context"
	"errors"
	"time"

	"github.com/me/gthreads/pkg/gthread"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

// RunState is the lifecycle of a traced run.
type RunState string

const (
	RunRunning  RunState = "RUNNING"
	RunFinished RunState = "FINISHED"
)

// Run is one traced execution of the runtime.
type Run struct {
	ID         string     `json:"id"`
	Label      string     `json:"label"`
	Config     string     `json:"config,omitempty"`
	State      RunState   `json:"state"`
	Events     int        `json:"events"`
	Dropped    uint64     `json:"dropped"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// ListOptions pages through runs or events.
type ListOptions struct {
	Limit  int
	Offset int
	Kind   gthread.EventKind // events only; empty means all kinds
}

// Clamp bounds Limit to [1, 1000] with a default of 50.
func (o *ListOptions) Clamp() {
	if o.Limit <= 0 {
		o.Limit = 50
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}

// Store defines the persistence layer for traced runs.
type Store interface {
	CreateRun(ctx context.Context, run *Run) error
	FinishRun(ctx context.Context, id string, dropped uint64, at time.Time) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, opts ListOptions) ([]*Run, int, error)

	AppendEvents(ctx context.Context, runID string, events []gthread.Event) error
	ListEvents(ctx context.Context, runID string, opts ListOptions) ([]gthread.Event, int, error)

	Close() error
	Migrate(ctx context.Context) error
}

package trace

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/me/gthreads/internal/logging"
	"github.com/me/gthreads/pkg/gthread"
)

// RecorderOptions tunes batching.
type RecorderOptions struct {
	Buffer     int           // channel capacity; events beyond it are dropped
	BatchSize  int           // flush after this many events
	FlushEvery time.Duration // flush at least this often
}

// DefaultRecorderOptions returns sensible defaults.
func DefaultRecorderOptions() RecorderOptions {
	return RecorderOptions{
		Buffer:     1024,
		BatchSize:  256,
		FlushEvery: 200 * time.Millisecond,
	}
}

// Recorder is a gthread.Tracer that writes events to a Store. Trace never
// blocks: when the buffer is full the event is counted as dropped.
type Recorder struct {
	store  Store
	runID  string
	logger *slog.Logger
	opts   RecorderOptions

	events  chan gthread.Event
	stop    chan struct{}
	done    chan struct{}
	closed  atomic.Bool
	dropped atomic.Uint64
	written atomic.Uint64

	closeOnce sync.Once
	closeErr  error
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return "run_" + uuid.New().String()
}

// NewRecorder creates a run in store and starts the writer goroutine.
func NewRecorder(ctx context.Context, store Store, label, config string, opts RecorderOptions, logger *slog.Logger) (*Recorder, error) {
	def := DefaultRecorderOptions()
	if opts.Buffer <= 0 {
		opts.Buffer = def.Buffer
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.FlushEvery <= 0 {
		opts.FlushEvery = def.FlushEvery
	}

	run := &Run{
		ID:        NewRunID(),
		Label:     label,
		Config:    config,
		State:     RunRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := store.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	r := &Recorder{
		store:  store,
		runID:  run.ID,
		logger: logging.Component(logger, "recorder").With("run", run.ID),
		opts:   opts,
		events: make(chan gthread.Event, opts.Buffer),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go r.loop()
	return r, nil
}

// RunID returns the identifier of the run being recorded.
func (r *Recorder) RunID() string {
	return r.runID
}

// Trace implements gthread.Tracer.
func (r *Recorder) Trace(ev gthread.Event) {
	if r.closed.Load() {
		r.dropped.Add(1)
		return
	}
	select {
	case r.events <- ev:
	default:
		r.dropped.Add(1)
	}
}

// Dropped returns the number of events lost to a full buffer.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Written returns the number of events stored so far.
func (r *Recorder) Written() uint64 {
	return r.written.Load()
}

func (r *Recorder) loop() {
	defer close(r.done)
	ticker := time.NewTicker(r.opts.FlushEvery)
	defer ticker.Stop()

	batch := make([]gthread.Event, 0, r.opts.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := r.store.AppendEvents(context.Background(), r.runID, batch); err != nil {
			r.logger.Error("append events", "count", len(batch), "error", err)
			r.dropped.Add(uint64(len(batch)))
		} else {
			r.written.Add(uint64(len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case ev := <-r.events:
			batch = append(batch, ev)
			if len(batch) >= r.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-r.stop:
			for {
				select {
				case ev := <-r.events:
					batch = append(batch, ev)
					if len(batch) >= r.opts.BatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// Close flushes buffered events and marks the run finished. Events traced
// after Close are dropped. Close is idempotent.
func (r *Recorder) Close(ctx context.Context) error {
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		close(r.stop)
		<-r.done
		// Anything that raced in after the final drain is lost.
		for len(r.events) > 0 {
			<-r.events
			r.dropped.Add(1)
		}
		if err := r.store.FinishRun(ctx, r.runID, r.dropped.Load(), time.Now()); err != nil {
			r.closeErr = fmt.Errorf("finish run: %w", err)
			return
		}
		r.logger.Info("trace run finished", "events", r.written.Load(), "dropped", r.dropped.Load())
	})
	return r.closeErr
}

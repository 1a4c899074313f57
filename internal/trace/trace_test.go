package trace

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/me/gthreads/pkg/gthread"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
	st, err := NewSQLiteStore(":memory:", logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func sampleEvents(n int) []gthread.Event {
	base := time.Now().UTC().Truncate(time.Millisecond)
	kinds := []gthread.EventKind{gthread.EventSpawn, gthread.EventSwitch, gthread.EventPreempt}
	out := make([]gthread.Event, n)
	for i := range out {
		out[i] = gthread.Event{
			Seq:  uint64(i + 1),
			At:   base.Add(time.Duration(i) * time.Millisecond),
			Kind: kinds[i%len(kinds)],
			Task: i%3 + 1,
			Peer: 1,
		}
	}
	return out
}

func TestMigrate_Idempotent(t *testing.T) {
	st := testStore(t)
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestRunLifecycle(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	run := &Run{ID: NewRunID(), Label: "demo", Config: "runtime: {}\n", StartedAt: time.Now()}
	if err := st.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if !strings.HasPrefix(run.ID, "run_") {
		t.Errorf("run ID %q lacks run_ prefix", run.ID)
	}

	if err := st.AppendEvents(ctx, run.ID, sampleEvents(7)); err != nil {
		t.Fatalf("AppendEvents: %v", err)
	}
	if err := st.FinishRun(ctx, run.ID, 3, time.Now()); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	got, err := st.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.State != RunFinished {
		t.Errorf("State = %s, want FINISHED", got.State)
	}
	if got.Events != 7 {
		t.Errorf("Events = %d, want 7", got.Events)
	}
	if got.Dropped != 3 {
		t.Errorf("Dropped = %d, want 3", got.Dropped)
	}
	if got.FinishedAt == nil {
		t.Error("FinishedAt not set")
	}
	if got.Label != "demo" || got.Config != "runtime: {}\n" {
		t.Errorf("got label %q config %q", got.Label, got.Config)
	}
}

func TestGetRun_NotFound(t *testing.T) {
	st := testStore(t)
	if _, err := st.GetRun(context.Background(), "run_missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun error = %v, want ErrNotFound", err)
	}
	if err := st.FinishRun(context.Background(), "run_missing", 0, time.Now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("FinishRun error = %v, want ErrNotFound", err)
	}
}

func TestListRuns_NewestFirst(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	base := time.Now()
	for i, label := range []string{"old", "mid", "new"} {
		run := &Run{ID: NewRunID(), Label: label, StartedAt: base.Add(time.Duration(i) * time.Second)}
		if err := st.CreateRun(ctx, run); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
	}

	runs, total, err := st.ListRuns(ctx, ListOptions{Limit: 2})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if len(runs) != 2 || runs[0].Label != "new" || runs[1].Label != "mid" {
		t.Errorf("page = %v, want [new mid]", labels(runs))
	}
}

func labels(runs []*Run) []string {
	var out []string
	for _, r := range runs {
		out = append(out, r.Label)
	}
	return out
}

func TestListEvents_FilterAndPage(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	run := &Run{ID: NewRunID(), StartedAt: time.Now()}
	st.CreateRun(ctx, run)
	st.AppendEvents(ctx, run.ID, sampleEvents(9))

	events, total, err := st.ListEvents(ctx, run.ID, ListOptions{Limit: 4, Offset: 2})
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if total != 9 {
		t.Errorf("total = %d, want 9", total)
	}
	if len(events) != 4 || events[0].Seq != 3 || events[3].Seq != 6 {
		t.Errorf("page seqs wrong: %+v", events)
	}

	preempts, total, err := st.ListEvents(ctx, run.ID, ListOptions{Kind: gthread.EventPreempt})
	if err != nil {
		t.Fatalf("ListEvents kind: %v", err)
	}
	if total != 3 || len(preempts) != 3 {
		t.Errorf("preempt events = %d (total %d), want 3", len(preempts), total)
	}
	for _, ev := range preempts {
		if ev.Kind != gthread.EventPreempt {
			t.Errorf("filtered event kind = %s", ev.Kind)
		}
	}
}

func TestAppendEvents_DuplicateSeqRollsBack(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	run := &Run{ID: NewRunID(), StartedAt: time.Now()}
	st.CreateRun(ctx, run)

	evs := sampleEvents(3)
	evs[2].Seq = 1
	if err := st.AppendEvents(ctx, run.ID, evs); err == nil {
		t.Fatal("expected duplicate key error")
	}
	_, total, _ := st.ListEvents(ctx, run.ID, ListOptions{})
	if total != 0 {
		t.Errorf("total = %d after failed batch, want 0", total)
	}
}

func TestRecorder_FlushesOnClose(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	rec, err := NewRecorder(ctx, st, "test", "", RecorderOptions{BatchSize: 4, FlushEvery: time.Hour}, logger)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	for _, ev := range sampleEvents(10) {
		rec.Trace(ev)
	}
	if err := rec.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := rec.Close(ctx); err != nil {
		t.Errorf("second Close: %v", err)
	}
	rec.Trace(gthread.Event{Seq: 99})

	run, err := st.GetRun(ctx, rec.RunID())
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Events != 10 {
		t.Errorf("stored %d events, want 10", run.Events)
	}
	if run.State != RunFinished {
		t.Errorf("State = %s, want FINISHED", run.State)
	}
	if rec.Written() != 10 || rec.Dropped() != 1 {
		t.Errorf("written %d dropped %d, want 10 and 1", rec.Written(), rec.Dropped())
	}
}

// gatedStore holds every AppendEvents until release is closed.
type gatedStore struct {
	*SQLiteStore
	release chan struct{}
}

func (g *gatedStore) AppendEvents(ctx context.Context, runID string, events []gthread.Event) error {
	<-g.release
	return g.SQLiteStore.AppendEvents(ctx, runID, events)
}

func TestRecorder_DropsWhenFull(t *testing.T) {
	st := &gatedStore{SQLiteStore: testStore(t), release: make(chan struct{})}
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	rec, err := NewRecorder(ctx, st, "full", "", RecorderOptions{Buffer: 1, BatchSize: 1, FlushEvery: time.Hour}, logger)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	// The writer can hold at most one event in flight plus one buffered.
	for _, ev := range sampleEvents(500) {
		rec.Trace(ev)
	}
	close(st.release)
	rec.Close(ctx)

	if rec.Written()+rec.Dropped() != 500 {
		t.Errorf("written %d + dropped %d != 500", rec.Written(), rec.Dropped())
	}
	if rec.Written() > 2 {
		t.Errorf("written = %d, want at most 2 with a stalled writer", rec.Written())
	}
	run, _ := st.GetRun(ctx, rec.RunID())
	if run.Dropped != rec.Dropped() {
		t.Errorf("run.Dropped = %d, want %d", run.Dropped, rec.Dropped())
	}
}

func TestRecorder_WithRuntime(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	rec, err := NewRecorder(ctx, st, "runtime", "", DefaultRecorderOptions(), logger)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}

	cfg := gthread.DefaultConfig()
	cfg.TickInterval = 0
	rt, err := gthread.Init(cfg, gthread.WithTracer(rec), gthread.WithLogger(logger))
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	h, _ := rt.Go(func(...any) { rt.Yield() })
	rt.Join(h)
	rt.Close()
	rec.Close(ctx)

	kinds := map[gthread.EventKind]int{}
	events, _, _ := st.ListEvents(ctx, rec.RunID(), ListOptions{Limit: 1000})
	for _, ev := range events {
		kinds[ev.Kind]++
	}
	for _, k := range []gthread.EventKind{gthread.EventStart, gthread.EventSpawn, gthread.EventSwitch, gthread.EventExit, gthread.EventJoin} {
		if kinds[k] == 0 {
			t.Errorf("no %s event stored (got %v)", k, kinds)
		}
	}
}

package trace

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/gthreads/internal/logging"
	"github.com/me/gthreads/pkg/gthread"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	// The recorder writes from its own goroutine while readers query. One
	// connection keeps an in-memory database shared between them.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logging.Component(logger, "trace-store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	s.logger.Debug("sql", "op", "insert", "table", "runs", "id", run.ID)
	if run.State == "" {
		run.State = RunRunning
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, label, config, state, dropped, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Label, run.Config, string(run.State), int64(run.Dropped),
		run.StartedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("create run %s: %w", run.ID, err)
	}
	return nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, id string, dropped uint64, at time.Time) error {
	s.logger.Debug("sql", "op", "update", "table", "runs", "id", id)
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET state = ?, dropped = ?, finished_at = ? WHERE id = ?`,
		string(RunFinished), int64(dropped), at.UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: %w", id, ErrNotFound)
	}
	return nil
}

const runColumns = `r.id, r.label, r.config, r.state, r.dropped, r.started_at, r.finished_at,
	(SELECT COUNT(*) FROM events e WHERE e.run_id = r.id)`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var state, startedAt string
	var finishedAt sql.NullString
	var dropped int64
	if err := row.Scan(&run.ID, &run.Label, &run.Config, &state, &dropped,
		&startedAt, &finishedAt, &run.Events); err != nil {
		return nil, err
	}
	run.State = RunState(state)
	run.Dropped = uint64(dropped)
	run.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	if finishedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, finishedAt.String)
		run.FinishedAt = &t
	}
	return &run, nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	s.logger.Debug("sql", "op", "select", "table", "runs", "id", id)
	run, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs r WHERE r.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return run, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, opts ListOptions) ([]*Run, int, error) {
	opts.Clamp()
	s.logger.Debug("sql", "op", "list", "table", "runs", "limit", opts.Limit, "offset", opts.Offset)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs r ORDER BY r.started_at DESC LIMIT ? OFFSET ?`,
		opts.Limit, opts.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, run)
	}
	return runs, total, rows.Err()
}

// AppendEvents stores a batch of events in one transaction.
func (s *SQLiteStore) AppendEvents(ctx context.Context, runID string, events []gthread.Event) error {
	if len(events) == 0 {
		return nil
	}
	s.logger.Debug("sql", "op", "insert", "table", "events", "run", runID, "count", len(events))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO events (run_id, seq, at, kind, task, peer) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		if _, err := stmt.ExecContext(ctx, runID, int64(ev.Seq),
			ev.At.UTC().Format(time.RFC3339Nano), string(ev.Kind), ev.Task, ev.Peer); err != nil {
			return fmt.Errorf("insert event %d: %w", ev.Seq, err)
		}
	}
	return tx.Commit()
}

// ListEvents returns a run's events in sequence order.
func (s *SQLiteStore) ListEvents(ctx context.Context, runID string, opts ListOptions) ([]gthread.Event, int, error) {
	opts.Clamp()
	s.logger.Debug("sql", "op", "list", "table", "events", "run", runID, "kind", opts.Kind)

	where := `run_id = ?`
	args := []any{runID}
	if opts.Kind != "" {
		where += ` AND kind = ?`
		args = append(args, string(opts.Kind))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, at, kind, task, peer FROM events WHERE `+where+` ORDER BY seq LIMIT ? OFFSET ?`,
		append(args, opts.Limit, opts.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var events []gthread.Event
	for rows.Next() {
		var ev gthread.Event
		var seq int64
		var at, kind string
		if err := rows.Scan(&seq, &at, &kind, &ev.Task, &ev.Peer); err != nil {
			return nil, 0, err
		}
		ev.Seq = uint64(seq)
		ev.Kind = gthread.EventKind(kind)
		ev.At, _ = time.Parse(time.RFC3339Nano, at)
		events = append(events, ev)
	}
	return events, total, rows.Err()
}

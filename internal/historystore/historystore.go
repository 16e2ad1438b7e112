// Package historystore is a thin, best-effort durable log of sync attempts,
// kept for operational visibility. It is a passive observer of JobManager
// events, not part of the scheduling/supervision core.
package historystore

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

const writeTimeout = 2 * time.Second

const schema = `
CREATE TABLE IF NOT EXISTS sync_runs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	project     TEXT    NOT NULL,
	pid         INTEGER NOT NULL,
	cmd_index   INTEGER NOT NULL,
	started_at  TIMESTAMP NOT NULL,
	stopped_at  TIMESTAMP,
	outcome     TEXT
);
`

// Recorder is the interface JobManager notifies on job lifecycle events.
// Every method of a nil *Store is a no-op. jobmanager.New substitutes
// NoopRecorder for a nil Recorder, which is how a disabled history reaches
// the JobManager.
type Recorder interface {
	RecordStart(project string, pid int, cmdIndex int, startedAt time.Time)
	RecordStop(pid int, stoppedAt time.Time, outcome string)
}

// Store is a sqlite-backed Recorder. Writes are best-effort: failures are
// logged, never propagated, since history is an observability aid, not a
// correctness dependency.
type Store struct {
	db *sql.DB
}

// Open creates/migrates the sqlite database at dsn and returns a ready Store.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: single-writer discipline
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordStart inserts a row for a newly started job. Best-effort: errors
// are logged, not returned, so callers on the reaper/tick-loop goroutine
// are never blocked or failed by a struggling store.
func (s *Store) RecordStart(project string, pid int, cmdIndex int, startedAt time.Time) {
	if s == nil || s.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_runs (project, pid, cmd_index, started_at) VALUES (?, ?, ?, ?)`,
		project, pid, cmdIndex, startedAt.UTC())
	if err != nil {
		slog.Warn("historystore: record start failed", "project", project, "pid", pid, "error", err)
	}
}

// RecordStop updates the most recent open row for pid with its outcome.
func (s *Store) RecordStop(pid int, stoppedAt time.Time, outcome string) {
	if s == nil || s.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_runs SET stopped_at = ?, outcome = ?
		WHERE id = (
			SELECT id FROM sync_runs WHERE pid = ? AND stopped_at IS NULL
			ORDER BY id DESC LIMIT 1
		)`, stoppedAt.UTC(), outcome, pid)
	if err != nil {
		slog.Warn("historystore: record stop failed", "pid", pid, "error", err)
	}
}

// NoopRecorder is a Recorder that discards every event, used when
// history.enabled is false.
type NoopRecorder struct{}

func (NoopRecorder) RecordStart(string, int, int, time.Time) {}
func (NoopRecorder) RecordStop(int, time.Time, string)       {}

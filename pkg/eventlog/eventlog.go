// Package eventlog provides an append-only SQLite audit log of run events.
//
// The log records what happened during a run (messages, stage transitions,
// script revisions) for inspection after the fact. It is never read back to
// resume a session; runs do not survive process restarts.
package eventlog

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"echoflow/pkg/logx"
)

// Event kinds recorded by the engine.
const (
	KindMessage         = "message"
	KindStageTransition = "stage_transition"
	KindScriptRevision  = "script_revision"
	KindBackendError    = "backend_error"
)

const schema = `
CREATE TABLE IF NOT EXISTS run_events (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    kind       TEXT NOT NULL,
    stage      TEXT NOT NULL,
    detail     TEXT NOT NULL,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_run_events_session ON run_events(session_id);
`

// Event is one audit record.
type Event struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Kind      string    `json:"kind"`
	Stage     string    `json:"stage"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

// Writer appends run events to a SQLite database.
type Writer struct {
	db     *sql.DB
	logger *logx.Logger
}

// Open opens (creating if needed) the event database at dbPath.
func Open(dbPath string) (*Writer, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)",
		dbPath,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open event database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping event database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize event schema: %w", err)
	}

	// SQLite supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	logger := logx.NewLogger("eventlog")
	logger.Info("Event log opened: %s", dbPath)

	return &Writer{db: db, logger: logger}, nil
}

// Append records one event. Callers treat failures as best effort; the
// workflow never fails an operation because its audit write failed.
func (w *Writer) Append(sessionID, kind, stage, detail string) error {
	_, err := w.db.Exec(
		`INSERT INTO run_events (session_id, kind, stage, detail, created_at) VALUES (?, ?, ?, ?, ?)`,
		sessionID, kind, stage, detail, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// Events returns all events for a session in insertion order.
func (w *Writer) Events(sessionID string) ([]Event, error) {
	rows, err := w.db.Query(
		`SELECT id, session_id, kind, stage, detail, created_at FROM run_events WHERE session_id = ? ORDER BY id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		var ev Event
		var createdAt string
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.Kind, &ev.Stage, &ev.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			ev.CreatedAt = t
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}

	return events, nil
}

// Close closes the underlying database.
func (w *Writer) Close() error {
	if err := w.db.Close(); err != nil {
		return fmt.Errorf("failed to close event database: %w", err)
	}
	return nil
}

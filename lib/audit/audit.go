// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package audit keeps a local record of lock, unlock, and commit
// attempts in SQLite. The record is informational: the lock state of a
// notebook lives in the notebook and its commits, never here, and a
// failure to write an audit row does not fail the operation it
// describes.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/locksign/lib/clock"
	"github.com/bureau-foundation/locksign/lib/sqlitepool"
)

// Action names what was attempted.
type Action string

const (
	ActionLock   Action = "lock"
	ActionUnlock Action = "unlock"
	ActionCommit Action = "commit"
)

// Outcome is the result of an attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// DefaultLimit bounds Recent when the caller passes a non-positive
// limit. MaxLimit caps it regardless.
const (
	DefaultLimit = 50
	MaxLimit     = 1000
)

// Event is one audit record.
type Event struct {
	ID           string    `json:"id"`
	Time         time.Time `json:"time"`
	Action       Action    `json:"action"`
	NotebookPath string    `json:"notebook_path"`
	UserName     string    `json:"user_name,omitempty"`
	UserEmail    string    `json:"user_email,omitempty"`
	Outcome      Outcome   `json:"outcome"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	CommitHash   string    `json:"commit_hash,omitempty"`
	Message      string    `json:"message,omitempty"`
}

const schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id            TEXT PRIMARY KEY,
	occurred_ns   INTEGER NOT NULL,
	action        TEXT NOT NULL,
	notebook_path TEXT NOT NULL,
	user_name     TEXT NOT NULL DEFAULT '',
	user_email    TEXT NOT NULL DEFAULT '',
	outcome       TEXT NOT NULL,
	error_kind    TEXT NOT NULL DEFAULT '',
	commit_hash   TEXT NOT NULL DEFAULT '',
	message       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS audit_events_occurred ON audit_events (occurred_ns);
`

// Config configures Open.
type Config struct {
	// Path is the SQLite database file. Required.
	Path string

	// Clock stamps events. Defaults to clock.Real().
	Clock clock.Clock

	// Logger receives pool messages. If nil, output is discarded.
	Logger *slog.Logger
}

// Log is the audit store.
type Log struct {
	pool  *sqlitepool.Pool
	clock clock.Clock
}

// Open opens (creating if needed) the audit database.
func Open(cfg Config) (*Log, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("audit: Path is required")
	}
	eventClock := cfg.Clock
	if eventClock == nil {
		eventClock = clock.Real()
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   cfg.Path,
		Logger: cfg.Logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, err
	}
	return &Log{pool: pool, clock: eventClock}, nil
}

// Close closes the underlying pool.
func (l *Log) Close() error {
	return l.pool.Close()
}

// Record stores event, assigning an ID and time when they are unset,
// and returns the stored event.
func (l *Log) Record(ctx context.Context, event Event) (Event, error) {
	if event.Action == "" || event.Outcome == "" {
		return Event{}, fmt.Errorf("audit: action and outcome are required")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Time.IsZero() {
		event.Time = l.clock.Now()
	}
	event.Time = event.Time.UTC()

	conn, err := l.pool.Take(ctx)
	if err != nil {
		return Event{}, err
	}
	defer l.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT INTO audit_events (
			id, occurred_ns, action, notebook_path, user_name, user_email,
			outcome, error_kind, commit_hash, message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			event.ID,
			event.Time.UnixNano(),
			string(event.Action),
			event.NotebookPath,
			event.UserName,
			event.UserEmail,
			string(event.Outcome),
			event.ErrorKind,
			event.CommitHash,
			event.Message,
		}})
	if err != nil {
		return Event{}, fmt.Errorf("audit: recording %s event: %w", event.Action, err)
	}
	return event, nil
}

// Recent returns up to limit events, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	limit = min(limit, MaxLimit)

	conn, err := l.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer l.pool.Put(conn)

	events := []Event{}
	err = sqlitex.Execute(conn, `
		SELECT id, occurred_ns, action, notebook_path, user_name, user_email,
		       outcome, error_kind, commit_hash, message
		FROM audit_events
		ORDER BY occurred_ns DESC, rowid DESC
		LIMIT ?`,
		&sqlitex.ExecOptions{
			Args: []any{limit},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				events = append(events, Event{
					ID:           stmt.ColumnText(0),
					Time:         time.Unix(0, stmt.ColumnInt64(1)).UTC(),
					Action:       Action(stmt.ColumnText(2)),
					NotebookPath: stmt.ColumnText(3),
					UserName:     stmt.ColumnText(4),
					UserEmail:    stmt.ColumnText(5),
					Outcome:      Outcome(stmt.ColumnText(6)),
					ErrorKind:    stmt.ColumnText(7),
					CommitHash:   stmt.ColumnText(8),
					Message:      stmt.ColumnText(9),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("audit: listing events: %w", err)
	}
	return events, nil
}

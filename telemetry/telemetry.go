// Package telemetry records message-action activations in SQLite.
//
// Only the action identity is stored — event name, message label, step ID,
// timestamp. Form content never reaches this package: the caller passes no
// field values and the schema has no column for them.
package telemetry

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/vistoamigo/tutor/idgen"
)

// Action is one logged action activation.
type Action struct {
	ID        string `json:"id"`
	Event     string `json:"event"`
	Label     string `json:"label"`
	StepID    string `json:"step_id"`
	Timestamp int64  `json:"timestamp"` // epoch milliseconds
}

// Recorder is the sink interface the engine writes to.
type Recorder interface {
	RecordAction(ctx context.Context, a Action)
}

// Logger is the SQLite-backed Recorder.
type Logger struct {
	db    *sql.DB
	newID idgen.Generator
	log   *slog.Logger
}

// Option configures a Logger.
type Option func(*Logger)

// WithIDGenerator sets a custom ID generator for action rows.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(l *Logger) { l.newID = gen }
}

// WithLogger overrides the default slog logger.
func WithLogger(log *slog.Logger) Option {
	return func(l *Logger) { l.log = log }
}

// NewLogger creates a Logger. Call EnsureTable once at startup.
func NewLogger(db *sql.DB, opts ...Option) *Logger {
	l := &Logger{
		db:    db,
		newID: idgen.Prefixed("act_", idgen.Default),
		log:   slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// EnsureTable creates the action log table and index if they don't exist.
func (l *Logger) EnsureTable(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tutor_actions (
			id         TEXT PRIMARY KEY,
			event      TEXT NOT NULL,
			label      TEXT NOT NULL DEFAULT '',
			step_id    TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_tutor_actions_created ON tutor_actions (created_at DESC);
	`)
	return err
}

// RecordAction inserts an action row. Errors are logged, never propagated:
// a failing telemetry store must not block the engine.
func (l *Logger) RecordAction(ctx context.Context, a Action) {
	if a.ID == "" {
		a.ID = l.newID()
	}
	if a.Timestamp == 0 {
		a.Timestamp = time.Now().UnixMilli()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO tutor_actions (id, event, label, step_id, created_at) VALUES (?,?,?,?,?)`,
		a.ID, a.Event, a.Label, a.StepID, a.Timestamp,
	)
	if err != nil {
		l.log.Warn("telemetry: record action failed", "error", err, "event", a.Event)
	}
}

// Recent returns the newest actions, most recent first.
func (l *Logger) Recent(ctx context.Context, limit int) ([]Action, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, event, label, step_id, created_at
		 FROM tutor_actions ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	actions := []Action{}
	for rows.Next() {
		var a Action
		if err := rows.Scan(&a.ID, &a.Event, &a.Label, &a.StepID, &a.Timestamp); err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

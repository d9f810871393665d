// Package runlog records the outcome of every per-dataset analysis in a
// local SQLite database.
package runlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// Status values.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
	StatusSkipped  = "skipped"
)

// timeLayout sorts lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Entry is one row of the run log.
type Entry struct {
	ID          string         `json:"id"`
	Dataset     string         `json:"dataset"`
	Status      string         `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Error       string         `json:"error,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Log is the run log.
type Log struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens the SQLite database at dsn and configures WAL mode. Use
// ":memory:" in tests.
func Open(dsn string) (*Log, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: open")
	}
	if dsn == ":memory:" {
		// Every pooled connection would see its own empty database.
		db.SetMaxOpenConns(1)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "runlog: exec %s", pragma)
		}
	}
	return &Log{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

const migration = `
CREATE TABLE IF NOT EXISTS dataset_runs (
	id           TEXT PRIMARY KEY,
	dataset      TEXT NOT NULL,
	status       TEXT NOT NULL,
	started_at   TEXT NOT NULL,
	completed_at TEXT,
	error        TEXT,
	metadata     TEXT
);

CREATE INDEX IF NOT EXISTS idx_dataset_runs_dataset ON dataset_runs(dataset, started_at);
`

// Migrate creates the schema.
func (l *Log) Migrate(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, migration)
	return eris.Wrap(err, "runlog: migrate")
}

// Close closes the database.
func (l *Log) Close() error {
	return l.db.Close()
}

// Start records the beginning of a dataset analysis and returns its ID.
func (l *Log) Start(ctx context.Context, dataset string) (string, error) {
	id := uuid.New().String()
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO dataset_runs (id, dataset, status, started_at) VALUES (?, ?, ?, ?)`,
		id, dataset, StatusRunning, l.now().Format(timeLayout))
	if err != nil {
		return "", eris.Wrapf(err, "runlog: start %s", dataset)
	}
	return id, nil
}

// Complete marks a run as finished.
func (l *Log) Complete(ctx context.Context, id string, metadata map[string]any) error {
	var meta sql.NullString
	if metadata != nil {
		b, err := json.Marshal(metadata)
		if err != nil {
			return eris.Wrap(err, "runlog: marshal metadata")
		}
		meta = sql.NullString{String: string(b), Valid: true}
	}
	return l.finish(ctx, id, StatusComplete, "", meta)
}

// Fail marks a run as failed with the error message.
func (l *Log) Fail(ctx context.Context, id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return l.finish(ctx, id, StatusFailed, msg, sql.NullString{})
}

func (l *Log) finish(ctx context.Context, id, status, msg string, meta sql.NullString) error {
	res, err := l.db.ExecContext(ctx,
		`UPDATE dataset_runs SET status = ?, completed_at = ?, error = NULLIF(?, ''), metadata = ? WHERE id = ?`,
		status, l.now().Format(timeLayout), msg, meta, id)
	if err != nil {
		return eris.Wrapf(err, "runlog: mark %s %s", id, status)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Errorf("runlog: no run with id %s", id)
	}
	return nil
}

// Skip records a dataset that was not analysed and why.
func (l *Log) Skip(ctx context.Context, dataset, reason string) error {
	now := l.now().Format(timeLayout)
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO dataset_runs (id, dataset, status, started_at, completed_at, error) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), dataset, StatusSkipped, now, now, reason)
	return eris.Wrapf(err, "runlog: skip %s", dataset)
}

// LastSuccess returns the start time of the most recent complete run of
// dataset, or nil when there is none.
func (l *Log) LastSuccess(ctx context.Context, dataset string) (*time.Time, error) {
	var s string
	err := l.db.QueryRowContext(ctx,
		`SELECT started_at FROM dataset_runs WHERE dataset = ? AND status = ?
		 ORDER BY started_at DESC LIMIT 1`, dataset, StatusComplete).Scan(&s)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "runlog: last success for %s", dataset)
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: parse started_at")
	}
	return &t, nil
}

// List returns the most recent entries first. A limit of zero returns all.
func (l *Log) List(ctx context.Context, limit int) ([]Entry, error) {
	q := `SELECT id, dataset, status, started_at, completed_at, error, metadata
		FROM dataset_runs ORDER BY started_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: list")
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                    Entry
			started              string
			completed, msg, meta sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Dataset, &e.Status, &started, &completed, &msg, &meta); err != nil {
			return nil, eris.Wrap(err, "runlog: scan")
		}
		if e.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, eris.Wrap(err, "runlog: parse started_at")
		}
		if completed.Valid {
			t, err := time.Parse(timeLayout, completed.String)
			if err != nil {
				return nil, eris.Wrap(err, "runlog: parse completed_at")
			}
			e.CompletedAt = &t
		}
		e.Error = msg.String
		if meta.Valid {
			if err := json.Unmarshal([]byte(meta.String), &e.Metadata); err != nil {
				return nil, eris.Wrap(err, "runlog: unmarshal metadata")
			}
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "runlog: rows")
}

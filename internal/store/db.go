// internal/store/db.go
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Schema for the sessionhub store. The (session_id, seq) primary key on
// session_events is load-bearing: any serialization bug that lets two
// appends race the same sequence number fails immediately with a
// duplicate-key error instead of silently corrupting the timeline.
const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id          TEXT PRIMARY KEY,
    owner_id    TEXT,
    kind        TEXT NOT NULL,
    status      TEXT NOT NULL,
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL,
    metadata    BLOB
);

CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at DESC);

CREATE TABLE IF NOT EXISTS session_events (
    session_id  TEXT NOT NULL REFERENCES sessions(id),
    seq         INTEGER NOT NULL,
    channel     TEXT NOT NULL,
    type        TEXT NOT NULL,
    payload     BLOB,
    ts          INTEGER NOT NULL,
    PRIMARY KEY (session_id, seq)
);
`

// DB wraps the SQLite handle together with the write lane and retry
// policy shared by every repository bound to it. Reads go straight to
// the pool (WAL allows concurrent readers); all mutation goes through
// the serializer.
type DB struct {
	sql    *sql.DB
	writes *Serializer
	retry  *RetryPolicy
}

// Open opens or creates the database at path, enables WAL journaling and
// foreign keys, and applies the schema.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &DB{
		sql:    db,
		writes: NewSerializer(),
		retry:  DefaultRetryPolicy(),
	}, nil
}

// SetRetryPolicy replaces the default backoff policy. The constants are
// tuning values, not invariants; callers may widen them under load.
func (d *DB) SetRetryPolicy(p *RetryPolicy) {
	if p != nil {
		d.retry = p
	}
}

// Writes exposes the serializer for components that need Drain.
func (d *DB) Writes() *Serializer {
	return d.writes
}

// Close drains the write lane and closes the underlying handle.
func (d *DB) Close() error {
	d.writes.Close()
	if d.sql != nil {
		return d.sql.Close()
	}
	return nil
}

// write enqueues op on the serializer and retries transient busy/locked
// failures with backoff before surfacing the error.
func (d *DB) write(ctx context.Context, op Op) error {
	return d.writes.Enqueue(ctx, func(ctx context.Context) error {
		return d.retry.Execute(func() error {
			return op(ctx)
		})
	})
}

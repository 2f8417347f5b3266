// internal/store/sessions.go
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/user/sessionhub/internal/types"
)

// ErrSessionNotFound is returned by Get and SetStatus for unknown ids.
var ErrSessionNotFound = errors.New("store: session not found")

// SessionRegistry owns session identity and lifecycle. It is the only
// component allowed to change a session's status, and it validates every
// transition against the state machine in types.
type SessionRegistry struct {
	db *DB
}

func NewSessionRegistry(db *DB) *SessionRegistry {
	return &SessionRegistry{db: db}
}

// Create allocates a new session with status starting. Metadata is
// stored as an opaque blob; the registry never inspects it. ownerID is
// supplied by the identity collaborator and passed through verbatim.
func (r *SessionRegistry) Create(ctx context.Context, kind types.SessionKind, ownerID string, metadata json.RawMessage) (*types.Session, error) {
	now := time.Now().UTC()
	sess := &types.Session{
		ID:        types.NewSessionID(),
		OwnerID:   ownerID,
		Kind:      kind,
		Status:    types.StatusStarting,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  metadata,
	}

	err := r.db.write(ctx, func(ctx context.Context) error {
		var owner any
		if ownerID != "" {
			owner = ownerID
		}
		_, err := r.db.sql.ExecContext(ctx,
			`INSERT INTO sessions (id, owner_id, kind, status, created_at, updated_at, metadata)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			string(sess.ID), owner, string(kind), string(sess.Status),
			now.UnixNano(), now.UnixNano(), []byte(metadata),
		)
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// SetStatus moves the session to the given status, rejecting illegal
// transitions with InvalidTransitionError. The check and the update run
// in one serialized op so concurrent callers cannot both win.
func (r *SessionRegistry) SetStatus(ctx context.Context, id types.SessionID, status types.SessionStatus) error {
	return r.db.write(ctx, func(ctx context.Context) error {
		var current string
		err := r.db.sql.QueryRowContext(ctx,
			`SELECT status FROM sessions WHERE id = ?`, string(id),
		).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("query session status: %w", err)
		}

		from := types.SessionStatus(current)
		if !types.CanTransition(from, status) {
			return &types.InvalidTransitionError{SessionID: id, From: from, To: status}
		}

		_, err = r.db.sql.ExecContext(ctx,
			`UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?`,
			string(status), time.Now().UTC().UnixNano(), string(id),
		)
		if err != nil {
			return fmt.Errorf("update session status: %w", err)
		}
		return nil
	})
}

// MarkAllRunningStopped is the crash-recovery sweep run once at daemon
// start. The processes backing running sessions did not survive the
// restart, so every session still marked running is forced to stopped;
// otherwise clients would wait forever on a backing process that is gone.
func (r *SessionRegistry) MarkAllRunningStopped(ctx context.Context) (int64, error) {
	var changed int64
	err := r.db.write(ctx, func(ctx context.Context) error {
		res, err := r.db.sql.ExecContext(ctx,
			`UPDATE sessions SET status = ?, updated_at = ? WHERE status = ?`,
			string(types.StatusStopped), time.Now().UTC().UnixNano(), string(types.StatusRunning),
		)
		if err != nil {
			return fmt.Errorf("sweep running sessions: %w", err)
		}
		changed, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		return nil
	})
	return changed, err
}

// Get returns the session with the given id, or ErrSessionNotFound.
func (r *SessionRegistry) Get(ctx context.Context, id types.SessionID) (*types.Session, error) {
	row := r.db.sql.QueryRowContext(ctx,
		`SELECT id, owner_id, kind, status, created_at, updated_at, metadata
		 FROM sessions WHERE id = ?`, string(id),
	)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, err
}

// List returns sessions ordered by updated_at descending. An empty kind
// matches all kinds.
func (r *SessionRegistry) List(ctx context.Context, kind types.SessionKind) ([]*types.Session, error) {
	query := `SELECT id, owner_id, kind, status, created_at, updated_at, metadata
		 FROM sessions`
	args := []any{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := r.db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*types.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*types.Session, error) {
	var (
		id, kind, status   string
		owner              sql.NullString
		createdNs, updatNs int64
		metadata           []byte
	)
	if err := row.Scan(&id, &owner, &kind, &status, &createdNs, &updatNs, &metadata); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return &types.Session{
		ID:        types.SessionID(id),
		OwnerID:   owner.String,
		Kind:      types.SessionKind(kind),
		Status:    types.SessionStatus(status),
		CreatedAt: time.Unix(0, createdNs).UTC(),
		UpdatedAt: time.Unix(0, updatNs).UTC(),
		Metadata:  json.RawMessage(metadata),
	}, nil
}

// internal/store/unitofwork.go
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/user/sessionhub/internal/types"
)

// UnitOfWork executes multi-statement mutations atomically. The whole
// transaction is enqueued as a single op on the write lane, which both
// drains every previously enqueued bare write and prevents any write
// from interleaving with the transaction. No partial effects are ever
// observable outside a successful Run.
type UnitOfWork struct {
	db *DB
}

func NewUnitOfWork(db *DB) *UnitOfWork {
	return &UnitOfWork{db: db}
}

// Tx exposes transaction-scoped repository operations to a unit of work.
type Tx struct {
	tx *sql.Tx
}

// DeleteEvents removes every event for the session. Events must go
// before the session row so the foreign key holds at every point.
func (t *Tx) DeleteEvents(ctx context.Context, sessionID types.SessionID) error {
	_, err := t.tx.ExecContext(ctx,
		`DELETE FROM session_events WHERE session_id = ?`, string(sessionID))
	if err != nil {
		return fmt.Errorf("delete events: %w", err)
	}
	return nil
}

// DeleteSession removes the session row itself.
func (t *Tx) DeleteSession(ctx context.Context, sessionID types.SessionID) error {
	res, err := t.tx.ExecContext(ctx,
		`DELETE FROM sessions WHERE id = ?`, string(sessionID))
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return nil
}

// Run begins a transaction once the write lane reaches it, invokes work
// with a scoped handle, commits on success and rolls back on any error,
// re-returning it to the caller. A transient busy failure retries the
// whole transaction from a clean state.
func (u *UnitOfWork) Run(ctx context.Context, work func(tx *Tx) error) error {
	return u.db.write(ctx, func(ctx context.Context) error {
		tx, err := u.db.sql.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if err := work(&Tx{tx: tx}); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit transaction: %w", err)
		}
		return nil
	})
}

// PurgeSession deletes a session and all of its events in one atomic
// unit: events first, then the row.
func (u *UnitOfWork) PurgeSession(ctx context.Context, sessionID types.SessionID) error {
	return u.Run(ctx, func(tx *Tx) error {
		if err := tx.DeleteEvents(ctx, sessionID); err != nil {
			return err
		}
		return tx.DeleteSession(ctx, sessionID)
	})
}

// internal/store/events.go
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/user/sessionhub/internal/types"
)

// EventStore is the durable, ordered, replayable per-session log. It is
// the only component that assigns sequence numbers.
type EventStore struct {
	db *DB
}

func NewEventStore(db *DB) *EventStore {
	return &EventStore{db: db}
}

// Append persists one event with seq = max(existing)+1. The read of the
// current maximum and the insert run inside a single serialized write
// op, so two logical producers appending concurrently can never observe
// the same maximum.
func (e *EventStore) Append(ctx context.Context, sessionID types.SessionID, channel string, typ types.EventType, payload types.Payload) (*types.Event, error) {
	ev := &types.Event{
		SessionID: sessionID,
		Channel:   channel,
		Type:      typ,
		Payload:   payload,
	}

	err := e.db.write(ctx, func(ctx context.Context) error {
		var maxSeq int64
		err := e.db.sql.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(seq), 0) FROM session_events WHERE session_id = ?`,
			string(sessionID),
		).Scan(&maxSeq)
		if err != nil {
			return fmt.Errorf("query max seq: %w", err)
		}

		ev.Seq = maxSeq + 1
		ev.At = time.Now().UTC()

		_, err = e.db.sql.ExecContext(ctx,
			`INSERT INTO session_events (session_id, seq, channel, type, payload, ts)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			string(sessionID), ev.Seq, channel, string(typ), payload.Encode(), ev.At.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// Since returns all events for the session with seq > afterSeq in
// ascending seq order. An unknown session or an afterSeq beyond the
// current maximum both return an empty result so stale client state
// degrades gracefully.
func (e *EventStore) Since(ctx context.Context, sessionID types.SessionID, afterSeq int64) ([]*types.Event, error) {
	rows, err := e.db.sql.QueryContext(ctx,
		`SELECT seq, channel, type, payload, ts
		 FROM session_events
		 WHERE session_id = ? AND seq > ?
		 ORDER BY seq ASC`,
		string(sessionID), afterSeq,
	)
	if err != nil {
		return nil, fmt.Errorf("query events since %d: %w", afterSeq, err)
	}
	defer rows.Close()

	return scanEvents(rows, sessionID)
}

// Count returns the number of events recorded for the session.
func (e *EventStore) Count(ctx context.Context, sessionID types.SessionID) (int64, error) {
	var n int64
	err := e.db.sql.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM session_events WHERE session_id = ?`,
		string(sessionID),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

func scanEvents(rows *sql.Rows, sessionID types.SessionID) ([]*types.Event, error) {
	var events []*types.Event
	for rows.Next() {
		var (
			seq     int64
			channel string
			typ     string
			raw     []byte
			tsNanos int64
		)
		if err := rows.Scan(&seq, &channel, &typ, &raw, &tsNanos); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, &types.Event{
			SessionID: sessionID,
			Seq:       seq,
			Channel:   channel,
			Type:      types.EventType(typ),
			Payload:   types.DecodePayload(types.EventType(typ), raw),
			At:        time.Unix(0, tsNanos).UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

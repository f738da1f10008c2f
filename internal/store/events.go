// ABOUTME: Relay event model and its SQLite persistence
// ABOUTME: Connects, disconnects, forwarded/dropped webhooks and exchange outcomes, newest first on read

package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventKind categorizes a relay event.
type EventKind string

const (
	EventConnected        EventKind = "connected"
	EventDisconnected     EventKind = "disconnected"
	EventSuperseded       EventKind = "superseded"
	EventOrphaned         EventKind = "orphaned"
	EventWebhookForwarded EventKind = "webhook_forwarded"
	EventWebhookDropped   EventKind = "webhook_dropped"
	EventExchangeResolved EventKind = "exchange_resolved"
	EventExchangeFailed   EventKind = "exchange_failed"
)

// Valid reports whether k is a known kind.
func (k EventKind) Valid() bool {
	switch k {
	case EventConnected, EventDisconnected, EventSuperseded, EventOrphaned,
		EventWebhookForwarded, EventWebhookDropped, EventExchangeResolved, EventExchangeFailed:
		return true
	}
	return false
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// RelayEvent is one entry in the relay ledger.
type RelayEvent struct {
	ID            string    `json:"id"`
	FQN           string    `json:"fqn"`
	Kind          EventKind `json:"kind"`
	ConnectionID  string    `json:"connection_id,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// EventFilter narrows ListEvents. Zero values match everything.
type EventFilter struct {
	FQN   string
	Kind  EventKind
	Since time.Time
	Limit int // 1-500, defaults to 50
}

func (f EventFilter) limit() int {
	switch {
	case f.Limit <= 0:
		return defaultListLimit
	case f.Limit > maxListLimit:
		return maxListLimit
	default:
		return f.Limit
	}
}

// prepare validates event and fills in its ID and timestamp.
func prepare(event *RelayEvent) error {
	if event == nil || !event.Kind.Valid() {
		return ErrInvalidEvent
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	event.CreatedAt = event.CreatedAt.UTC()
	return nil
}

// RecordEvent persists a relay event. ID and CreatedAt are filled in when empty.
func (s *SQLiteStore) RecordEvent(ctx context.Context, event *RelayEvent) error {
	if err := prepare(event); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relay_events (id, fqn, kind, connection_id, correlation_id, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.FQN,
		string(event.Kind),
		event.ConnectionID,
		event.CorrelationID,
		event.Detail,
		event.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting relay event: %w", err)
	}

	s.logger.Debug("recorded relay event", "event_id", event.ID, "fqn", event.FQN, "kind", event.Kind)
	return nil
}

// ListEvents returns events matching filter, newest first.
func (s *SQLiteStore) ListEvents(ctx context.Context, filter EventFilter) ([]*RelayEvent, error) {
	var (
		where []string
		args  []any
	)
	if filter.FQN != "" {
		where = append(where, "fqn = ?")
		args = append(args, filter.FQN)
	}
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if !filter.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, filter.Since.UTC().Format(timeLayout))
	}

	query := `SELECT id, fqn, kind, connection_id, correlation_id, detail, created_at FROM relay_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ?"
	args = append(args, filter.limit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying relay events: %w", err)
	}
	defer rows.Close()

	var events []*RelayEvent
	for rows.Next() {
		var (
			e       RelayEvent
			kind    string
			created string
		)
		if err := rows.Scan(&e.ID, &e.FQN, &kind, &e.ConnectionID, &e.CorrelationID, &e.Detail, &created); err != nil {
			return nil, fmt.Errorf("scanning relay event: %w", err)
		}
		e.Kind = EventKind(kind)
		e.CreatedAt, err = time.Parse(timeLayout, created)
		if err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating relay events: %w", err)
	}
	return events, nil
}

// ABOUTME: Ledger interface shared by the SQLite store and the in-memory mock
// ABOUTME: Records relay events for audit; consumer registrations themselves are never persisted

package store

import (
	"context"
	"errors"
)

// ErrInvalidEvent is returned when an event is missing required fields.
var ErrInvalidEvent = errors.New("invalid relay event")

// Ledger records relay events and lists them back.
type Ledger interface {
	RecordEvent(ctx context.Context, event *RelayEvent) error
	ListEvents(ctx context.Context, filter EventFilter) ([]*RelayEvent, error)
	Close() error
}

var (
	_ Ledger = (*SQLiteStore)(nil)
	_ Ledger = (*MockStore)(nil)
)

// ABOUTME: Mock Ledger implementation for testing
// ABOUTME: Keeps relay events in memory so tests run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
)

// MockStore is an in-memory Ledger for tests.
type MockStore struct {
	mu     sync.RWMutex
	events []*RelayEvent
	closed bool
}

// NewMockStore creates an empty MockStore.
func NewMockStore() *MockStore {
	return &MockStore{}
}

// RecordEvent stores a copy of event.
func (m *MockStore) RecordEvent(ctx context.Context, event *RelayEvent) error {
	if err := prepare(event); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e := *event
	m.events = append(m.events, &e)
	return nil
}

// ListEvents returns copies of matching events, newest first.
func (m *MockStore) ListEvents(ctx context.Context, filter EventFilter) ([]*RelayEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*RelayEvent
	// Walk backwards so equal timestamps keep insertion order reversed.
	for i := len(m.events) - 1; i >= 0; i-- {
		e := m.events[i]
		if filter.FQN != "" && e.FQN != filter.FQN {
			continue
		}
		if filter.Kind != "" && e.Kind != filter.Kind {
			continue
		}
		if !filter.Since.IsZero() && e.CreatedAt.Before(filter.Since) {
			continue
		}
		c := *e
		out = append(out, &c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit := filter.limit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close marks the store closed.
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Events returns every recorded event in insertion order.
func (m *MockStore) Events() []RelayEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]RelayEvent, len(m.events))
	for i, e := range m.events {
		out[i] = *e
	}
	return out
}

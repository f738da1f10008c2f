// Package store provides the optional relay ledger backed by SQLite.
//
// The ledger is an append-only audit log of what the relay did: consumers
// connecting, disconnecting, being superseded or orphaned, webhooks being
// forwarded or dropped, and provisioning exchanges resolving or failing.
// It is never read back to rebuild the consumer registry; a restart always
// starts with no consumers.
//
// # Implementations
//
//   - SQLiteStore: modernc.org/sqlite (pure Go), WAL mode, schema created on open
//   - MockStore: in-memory, for tests
//
// Both satisfy Ledger:
//
//	ledger, err := store.NewSQLiteStore(cfg.Ledger.Path)
//	err = ledger.RecordEvent(ctx, &store.RelayEvent{FQN: fqn, Kind: store.EventConnected})
//	events, err := ledger.ListEvents(ctx, store.EventFilter{FQN: fqn, Limit: 20})
//
// ListEvents returns newest first. Limit is clamped to 1-500 and defaults to 50.
package store

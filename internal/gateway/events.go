// ABOUTME: Ledger event recording for the gateway
// ABOUTME: No-op when the ledger is disabled; failures are logged and never reach the caller

package gateway

import (
	"context"

	"github.com/2389/hookrelay/internal/store"
)

// recordEvent appends event to the ledger if one is configured. Ledger
// failures never affect relaying.
func (g *Gateway) recordEvent(ctx context.Context, event *store.RelayEvent) {
	if g.ledger == nil {
		return
	}
	if err := g.ledger.RecordEvent(ctx, event); err != nil {
		g.logger.Warn("failed to record relay event",
			"kind", event.Kind,
			"fqn", event.FQN,
			"error", err,
		)
	}
}

// ABOUTME: Private listener handlers: liveness, readiness, consumer listing and ledger queries
// ABOUTME: Served without authentication on the private address only

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/hookrelay/internal/consumer"
	"github.com/2389/hookrelay/internal/store"
)

// handleHealth returns 200 if the process is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("healthy!"))
}

// handleReady reports the number of registered consumers. The relay is ready
// with zero consumers; webhooks are simply dropped.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d consumers)", g.registry.Len())
}

// ConsumersResponse is the body of GET /consumers.
type ConsumersResponse struct {
	Consumers []consumer.Info `json:"consumers"`
}

func (g *Gateway) handleConsumers(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ConsumersResponse{Consumers: g.registry.List()})
}

// EventsResponse is the body of GET /events.
type EventsResponse struct {
	Events []*store.RelayEvent `json:"events"`
}

// handleEvents lists ledger events, filtered by ?fqn=, ?kind=, ?since=
// (RFC 3339) and ?limit=.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	if g.ledger == nil {
		g.sendJSONError(w, http.StatusNotFound, "ledger disabled")
		return
	}

	q := r.URL.Query()
	filter := store.EventFilter{
		FQN:  q.Get("fqn"),
		Kind: store.EventKind(q.Get("kind")),
	}
	if filter.Kind != "" && !filter.Kind.Valid() {
		g.sendJSONError(w, http.StatusBadRequest, "unknown event kind")
		return
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		filter.Limit = limit
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			g.sendJSONError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = since
	}

	events, err := g.ledger.ListEvents(r.Context(), filter)
	if err != nil {
		g.logger.Error("listing relay events", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if events == nil {
		events = []*store.RelayEvent{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(EventsResponse{Events: events})
}

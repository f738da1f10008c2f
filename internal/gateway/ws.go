// ABOUTME: Consumer WebSocket lifecycle: upgrade, registration, read loop, keepalive and teardown
// ABOUTME: Connections missing tenant or room are accepted but never registered

package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/2389/hookrelay/internal/consumer"
	"github.com/2389/hookrelay/internal/store"
)

// handleConsumer upgrades an authenticated request and serves the consumer
// until its socket closes.
func (g *Gateway) handleConsumer(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tenant, room := q.Get("tenant"), q.Get("room")

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written an error response.
		g.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}
	ws.SetReadLimit(g.config.Relay.MaxMessageBytes)

	// Hijacked connections outlive the request context.
	ctx := context.WithoutCancel(r.Context())

	if tenant == "" || room == "" {
		g.serveOrphan(ctx, ws, tenant, room, r.RemoteAddr)
		return
	}

	conn := consumer.NewConnection(consumer.ConnectionParams{
		ID:         uuid.NewString(),
		Tenant:     tenant,
		Room:       room,
		RemoteAddr: r.RemoteAddr,
		Transport:  ws,
		WriteWait:  g.config.Relay.WriteWait,
		Late:       g.late,
		Recorder:   g.metrics,
		Logger:     g.logger,
	})

	if prev := g.registry.Register(conn); prev != nil {
		g.recordEvent(ctx, &store.RelayEvent{
			FQN:          prev.FQN,
			Kind:         store.EventSuperseded,
			ConnectionID: prev.ID,
			Detail:       "replaced by " + conn.ID,
		})
	}
	g.recordEvent(ctx, &store.RelayEvent{
		FQN:          conn.FQN,
		Kind:         store.EventConnected,
		ConnectionID: conn.ID,
		Detail:       r.RemoteAddr,
	})

	g.serveConsumer(ctx, ws, conn)
}

// serveConsumer is the single reader for ws. It returns when the socket
// closes or a read fails, after tearing the connection down.
func (g *Gateway) serveConsumer(ctx context.Context, ws *websocket.Conn, conn *consumer.Connection) {
	defer g.disconnect(ctx, conn)

	g.armReadDeadline(ws)
	go g.keepalive(conn.Done(), conn.Ping, func() { _ = conn.Close() })

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			g.logReadError(conn.FQN, conn.ID, err)
			return
		}
		g.extendReadDeadline(ws)
		conn.HandleMessage(data)
	}
}

// disconnect unregisters conn if it is still the registered consumer for its
// fqn and fails whatever it had pending.
func (g *Gateway) disconnect(ctx context.Context, conn *consumer.Connection) {
	pending := conn.PendingCount()
	stillCurrent := g.registry.Unregister(conn.FQN, conn)
	_ = conn.Close()

	g.logger.Info("consumer disconnected",
		"fqn", conn.FQN,
		"connection_id", conn.ID,
		"was_current", stillCurrent,
		"failed_exchanges", pending,
		"connected_for", time.Since(conn.ConnectedAt).Round(time.Second),
	)
	g.recordEvent(ctx, &store.RelayEvent{
		FQN:          conn.FQN,
		Kind:         store.EventDisconnected,
		ConnectionID: conn.ID,
	})
}

// serveOrphan reads and discards everything from a connection that did not
// name its tenant and room, until it closes.
func (g *Gateway) serveOrphan(ctx context.Context, ws *websocket.Conn, tenant, room, remoteAddr string) {
	id := uuid.NewString()
	g.logger.Warn("consumer orphaned, missing tenant or room",
		"connection_id", id,
		"tenant", tenant,
		"room", room,
		"remote_addr", remoteAddr,
	)
	g.recordEvent(ctx, &store.RelayEvent{
		FQN:          consumer.Key(tenant, room),
		Kind:         store.EventOrphaned,
		ConnectionID: id,
		Detail:       remoteAddr,
	})

	done := make(chan struct{})
	defer close(done)
	defer ws.Close()

	wait := g.config.Relay.WriteWait
	ping := func() error {
		return ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wait))
	}
	g.armReadDeadline(ws)
	go g.keepalive(done, ping, func() { _ = ws.Close() })

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			g.logReadError(consumer.Key(tenant, room), id, err)
			return
		}
		g.extendReadDeadline(ws)
	}
}

// armReadDeadline starts the pong deadline and extends it on every pong.
func (g *Gateway) armReadDeadline(ws *websocket.Conn) {
	g.extendReadDeadline(ws)
	ws.SetPongHandler(func(string) error {
		g.extendReadDeadline(ws)
		return nil
	})
}

func (g *Gateway) extendReadDeadline(ws *websocket.Conn) {
	_ = ws.SetReadDeadline(time.Now().Add(g.config.Relay.PongWait))
}

// keepalive pings every ping interval until done is closed. A failed ping
// calls abort, which closes the socket and ends the read loop.
func (g *Gateway) keepalive(done <-chan struct{}, ping func() error, abort func()) {
	ticker := time.NewTicker(g.config.Relay.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := ping(); err != nil {
				g.logger.Debug("ping failed, closing consumer", "error", err)
				abort()
				return
			}
		}
	}
}

func (g *Gateway) logReadError(fqn, connID string, err error) {
	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		g.logger.Warn("consumer read error", "fqn", fqn, "connection_id", connID, "error", err)
		return
	}
	g.logger.Debug("consumer closed", "fqn", fqn, "connection_id", connID, "error", err)
}

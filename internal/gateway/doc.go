// Package gateway runs the hookrelay servers.
//
// # Listeners
//
// The public listener (server.http_addr) sits behind the shared-secret gate
// and serves:
//
//   - POST /wh: forward the body verbatim to the consumer for body.fqn
//   - POST /wh/settings: provisioning exchange with the consumer for body.fqn
//   - GET /ws (relay.ws_path): consumer WebSocket upgrade, ?tenant=&room=
//
// The private listener (server.private_addr) is unauthenticated:
//
//   - GET /health: liveness, "healthy!"
//   - GET /health/ready: "ready (N consumers)"
//   - GET /metrics: Prometheus exposition
//   - GET /consumers: registered consumers as JSON
//   - GET /events: ledger events as JSON (404 when the ledger is disabled)
//
// # Absent consumers
//
// A webhook for an fqn with no consumer is dropped and still answered with
// an empty 200. A provisioning request with no consumer is answered with {}.
// Both are counted in metrics and recorded in the ledger.
//
// # Provisioning errors
//
//	504 {"error":"consumer did not reply in time"}
//	502 {"error":"consumer sent an invalid reply"}
//	502 {"error":"consumer disconnected"}
//	502 {"error":"failed to reach consumer"}
//
// If the HTTP caller goes away first, the exchange is abandoned and nothing
// is written.
//
// # Consumer lifecycle
//
// Each consumer socket has one reader goroutine (the upgrade handler) and one
// keepalive goroutine sending pings. On close or read error the consumer is
// unregistered, but only if it is still the registered connection for its
// fqn, and its pending exchanges fail.
package gateway

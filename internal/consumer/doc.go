// Package consumer tracks the WebSocket consumers attached to hookrelay.
//
// # Registry
//
// The Registry maps an fqn ("tenant/room") to at most one Connection. A new
// registration for a key replaces the old one; the previous connection is
// returned but left open. Unregister only removes the entry when the caller
// still owns it, so a superseded connection closing late cannot evict its
// replacement.
//
//	reg := consumer.NewRegistry(metrics, logger)
//	prev := reg.Register(conn)
//	defer reg.Unregister(conn.FQN, conn)
//
// # Provisioning exchanges
//
// Provision sends a request frame carrying a fresh correlation ID and blocks
// until the consumer answers, the timeout fires, the caller's context ends,
// or the connection closes:
//
//	{"fqn":"acme/lobby", ..., "eventType":"SETTINGS_PROVISIONING", "correlationId":"<uuid>"}
//
// Replies are routed by HandleMessage. A reply echoing correlationId resolves
// that exchange. A reply without one resolves the pending exchange only when
// exactly one is outstanding. Replies for abandoned exchanges are reported as
// late.
//
// # Thread Safety
//
// Registry and Connection are safe for concurrent use. Writes to the socket
// are serialized by a per-connection mutex.
package consumer

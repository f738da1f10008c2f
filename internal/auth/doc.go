// Package auth provides the shared-secret gate for hookrelay.
//
// # Credential
//
// Every caller presents the configured shared secret:
//
//   - HTTP requests: the Authorization header, either the raw secret or
//     "Bearer <secret>".
//   - The consumer upgrade route: the same header, or the "token" query
//     parameter when the client cannot set headers. The fallback is only
//     honoured on routes wrapped with UpgradeMiddleware.
//
// Comparison is constant time. An unset secret never authenticates anyone;
// config.Load refuses to start without one.
//
// # Rejection
//
// HTTP requests get a 403 with {"error":"bad credentials"}, even when they
// carry upgrade headers. WebSocket upgrades on the upgrade route are answered
// by hijacking and closing the TCP connection before any handshake bytes are
// written. Each rejection is reported once to the
// Recorder, labelled with the HTTP verb or "ws" for upgrades.
//
// # Usage
//
//	gate := auth.NewGate(cfg.Auth.SharedSecret, metrics, logger)
//	router.With(gate.Middleware).Post("/wh", handleWebhook)
//	router.With(gate.UpgradeMiddleware).Get("/ws", handleConsumer)
package auth

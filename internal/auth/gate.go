// ABOUTME: Shared-secret gate applied to every public HTTP request and WebSocket upgrade
// ABOUTME: Rejects HTTP callers with 403 JSON and tears down unauthenticated upgrade sockets

package auth

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

// MethodUpgrade is the method label recorded for rejected WebSocket upgrades.
const MethodUpgrade = "ws"

// QueryParam is the query-string fallback for the credential. Only
// UpgradeMiddleware honours it.
const QueryParam = "token"

// Recorder receives one call per rejected request.
type Recorder interface {
	Unauthorized(method string)
}

// Gate validates the shared secret on inbound requests.
type Gate struct {
	secret   []byte
	recorder Recorder
	logger   *slog.Logger
}

// NewGate creates a Gate for the given secret. recorder may be nil.
func NewGate(secret string, recorder Recorder, logger *slog.Logger) *Gate {
	return &Gate{
		secret:   []byte(secret),
		recorder: recorder,
		logger:   logger,
	}
}

// Valid reports whether credential equals the shared secret.
// An empty credential never matches.
func (g *Gate) Valid(credential string) bool {
	if credential == "" || len(g.secret) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(credential), g.secret) == 1
}

// credentialFromHeader returns the Authorization header value, with an
// optional "Bearer " prefix stripped.
func credentialFromHeader(r *http.Request) string {
	h := r.Header.Get("Authorization")
	return strings.TrimPrefix(h, "Bearer ")
}

// upgradeCredential prefers the header and falls back to the query string.
func upgradeCredential(r *http.Request) string {
	if c := credentialFromHeader(r); c != "" {
		return c
	}
	return r.URL.Query().Get(QueryParam)
}

// Middleware enforces the secret from the Authorization header. It guards
// plain HTTP routes: failures get a 403 JSON error whatever headers the
// request carries, and the query fallback is never consulted.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.Valid(credentialFromHeader(r)) {
			g.reject(r, r.Method)
			writeForbidden(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// UpgradeMiddleware guards the consumer upgrade route. The credential may
// come from the header or the query fallback. A rejected WebSocket upgrade
// has its socket closed before any handshake bytes are written; any other
// rejected request gets the 403 JSON error.
func (g *Gate) UpgradeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.Valid(upgradeCredential(r)) {
			next.ServeHTTP(w, r)
			return
		}
		if websocket.IsWebSocketUpgrade(r) {
			g.reject(r, MethodUpgrade)
			terminate(w)
			return
		}
		g.reject(r, r.Method)
		writeForbidden(w)
	})
}

func (g *Gate) reject(r *http.Request, method string) {
	if g.recorder != nil {
		g.recorder.Unauthorized(method)
	}
	g.logger.Warn("rejected request with bad credentials",
		"method", method,
		"path", r.URL.Path,
		"remote_addr", r.RemoteAddr,
	)
}

func writeForbidden(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_, _ = w.Write([]byte(`{"error":"bad credentials"}`))
}

// terminate drops the raw connection. If the writer cannot be hijacked the
// caller still gets a bare 403 so the upgrade never completes.
func terminate(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	_ = conn.Close()
}

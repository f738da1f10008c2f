// ABOUTME: chi routers for the public relay listener and the private ops listener
// ABOUTME: Public routes sit behind the shared-secret gate; private routes are unauthenticated

package gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
)

// PublicHandler returns the authenticated router serving webhooks and
// consumer upgrades.
func (g *Gateway) PublicHandler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(g.requestLogger)
	r.Use(middleware.Recoverer)

	r.With(g.gate.Middleware).Post("/wh", g.handleWebhook)
	r.With(g.gate.Middleware).Post("/wh/settings", g.handleSettings)
	r.With(g.gate.UpgradeMiddleware).Get(g.config.Relay.WSPath, g.handleConsumer)

	// Unrouted requests need the secret as well.
	r.NotFound(g.gate.Middleware(http.NotFoundHandler()).ServeHTTP)
	r.MethodNotAllowed(g.gate.Middleware(http.HandlerFunc(methodNotAllowed)).ServeHTTP)

	return r
}

// PrivateHandler returns the unauthenticated router for health, metrics and
// introspection. It must only be bound to a private address.
func (g *Gateway) PrivateHandler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", g.handleHealth)
	r.Get("/health/ready", g.handleReady)
	r.Method(http.MethodGet, g.config.Metrics.Path, g.metrics.Handler())
	r.Get("/consumers", g.handleConsumers)
	r.Get("/events", g.handleEvents)

	return r
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusMethodNotAllowed)
}

// requestLogger logs one line per request. The wrapped writer still
// implements http.Hijacker so upgrades pass through it.
func (g *Gateway) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		level := slog.LevelDebug
		if ww.Status() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		g.logger.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// newUpgrader builds the WebSocket upgrader. With no allowed origins any
// origin is accepted. Requests without an Origin header are always accepted.
func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			_, ok := allowed[origin]
			return ok
		},
	}
}

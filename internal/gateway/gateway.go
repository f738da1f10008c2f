// ABOUTME: Gateway orchestrator that runs the public relay listener and the private ops listener
// ABOUTME: Owns the consumer registry, auth gate, metrics, late-reply tracking and optional ledger

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/hookrelay/internal/auth"
	"github.com/2389/hookrelay/internal/config"
	"github.com/2389/hookrelay/internal/consumer"
	"github.com/2389/hookrelay/internal/expiry"
	"github.com/2389/hookrelay/internal/metrics"
	"github.com/2389/hookrelay/internal/store"
)

// lateReplyCapacity bounds how many abandoned correlation IDs are remembered.
const lateReplyCapacity = 10000

// Gateway orchestrates the hookrelay server components.
type Gateway struct {
	config   *config.Config
	registry *consumer.Registry
	metrics  *metrics.Metrics
	gate     *auth.Gate
	late     *expiry.Set
	upgrader websocket.Upgrader
	logger   *slog.Logger

	// ledger is nil when ledger.path is empty.
	ledger store.Ledger

	publicServer  *http.Server
	privateServer *http.Server
}

// New creates a Gateway from cfg. Nothing listens until Run is called.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	m := metrics.New()

	var ledger store.Ledger
	if cfg.Ledger.Path != "" {
		s, err := store.NewSQLiteStore(cfg.Ledger.Path)
		if err != nil {
			return nil, fmt.Errorf("initializing ledger: %w", err)
		}
		ledger = s
	}

	gw := &Gateway{
		config:   cfg,
		registry: consumer.NewRegistry(m, logger.With("component", "registry")),
		metrics:  m,
		gate:     auth.NewGate(cfg.Auth.SharedSecret, m, logger.With("component", "auth")),
		late:     expiry.New(cfg.Relay.LateReplyTTL, lateReplyCapacity),
		upgrader: newUpgrader(cfg.Relay.AllowedOrigins),
		logger:   logger.With("component", "gateway"),
		ledger:   ledger,
	}

	gw.publicServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.PublicHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Hijacked WebSockets are not tracked by http.Server, and settings
	// handlers waiting on a consumer only return once it is closed.
	gw.publicServer.RegisterOnShutdown(gw.registry.CloseAll)
	gw.privateServer = &http.Server{
		Addr:              cfg.Server.PrivateAddr,
		Handler:           gw.PrivateHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Registry returns the consumer registry.
func (g *Gateway) Registry() *consumer.Registry {
	return g.registry
}

// setupListeners creates TCP listeners for the public and private servers.
func (g *Gateway) setupListeners() (publicLn, privateLn net.Listener, err error) {
	g.logger.Info("starting hookrelay",
		"http_addr", g.config.Server.HTTPAddr,
		"private_addr", g.config.Server.PrivateAddr,
		"ws_path", g.config.Relay.WSPath,
		"ledger", g.ledger != nil,
	)

	publicLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	privateLn, err = net.Listen("tcp", g.config.Server.PrivateAddr)
	if err != nil {
		_ = publicLn.Close()
		return nil, nil, fmt.Errorf("listening on private address: %w", err)
	}

	return publicLn, privateLn, nil
}

// startServers starts both HTTP servers in goroutines, returning an error channel.
func (g *Gateway) startServers(publicLn, privateLn net.Listener) chan error {
	errCh := make(chan error, 2)

	go func() {
		g.logger.Info("public server listening", "addr", publicLn.Addr().String())
		if err := g.publicServer.Serve(publicLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("public server: %w", err)
		}
	}()

	go func() {
		g.logger.Info("private server listening", "addr", privateLn.Addr().String())
		if err := g.privateServer.Serve(privateLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("private server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		g.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (g *Gateway) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		g.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// Run starts both listeners and blocks until ctx is canceled or a server
// fails. It returns nil on a clean shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	publicLn, privateLn, err := g.setupListeners()
	if err != nil {
		return err
	}

	errCh := g.startServers(publicLn, privateLn)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops both servers, disconnects every consumer (failing their
// pending exchanges) and closes the ledger.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down hookrelay", "consumers", g.registry.Len())

	var errs []error
	// Closes consumers through RegisterOnShutdown while handlers drain.
	errs = appendCloseError(errs, "public shutdown", g.publicServer.Shutdown(ctx))

	// Consumers that registered while the server was draining.
	g.registry.CloseAll()

	errs = appendCloseError(errs, "private shutdown", g.privateServer.Shutdown(ctx))
	if g.ledger != nil {
		errs = appendCloseError(errs, "ledger close", g.ledger.Close())
	}
	g.late.Close()

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

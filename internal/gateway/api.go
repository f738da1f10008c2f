// ABOUTME: HTTP handlers for webhook delivery (/wh) and provisioning exchanges (/wh/settings)
// ABOUTME: Parses JSON payloads, looks up the consumer by fqn and maps exchange failures to HTTP errors

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"time"

	"github.com/2389/hookrelay/internal/consumer"
	"github.com/2389/hookrelay/internal/metrics"
	"github.com/2389/hookrelay/internal/store"
)

// Error messages returned to HTTP callers.
const (
	errInvalidJSON     = "invalid JSON body"
	errBodyTooLarge    = "request body too large"
	errExchangeTimeout = "consumer did not reply in time"
	errInvalidReply    = "consumer sent an invalid reply"
	errDisconnected    = "consumer disconnected"
	errUnreachable     = "failed to reach consumer"
)

// errNotObject is returned by readPayload for JSON that is not an object.
var errNotObject = errors.New("payload is not a JSON object")

// payload is a parsed webhook body. Raw is the body exactly as received.
type payload struct {
	Raw    []byte
	Fields map[string]json.RawMessage
}

// FQN returns the "fqn" field, or "" when it is missing or not a string.
func (p payload) FQN() string {
	raw, ok := p.Fields["fqn"]
	if !ok {
		return ""
	}
	var fqn string
	if err := json.Unmarshal(raw, &fqn); err != nil {
		return ""
	}
	return fqn
}

// formContentType bodies are relayed as a JSON object of their fields.
const formContentType = "application/x-www-form-urlencoded"

// readPayload reads a bounded JSON object body, or a form body converted to one.
func (g *Gateway) readPayload(w http.ResponseWriter, r *http.Request) (payload, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, g.config.Relay.MaxBodyBytes))
	if err != nil {
		return payload{}, fmt.Errorf("reading body: %w", err)
	}

	if mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mediaType == formContentType {
		return formPayload(body)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return payload{}, fmt.Errorf("decoding body: %w", err)
	}
	if fields == nil {
		return payload{}, errNotObject
	}
	return payload{Raw: body, Fields: fields}, nil
}

// formPayload converts a urlencoded body into a JSON object. A key given once
// becomes a string; a repeated key becomes an array of strings.
func formPayload(body []byte) (payload, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return payload{}, fmt.Errorf("decoding form body: %w", err)
	}

	fields := make(map[string]json.RawMessage, len(values))
	for key, vals := range values {
		var encoded []byte
		if len(vals) == 1 {
			encoded, err = json.Marshal(vals[0])
		} else {
			encoded, err = json.Marshal(vals)
		}
		if err != nil {
			return payload{}, fmt.Errorf("encoding form field %q: %w", key, err)
		}
		fields[key] = encoded
	}

	raw, err := json.Marshal(fields)
	if err != nil {
		return payload{}, fmt.Errorf("encoding form body: %w", err)
	}
	return payload{Raw: raw, Fields: fields}, nil
}

// rejectPayload writes the 400 or 413 for a body readPayload refused.
func (g *Gateway) rejectPayload(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		g.sendJSONError(w, http.StatusRequestEntityTooLarge, errBodyTooLarge)
		return
	}
	g.logger.Debug("rejecting webhook body", "error", err)
	g.sendJSONError(w, http.StatusBadRequest, errInvalidJSON)
}

// handleWebhook forwards the body verbatim to the consumer registered for
// its fqn. The caller always gets an empty 200, whether or not anyone was
// listening.
func (g *Gateway) handleWebhook(w http.ResponseWriter, r *http.Request) {
	p, err := g.readPayload(w, r)
	if err != nil {
		g.rejectPayload(w, err)
		return
	}

	fqn := p.FQN()
	conn, ok := g.registry.Lookup(fqn)
	if !ok {
		g.metrics.WebhookDropped()
		g.logger.Debug("no consumer for webhook, dropping", "fqn", fqn)
		g.recordEvent(r.Context(), &store.RelayEvent{FQN: fqn, Kind: store.EventWebhookDropped})
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := conn.Send(p.Raw); err != nil {
		g.logger.Warn("failed to forward webhook",
			"fqn", fqn,
			"connection_id", conn.ID,
			"error", err,
		)
	} else {
		g.metrics.WebhookForwarded()
		g.recordEvent(r.Context(), &store.RelayEvent{
			FQN:          fqn,
			Kind:         store.EventWebhookForwarded,
			ConnectionID: conn.ID,
		})
	}

	w.WriteHeader(http.StatusOK)
}

// handleSettings runs a provisioning exchange with the consumer for the
// body's fqn and returns its reply. With no consumer it answers {}.
func (g *Gateway) handleSettings(w http.ResponseWriter, r *http.Request) {
	p, err := g.readPayload(w, r)
	if err != nil {
		g.rejectPayload(w, err)
		return
	}

	fqn := p.FQN()
	conn, ok := g.registry.Lookup(fqn)
	if !ok {
		g.metrics.Exchange(metrics.OutcomeNoConsumer, 0)
		g.logger.Debug("no consumer for provisioning request", "fqn", fqn)
		writeJSON(w, http.StatusOK, json.RawMessage(`{}`))
		return
	}

	start := time.Now()
	reply, err := conn.Provision(r.Context(), p.Fields, g.config.Relay.ProvisioningTimeout)
	elapsed := time.Since(start)

	if err == nil {
		g.metrics.Exchange(metrics.OutcomeResolved, elapsed)
		g.recordEvent(r.Context(), &store.RelayEvent{
			FQN:           fqn,
			Kind:          store.EventExchangeResolved,
			ConnectionID:  conn.ID,
			CorrelationID: reply.CorrelationID,
			Detail:        elapsed.Round(time.Millisecond).String(),
		})
		writeJSON(w, http.StatusOK, reply.Body)
		return
	}

	outcome, status, message := classifyExchangeError(err)
	g.metrics.Exchange(outcome, elapsed)
	g.logger.Warn("provisioning exchange failed",
		"fqn", fqn,
		"connection_id", conn.ID,
		"correlation_id", reply.CorrelationID,
		"outcome", outcome,
		"elapsed", elapsed,
		"error", err,
	)
	// The request context may be gone; the ledger write must not depend on it.
	g.recordEvent(context.WithoutCancel(r.Context()), &store.RelayEvent{
		FQN:           fqn,
		Kind:          store.EventExchangeFailed,
		ConnectionID:  conn.ID,
		CorrelationID: reply.CorrelationID,
		Detail:        outcome,
	})

	if outcome == metrics.OutcomeCancelled {
		return
	}
	g.sendJSONError(w, status, message)
}

// classifyExchangeError maps a Provision error to a metrics outcome and the
// HTTP response for the caller.
func classifyExchangeError(err error) (outcome string, status int, message string) {
	switch {
	case errors.Is(err, consumer.ErrExchangeTimeout):
		return metrics.OutcomeTimeout, http.StatusGatewayTimeout, errExchangeTimeout
	case errors.Is(err, consumer.ErrInvalidReply):
		return metrics.OutcomeInvalidReply, http.StatusBadGateway, errInvalidReply
	case errors.Is(err, consumer.ErrConnectionClosed):
		return metrics.OutcomeDisconnected, http.StatusBadGateway, errDisconnected
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return metrics.OutcomeCancelled, 0, ""
	default:
		return metrics.OutcomeSendFailed, http.StatusBadGateway, errUnreachable
	}
}

// writeJSON writes a pre-encoded JSON body.
func writeJSON(w http.ResponseWriter, status int, body json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

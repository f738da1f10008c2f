// ABOUTME: Synchronous provisioning request/response over a consumer's WebSocket.
// ABOUTME: Correlates replies by ID and bounds every wait by a timeout and the caller's context.

package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventTypeProvisioning marks a provisioning request frame.
const EventTypeProvisioning = "SETTINGS_PROVISIONING"

const (
	fieldEventType     = "eventType"
	fieldCorrelationID = "correlationId"
)

var (
	// ErrExchangeTimeout means the consumer did not reply within the timeout.
	ErrExchangeTimeout = errors.New("consumer did not reply in time")

	// ErrInvalidReply means the consumer's reply was not valid JSON.
	ErrInvalidReply = errors.New("consumer sent an invalid reply")

	// ErrSendFailed means the request frame could not be written.
	ErrSendFailed = errors.New("failed to reach consumer")
)

// Reply is the outcome of one provisioning exchange. CorrelationID is set
// even when Provision returns an error.
type Reply struct {
	CorrelationID string
	Body          json.RawMessage
}

// Provision sends payload to the consumer as a provisioning request and waits
// for the correlated reply. A zero timeout waits on ctx alone.
//
// Reply.Body is the consumer's reply with correlationId removed. On timeout
// or cancellation the correlation ID is remembered so a reply that shows up
// later is reported as late.
func (c *Connection) Provision(ctx context.Context, payload map[string]json.RawMessage, timeout time.Duration) (Reply, error) {
	reply := Reply{CorrelationID: uuid.NewString()}
	id := reply.CorrelationID

	frame, err := provisioningFrame(payload, id)
	if err != nil {
		return reply, err
	}

	ch := make(chan result, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return reply, ErrConnectionClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.Send(frame); err != nil {
		c.abandon(id, ch, false)
		if errors.Is(err, ErrConnectionClosed) {
			return reply, err
		}
		return reply, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	c.logger.Debug("provisioning request sent", "correlation_id", id)

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	var res result
	select {
	case res = <-ch:
	case <-expired:
		var ok bool
		if res, ok = c.abandon(id, ch, true); !ok {
			res.err = ErrExchangeTimeout
		}
	case <-ctx.Done():
		var ok bool
		if res, ok = c.abandon(id, ch, true); !ok {
			res.err = ctx.Err()
		}
	}
	reply.Body = res.body
	return reply, res.err
}

// abandon removes a pending exchange. If the entry is already gone a result
// is on its way, so that result is returned instead and a reply racing the
// deadline is not lost.
func (c *Connection) abandon(id string, ch chan result, markLate bool) (result, bool) {
	c.mu.Lock()
	_, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()

	if !ok {
		return <-ch, true
	}
	if markLate && c.late != nil {
		c.late.Mark(id)
	}
	return result{}, false
}

func provisioningFrame(payload map[string]json.RawMessage, id string) ([]byte, error) {
	fields := make(map[string]json.RawMessage, len(payload)+2)
	for k, v := range payload {
		fields[k] = v
	}
	eventType, _ := json.Marshal(EventTypeProvisioning)
	correlation, _ := json.Marshal(id)
	fields[fieldEventType] = eventType
	fields[fieldCorrelationID] = correlation

	frame, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode provisioning request: %w", err)
	}
	return frame, nil
}

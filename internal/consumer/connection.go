// ABOUTME: A single consumer WebSocket bound to one fqn for its lifetime.
// ABOUTME: Serializes writes, holds pending provisioning exchanges and routes replies by correlation ID.

package consumer

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/hookrelay/internal/expiry"
)

// ErrConnectionClosed is returned for writes and exchanges on a closed connection.
var ErrConnectionClosed = errors.New("consumer connection closed")

// Transport is the part of *websocket.Conn a Connection writes through.
type Transport interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Recorder receives registry and reply-routing observations.
type Recorder interface {
	ConsumerRegistered(active int)
	ConsumerUnregistered(active int)
	LateReply()
}

type nopRecorder struct{}

func (nopRecorder) ConsumerRegistered(int)   {}
func (nopRecorder) ConsumerUnregistered(int) {}
func (nopRecorder) LateReply()               {}

// Key builds the registry key for a tenant and room.
func Key(tenant, room string) string {
	return tenant + "/" + room
}

// result is delivered exactly once to a pending exchange.
type result struct {
	body json.RawMessage
	err  error
}

// ConnectionParams holds the parameters for creating a new Connection.
type ConnectionParams struct {
	ID         string
	Tenant     string
	Room       string
	RemoteAddr string
	Transport  Transport
	WriteWait  time.Duration
	Late       *expiry.Set // optional; abandoned correlation IDs
	Recorder   Recorder    // optional
	Logger     *slog.Logger
}

// Connection is one consumer WebSocket.
type Connection struct {
	ID          string
	FQN         string
	Tenant      string
	Room        string
	RemoteAddr  string
	ConnectedAt time.Time

	transport Transport
	writeWait time.Duration
	writeMu   sync.Mutex

	mu      sync.Mutex
	pending map[string]chan result
	closed  bool
	done    chan struct{}

	late     *expiry.Set
	recorder Recorder
	logger   *slog.Logger
}

// NewConnection creates a Connection from the given parameters.
func NewConnection(p ConnectionParams) *Connection {
	recorder := p.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	fqn := Key(p.Tenant, p.Room)
	return &Connection{
		ID:          p.ID,
		FQN:         fqn,
		Tenant:      p.Tenant,
		Room:        p.Room,
		RemoteAddr:  p.RemoteAddr,
		ConnectedAt: time.Now(),
		transport:   p.Transport,
		writeWait:   p.WriteWait,
		pending:     make(map[string]chan result),
		done:        make(chan struct{}),
		late:        p.Late,
		recorder:    recorder,
		logger:      logger.With("fqn", fqn, "connection_id", p.ID),
	}
}

// Send writes data to the consumer as one text frame.
func (c *Connection) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.isClosed() {
		return ErrConnectionClosed
	}
	if c.writeWait > 0 {
		if err := c.transport.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}
	if err := c.transport.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write to consumer: %w", err)
	}
	return nil
}

// Ping sends a ping control frame. WriteControl may run alongside Send.
func (c *Connection) Ping() error {
	if c.isClosed() {
		return ErrConnectionClosed
	}
	wait := c.writeWait
	if wait <= 0 {
		wait = 10 * time.Second
	}
	return c.transport.WriteControl(websocket.PingMessage, nil, time.Now().Add(wait))
}

// Close fails every pending exchange with ErrConnectionClosed and closes the
// transport. Safe to call more than once.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	for id, ch := range c.pending {
		ch <- result{err: ErrConnectionClosed}
		delete(c.pending, id)
	}
	c.mu.Unlock()

	return c.transport.Close()
}

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// PendingCount returns the number of outstanding provisioning exchanges.
func (c *Connection) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// HandleMessage routes one inbound frame from the consumer. Frames that do
// not resolve an exchange are logged and discarded.
func (c *Connection) HandleMessage(data []byte) {
	var fields map[string]json.RawMessage
	isObject := json.Unmarshal(data, &fields) == nil && fields != nil

	if isObject {
		if id, ok := correlationID(fields); ok {
			c.resolveByID(id, fields)
			return
		}
	}

	ch, ok := c.takeOnlyPending()
	if !ok {
		c.logger.Debug("discarding unsolicited consumer message", "bytes", len(data))
		return
	}
	if !json.Valid(data) {
		c.logger.Warn("consumer sent an unparseable reply", "bytes", len(data))
		ch <- result{err: ErrInvalidReply}
		return
	}
	ch <- result{body: append(json.RawMessage(nil), data...)}
}

func (c *Connection) resolveByID(id string, fields map[string]json.RawMessage) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		if c.late != nil && c.late.Take(id) {
			c.recorder.LateReply()
			c.logger.Warn("late provisioning reply", "correlation_id", id)
			return
		}
		c.logger.Warn("reply for unknown exchange", "correlation_id", id)
		return
	}

	delete(fields, fieldCorrelationID)
	body, err := json.Marshal(fields)
	if err != nil {
		ch <- result{err: fmt.Errorf("%w: %v", ErrInvalidReply, err)}
		return
	}
	ch <- result{body: body}
}

// takeOnlyPending removes and returns the pending exchange when exactly one
// is outstanding.
func (c *Connection) takeOnlyPending() (chan result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pending) != 1 {
		if len(c.pending) > 1 {
			c.logger.Warn("uncorrelated reply with several exchanges pending", "pending", len(c.pending))
		}
		return nil, false
	}
	for id, ch := range c.pending {
		delete(c.pending, id)
		return ch, true
	}
	return nil, false
}

func correlationID(fields map[string]json.RawMessage) (string, bool) {
	raw, ok := fields[fieldCorrelationID]
	if !ok {
		return "", false
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil || id == "" {
		return "", false
	}
	return id, true
}

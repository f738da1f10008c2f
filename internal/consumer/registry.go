// ABOUTME: Registry of consumer connections keyed by fqn, one connection per key.
// ABOUTME: Last registration wins; identity-checked removal keeps stale closes from evicting newer consumers.

package consumer

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Info is a point-in-time view of a registered consumer.
type Info struct {
	ID          string    `json:"id"`
	FQN         string    `json:"fqn"`
	Tenant      string    `json:"tenant"`
	Room        string    `json:"room"`
	RemoteAddr  string    `json:"remote_addr,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
	Pending     int       `json:"pending_exchanges"`
}

// Registry maps fqn to the consumer currently attached to it.
type Registry struct {
	conns    map[string]*Connection
	mu       sync.RWMutex
	recorder Recorder
	logger   *slog.Logger
}

// NewRegistry creates an empty Registry. recorder may be nil.
func NewRegistry(recorder Recorder, logger *slog.Logger) *Registry {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Registry{
		conns:    make(map[string]*Connection),
		recorder: recorder,
		logger:   logger,
	}
}

// Register stores conn under its fqn, replacing any existing entry. The
// replaced connection is returned and left open.
func (r *Registry) Register(conn *Connection) *Connection {
	r.mu.Lock()
	prev := r.conns[conn.FQN]
	r.conns[conn.FQN] = conn
	active := len(r.conns)
	r.mu.Unlock()

	r.recorder.ConsumerRegistered(active)
	if prev != nil && prev != conn {
		r.logger.Info("consumer superseded",
			"fqn", conn.FQN,
			"connection_id", conn.ID,
			"previous_connection_id", prev.ID,
		)
	}
	r.logger.Info("consumer registered",
		"fqn", conn.FQN,
		"connection_id", conn.ID,
		"total_consumers", active,
	)
	if prev == conn {
		return nil
	}
	return prev
}

// Unregister removes the entry for fqn only if it is still conn. It reports
// whether anything was removed.
func (r *Registry) Unregister(fqn string, conn *Connection) bool {
	r.mu.Lock()
	current, ok := r.conns[fqn]
	if !ok || current != conn {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, fqn)
	active := len(r.conns)
	r.mu.Unlock()

	r.recorder.ConsumerUnregistered(active)
	r.logger.Info("consumer unregistered",
		"fqn", fqn,
		"connection_id", conn.ID,
		"total_consumers", active,
	)
	return true
}

// Remove deletes the entry for fqn whoever owns it. Removing a missing key
// is a no-op.
func (r *Registry) Remove(fqn string) {
	r.mu.Lock()
	_, ok := r.conns[fqn]
	delete(r.conns, fqn)
	active := len(r.conns)
	r.mu.Unlock()

	if ok {
		r.recorder.ConsumerUnregistered(active)
		r.logger.Info("consumer removed", "fqn", fqn, "total_consumers", active)
	}
}

// Lookup returns the consumer registered for fqn.
func (r *Registry) Lookup(fqn string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[fqn]
	return conn, ok
}

// List returns every registered consumer ordered by fqn.
func (r *Registry) List() []Info {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	infos := make([]Info, 0, len(conns))
	for _, c := range conns {
		infos = append(infos, Info{
			ID:          c.ID,
			FQN:         c.FQN,
			Tenant:      c.Tenant,
			Room:        c.Room,
			RemoteAddr:  c.RemoteAddr,
			ConnectedAt: c.ConnectedAt,
			Pending:     c.PendingCount(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].FQN < infos[j].FQN })
	return infos
}

// Len returns the number of registered consumers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CloseAll removes and closes every consumer. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]*Connection)
	r.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
	r.recorder.ConsumerUnregistered(0)
}

// ABOUTME: In-memory Transport used by consumer tests in place of a WebSocket.
// ABOUTME: Records written frames and can be told to fail writes.

package consumer

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"
)

var errWriteFailed = errors.New("broken pipe")

type mockTransport struct {
	mu       sync.Mutex
	frames   [][]byte
	pings    int
	closed   bool
	failNext bool
	written  chan []byte
}

func newMockTransport() *mockTransport {
	return &mockTransport{written: make(chan []byte, 64)}
}

func (m *mockTransport) WriteMessage(_ int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext {
		m.failNext = false
		return errWriteFailed
	}
	frame := append([]byte(nil), data...)
	m.frames = append(m.frames, frame)
	m.written <- frame
	return nil
}

func (m *mockTransport) SetWriteDeadline(time.Time) error { return nil }

func (m *mockTransport) WriteControl(int, []byte, time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pings++
	return nil
}

func (m *mockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockTransport) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockTransport) getFrames() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.frames))
	copy(out, m.frames)
	return out
}

// nextFrame waits for the next written frame and decodes it.
func (m *mockTransport) nextFrame(t *testing.T) map[string]any {
	t.Helper()
	select {
	case frame := <-m.written:
		var decoded map[string]any
		if err := json.Unmarshal(frame, &decoded); err != nil {
			t.Fatalf("frame is not JSON: %v", err)
		}
		return decoded
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return nil
	}
}

type testRecorder struct {
	mu          sync.Mutex
	registered  int
	active      int
	lateReplies int
}

func (r *testRecorder) ConsumerRegistered(active int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registered++
	r.active = active
}

func (r *testRecorder) ConsumerUnregistered(active int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = active
}

func (r *testRecorder) LateReply() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lateReplies++
}

func (r *testRecorder) snapshot() (registered, active, late int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registered, r.active, r.lateReplies
}

func newTestConnection(id, tenant, room string, transport Transport) *Connection {
	return NewConnection(ConnectionParams{
		ID:        id,
		Tenant:    tenant,
		Room:      room,
		Transport: transport,
		WriteWait: time.Second,
		Logger:    slog.Default(),
	})
}

// ABOUTME: Tests for Connection writes, close semantics and inbound reply routing.
// ABOUTME: Uses an in-memory transport to observe frames without a real socket.

package consumer

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/hookrelay/internal/expiry"
)

func TestConnection_Send(t *testing.T) {
	tr := newMockTransport()
	conn := newTestConnection("c1", "acme", "lobby", tr)

	require.NoError(t, conn.Send([]byte(`{"fqn":"acme/lobby","n":1}`)))

	frames := tr.getFrames()
	require.Len(t, frames, 1)
	assert.Equal(t, `{"fqn":"acme/lobby","n":1}`, string(frames[0]))
}

func TestConnection_SendError(t *testing.T) {
	tr := newMockTransport()
	tr.failNext = true
	conn := newTestConnection("c1", "acme", "lobby", tr)

	err := conn.Send([]byte(`{}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, errWriteFailed)
}

func TestConnection_SendAfterClose(t *testing.T) {
	tr := newMockTransport()
	conn := newTestConnection("c1", "acme", "lobby", tr)

	require.NoError(t, conn.Close())
	assert.ErrorIs(t, conn.Send([]byte(`{}`)), ErrConnectionClosed)
	assert.ErrorIs(t, conn.Ping(), ErrConnectionClosed)
}

func TestConnection_CloseIsIdempotent(t *testing.T) {
	tr := newMockTransport()
	conn := newTestConnection("c1", "acme", "lobby", tr)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	assert.True(t, tr.isClosed())

	select {
	case <-conn.Done():
	default:
		t.Fatal("Done should be closed")
	}
}

func TestConnection_Ping(t *testing.T) {
	tr := newMockTransport()
	conn := newTestConnection("c1", "acme", "lobby", tr)

	require.NoError(t, conn.Ping())
	tr.mu.Lock()
	defer tr.mu.Unlock()
	assert.Equal(t, 1, tr.pings)
}

func TestConnection_UnsolicitedMessageIsDropped(t *testing.T) {
	conn := newTestConnection("c1", "acme", "lobby", newMockTransport())

	conn.HandleMessage([]byte(`{"hello":"world"}`))
	conn.HandleMessage([]byte(`not json`))
	conn.HandleMessage([]byte(`{"correlationId":"nobody-asked"}`))

	assert.Equal(t, 0, conn.PendingCount())
}

func TestConnection_LateReplyIsCountedOnce(t *testing.T) {
	late := expiry.New(time.Minute, 100)
	defer late.Close()
	rec := &testRecorder{}

	conn := NewConnection(ConnectionParams{
		ID:        "c1",
		Tenant:    "acme",
		Room:      "lobby",
		Transport: newMockTransport(),
		Late:      late,
		Recorder:  rec,
		Logger:    slog.Default(),
	})

	late.Mark("abandoned-1")
	conn.HandleMessage([]byte(`{"correlationId":"abandoned-1","ok":true}`))
	conn.HandleMessage([]byte(`{"correlationId":"abandoned-1","ok":true}`))

	_, _, lateReplies := rec.snapshot()
	assert.Equal(t, 1, lateReplies)
}

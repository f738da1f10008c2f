// ABOUTME: Tests for the consumer WebSocket lifecycle behind the auth gate
// ABOUTME: Covers registration, supersession, orphans, teardown and rejection counting

package gateway

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/hookrelay/internal/auth"
	"github.com/2389/hookrelay/internal/config"
	"github.com/2389/hookrelay/internal/store"
)

func TestConsumer_RegisterAndLookup(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "acme", "room1")

	conn, ok := h.gw.registry.Lookup("acme/room1")
	require.True(t, ok)
	assert.Equal(t, "acme", conn.Tenant)
	assert.Equal(t, "room1", conn.Room)
	assert.NotEmpty(t, conn.ID)

	assert.Equal(t, 1.0, metricValue(t, h, "hookrelay_clients_connected_total", nil))
	assert.Equal(t, 1.0, metricValue(t, h, "hookrelay_consumers_active", nil))
	assert.Contains(t, eventKinds(h.ledger), store.EventConnected)
}

func TestConsumer_QueryTokenFallback(t *testing.T) {
	h := newHarness(t)

	ws, _, err := websocket.DefaultDialer.Dial(h.wsURL("tenant=acme&room=room1&token="+testSecret), nil)
	require.NoError(t, err)
	defer ws.Close()

	require.Eventually(t, func() bool {
		_, ok := h.gw.registry.Lookup("acme/room1")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConsumer_BadCredentialTearsDownSocket(t *testing.T) {
	h := newHarness(t)

	for _, query := range []string{
		"tenant=acme&room=room1",
		"tenant=acme&room=room1&token=wrong",
	} {
		ws, resp, err := websocket.DefaultDialer.Dial(h.wsURL(query), nil)
		require.Error(t, err, query)
		if ws != nil {
			ws.Close()
		}
		assert.Nil(t, resp, "no handshake response expected for %s", query)
	}

	assert.Equal(t, 2.0, metricValue(t, h, "hookrelay_unauthorized_requests_total",
		map[string]string{"method": auth.MethodUpgrade}))
	assert.Equal(t, 0, h.gw.registry.Len())
}

func TestHTTP_BadCredentialIsCountedOnce(t *testing.T) {
	h := newHarness(t)

	for _, secret := range []string{"", "wrong"} {
		resp, body := h.postWithAuth(t, "/wh", `{"fqn":"acme/room1"}`, secret)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.JSONEq(t, `{"error":"bad credentials"}`, body)
	}
	resp, _ := h.postWithAuth(t, "/wh/settings", `{"fqn":"acme/room1"}`, "wrong")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	assert.Equal(t, 3.0, metricValue(t, h, "hookrelay_unauthorized_requests_total",
		map[string]string{"method": http.MethodPost}))
}

func TestHTTP_QueryTokenOnlyHonouredOnUpgradeRoute(t *testing.T) {
	h := newHarness(t)
	ws := h.connect(t, "acme", "room1")

	req, err := http.NewRequest(http.MethodPost, h.public.URL+"/wh?token="+testSecret,
		strings.NewReader(`{"fqn":"acme/room1","foo":1}`))
	require.NoError(t, err)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.JSONEq(t, `{"error":"bad credentials"}`, string(body))
	assert.Equal(t, 1.0, metricValue(t, h, "hookrelay_unauthorized_requests_total",
		map[string]string{"method": http.MethodPost}))
	assert.Equal(t, 0.0, metricValue(t, h, "hookrelay_unauthorized_requests_total",
		map[string]string{"method": auth.MethodUpgrade}))

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err = ws.ReadMessage()
	assert.Error(t, err, "the webhook must not be forwarded")
}

func TestHTTP_UnroutedRequestsAreGated(t *testing.T) {
	h := newHarness(t)

	resp, body := h.postWithAuth(t, "/nope", `{}`, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.JSONEq(t, `{"error":"bad credentials"}`, body)

	resp, _ = h.post(t, "/nope", `{}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = h.post(t, "/ws", `{}`)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestConsumer_SecondConnectionSupersedesFirst(t *testing.T) {
	h := newHarness(t)
	first := h.connect(t, "acme", "room1")
	firstConn, _ := h.gw.registry.Lookup("acme/room1")

	second := h.connect(t, "acme", "room1")
	require.Eventually(t, func() bool {
		c, _ := h.gw.registry.Lookup("acme/room1")
		return c != firstConn
	}, 2*time.Second, 10*time.Millisecond)
	secondConn, _ := h.gw.registry.Lookup("acme/room1")

	// Webhooks go to the newest consumer.
	h.post(t, "/wh", `{"fqn":"acme/room1","n":1}`)
	assert.Equal(t, float64(1), readFrame(t, second)["n"])

	// The superseded consumer closing must not evict the new one.
	require.NoError(t, first.Close())
	time.Sleep(100 * time.Millisecond)

	got, ok := h.gw.registry.Lookup("acme/room1")
	require.True(t, ok)
	assert.Same(t, secondConn, got)
	assert.Contains(t, eventKinds(h.ledger), store.EventSuperseded)
}

func TestConsumer_CloseRemovesRegistration(t *testing.T) {
	h := newHarness(t)
	ws := h.connect(t, "acme", "room1")

	require.NoError(t, ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	require.NoError(t, ws.Close())

	require.Eventually(t, func() bool {
		_, ok := h.gw.registry.Lookup("acme/room1")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)

	resp, body := h.post(t, "/wh", `{"fqn":"acme/room1","foo":1}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body)

	require.Eventually(t, func() bool {
		return metricValue(t, h, "hookrelay_consumers_active", nil) == 0
	}, 2*time.Second, 10*time.Millisecond)
	kinds := eventKinds(h.ledger)
	assert.Contains(t, kinds, store.EventDisconnected)
	assert.Contains(t, kinds, store.EventWebhookDropped)
}

func TestConsumer_OrphanIsNeverRegistered(t *testing.T) {
	h := newHarness(t)
	header := http.Header{}
	header.Set("Authorization", testSecret)

	ws, resp, err := websocket.DefaultDialer.Dial(h.wsURL("tenant=acme"), header)
	require.NoError(t, err)
	defer ws.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	// Messages from an orphan are read and discarded.
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"hello":"?"}`)))

	require.Eventually(t, func() bool {
		for _, k := range eventKinds(h.ledger) {
			if k == store.EventOrphaned {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 0, h.gw.registry.Len())
	assert.Equal(t, 0.0, metricValue(t, h, "hookrelay_clients_connected_total", nil))
}

func TestConsumer_OversizedMessageClosesConnection(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Relay.MaxMessageBytes = 64 })
	ws := h.connect(t, "acme", "room1")

	big := make([]byte, 256)
	for i := range big {
		big[i] = 'x'
	}
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, big))

	require.Eventually(t, func() bool {
		_, ok := h.gw.registry.Lookup("acme/room1")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConsumer_KeepalivePings(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Relay.PingInterval = 50 * time.Millisecond
		c.Relay.PongWait = time.Second
	})
	ws := h.connect(t, "acme", "room1")

	pinged := make(chan struct{}, 1)
	ws.SetPingHandler(func(data string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	// Control frames are processed inside ReadMessage.
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("no ping received")
	}

	// Answering pongs keeps the consumer registered past PongWait.
	time.Sleep(1200 * time.Millisecond)
	_, ok := h.gw.registry.Lookup("acme/room1")
	assert.True(t, ok)
}

func TestUpgrader_AllowedOrigins(t *testing.T) {
	up := newUpgrader([]string{"https://ok.example"})

	req, _ := http.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, up.CheckOrigin(req), "no Origin header")

	req.Header.Set("Origin", "https://ok.example")
	assert.True(t, up.CheckOrigin(req))

	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, up.CheckOrigin(req))

	open := newUpgrader(nil)
	assert.True(t, open.CheckOrigin(req))
}

// ABOUTME: Minimal fake consumer for E2E testing: connects over WebSocket, prints webhooks, answers provisioning.
// ABOUTME: Usage: fake-consumer [-url ws://localhost:18080/ws] [-tenant acme] [-room lobby] [-secret s]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	rawURL := flag.String("url", "ws://localhost:18080/ws", "relay WebSocket URL")
	tenant := flag.String("tenant", "acme", "tenant to register under")
	room := flag.String("room", "lobby", "room to register under")
	secret := flag.String("secret", os.Getenv("SHARED_SECRET"), "shared secret")
	reply := flag.String("reply", `{"ok":true}`, "JSON object returned to provisioning requests")
	legacy := flag.Bool("legacy", false, "reply without echoing correlationId")
	flag.Parse()

	if err := run(*rawURL, *tenant, *room, *secret, *reply, *legacy); err != nil {
		log.Fatal(err)
	}
}

func run(rawURL, tenant, room, secret, reply string, legacy bool) error {
	var replyFields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(reply), &replyFields); err != nil {
		return fmt.Errorf("-reply must be a JSON object: %w", err)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parsing url: %w", err)
	}
	q := u.Query()
	q.Set("tenant", tenant)
	q.Set("room", room)
	u.RawQuery = q.Encode()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	header := http.Header{}
	header.Set("Authorization", secret)
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer ws.Close()
	fmt.Fprintf(os.Stderr, "connected as %s/%s\n", tenant, room)

	go func() {
		<-ctx.Done()
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(time.Second))
		_ = ws.Close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		var msg map[string]json.RawMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			fmt.Fprintf(os.Stderr, "non-JSON frame: %s\n", data)
			continue
		}

		var eventType string
		_ = json.Unmarshal(msg["eventType"], &eventType)
		if eventType != "SETTINGS_PROVISIONING" {
			fmt.Printf("webhook: %s\n", data)
			continue
		}

		fmt.Printf("provisioning: %s\n", data)
		out := make(map[string]json.RawMessage, len(replyFields)+1)
		for k, v := range replyFields {
			out[k] = v
		}
		if id, ok := msg["correlationId"]; ok && !legacy {
			out["correlationId"] = id
		}
		frame, err := json.Marshal(out)
		if err != nil {
			return errors.New("encoding reply")
		}
		if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
			return fmt.Errorf("write: %w", err)
		}
	}
}

package solana

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// slotServer confirms every slotSubscribe with subID and then pushes slots.
func slotServer(t *testing.T, subID int64, slots []uint64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer c.Close()

		_, msg, err := c.ReadMessage()
		if err != nil {
			return
		}

		var req wsRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			t.Errorf("unmarshal request: %v", err)
			return
		}
		if req.Method != "slotSubscribe" {
			t.Errorf("expected slotSubscribe, got %s", req.Method)
		}

		if err := c.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": subID}); err != nil {
			t.Errorf("write response: %v", err)
			return
		}

		time.Sleep(50 * time.Millisecond)
		for _, slot := range slots {
			notif := map[string]interface{}{
				"jsonrpc": "2.0",
				"method":  "slotNotification",
				"params": map[string]interface{}{
					"subscription": subID,
					"result":       map[string]interface{}{"parent": slot - 1, "root": slot - 32, "slot": slot},
				},
			}
			if err := c.WriteJSON(notif); err != nil {
				t.Errorf("write notification: %v", err)
				return
			}
		}

		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestWSClient_Connect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	client, err := NewWSClient(context.Background(), wsURL(server), nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	if client.closed.Load() {
		t.Error("client should not be closed")
	}
}

func TestWSClient_SubscribeSlots(t *testing.T) {
	server := slotServer(t, 0, []uint64{100, 101})
	defer server.Close()

	client, err := NewWSClient(context.Background(), wsURL(server), nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := client.SubscribeSlots(ctx)
	if err != nil {
		t.Fatalf("SubscribeSlots: %v", err)
	}

	for _, want := range []uint64{100, 101} {
		select {
		case update := <-ch:
			if update.Slot != want {
				t.Errorf("expected slot %d, got %d", want, update.Slot)
			}
			if update.Parent != want-1 {
				t.Errorf("expected parent %d, got %d", want-1, update.Parent)
			}
		case <-ctx.Done():
			t.Fatalf("timeout waiting for slot %d", want)
		}
	}
}

func TestWSClient_CloseClosesChannel(t *testing.T) {
	server := slotServer(t, 7, nil)
	defer server.Close()

	client, err := NewWSClient(context.Background(), wsURL(server), nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}

	ch, err := client.SubscribeSlots(context.Background())
	if err != nil {
		t.Fatalf("SubscribeSlots: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after Close")
	}

	// Double close is a no-op.
	if err := client.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestWSClient_SubscribeAfterClose(t *testing.T) {
	server := slotServer(t, 1, nil)
	defer server.Close()

	client, err := NewWSClient(context.Background(), wsURL(server), nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	client.Close()

	if _, err := client.SubscribeSlots(context.Background()); err == nil {
		t.Error("expected error subscribing on closed client")
	}
}

func TestWSClient_SubscribeTimeout(t *testing.T) {
	// Server never confirms.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	client, err := NewWSClient(context.Background(), wsURL(server), &WSClientConfig{
		SubscribeTimeout: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	if client.config.PingInterval != DefaultWSConfig().PingInterval {
		t.Errorf("expected default ping interval, got %s", client.config.PingInterval)
	}

	if _, err := client.SubscribeSlots(context.Background()); err == nil {
		t.Error("expected subscription timeout")
	}
}

func TestWSClient_DialError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := NewWSClient(ctx, "ws://127.0.0.1:1", nil); err == nil {
		t.Error("expected dial error")
	}
}

func TestWSClient_ResubscribesAfterDrop(t *testing.T) {
	var conns atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		n := conns.Add(1)

		var req wsRequest
		if err := c.ReadJSON(&req); err != nil {
			return
		}
		// The second server numbers subscriptions from scratch.
		subID := int64(5)
		if n > 1 {
			subID = 0
		}
		if err := c.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": subID}); err != nil {
			return
		}
		if n == 1 {
			time.Sleep(50 * time.Millisecond)
			return // drop the first connection
		}

		notif := map[string]interface{}{
			"jsonrpc": "2.0",
			"method":  "slotNotification",
			"params": map[string]interface{}{
				"subscription": subID,
				"result":       map[string]interface{}{"parent": 199, "root": 168, "slot": 200},
			},
		}
		if err := c.WriteJSON(notif); err != nil {
			return
		}
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	client, err := NewWSClient(context.Background(), wsURL(server), &WSClientConfig{
		ReconnectDelay:    10 * time.Millisecond,
		MaxReconnectDelay: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	ch, err := client.SubscribeSlots(context.Background())
	if err != nil {
		t.Fatalf("SubscribeSlots: %v", err)
	}

	select {
	case update := <-ch:
		if update.Slot != 200 {
			t.Errorf("expected slot 200, got %d", update.Slot)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no slot after reconnect")
	}
	if got := conns.Load(); got < 2 {
		t.Errorf("expected a second connection, got %d", got)
	}
}

package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// dial connects a test client to the hub's httptest server.
func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// waitForClients polls until the hub sees n connected clients.
func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Count() != n {
		if time.Now().After(deadline) {
			t.Fatalf("hub has %d clients, want %d", hub.Count(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBroadcastReachesAllClients(t *testing.T) {
	hub := New()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	c1 := dial(t, srv)
	c2 := dial(t, srv)
	waitForClients(t, hub, 2)

	hub.Broadcast("batch", map[string]string{"measurement_id": "m-1"})

	for _, conn := range []*websocket.Conn{c1, c2} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read broadcast: %v", err)
		}
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("unmarshal broadcast: %v", err)
		}
		if msg.Event != "batch" {
			t.Errorf("event = %q, want %q", msg.Event, "batch")
		}
		data, ok := msg.Data.(map[string]any)
		if !ok || data["measurement_id"] != "m-1" {
			t.Errorf("data = %v, want measurement_id m-1", msg.Data)
		}
	}
}

func TestBroadcastWithoutClients(t *testing.T) {
	hub := New()
	// Must not panic or block.
	hub.Broadcast("batch", map[string]int{"cells": 3})
	if hub.Count() != 0 {
		t.Errorf("count = %d, want 0", hub.Count())
	}
}

func TestBroadcastConcurrentWithDisconnects(t *testing.T) {
	hub := New()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	// Uploads broadcast from arbitrary goroutines while clients come and
	// go; a disconnect mid-broadcast must never take the hub down.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					hub.Broadcast("batch", map[string]int{"cells": 1})
				}
			}
		}()
	}

	for i := 0; i < 30; i++ {
		url := "ws" + strings.TrimPrefix(srv.URL, "http")
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			t.Fatalf("dial %d: %v", i, err)
		}
		conn.Close()
	}

	close(stop)
	wg.Wait()
	waitForClients(t, hub, 0)
}

func TestClientDisconnectUnregisters(t *testing.T) {
	hub := New()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)
}

func TestRunClosesClientsOnCancel(t *testing.T) {
	hub := New()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	conn := dial(t, srv)
	waitForClients(t, hub, 1)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	// The server sends a close frame; the next read must fail.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) &&
				!strings.Contains(err.Error(), "close") {
				t.Logf("connection ended with: %v", err)
			}
			break
		}
	}
}

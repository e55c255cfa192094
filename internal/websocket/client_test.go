// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// dialTestClient stands up an HTTP server that upgrades one connection,
// registers it with the hub, and returns the caller's side of the socket.
func dialTestClient(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade: %v", err)
			return
		}
		client := NewClient(hub, conn)
		hub.Register <- client
		client.Start()
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })

	waitForClients(t, hub, 1)
	return conn
}

func TestNewClient_UniqueIDs(t *testing.T) {
	hub := NewHub()
	first := NewClient(hub, nil)
	second := NewClient(hub, nil)

	if first.ID() == second.ID() {
		t.Errorf("Expected distinct client IDs, both are %d", first.ID())
	}
	if second.ID() <= first.ID() {
		t.Errorf("Expected increasing IDs, got %d then %d", first.ID(), second.ID())
	}
}

func TestClient_ReceivesBroadcast(t *testing.T) {
	hub := startHub(t)
	conn := dialTestClient(t, hub)

	hub.BroadcastAlert(testAlert("alert-ws"))

	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline: %v", err)
	}

	var msg struct {
		Type string                 `json:"type"`
		Data map[string]interface{} `json:"data"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}

	if msg.Type != MessageTypeAlert {
		t.Errorf("Expected message type %q, got %q", MessageTypeAlert, msg.Type)
	}
	if msg.Data["alert_id"] != "alert-ws" {
		t.Errorf("Expected alert_id alert-ws, got %v", msg.Data["alert_id"])
	}
	if msg.Data["severity"] != "critical" {
		t.Errorf("Expected severity critical, got %v", msg.Data["severity"])
	}
}

func TestClient_PingPong(t *testing.T) {
	hub := startHub(t)
	conn := dialTestClient(t, hub)

	if err := conn.WriteJSON(Message{Type: MessageTypePing}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline: %v", err)
	}

	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if msg.Type != MessageTypePong {
		t.Errorf("Expected pong, got %q", msg.Type)
	}
}

func TestClient_UnregistersOnClose(t *testing.T) {
	hub := startHub(t)
	conn := dialTestClient(t, hub)

	_ = conn.Close()

	waitForClients(t, hub, 0)
}

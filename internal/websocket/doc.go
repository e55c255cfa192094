// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

/*
Package websocket provides the live alert feed for the ops API.

This package implements WebSocket support for pushing dispatched alerts to
connected clients in real time. It uses the gorilla/websocket library with a
hub-client architecture for efficient message broadcasting.

Key Components:

  - Hub: Central broker that manages client connections and broadcasts
  - Client: A single WebSocket connection with read/write goroutines
  - AlertFeed: Bridges the broker's alerts topic to the hub

Architecture:

The package implements a hub-and-spoke pattern:

	┌──────────┐
	│   Hub    │ ← Broadcasts to all clients
	└────┬─────┘
	     │
	┌────┴─────┬─────────┬─────────┐
	│          │         │         │
	│ Client1  │ Client2 │ Client3 │ Client4
	│          │         │         │
	└──────────┴─────────┴─────────┘

Each client has two goroutines:
  - readPump: Reads from WebSocket, handles pings
  - writePump: Writes to WebSocket, sends pings on an interval

Message Types:

  - alert: A dispatched anomaly alert (models.Alert)
  - ping/pong: Client liveness exchange

The AlertFeed subscribes to the alerts topic on the event broker, so every
alert the dispatcher publishes reaches connected dashboards regardless of
which process instance dispatched it. Both the feed and the hub run as
supervised services; the hub drops broadcasts rather than blocking when a
client's send buffer is full, so one slow dashboard cannot stall the feed.
*/
package websocket

// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package websocket

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/vigilosec/vigilo/internal/logging"
	"github.com/vigilosec/vigilo/internal/models"
)

// ErrSubscriptionClosed reports that the broker closed the alert
// subscription while the feed was still supposed to be running.
var ErrSubscriptionClosed = errors.New("alert subscription closed")

// AlertFeed bridges the broker's alerts topic to the WebSocket hub. Every
// alert the dispatcher publishes is decoded and broadcast to connected
// clients, so dashboards see alerts from every process instance, not just
// the local one.
type AlertFeed struct {
	hub   *Hub
	sub   message.Subscriber
	topic string
	log   zerolog.Logger
}

// NewAlertFeed creates a feed reading alerts from the given subscriber.
func NewAlertFeed(hub *Hub, sub message.Subscriber, topic string) *AlertFeed {
	return &AlertFeed{
		hub:   hub,
		sub:   sub,
		topic: topic,
		log:   logging.With().Str("component", "alert-feed").Logger(),
	}
}

// Serve consumes the alerts topic until the context is canceled. Malformed
// payloads are acked and skipped: redelivery cannot make them parse.
func (f *AlertFeed) Serve(ctx context.Context) error {
	messages, err := f.sub.Subscribe(ctx, f.topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", f.topic, err)
	}

	f.log.Info().Str("topic", f.topic).Msg("Alert feed started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg, ok := <-messages:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return ErrSubscriptionClosed
			}
			f.handle(msg)
		}
	}
}

// String identifies the feed in supervisor logs.
func (f *AlertFeed) String() string { return "alert-feed" }

func (f *AlertFeed) handle(msg *message.Message) {
	var alert models.Alert
	if err := json.Unmarshal(msg.Payload, &alert); err != nil {
		f.log.Warn().
			Err(err).
			Str("message_id", msg.UUID).
			Msg("Malformed alert on feed, skipping")
		msg.Ack()
		return
	}

	f.hub.BroadcastAlert(&alert)
	msg.Ack()
}

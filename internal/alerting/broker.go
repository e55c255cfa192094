// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package alerting

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/vigilosec/vigilo/internal/models"
)

// BrokerSink publishes alerts to the message broker, where the store
// writer and the websocket feed pick them up. The message UUID is the
// alert ID, which doubles as the JetStream dedup key.
type BrokerSink struct {
	publisher message.Publisher
	topic     string
}

// NewBrokerSink wraps an existing Watermill publisher.
func NewBrokerSink(publisher message.Publisher, topic string) *BrokerSink {
	return &BrokerSink{publisher: publisher, topic: topic}
}

// Name implements Sink.
func (s *BrokerSink) Name() string { return "broker" }

// Deliver implements Sink.
func (s *BrokerSink) Deliver(ctx context.Context, alert models.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	msg := message.NewMessage(alert.AlertID, payload)
	msg.Metadata.Set("session_id", alert.SessionID)
	msg.Metadata.Set("severity", string(alert.Severity))
	msg.SetContext(ctx)

	// Publish metrics are recorded by the transport's publisher wrapper.
	if err := s.publisher.Publish(s.topic, msg); err != nil {
		return fmt.Errorf("publish alert to %s: %w", s.topic, err)
	}
	return nil
}

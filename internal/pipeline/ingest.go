// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package pipeline

import (
	"fmt"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"

	"github.com/vigilosec/vigilo/internal/metrics"
	"github.com/vigilosec/vigilo/internal/normalizer"
	"github.com/vigilosec/vigilo/internal/session"
	"github.com/vigilosec/vigilo/internal/store"
)

// IngestHandler is the router handler for the raw telemetry topic. Each
// message is normalized and submitted to the session tracker; accepted
// events are also mirrored to the audit appender when one is wired.
//
// The error return decides the message's fate. Malformed and duplicate
// records return nil so the broker acks them: redelivery cannot change
// the outcome. Only a tracker submit failure returns an error, which
// puts the retry middleware and poison queue in play.
type IngestHandler struct {
	normalizer *normalizer.Normalizer
	tracker    *session.Tracker
	audit      *store.EventAppender
	topic      string
	log        zerolog.Logger

	received  atomic.Int64
	accepted  atomic.Int64
	malformed atomic.Int64
	duplicate atomic.Int64
}

func newIngestHandler(n *normalizer.Normalizer, tracker *session.Tracker, audit *store.EventAppender, topic string, log zerolog.Logger) *IngestHandler {
	return &IngestHandler{
		normalizer: n,
		tracker:    tracker,
		audit:      audit,
		topic:      topic,
		log:        log,
	}
}

// Handle processes one raw record from the broker.
func (h *IngestHandler) Handle(msg *message.Message) error {
	h.received.Add(1)
	metrics.RecordBrokerConsume(h.topic)

	ev, err := h.normalizer.Normalize(msg.Payload)
	if err != nil {
		h.malformed.Add(1)
		h.log.Debug().
			Err(err).
			Str("message_id", msg.UUID).
			Msg("malformed record dropped")
		return nil
	}
	if ev == nil {
		h.duplicate.Add(1)
		return nil
	}

	if err := h.tracker.Submit(msg.Context(), ev); err != nil {
		return fmt.Errorf("submit event for session %s: %w", ev.SessionID, err)
	}
	h.accepted.Add(1)

	if h.audit != nil {
		if err := h.audit.Append(msg.Context(), *ev); err != nil {
			h.log.Warn().Err(err).Str("session_id", ev.SessionID).Msg("audit append")
		}
	}
	return nil
}

// Stats returns a snapshot of handler counters.
func (h *IngestHandler) Stats() IngestStats {
	return IngestStats{
		Received:  h.received.Load(),
		Accepted:  h.accepted.Load(),
		Malformed: h.malformed.Load(),
		Duplicate: h.duplicate.Load(),
	}
}

// IngestStats is a point-in-time snapshot of ingest counters.
type IngestStats struct {
	Received  int64
	Accepted  int64
	Malformed int64
	Duplicate int64
}

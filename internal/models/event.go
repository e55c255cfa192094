// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package models

import (
	"time"
)

// SessionEvent is one normalized telemetry record in the canonical schema.
//
// Every accepted input format (JSON, syslog line, key=value pairs) is mapped
// onto this struct by the normalizer. Downstream components never see raw
// records.
//
// Key Fields:
//   - SessionID: groups events into sessions; never empty after normalization
//   - Timestamp: event time in UTC; never zero after normalization
//   - Action: what the subject did (login_attempt, file_access, ...)
//   - Resource: what it was done to (path, table, host:port target)
//   - StatusCode: outcome code in [100,600); 0 when the source has none
//   - BytesTransferred: payload volume; never negative after normalization
//
// Label Fields (training/evaluation only, never required for scoring):
//   - AttackType: ground-truth attack class from lab generators, if any
//   - IsMalicious: ground-truth label; nil means unlabeled
type SessionEvent struct {
	Timestamp        time.Time `json:"timestamp"`
	SessionID        string    `json:"session_id"`
	UserID           string    `json:"user_id"`
	SourceIP         string    `json:"source_ip"`
	Action           string    `json:"action"`
	Resource         string    `json:"resource"`
	StatusCode       int       `json:"status_code"`
	BytesTransferred int64     `json:"bytes_transferred"`

	// Optional ground-truth labels carried through from lab scenario data.
	AttackType  *string `json:"attack_type,omitempty"`
	IsMalicious *bool   `json:"is_malicious,omitempty"`
}

// Labeled reports whether the event carries a ground-truth label.
func (e *SessionEvent) Labeled() bool {
	return e.IsMalicious != nil
}

// CloseReason explains why a session stopped accepting events.
type CloseReason string

// Close reasons, in the order the tracker checks them.
const (
	CloseReasonTerminated CloseReason = "terminated"   // explicit logout / session_end
	CloseReasonIdle       CloseReason = "idle_timeout" // no events for the idle window
	CloseReasonCapacity   CloseReason = "capacity"     // per-session buffer cap reached
	CloseReasonDrain      CloseReason = "drain"        // pipeline shutdown flush
)

// Session is an assembled window of one session's events, ordered by
// timestamp, as handed from the session tracker to the feature engine.
type Session struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	StartTime time.Time      `json:"start_time"`
	EndTime   time.Time      `json:"end_time"`
	Events    []SessionEvent `json:"events"`
	Reason    CloseReason    `json:"close_reason"`
}

// Duration returns the wall-clock span of the session.
// Zero for empty and single-event sessions.
func (s *Session) Duration() time.Duration {
	if len(s.Events) < 2 {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

// Malicious reports the session-level ground-truth label: true when any
// event in the session is labeled malicious. The second return is false
// when no event carries a label at all.
func (s *Session) Malicious() (labeled, malicious bool) {
	for i := range s.Events {
		if s.Events[i].IsMalicious == nil {
			continue
		}
		labeled = true
		if *s.Events[i].IsMalicious {
			return true, true
		}
	}
	return labeled, false
}

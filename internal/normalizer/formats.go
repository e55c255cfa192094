// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package normalizer

import (
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/vigilosec/vigilo/internal/models"
)

// Format labels reported by the ingest_events_total metric.
const (
	FormatJSON   = "json"
	FormatSyslog = "syslog"
	FormatKV     = "kv"
)

// syslogFieldCount is the field count of the positional line format:
//
//	<ts> <session_id> <user_id> <source_ip> <action> <resource> <status> <bytes>
const syslogFieldCount = 8

// rawRecord tolerates the field types seen across sources: timestamps as
// strings or epoch numbers, user ids as strings or numbers, counters as
// numbers or numeric strings. Unknown fields are ignored.
type rawRecord struct {
	Timestamp        interface{} `json:"timestamp"`
	SessionID        string      `json:"session_id"`
	UserID           interface{} `json:"user_id"`
	SourceIP         string      `json:"source_ip"`
	Action           string      `json:"action"`
	Resource         string      `json:"resource"`
	StatusCode       interface{} `json:"status_code"`
	BytesTransferred interface{} `json:"bytes_transferred"`
	AttackType       *string     `json:"attack_type"`
	IsMalicious      *bool       `json:"is_malicious"`
}

// parseJSON parses a canonical-schema JSON object.
func parseJSON(raw []byte) (*models.SessionEvent, error) {
	var rec rawRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, malformed(ReasonInvalidJSON, "invalid json: %v", err)
	}

	ts, err := timestampFromAny(rec.Timestamp)
	if err != nil {
		return nil, err
	}
	status, err := statusFromAny(rec.StatusCode)
	if err != nil {
		return nil, err
	}
	bytes, err := bytesFromAny(rec.BytesTransferred)
	if err != nil {
		return nil, err
	}

	return &models.SessionEvent{
		Timestamp:        ts,
		SessionID:        strings.TrimSpace(rec.SessionID),
		UserID:           userIDFromAny(rec.UserID),
		SourceIP:         strings.TrimSpace(rec.SourceIP),
		Action:           strings.TrimSpace(rec.Action),
		Resource:         strings.TrimSpace(rec.Resource),
		StatusCode:       status,
		BytesTransferred: bytes,
		AttackType:       rec.AttackType,
		IsMalicious:      rec.IsMalicious,
	}, nil
}

// parseSyslogLine parses the positional line format. The status and bytes
// fields accept "-" for absent, following syslog convention.
func parseSyslogLine(line string) (*models.SessionEvent, error) {
	fields := strings.Fields(line)

	// A "2006-01-02 15:04:05" timestamp occupies two fields; rejoin them.
	if len(fields) == syslogFieldCount+1 {
		merged := fields[0] + " " + fields[1]
		if _, err := time.Parse("2006-01-02 15:04:05", merged); err == nil {
			fields = append([]string{merged}, fields[2:]...)
		}
	}

	if len(fields) != syslogFieldCount {
		return nil, malformed(ReasonBadFormat, "expected %d fields, got %d", syslogFieldCount, len(fields))
	}

	ts, err := parseTimestamp(fields[0])
	if err != nil {
		return nil, err
	}
	status, err := parseStatus(fields[6])
	if err != nil {
		return nil, err
	}
	bytes, err := parseBytes(fields[7])
	if err != nil {
		return nil, err
	}

	return &models.SessionEvent{
		Timestamp:        ts,
		SessionID:        fields[1],
		UserID:           fields[2],
		SourceIP:         fields[3],
		Action:           fields[4],
		Resource:         fields[5],
		StatusCode:       status,
		BytesTransferred: bytes,
	}, nil
}

// parseKeyValue parses key=value telemetry pairs.
// Unknown keys are ignored so sources can send a superset of the schema.
func parseKeyValue(line string) (*models.SessionEvent, error) {
	tokens, err := splitPairs(line)
	if err != nil {
		return nil, err
	}

	ev := &models.SessionEvent{}
	for _, tok := range tokens {
		key, value, found := strings.Cut(tok, "=")
		if !found {
			return nil, malformed(ReasonBadFormat, "token %q is not key=value", tok)
		}
		if err := applyPair(ev, strings.ToLower(key), value); err != nil {
			return nil, err
		}
	}
	return ev, nil
}

// splitPairs splits a key=value line into tokens, honoring double-quoted
// values that contain spaces: action="drop table users".
func splitPairs(line string) ([]string, error) {
	var (
		tokens   []string
		current  strings.Builder
		inQuotes bool
	)

	for _, r := range line {
		switch {
		case r == '"':
			inQuotes = !inQuotes
		case (r == ' ' || r == '\t') && !inQuotes:
			if current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}

	if inQuotes {
		return nil, malformed(ReasonBadFormat, "unterminated quote")
	}
	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}
	return tokens, nil
}

// applyPair sets one parsed key=value pair on the event.
func applyPair(ev *models.SessionEvent, key, value string) error {
	switch key {
	case "timestamp", "ts":
		t, err := parseTimestamp(value)
		if err != nil {
			return err
		}
		ev.Timestamp = t
	case "session_id":
		ev.SessionID = value
	case "user_id":
		ev.UserID = value
	case "source_ip":
		ev.SourceIP = value
	case "action":
		ev.Action = value
	case "resource":
		ev.Resource = value
	case "status_code", "status":
		n, err := parseStatus(value)
		if err != nil {
			return err
		}
		ev.StatusCode = n
	case "bytes_transferred", "bytes":
		n, err := parseBytes(value)
		if err != nil {
			return err
		}
		ev.BytesTransferred = n
	case "attack_type":
		if value != "" {
			ev.AttackType = &value
		}
	case "is_malicious":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return malformed(ReasonBadFormat, "is_malicious %q is not a bool", value)
		}
		ev.IsMalicious = &b
	}
	return nil
}

// parseStatus parses a status code field.
// "" and "-" mean the source has no status for this event and map to 0.
func parseStatus(s string) (int, error) {
	if s == "" || s == "-" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, malformed(ReasonBadStatus, "status %q is not an integer", s)
	}
	return n, nil
}

// parseBytes parses a bytes-transferred field, with "-" for absent.
func parseBytes(s string) (int64, error) {
	if s == "" || s == "-" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, malformed(ReasonBadBytes, "bytes %q is not an integer", s)
	}
	return n, nil
}

// timestampFromAny converts a JSON timestamp value, which may be a string
// in any accepted layout or an epoch number.
func timestampFromAny(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, malformed(ReasonBadTimestamp, "timestamp is required")
	case string:
		return parseTimestamp(t)
	case float64:
		return unixFloat(t)
	}
	return time.Time{}, malformed(ReasonBadTimestamp, "unsupported timestamp type %T", v)
}

// statusFromAny converts a JSON status_code value.
func statusFromAny(v interface{}) (int, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return int(t), nil
	case string:
		return parseStatus(t)
	}
	return 0, malformed(ReasonBadStatus, "unsupported status_code type %T", v)
}

// bytesFromAny converts a JSON bytes_transferred value.
func bytesFromAny(v interface{}) (int64, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return int64(t), nil
	case string:
		return parseBytes(t)
	}
	return 0, malformed(ReasonBadBytes, "unsupported bytes_transferred type %T", v)
}

// userIDFromAny converts a JSON user_id value; numeric ids are formatted
// to their decimal string.
func userIDFromAny(v interface{}) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return ""
}

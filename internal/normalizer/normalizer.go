// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package normalizer

import (
	"bytes"
	"strconv"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/blake2b"

	"github.com/vigilosec/vigilo/internal/cache"
	"github.com/vigilosec/vigilo/internal/config"
	"github.com/vigilosec/vigilo/internal/logging"
	"github.com/vigilosec/vigilo/internal/metrics"
	"github.com/vigilosec/vigilo/internal/models"
)

// Normalizer converts raw telemetry records into canonical SessionEvents,
// rejecting malformed records and suppressing exact duplicates.
//
// It is safe for concurrent use: parsing is stateless and the dedup window
// is internally synchronized.
type Normalizer struct {
	maxRecordBytes int
	dedup          *cache.LRUCache
	log            zerolog.Logger
}

// New creates a Normalizer with the given ingest settings.
func New(cfg config.IngestConfig) *Normalizer {
	return &Normalizer{
		maxRecordBytes: cfg.MaxRecordBytes,
		dedup:          cache.NewLRUCache(cfg.DedupWindow, cfg.DedupTTL),
		log:            logging.With().Str("component", "normalizer").Logger(),
	}
}

// Normalize parses, validates, and deduplicates one raw record.
//
// Three outcomes:
//   - (event, nil): accepted; the caller routes it downstream
//   - (nil, nil): exact duplicate within the dedup window, a no-op success
//   - (nil, err): rejected; errors.Is(err, ErrMalformedRecord) holds
func (n *Normalizer) Normalize(raw []byte) (*models.SessionEvent, error) {
	ev, format, err := n.parse(raw)
	if err != nil {
		metrics.RecordEventMalformed(reasonOf(err))
		n.log.Debug().Err(err).Str("format", format).Msg("Rejected record")
		return nil, err
	}

	if n.dedup.IsDuplicate(dedupKey(ev)) {
		metrics.RecordEventDuplicate()
		return nil, nil
	}

	metrics.RecordEventIngested(format)
	return ev, nil
}

// Parse converts one raw record without consulting the dedup window.
// Replay tooling uses it to re-read archived records that were already
// admitted once.
func (n *Normalizer) Parse(raw []byte) (*models.SessionEvent, error) {
	ev, _, err := n.parse(raw)
	return ev, err
}

// DedupStats reports dedup window hit/miss counters and current size.
func (n *Normalizer) DedupStats() (hits, misses int64, size int) {
	return n.dedup.Stats()
}

// parse detects the record format, parses it, and validates the result.
// The returned format label is set even on error when detection succeeded.
func (n *Normalizer) parse(raw []byte) (*models.SessionEvent, string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, "", malformed(ReasonEmpty, "empty record")
	}
	if n.maxRecordBytes > 0 && len(trimmed) > n.maxRecordBytes {
		return nil, "", malformed(ReasonOversized, "record is %d bytes, limit %d", len(trimmed), n.maxRecordBytes)
	}

	format := detectFormat(trimmed)

	var (
		ev  *models.SessionEvent
		err error
	)
	switch format {
	case FormatJSON:
		ev, err = parseJSON(trimmed)
	case FormatKV:
		ev, err = parseKeyValue(string(trimmed))
	default:
		ev, err = parseSyslogLine(string(trimmed))
	}
	if err != nil {
		return nil, format, err
	}

	if err := validateEvent(ev); err != nil {
		return nil, format, err
	}

	ev.Timestamp = ev.Timestamp.UTC()
	return ev, format, nil
}

// detectFormat classifies a trimmed raw record.
//
// JSON records start with '{'. Key-value records have '=' inside the first
// whitespace-separated token; a positional line starts with a timestamp,
// which never contains '='.
func detectFormat(trimmed []byte) string {
	if trimmed[0] == '{' {
		return FormatJSON
	}

	first := trimmed
	if i := bytes.IndexAny(trimmed, " \t"); i >= 0 {
		first = trimmed[:i]
	}
	if bytes.IndexByte(first, '=') >= 0 {
		return FormatKV
	}
	return FormatSyslog
}

// validateEvent enforces the canonical schema requirements shared by all
// input formats: timestamp, session id, and action are mandatory; status
// codes are 0 (absent) or in [100,600); bytes are never negative.
func validateEvent(ev *models.SessionEvent) error {
	if ev.Timestamp.IsZero() {
		return malformed(ReasonBadTimestamp, "timestamp is required")
	}
	if ev.SessionID == "" {
		return malformed(ReasonMissingSession, "session_id is required")
	}
	if ev.Action == "" {
		return malformed(ReasonMissingAction, "action is required")
	}
	if ev.StatusCode != 0 && (ev.StatusCode < 100 || ev.StatusCode >= 600) {
		return malformed(ReasonBadStatus, "status_code %d outside [100,600)", ev.StatusCode)
	}
	if ev.BytesTransferred < 0 {
		return malformed(ReasonBadBytes, "negative bytes_transferred %d", ev.BytesTransferred)
	}
	return nil
}

// dedupKey computes the content hash identifying an event for dedup:
// blake2b-256 over (session_id, timestamp_ns, action, resource) with NUL
// separators. Records differing only in user_id, source_ip, status, or
// bytes collapse to one; the quadruple is what redelivering transports
// repeat verbatim.
func dedupKey(ev *models.SessionEvent) string {
	buf := make([]byte, 0, len(ev.SessionID)+len(ev.Action)+len(ev.Resource)+23)
	buf = append(buf, ev.SessionID...)
	buf = append(buf, 0)
	buf = strconv.AppendInt(buf, ev.Timestamp.UnixNano(), 10)
	buf = append(buf, 0)
	buf = append(buf, ev.Action...)
	buf = append(buf, 0)
	buf = append(buf, ev.Resource...)

	sum := blake2b.Sum256(buf)
	return string(sum[:])
}

// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package normalizer

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// timestampLayouts are the string layouts tried in order.
// RFC3339Nano also parses plain RFC3339.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
}

// unixMillisFloor is the smallest epoch value interpreted as Unix
// milliseconds rather than seconds. 1e12 seconds is the year 33658, so
// anything at or above it has to be millis; anything below is seconds
// (1e12 ms is September 2001, well before any lab capture).
const unixMillisFloor = 1e12

// parseTimestamp converts a raw timestamp string to UTC time.
//
// Accepted forms:
//   - RFC3339 / RFC3339Nano ("2024-03-01T10:15:00Z", "...T10:15:00.123456789+02:00")
//   - "2006-01-02 15:04:05" (assumed UTC, common in exported CSV/log dumps)
//   - Unix seconds, integer or fractional ("1709285700", "1709285700.25")
//   - Unix milliseconds ("1709285700123")
func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, malformed(ReasonBadTimestamp, "timestamp is required")
	}

	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}

	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return unixInt(n)
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return unixFloat(f)
	}

	return time.Time{}, malformed(ReasonBadTimestamp, "unparsable timestamp %q", raw)
}

// unixInt converts an integer epoch value to UTC time, deciding between
// seconds and milliseconds by magnitude.
func unixInt(n int64) (time.Time, error) {
	if n <= 0 {
		return time.Time{}, malformed(ReasonBadTimestamp, "non-positive epoch timestamp %d", n)
	}
	if n >= unixMillisFloor {
		return time.UnixMilli(n).UTC(), nil
	}
	return time.Unix(n, 0).UTC(), nil
}

// unixFloat converts a fractional epoch value to UTC time. Integral values
// are routed through unixInt so millisecond epochs stay exact.
func unixFloat(v float64) (time.Time, error) {
	if v <= 0 {
		return time.Time{}, malformed(ReasonBadTimestamp, "non-positive epoch timestamp %v", v)
	}
	if v == math.Trunc(v) {
		return unixInt(int64(v))
	}

	seconds := v
	if v >= unixMillisFloor {
		seconds = v / 1000
	}

	whole := math.Trunc(seconds)
	nanos := math.Round((seconds - whole) * float64(time.Second))
	return time.Unix(int64(whole), int64(nanos)).UTC(), nil
}

// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package normalizer

import (
	"errors"
	"fmt"
)

// ErrMalformedRecord is returned when a raw record cannot be normalized.
// Use errors.Is to test for it; the concrete *MalformedError carries the
// rejection reason and detail.
var ErrMalformedRecord = errors.New("malformed record")

// Rejection reason labels. These feed the ingest_malformed_total metric,
// so keep them a small fixed set.
const (
	ReasonEmpty          = "empty"
	ReasonOversized      = "oversized"
	ReasonInvalidJSON    = "invalid_json"
	ReasonBadTimestamp   = "bad_timestamp"
	ReasonMissingSession = "missing_session_id"
	ReasonMissingAction  = "missing_action"
	ReasonBadStatus      = "bad_status"
	ReasonBadBytes       = "bad_bytes"
	ReasonBadFormat      = "bad_format"
)

// MalformedError describes why a raw record was rejected.
// It unwraps to ErrMalformedRecord.
type MalformedError struct {
	// Reason is the low-cardinality rejection class used as a metric label.
	Reason string

	// Detail is a human-readable description for logs.
	Detail string
}

// Error implements the error interface.
func (e *MalformedError) Error() string {
	if e.Detail == "" {
		return "malformed record: " + e.Reason
	}
	return "malformed record: " + e.Detail
}

// Unwrap makes errors.Is(err, ErrMalformedRecord) work.
func (e *MalformedError) Unwrap() error {
	return ErrMalformedRecord
}

// malformed builds a *MalformedError with a formatted detail message.
func malformed(reason, format string, args ...interface{}) error {
	return &MalformedError{
		Reason: reason,
		Detail: fmt.Sprintf(format, args...),
	}
}

// reasonOf extracts the rejection reason from an error for metric labeling.
// Unknown error shapes map to bad_format.
func reasonOf(err error) string {
	var me *MalformedError
	if errors.As(err, &me) {
		return me.Reason
	}
	return ReasonBadFormat
}

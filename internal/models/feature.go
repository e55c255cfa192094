// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package models

import "time"

// FeatureVector is the fixed-schema numeric representation of one session,
// produced by the feature engine and consumed by every model adapter.
//
// Values is ordered by the feature schema the engine was built with; the
// schema hash pins that order so a model fitted against one schema refuses
// vectors from another. SubVectors carries the same features computed per
// ordered sub-window of the session, for detectors that score sequences
// rather than single points.
type FeatureVector struct {
	SessionID  string    `json:"session_id"`
	UserID     string    `json:"user_id"`
	SourceIP   string    `json:"source_ip,omitempty"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	EventCount int       `json:"event_count"`

	SchemaHash string      `json:"schema_hash"`
	Values     []float64   `json:"values"`
	SubVectors [][]float64 `json:"sub_vectors,omitempty"`

	// Ground-truth session label when the source data carries one.
	Labeled   bool `json:"labeled,omitempty"`
	Malicious bool `json:"malicious,omitempty"`
}

// Clone returns a deep copy. Model adapters that retain training vectors
// use this so later mutation by the caller cannot reach fitted state.
func (v *FeatureVector) Clone() FeatureVector {
	out := *v
	out.Values = append([]float64(nil), v.Values...)
	if v.SubVectors != nil {
		out.SubVectors = make([][]float64, len(v.SubVectors))
		for i, sub := range v.SubVectors {
			out.SubVectors[i] = append([]float64(nil), sub...)
		}
	}
	return out
}

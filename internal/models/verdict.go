// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package models

import "time"

// ModelScore is one detector's contribution to a scoring round.
// Score is normalized to [0,1]; Raw is the detector's native value before
// normalization, kept for diagnostics.
type ModelScore struct {
	ModelID      string        `json:"model_id"`
	Score        float64       `json:"score"`
	Raw          float64       `json:"raw_score"`
	ModelVersion int           `json:"model_version"`
	Elapsed      time.Duration `json:"elapsed_ns,omitempty"`
}

// DegradedModel records a detector that was excluded from a scoring round
// and why. A degraded detector never fails the round; it is simply absent
// from the fusion.
type DegradedModel struct {
	ModelID string `json:"model_id"`
	Reason  string `json:"reason"`
}

// Degradation reasons recorded on verdicts.
const (
	DegradedNotReady       = "not_ready"
	DegradedTimeout        = "timeout"
	DegradedSchemaMismatch = "schema_mismatch"
	DegradedError          = "error"
)

// Decision is the outcome of comparing a fused score to the published
// threshold.
type Decision string

const (
	// DecisionAlert means the fused score exceeded the calibrated threshold.
	DecisionAlert Decision = "alert"
	// DecisionNoAlert means the fused score was at or below the threshold.
	DecisionNoAlert Decision = "no_alert"
	// DecisionUncalibrated means no threshold was published yet; the
	// session passed through unalerted regardless of score.
	DecisionUncalibrated Decision = "uncalibrated"
)

// Verdict is the fused outcome of scoring one session.
//
// FusedScore is defined over the contributing (non-degraded) scores only.
// With zero contributors the verdict is fully degraded: FusedScore 0,
// Decision no-alert. Disagreement flags rounds where contributing scores
// spread widely enough that the fused number hides a split vote.
type Verdict struct {
	SessionID  string    `json:"session_id"`
	UserID     string    `json:"user_id"`
	SourceIP   string    `json:"source_ip,omitempty"`
	ScoredAt   time.Time `json:"scored_at"`
	EventCount int       `json:"event_count"`

	FusedScore   float64         `json:"fused_score"`
	Scores       []ModelScore    `json:"scores"`
	Degraded     []DegradedModel `json:"degraded,omitempty"`
	Disagreement bool            `json:"disagreement"`

	Decision  Decision `json:"decision"`
	Threshold float64  `json:"threshold,omitempty"`

	// Ground-truth label carried from the feature vector, for evaluation.
	Labeled   bool `json:"labeled,omitempty"`
	Malicious bool `json:"malicious,omitempty"`
}

// Contributing returns the IDs of the models whose scores entered the fusion.
func (v *Verdict) Contributing() []string {
	ids := make([]string, len(v.Scores))
	for i := range v.Scores {
		ids[i] = v.Scores[i].ModelID
	}
	return ids
}

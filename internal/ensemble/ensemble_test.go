// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package ensemble

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/vigilosec/vigilo/internal/config"
	"github.com/vigilosec/vigilo/internal/model"
	"github.com/vigilosec/vigilo/internal/models"
)

// stubModel returns a fixed score, a fixed error, or blocks for delay
// while honoring its context.
type stubModel struct {
	id    string
	score float64
	err   error
	delay time.Duration
}

func (s *stubModel) ID() string { return s.id }

func (s *stubModel) Score(ctx context.Context, _ models.FeatureVector) (models.ModelScore, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return models.ModelScore{}, ctx.Err()
		}
	}
	if s.err != nil {
		return models.ModelScore{}, s.err
	}
	return models.ModelScore{ModelID: s.id, Score: s.score, Raw: s.score, ModelVersion: 1}, nil
}

func (s *stubModel) Fit(context.Context, []models.FeatureVector) error { return nil }
func (s *stubModel) Health() model.Health                              { return model.Health{Fitted: true, Version: 1} }
func (s *stubModel) Save() ([]byte, error)                             { return nil, nil }
func (s *stubModel) Load([]byte) error                                 { return nil }
func (s *stubModel) Schema() string                                    { return "" }

type fixedSet []model.Model

func (s fixedSet) All() []model.Model { return s }

type fixedThreshold struct {
	v  float64
	ok bool
}

func (f fixedThreshold) Current() (float64, bool) { return f.v, f.ok }

func testVec() models.FeatureVector {
	return models.FeatureVector{
		SessionID:  "sess-ens",
		UserID:     "alice",
		EventCount: 12,
		SchemaHash: "h",
		Values:     []float64{1, 2, 3},
	}
}

func newScorer(cfg config.EnsembleConfig, set fixedSet, th fixedThreshold) *Scorer {
	return NewScorer(cfg, 2*time.Second, set, th)
}

func approx(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9
}

func TestScorer_DisagreementScenario(t *testing.T) {
	set := fixedSet{
		&stubModel{id: "a", score: 0.9},
		&stubModel{id: "b", score: 0.85},
		&stubModel{id: "c", score: 0.1},
	}
	s := newScorer(config.EnsembleConfig{Mode: ModeWeightedMean, DisagreementStdDev: 0.3}, set, fixedThreshold{v: 0.5, ok: true})

	v := s.Score(context.Background(), testVec())

	if !approx(v.FusedScore, 1.85/3) {
		t.Errorf("FusedScore = %v, want %v", v.FusedScore, 1.85/3)
	}
	if !v.Disagreement {
		t.Error("Disagreement = false, want true (stddev ≈ 0.366 > 0.3)")
	}
	if v.Decision != models.DecisionAlert {
		t.Errorf("Decision = %q, want alert", v.Decision)
	}
	if v.Threshold != 0.5 {
		t.Errorf("Threshold = %v, want 0.5", v.Threshold)
	}
	if len(v.Scores) != 3 || len(v.Degraded) != 0 {
		t.Errorf("Scores/Degraded = %d/%d, want 3/0", len(v.Scores), len(v.Degraded))
	}
	if v.SessionID != "sess-ens" || v.UserID != "alice" || v.EventCount != 12 {
		t.Errorf("verdict identity = %q/%q/%d, want session fields carried", v.SessionID, v.UserID, v.EventCount)
	}
}

func TestScorer_WeightedMean(t *testing.T) {
	set := fixedSet{
		&stubModel{id: "a", score: 0.8},
		&stubModel{id: "b", score: 0.4},
	}
	cfg := config.EnsembleConfig{
		Mode:               ModeWeightedMean,
		Weights:            map[string]float64{"a": 3, "b": 1},
		DisagreementStdDev: 0.3,
	}
	v := newScorer(cfg, set, fixedThreshold{v: 0.5, ok: true}).Score(context.Background(), testVec())

	if !approx(v.FusedScore, 0.7) {
		t.Errorf("FusedScore = %v, want 0.7", v.FusedScore)
	}
}

func TestScorer_MaxMode(t *testing.T) {
	set := fixedSet{
		&stubModel{id: "a", score: 0.2},
		&stubModel{id: "b", score: 0.9},
	}
	cfg := config.EnsembleConfig{Mode: ModeMax, DisagreementStdDev: 0.3}
	v := newScorer(cfg, set, fixedThreshold{v: 0.5, ok: true}).Score(context.Background(), testVec())

	if !approx(v.FusedScore, 0.9) {
		t.Errorf("FusedScore = %v, want 0.9", v.FusedScore)
	}
}

func TestScorer_RenormalizesOverContributors(t *testing.T) {
	set := fixedSet{
		&stubModel{id: "a", score: 0.8},
		&stubModel{id: "b", score: 0.4},
		&stubModel{id: "c", err: model.ErrNotReady},
	}
	cfg := config.EnsembleConfig{
		Mode:               ModeWeightedMean,
		Weights:            map[string]float64{"a": 1, "b": 1, "c": 8},
		DisagreementStdDev: 0.3,
	}
	v := newScorer(cfg, set, fixedThreshold{v: 0.5, ok: true}).Score(context.Background(), testVec())

	// c's weight is dropped, not averaged in as zero.
	if !approx(v.FusedScore, 0.6) {
		t.Errorf("FusedScore = %v, want 0.6", v.FusedScore)
	}
	if len(v.Degraded) != 1 || v.Degraded[0].ModelID != "c" || v.Degraded[0].Reason != models.DegradedNotReady {
		t.Errorf("Degraded = %+v, want [{c not_ready}]", v.Degraded)
	}
}

func TestScorer_TimeoutDegrades(t *testing.T) {
	set := fixedSet{
		&stubModel{id: "slow", score: 0.9, delay: 10 * time.Second},
		&stubModel{id: "fast", score: 0.6},
	}
	cfg := config.EnsembleConfig{Mode: ModeWeightedMean, DisagreementStdDev: 0.3}
	s := NewScorer(cfg, 30*time.Millisecond, set, fixedThreshold{v: 0.5, ok: true})

	start := time.Now()
	v := s.Score(context.Background(), testVec())
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("round took %v, want bounded by the per-model timeout", elapsed)
	}

	if len(v.Degraded) != 1 || v.Degraded[0].ModelID != "slow" || v.Degraded[0].Reason != models.DegradedTimeout {
		t.Errorf("Degraded = %+v, want [{slow timeout}]", v.Degraded)
	}
	if !approx(v.FusedScore, 0.6) {
		t.Errorf("FusedScore = %v, want 0.6 from the surviving model", v.FusedScore)
	}
	if v.Decision != models.DecisionAlert {
		t.Errorf("Decision = %q, want alert", v.Decision)
	}
}

func TestScorer_ZeroContributors(t *testing.T) {
	set := fixedSet{
		&stubModel{id: "a", err: model.ErrNotReady},
		&stubModel{id: "b", err: fmt.Errorf("scoring: %w", model.ErrSchemaMismatch)},
	}
	cfg := config.EnsembleConfig{Mode: ModeWeightedMean, DisagreementStdDev: 0.3}
	v := newScorer(cfg, set, fixedThreshold{v: 0.5, ok: true}).Score(context.Background(), testVec())

	if v.Decision != models.DecisionNoAlert {
		t.Errorf("Decision = %q, want no_alert", v.Decision)
	}
	if v.FusedScore != 0 || len(v.Scores) != 0 {
		t.Errorf("FusedScore/Scores = %v/%d, want 0 and none", v.FusedScore, len(v.Scores))
	}
	if len(v.Degraded) != 2 {
		t.Fatalf("Degraded = %+v, want both models", v.Degraded)
	}
	if v.Degraded[1].Reason != models.DegradedSchemaMismatch {
		t.Errorf("Degraded[1].Reason = %q, want schema_mismatch", v.Degraded[1].Reason)
	}
	if v.Disagreement {
		t.Error("Disagreement = true on empty round, want false")
	}
}

func TestScorer_Uncalibrated(t *testing.T) {
	set := fixedSet{&stubModel{id: "a", score: 0.99}}
	cfg := config.EnsembleConfig{Mode: ModeWeightedMean, DisagreementStdDev: 0.3}
	v := newScorer(cfg, set, fixedThreshold{ok: false}).Score(context.Background(), testVec())

	if v.Decision != models.DecisionUncalibrated {
		t.Errorf("Decision = %q, want uncalibrated regardless of score", v.Decision)
	}
	if v.Threshold != 0 {
		t.Errorf("Threshold = %v, want unset", v.Threshold)
	}
}

func TestScorer_NoAlertBelowThreshold(t *testing.T) {
	set := fixedSet{
		&stubModel{id: "a", score: 0.3},
		&stubModel{id: "b", score: 0.4},
	}
	cfg := config.EnsembleConfig{Mode: ModeWeightedMean, DisagreementStdDev: 0.3}
	v := newScorer(cfg, set, fixedThreshold{v: 0.5, ok: true}).Score(context.Background(), testVec())

	if v.Decision != models.DecisionNoAlert {
		t.Errorf("Decision = %q, want no_alert", v.Decision)
	}
	if v.Threshold != 0.5 {
		t.Errorf("Threshold = %v, want recorded even without alert", v.Threshold)
	}
	if v.Disagreement {
		t.Error("Disagreement = true, want false (stddev 0.05)")
	}
}

func TestScorer_Idempotent(t *testing.T) {
	set := fixedSet{
		&stubModel{id: "a", score: 0.3141592653589793},
		&stubModel{id: "b", score: 0.2718281828459045},
		&stubModel{id: "c", score: 0.5772156649015329},
	}
	cfg := config.EnsembleConfig{
		Mode:               ModeWeightedMean,
		Weights:            map[string]float64{"a": 0.2, "b": 0.3, "c": 0.5},
		DisagreementStdDev: 0.3,
	}
	s := newScorer(cfg, set, fixedThreshold{v: 0.5, ok: true})

	first := s.Score(context.Background(), testVec())
	second := s.Score(context.Background(), testVec())
	if first.FusedScore != second.FusedScore {
		t.Errorf("fused scores differ across runs: %v vs %v", first.FusedScore, second.FusedScore)
	}
}

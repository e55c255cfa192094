// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

// Package ensemble fuses per-model anomaly scores into one verdict per
// session. Models score in parallel under a per-model deadline; a model
// that misses it, is not fitted, or rejects the vector's schema is
// excluded from that round and recorded as degraded, never fatal.
package ensemble

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vigilosec/vigilo/internal/config"
	"github.com/vigilosec/vigilo/internal/logging"
	"github.com/vigilosec/vigilo/internal/metrics"
	"github.com/vigilosec/vigilo/internal/model"
	"github.com/vigilosec/vigilo/internal/models"
)

// Fusion modes.
const (
	ModeWeightedMean = "weighted_mean"
	ModeMax          = "max"
)

// ModelSet is the detector snapshot a scoring round runs against.
// *model.Registry satisfies it.
type ModelSet interface {
	All() []model.Model
}

// ThresholdSource provides the published alert threshold at score time.
// The second return is false while the pipeline is uncalibrated.
type ThresholdSource interface {
	Current() (float64, bool)
}

// Scorer runs scoring rounds and is the only writer of verdicts.
type Scorer struct {
	set       ModelSet
	threshold ThresholdSource
	mode      string
	weights   map[string]float64
	stddev    float64
	timeout   time.Duration
	log       zerolog.Logger
}

// NewScorer builds a scorer. An unknown fusion mode falls back to the
// weighted mean; configuration validation rejects it earlier in normal
// operation.
func NewScorer(cfg config.EnsembleConfig, scoreTimeout time.Duration, set ModelSet, threshold ThresholdSource) *Scorer {
	mode := cfg.Mode
	if mode != ModeMax {
		mode = ModeWeightedMean
	}
	return &Scorer{
		set:       set,
		threshold: threshold,
		mode:      mode,
		weights:   cfg.Weights,
		stddev:    cfg.DisagreementStdDev,
		timeout:   scoreTimeout,
		log:       logging.With().Str("component", "ensemble").Logger(),
	}
}

type outcome struct {
	score    models.ModelScore
	degraded *models.DegradedModel
}

// Score runs one round over the registered models and produces the
// verdict. It never fails: with zero contributing models the verdict is
// fully degraded with decision no-alert. For a fixed vector, model
// versions, and weights the fused score is bit-identical across runs —
// contributions are summed in registration order.
func (s *Scorer) Score(ctx context.Context, vec models.FeatureVector) models.Verdict {
	mods := s.set.All()
	results := make([]outcome, len(mods))

	var wg sync.WaitGroup
	for i, m := range mods {
		wg.Add(1)
		go func(i int, m model.Model) {
			defer wg.Done()
			results[i] = s.scoreOne(ctx, m, vec)
		}(i, m)
	}
	wg.Wait()

	verdict := models.Verdict{
		SessionID:  vec.SessionID,
		UserID:     vec.UserID,
		SourceIP:   vec.SourceIP,
		ScoredAt:   time.Now().UTC(),
		EventCount: vec.EventCount,
		Labeled:    vec.Labeled,
		Malicious:  vec.Malicious,
	}
	for _, r := range results {
		if r.degraded != nil {
			verdict.Degraded = append(verdict.Degraded, *r.degraded)
			continue
		}
		verdict.Scores = append(verdict.Scores, r.score)
	}

	if len(verdict.Scores) > 0 {
		verdict.FusedScore = s.fuse(verdict.Scores)
		verdict.Disagreement = disagreement(verdict.Scores, s.stddev)
	}
	s.decide(&verdict)

	metrics.RecordVerdict(string(verdict.Decision), verdict.FusedScore, verdict.Disagreement)
	s.log.Debug().
		Str("session_id", verdict.SessionID).
		Float64("fused_score", verdict.FusedScore).
		Str("decision", string(verdict.Decision)).
		Int("contributing", len(verdict.Scores)).
		Int("degraded", len(verdict.Degraded)).
		Bool("disagreement", verdict.Disagreement).
		Msg("Session scored")
	return verdict
}

// scoreOne runs a single model under the per-model deadline. The model
// is scored on its own goroutine so a detector that ignores its context
// still cannot stall the round past the deadline.
func (s *Scorer) scoreOne(ctx context.Context, m model.Model, vec models.FeatureVector) outcome {
	mctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type result struct {
		score models.ModelScore
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		sc, err := m.Score(mctx, vec)
		ch <- result{sc, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return s.degrade(m.ID(), degradeReason(r.err))
		}
		metrics.RecordModelScore(m.ID(), r.score.Elapsed)
		return outcome{score: r.score}
	case <-mctx.Done():
		return s.degrade(m.ID(), degradeReason(mctx.Err()))
	}
}

func (s *Scorer) degrade(id, reason string) outcome {
	metrics.RecordModelScoreError(id, reason)
	metrics.RecordDegradedScore(id, reason)
	s.log.Warn().Str("model", id).Str("reason", reason).Msg("Model excluded from scoring round")
	return outcome{degraded: &models.DegradedModel{ModelID: id, Reason: reason}}
}

func degradeReason(err error) string {
	switch {
	case errors.Is(err, model.ErrNotReady):
		return models.DegradedNotReady
	case errors.Is(err, model.ErrSchemaMismatch):
		return models.DegradedSchemaMismatch
	case errors.Is(err, context.DeadlineExceeded):
		return models.DegradedTimeout
	default:
		return models.DegradedError
	}
}

// fuse combines contributing scores. Weighted mean renormalizes the
// configured weights over the models that actually contributed, so a
// degraded model's weight is redistributed rather than dragging the
// fused score toward zero. Models without a configured weight get 1.
func (s *Scorer) fuse(scores []models.ModelScore) float64 {
	if s.mode == ModeMax {
		max := scores[0].Score
		for _, sc := range scores[1:] {
			if sc.Score > max {
				max = sc.Score
			}
		}
		return max
	}

	var sum, total float64
	for _, sc := range scores {
		w := 1.0
		if len(s.weights) > 0 {
			if cw, ok := s.weights[sc.ModelID]; ok {
				w = cw
			}
		}
		sum += w * sc.Score
		total += w
	}
	if total <= 0 {
		var mean float64
		for _, sc := range scores {
			mean += sc.Score
		}
		return mean / float64(len(scores))
	}
	return sum / total
}

// disagreement reports whether the population standard deviation of the
// contributing scores exceeds the configured threshold. The deviation is
// unweighted: it measures how much the detector families differ, not how
// much the fusion trusts each.
func disagreement(scores []models.ModelScore, threshold float64) bool {
	if len(scores) < 2 || threshold <= 0 {
		return false
	}
	var mean float64
	for _, sc := range scores {
		mean += sc.Score
	}
	mean /= float64(len(scores))

	var variance float64
	for _, sc := range scores {
		d := sc.Score - mean
		variance += d * d
	}
	return math.Sqrt(variance/float64(len(scores))) > threshold
}

// decide stamps the decision. Fully degraded rounds never alert; an
// unpublished threshold passes every session through unalerted.
func (s *Scorer) decide(v *models.Verdict) {
	if len(v.Scores) == 0 {
		v.Decision = models.DecisionNoAlert
		return
	}

	threshold, ok := s.threshold.Current()
	if !ok {
		v.Decision = models.DecisionUncalibrated
		s.log.Info().
			Str("session_id", v.SessionID).
			Float64("fused_score", v.FusedScore).
			Msg("Calibration unavailable, session passed without alert")
		return
	}

	v.Threshold = threshold
	if v.FusedScore > threshold {
		v.Decision = models.DecisionAlert
	} else {
		v.Decision = models.DecisionNoAlert
	}
}

// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package iforest

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/vigilosec/vigilo/internal/config"
	"github.com/vigilosec/vigilo/internal/features"
	"github.com/vigilosec/vigilo/internal/model"
	"github.com/vigilosec/vigilo/internal/models"
)

func testCfg() config.ModelsConfig {
	return config.ModelsConfig{
		MinFitSamples: 10,
		ScoreNorm:     "quantile",
		IForest:       config.IForestConfig{Trees: 50, SampleSize: 64, Seed: 42},
	}
}

// gaussBatch builds n training vectors drawn from a unit Gaussian.
func gaussBatch(n, dims int, seed int64) []models.FeatureVector {
	rng := rand.New(rand.NewSource(seed)) //nolint:gosec // test data
	out := make([]models.FeatureVector, n)
	for i := range out {
		vals := make([]float64, dims)
		for j := range vals {
			vals[j] = rng.NormFloat64()
		}
		out[i] = models.FeatureVector{
			SessionID:  "sess-train",
			SchemaHash: features.SchemaHash(),
			Values:     vals,
		}
	}
	return out
}

func probe(vals ...float64) models.FeatureVector {
	return models.FeatureVector{
		SessionID:  "sess-probe",
		SchemaHash: features.SchemaHash(),
		Values:     vals,
	}
}

func TestForest_ScoreBeforeFit(t *testing.T) {
	f := New(testCfg())
	_, err := f.Score(context.Background(), probe(0, 0, 0, 0, 0))
	if !errors.Is(err, model.ErrNotReady) {
		t.Errorf("Score() error = %v, want ErrNotReady", err)
	}
}

func TestForest_Fit_TooFewSamples(t *testing.T) {
	f := New(testCfg())
	err := f.Fit(context.Background(), gaussBatch(5, 5, 1))
	if !errors.Is(err, model.ErrInsufficientSamples) {
		t.Errorf("Fit() error = %v, want ErrInsufficientSamples", err)
	}
}

func TestForest_AnomalySeparation(t *testing.T) {
	f := New(testCfg())
	if err := f.Fit(context.Background(), gaussBatch(300, 5, 1)); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	center, err := f.Score(context.Background(), probe(0, 0, 0, 0, 0))
	if err != nil {
		t.Fatalf("Score(center) error = %v", err)
	}
	outlier, err := f.Score(context.Background(), probe(50, 50, 50, 50, 50))
	if err != nil {
		t.Fatalf("Score(outlier) error = %v", err)
	}

	for _, s := range []models.ModelScore{center, outlier} {
		if s.Score < 0 || s.Score > 1 {
			t.Errorf("score %v outside [0,1]", s.Score)
		}
		if s.Raw != s.Score {
			t.Errorf("Raw = %v, Score = %v, want equal (canonical scale)", s.Raw, s.Score)
		}
		if s.ModelID != ID || s.ModelVersion != 1 {
			t.Errorf("score metadata = %q v%d, want %q v1", s.ModelID, s.ModelVersion, ID)
		}
	}
	if outlier.Score <= 0.5 {
		t.Errorf("outlier score = %v, want > 0.5", outlier.Score)
	}
	if outlier.Score <= center.Score+0.05 {
		t.Errorf("outlier %v not separated from center %v", outlier.Score, center.Score)
	}
}

func TestForest_Deterministic(t *testing.T) {
	batch := gaussBatch(200, 4, 2)
	p := probe(3, -1, 0.5, 2)

	var scores [2]float64
	for i := range scores {
		f := New(testCfg())
		if err := f.Fit(context.Background(), batch); err != nil {
			t.Fatalf("Fit() error = %v", err)
		}
		s, err := f.Score(context.Background(), p)
		if err != nil {
			t.Fatalf("Score() error = %v", err)
		}
		scores[i] = s.Score
	}
	if scores[0] != scores[1] {
		t.Errorf("same seed and data scored %v then %v, want identical", scores[0], scores[1])
	}
}

func TestForest_SchemaMismatch(t *testing.T) {
	f := New(testCfg())
	if err := f.Fit(context.Background(), gaussBatch(50, 3, 3)); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	vec := probe(1, 2, 3)
	vec.SchemaHash = "deadbeefdeadbeef"
	_, err := f.Score(context.Background(), vec)
	if !errors.Is(err, model.ErrSchemaMismatch) {
		t.Errorf("Score() error = %v, want ErrSchemaMismatch", err)
	}
}

func TestForest_SaveLoadRoundtrip(t *testing.T) {
	f := New(testCfg())
	if err := f.Fit(context.Background(), gaussBatch(200, 4, 4)); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}
	p := probe(2, 2, -3, 0)
	want, err := f.Score(context.Background(), p)
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}

	data, err := f.Save()
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	restored := New(testCfg())
	if err := restored.Load(data); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	got, err := restored.Score(context.Background(), p)
	if err != nil {
		t.Fatalf("Score() after Load error = %v", err)
	}
	if got.Score != want.Score {
		t.Errorf("restored score = %v, want %v", got.Score, want.Score)
	}
	if got.ModelVersion != want.ModelVersion {
		t.Errorf("restored version = %d, want %d", got.ModelVersion, want.ModelVersion)
	}
}

func TestForest_LoadRejectsStaleSchema(t *testing.T) {
	stale, err := model.Seal(ID, 3, "deadbeefdeadbeef", state{
		Roots:      []*node{{Size: 1}},
		SampleSize: 1,
		CNorm:      1,
	})
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	f := New(testCfg())
	if !errors.Is(f.Load(stale), model.ErrSchemaMismatch) {
		t.Error("Load() accepted stale-schema state, want ErrSchemaMismatch")
	}
	if f.Health().Fitted {
		t.Error("forest fitted after rejected load")
	}
}

func TestForest_HealthAndVersion(t *testing.T) {
	f := New(testCfg())
	if h := f.Health(); h.Fitted || h.Version != 0 {
		t.Errorf("unfitted health = %+v, want {false 0}", h)
	}

	batch := gaussBatch(50, 3, 5)
	if err := f.Fit(context.Background(), batch); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}
	if h := f.Health(); !h.Fitted || h.Version != 1 {
		t.Errorf("health after first fit = %+v, want {true 1}", h)
	}

	if err := f.Fit(context.Background(), batch); err != nil {
		t.Fatalf("refit error = %v", err)
	}
	if h := f.Health(); h.Version != 2 {
		t.Errorf("version after refit = %d, want 2", h.Version)
	}
}

func TestForest_FitCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := New(testCfg())
	if err := f.Fit(ctx, gaussBatch(50, 3, 6)); !errors.Is(err, context.Canceled) {
		t.Errorf("Fit() error = %v, want context.Canceled", err)
	}
}

func BenchmarkForest_Score(b *testing.B) {
	f := New(testCfg())
	if err := f.Fit(context.Background(), gaussBatch(1000, features.FeatureCount, 7)); err != nil {
		b.Fatalf("Fit() error = %v", err)
	}
	vals := make([]float64, features.FeatureCount)
	p := probe(vals...)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := f.Score(context.Background(), p); err != nil {
			b.Fatal(err)
		}
	}
}

// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

// Package ocsvm implements the boundary detector: a one-class SVM with
// an RBF kernel, optimized by a simplified SMO pass structure. The
// fitted boundary encloses the training mass; the raw score is the
// negated decision value, positive outside the boundary.
package ocsvm

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/vigilosec/vigilo/internal/config"
	"github.com/vigilosec/vigilo/internal/logging"
	"github.com/vigilosec/vigilo/internal/model"
	"github.com/vigilosec/vigilo/internal/models"
)

// ID is the detector family identifier.
const ID = "ocsvm"

func init() {
	model.RegisterFactory(ID, func(cfg config.ModelsConfig) (model.Model, error) {
		return New(cfg), nil
	})
}

const (
	// Kernel-matrix training is O(n²) in memory and per-pass time, so
	// larger batches are subsampled (seeded, deterministic).
	maxTrainSamples = 1000
	trainSeed       = 7

	// Alphas below this are treated as zero when collecting support
	// vectors; eta below it means the pair is numerically degenerate.
	epsilon = 1e-8
)

// SVM is the one-class SVM model.
type SVM struct {
	nu       float64
	gamma    float64
	tol      float64
	maxIter  int
	minFit   int
	normKind string
	log      zerolog.Logger

	mu      sync.RWMutex
	sv      [][]float64 // standardized support vectors
	alpha   []float64
	rho     float64
	std     model.Standardizer
	norm    model.ScoreNormalizer
	fitted  bool
	schema  string
	version int
}

// New builds an unfitted SVM from configuration.
func New(cfg config.ModelsConfig) *SVM {
	return &SVM{
		nu:       cfg.OCSVM.Nu,
		gamma:    cfg.OCSVM.Gamma,
		tol:      cfg.OCSVM.Tol,
		maxIter:  cfg.OCSVM.MaxIter,
		minFit:   cfg.MinFitSamples,
		normKind: cfg.ScoreNorm,
		log:      logging.With().Str("component", "model").Str("model", ID).Logger(),
	}
}

// ID implements model.Model.
func (s *SVM) ID() string { return ID }

// Fit solves the one-class dual with pairwise (SMO-style) updates:
// minimize ½αᵀKα subject to 0 ≤ αᵢ ≤ 1/(νn) and Σαᵢ = 1. Each update
// moves mass between two alphas, so the equality constraint holds by
// construction; convergence is declared when a full pass moves no alpha
// by more than tol·C.
func (s *SVM) Fit(ctx context.Context, vectors []models.FeatureVector) error {
	rows, schema, err := model.TrainingMatrix(vectors)
	if err != nil {
		return err
	}
	if len(rows) < s.minFit {
		return fmt.Errorf("%d samples, need %d: %w", len(rows), s.minFit, model.ErrInsufficientSamples)
	}

	rng := rand.New(rand.NewSource(trainSeed)) //nolint:gosec // deterministic training, not crypto
	evalVecs := vectors
	if len(rows) > maxTrainSamples {
		perm := rng.Perm(len(rows))[:maxTrainSamples]
		sub := make([][]float64, maxTrainSamples)
		subVecs := make([]models.FeatureVector, maxTrainSamples)
		for i, idx := range perm {
			sub[i] = rows[idx]
			subVecs[i] = vectors[idx]
		}
		rows = sub
		evalVecs = subVecs
	}

	std := model.FitStandardizer(rows)
	x := std.TransformAll(rows)
	n := len(x)
	c := 1 / (s.nu * float64(n))

	k := kernelMatrix(x, s.gamma)

	// Feasible start: spread the unit mass over the first ⌊νn⌋ points
	// at the box bound, remainder on the next one.
	alpha := make([]float64, n)
	m := int(s.nu * float64(n))
	for i := 0; i < m && i < n; i++ {
		alpha[i] = c
	}
	if m < n {
		alpha[m] = 1 - float64(m)*c
	}

	// g[i] = Σ_j α_j K(i,j), maintained incrementally.
	g := make([]float64, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if alpha[j] > 0 {
				g[i] += alpha[j] * k[i][j]
			}
		}
	}

	for pass := 0; pass < s.maxIter; pass++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		maxDelta := 0.0
		for i := 0; i < n; i++ {
			j := rng.Intn(n - 1)
			if j >= i {
				j++
			}

			sum := alpha[i] + alpha[j]
			lo := math.Max(0, sum-c)
			hi := math.Min(c, sum)
			if hi-lo < epsilon {
				continue
			}
			eta := k[i][i] + k[j][j] - 2*k[i][j]
			if eta < epsilon {
				continue
			}

			ai := alpha[i] + (g[j]-g[i])/eta
			if ai < lo {
				ai = lo
			} else if ai > hi {
				ai = hi
			}
			delta := ai - alpha[i]
			if math.Abs(delta) < epsilon {
				continue
			}

			alpha[i] = ai
			alpha[j] = sum - ai
			for t := 0; t < n; t++ {
				g[t] += delta * (k[i][t] - k[j][t])
			}
			if d := math.Abs(delta); d > maxDelta {
				maxDelta = d
			}
		}
		if maxDelta < s.tol*c {
			break
		}
	}

	rho := offset(alpha, g, c)

	var (
		sv [][]float64
		as []float64
	)
	for i := range alpha {
		if alpha[i] > epsilon {
			sv = append(sv, x[i])
			as = append(as, alpha[i])
		}
	}

	trainScores := make([]float64, n)
	for i := range g {
		trainScores[i] = rho - g[i]
	}
	norm := model.FitNormalizer(s.normKind, trainScores)

	s.mu.Lock()
	s.sv = sv
	s.alpha = as
	s.rho = rho
	s.std = std
	s.norm = norm
	s.fitted = true
	s.schema = schema
	s.version++
	version := s.version
	s.mu.Unlock()

	normalized := make([]float64, len(trainScores))
	for i, raw := range trainScores {
		normalized[i] = norm.Normalize(raw)
	}
	if eval, ok := model.EvaluateLabeled(normalized, evalVecs, model.EvalThreshold); ok {
		s.log.Info().
			Int("version", version).
			Int("support_vectors", len(sv)).
			Int("labeled", eval.Samples).
			Float64("precision", eval.Precision).
			Float64("recall", eval.Recall).
			Float64("f1", eval.F1).
			Msg("Fit evaluation")
	}
	return nil
}

// offset estimates ρ from the margin support vectors (alphas strictly
// inside the box), falling back to every support vector when the
// solution leaves none in the interior.
func offset(alpha, g []float64, c float64) float64 {
	var sum float64
	var count int
	for i := range alpha {
		if alpha[i] > epsilon && alpha[i] < c-epsilon {
			sum += g[i]
			count++
		}
	}
	if count == 0 {
		for i := range alpha {
			if alpha[i] > epsilon {
				sum += g[i]
				count++
			}
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

func kernelMatrix(x [][]float64, gamma float64) [][]float64 {
	n := len(x)
	k := make([][]float64, n)
	for i := range k {
		k[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		k[i][i] = 1
		for j := i + 1; j < n; j++ {
			v := rbf(x[i], x[j], gamma)
			k[i][j] = v
			k[j][i] = v
		}
	}
	return k
}

func rbf(a, b []float64, gamma float64) float64 {
	var dist float64
	for t := range a {
		d := a[t] - b[t]
		dist += d * d
	}
	return math.Exp(-gamma * dist)
}

// Score implements model.Model.
func (s *SVM) Score(ctx context.Context, vec models.FeatureVector) (models.ModelScore, error) {
	if err := ctx.Err(); err != nil {
		return models.ModelScore{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.fitted {
		return models.ModelScore{}, model.ErrNotReady
	}
	if err := model.CheckVector(s.schema, vec); err != nil {
		return models.ModelScore{}, err
	}

	start := time.Now()
	x := s.std.Transform(vec.Values)
	var decision float64
	for i, sv := range s.sv {
		decision += s.alpha[i] * rbf(sv, x, s.gamma)
	}
	raw := s.rho - decision

	return models.ModelScore{
		ModelID:      ID,
		Score:        s.norm.Normalize(raw),
		Raw:          raw,
		ModelVersion: s.version,
		Elapsed:      time.Since(start),
	}, nil
}

// Health implements model.Model.
func (s *SVM) Health() model.Health {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return model.Health{Fitted: s.fitted, Version: s.version}
}

// Schema implements model.Model.
func (s *SVM) Schema() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schema
}

type state struct {
	Std   model.Standardizer    `json:"standardizer"`
	SV    [][]float64           `json:"support_vectors"`
	Alpha []float64             `json:"alpha"`
	Rho   float64               `json:"rho"`
	Gamma float64               `json:"gamma"`
	Norm  model.ScoreNormalizer `json:"score_norm"`
}

// Save implements model.Model.
func (s *SVM) Save() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.fitted {
		return nil, model.ErrNotReady
	}
	return model.Seal(ID, s.version, s.schema, state{
		Std:   s.std,
		SV:    s.sv,
		Alpha: s.alpha,
		Rho:   s.rho,
		Gamma: s.gamma,
		Norm:  s.norm,
	})
}

// Load implements model.Model.
func (s *SVM) Load(data []byte) error {
	env, err := model.Open(ID, data)
	if err != nil {
		return err
	}
	var st state
	if err := json.Unmarshal(env.Params, &st); err != nil {
		return fmt.Errorf("parsing %s params: %w", ID, err)
	}
	if len(st.SV) == 0 || len(st.SV) != len(st.Alpha) {
		return fmt.Errorf("%s state has inconsistent support vectors", ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.std = st.Std
	s.sv = st.SV
	s.alpha = st.Alpha
	s.rho = st.Rho
	s.gamma = st.Gamma
	s.norm = st.Norm
	s.fitted = true
	s.schema = env.SchemaHash
	s.version = env.Version
	return nil
}

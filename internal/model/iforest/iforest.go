// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

// Package iforest implements the isolation-forest detector: anomalies
// are points that random axis-aligned splits isolate in few cuts.
package iforest

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
const ID = "iforest"

func init() {
	model.RegisterFactory(ID, func(cfg config.ModelsConfig) (model.Model, error) {
		return New(cfg), nil
	})
}

// Euler-Mascheroni constant, for the harmonic-number approximation in
// the average BST path length c(n).
const eulerGamma = 0.5772156649015329

// node is one split in an isolation tree. Leaves carry the sample count
// that reached them; internal nodes carry the split.
type node struct {
	Feature int     `json:"f"`
	Split   float64 `json:"s"`
	Left    *node   `json:"l,omitempty"`
	Right   *node   `json:"r,omitempty"`
	Size    int     `json:"n,omitempty"`
}

// Forest is the isolation-forest model. The RNG is reseeded from
// configuration on every Fit, so identical training data yields an
// identical forest.
type Forest struct {
	trees      int
	sampleSize int
	seed       int64
	minFit     int
	log        zerolog.Logger

	mu      sync.RWMutex
	roots   []*node
	cNorm   float64 // c(sampleSize): expected path length normalizer
	schema  string
	version int
}

// New builds an unfitted forest from configuration.
func New(cfg config.ModelsConfig) *Forest {
	return &Forest{
		trees:      cfg.IForest.Trees,
		sampleSize: cfg.IForest.SampleSize,
		seed:       cfg.IForest.Seed,
		minFit:     cfg.MinFitSamples,
		log:        logging.With().Str("component", "model").Str("model", ID).Logger(),
	}
}

// ID implements model.Model.
func (f *Forest) ID() string { return ID }

// Fit builds the forest on subsamples of the training batch.
func (f *Forest) Fit(ctx context.Context, vectors []models.FeatureVector) error {
	rows, schema, err := model.TrainingMatrix(vectors)
	if err != nil {
		return err
	}
	if len(rows) < f.minFit {
		return fmt.Errorf("%d samples, need %d: %w", len(rows), f.minFit, model.ErrInsufficientSamples)
	}

	sampleSize := f.sampleSize
	if sampleSize > len(rows) {
		sampleSize = len(rows)
	}
	maxDepth := int(math.Ceil(math.Log2(float64(sampleSize))))
	dims := len(rows[0])

	rng := rand.New(rand.NewSource(f.seed)) //nolint:gosec // deterministic forests, not crypto
	roots := make([]*node, f.trees)
	for i := range roots {
		if err := ctx.Err(); err != nil {
			return err
		}
		indices := rng.Perm(len(rows))[:sampleSize]
		sample := make([][]float64, sampleSize)
		for j, idx := range indices {
			sample[j] = rows[idx]
		}
		roots[i] = buildNode(rng, sample, dims, 0, maxDepth)
	}
	cNorm := avgPathLength(float64(sampleSize))

	f.mu.Lock()
	f.roots = roots
	f.cNorm = cNorm
	f.schema = schema
	f.version++
	version := f.version
	f.mu.Unlock()

	f.logFitEval(rows, vectors, version)
	return nil
}

// logFitEval scores the training batch and logs quality against any
// ground-truth labels it carries.
func (f *Forest) logFitEval(rows [][]float64, vectors []models.FeatureVector, version int) {
	scores := make([]float64, len(rows))
	for i, row := range rows {
		scores[i] = f.scoreRow(row)
	}
	if eval, ok := model.EvaluateLabeled(scores, vectors, model.EvalThreshold); ok {
		f.log.Info().
			Int("version", version).
			Int("labeled", eval.Samples).
			Float64("precision", eval.Precision).
			Float64("recall", eval.Recall).
			Float64("f1", eval.F1).
			Msg("Fit evaluation")
	}
}

func buildNode(rng *rand.Rand, data [][]float64, dims, depth, maxDepth int) *node {
	n := len(data)
	if depth >= maxDepth || n <= 1 {
		return &node{Size: n}
	}

	feature := rng.Intn(dims)
	minVal, maxVal := data[0][feature], data[0][feature]
	for _, row := range data[1:] {
		if row[feature] < minVal {
			minVal = row[feature]
		}
		if row[feature] > maxVal {
			maxVal = row[feature]
		}
	}
	if minVal == maxVal {
		return &node{Size: n}
	}

	split := minVal + rng.Float64()*(maxVal-minVal)
	var left, right [][]float64
	for _, row := range data {
		if row[feature] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}

	return &node{
		Feature: feature,
		Split:   split,
		Left:    buildNode(rng, left, dims, depth+1, maxDepth),
		Right:   buildNode(rng, right, dims, depth+1, maxDepth),
	}
}

// Score implements model.Model. The canonical isolation score
// 2^(-E[h]/c(n)) already lands in [0,1]: short average paths (easy to
// isolate) push it toward 1.
func (f *Forest) Score(ctx context.Context, vec models.FeatureVector) (models.ModelScore, error) {
	if err := ctx.Err(); err != nil {
		return models.ModelScore{}, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.roots == nil {
		return models.ModelScore{}, model.ErrNotReady
	}
	if err := model.CheckVector(f.schema, vec); err != nil {
		return models.ModelScore{}, err
	}

	start := time.Now()
	s := f.scoreRow(vec.Values)
	return models.ModelScore{
		ModelID:      ID,
		Score:        s,
		Raw:          s,
		ModelVersion: f.version,
		Elapsed:      time.Since(start),
	}, nil
}

// scoreRow must be called with at least a read lock held.
func (f *Forest) scoreRow(row []float64) float64 {
	var total float64
	for _, root := range f.roots {
		total += pathLength(row, root, 0)
	}
	avg := total / float64(len(f.roots))
	return math.Pow(2, -avg/f.cNorm)
}

func pathLength(row []float64, n *node, depth int) float64 {
	if n.Left == nil && n.Right == nil {
		return float64(depth) + avgPathLength(float64(n.Size))
	}
	if row[n.Feature] < n.Split {
		return pathLength(row, n.Left, depth+1)
	}
	return pathLength(row, n.Right, depth+1)
}

// avgPathLength is c(n), the average unsuccessful-search path length in
// a binary search tree over n points.
func avgPathLength(n float64) float64 {
	if n <= 1 {
		return 0
	}
	return 2*(math.Log(n-1)+eulerGamma) - 2*(n-1)/n
}

// Health implements model.Model.
func (f *Forest) Health() model.Health {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return model.Health{Fitted: f.roots != nil, Version: f.version}
}

// Schema implements model.Model.
func (f *Forest) Schema() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.schema
}

type state struct {
	Roots      []*node `json:"roots"`
	SampleSize int     `json:"sample_size"`
	CNorm      float64 `json:"c_norm"`
}

// Save implements model.Model.
func (f *Forest) Save() ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.roots == nil {
		return nil, model.ErrNotReady
	}
	return model.Seal(ID, f.version, f.schema, state{
		Roots:      f.roots,
		SampleSize: f.sampleSize,
		CNorm:      f.cNorm,
	})
}

// Load implements model.Model.
func (f *Forest) Load(data []byte) error {
	env, err := model.Open(ID, data)
	if err != nil {
		return err
	}
	var st state
	if err := json.Unmarshal(env.Params, &st); err != nil {
		return fmt.Errorf("parsing %s params: %w", ID, err)
	}
	if len(st.Roots) == 0 {
		return fmt.Errorf("%s state has no trees", ID)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.roots = st.Roots
	f.cNorm = st.CNorm
	f.schema = env.SchemaHash
	f.version = env.Version
	return nil
}

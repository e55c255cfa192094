// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

// Package recon implements the reconstruction-error detector: a small
// tied-weight autoencoder squeezes each vector through a bottleneck and
// scores how badly it reconstructs. Sessions unlike the training
// distribution do not compress well.
package recon

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
const ID = "recon"

func init() {
	model.RegisterFactory(ID, func(cfg config.ModelsConfig) (model.Model, error) {
		return New(cfg), nil
	})
}

const batchSize = 32

// Autoencoder is the reconstruction model: encode z = tanh(W·x + b1),
// decode x̂ = Wᵀ·z + b2, with the single weight matrix shared by both
// directions. Inputs are standardized with statistics fitted on the
// training batch; the raw score is the mean squared reconstruction
// error per feature.
type Autoencoder struct {
	hidden   int
	epochs   int
	lr       float64
	seed     int64
	minFit   int
	normKind string
	log      zerolog.Logger

	mu      sync.RWMutex
	std     model.Standardizer
	w       [][]float64 // hidden x dims
	b1      []float64   // hidden
	b2      []float64   // dims
	norm    model.ScoreNormalizer
	fitted  bool
	schema  string
	version int
}

// New builds an unfitted autoencoder from configuration.
func New(cfg config.ModelsConfig) *Autoencoder {
	return &Autoencoder{
		hidden:   cfg.Recon.HiddenUnits,
		epochs:   cfg.Recon.Epochs,
		lr:       cfg.Recon.LearningRate,
		seed:     cfg.Recon.Seed,
		minFit:   cfg.MinFitSamples,
		normKind: cfg.ScoreNorm,
		log:      logging.With().Str("component", "model").Str("model", ID).Logger(),
	}
}

// ID implements model.Model.
func (a *Autoencoder) ID() string { return ID }

// Fit trains the weights by seeded mini-batch SGD and then fits the
// score normalizer on the training reconstruction errors.
func (a *Autoencoder) Fit(ctx context.Context, vectors []models.FeatureVector) error {
	rows, schema, err := model.TrainingMatrix(vectors)
	if err != nil {
		return err
	}
	if len(rows) < a.minFit {
		return fmt.Errorf("%d samples, need %d: %w", len(rows), a.minFit, model.ErrInsufficientSamples)
	}

	std := model.FitStandardizer(rows)
	x := std.TransformAll(rows)
	dims := len(x[0])

	rng := rand.New(rand.NewSource(a.seed)) //nolint:gosec // deterministic training, not crypto
	w, b1, b2 := initWeights(rng, a.hidden, dims)

	grad := newGradients(a.hidden, dims)
	for epoch := 0; epoch < a.epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		perm := rng.Perm(len(x))
		for lo := 0; lo < len(perm); lo += batchSize {
			hi := lo + batchSize
			if hi > len(perm) {
				hi = len(perm)
			}
			grad.reset()
			for _, idx := range perm[lo:hi] {
				accumulate(grad, w, b1, b2, x[idx])
			}
			grad.apply(w, b1, b2, a.lr/float64(hi-lo))
		}
	}

	trainScores := make([]float64, len(x))
	for i, row := range x {
		trainScores[i] = reconstructionError(w, b1, b2, row)
	}
	norm := model.FitNormalizer(a.normKind, trainScores)

	a.mu.Lock()
	a.std = std
	a.w = w
	a.b1 = b1
	a.b2 = b2
	a.norm = norm
	a.fitted = true
	a.schema = schema
	a.version++
	version := a.version
	a.mu.Unlock()

	normalized := make([]float64, len(trainScores))
	for i, s := range trainScores {
		normalized[i] = norm.Normalize(s)
	}
	if eval, ok := model.EvaluateLabeled(normalized, vectors, model.EvalThreshold); ok {
		a.log.Info().
			Int("version", version).
			Int("labeled", eval.Samples).
			Float64("precision", eval.Precision).
			Float64("recall", eval.Recall).
			Float64("f1", eval.F1).
			Msg("Fit evaluation")
	}
	return nil
}

func initWeights(rng *rand.Rand, hidden, dims int) (w [][]float64, b1, b2 []float64) {
	limit := math.Sqrt(6 / float64(hidden+dims))
	w = make([][]float64, hidden)
	for i := range w {
		w[i] = make([]float64, dims)
		for j := range w[i] {
			w[i][j] = (2*rng.Float64() - 1) * limit
		}
	}
	return w, make([]float64, hidden), make([]float64, dims)
}

// gradients accumulates one mini-batch of parameter updates.
type gradients struct {
	w      [][]float64
	b1, b2 []float64
}

func newGradients(hidden, dims int) *gradients {
	g := &gradients{
		w:  make([][]float64, hidden),
		b1: make([]float64, hidden),
		b2: make([]float64, dims),
	}
	for i := range g.w {
		g.w[i] = make([]float64, dims)
	}
	return g
}

func (g *gradients) reset() {
	for i := range g.w {
		for j := range g.w[i] {
			g.w[i][j] = 0
		}
	}
	for i := range g.b1 {
		g.b1[i] = 0
	}
	for j := range g.b2 {
		g.b2[j] = 0
	}
}

func (g *gradients) apply(w [][]float64, b1, b2 []float64, step float64) {
	for i := range w {
		for j := range w[i] {
			w[i][j] -= step * g.w[i][j]
		}
	}
	for i := range b1 {
		b1[i] -= step * g.b1[i]
	}
	for j := range b2 {
		b2[j] -= step * g.b2[j]
	}
}

// accumulate adds one sample's gradient of L = ½‖x̂−x‖². With tied
// weights each W[i][j] collects both its encoder term (da·x) and its
// decoder term (z·e).
func accumulate(g *gradients, w [][]float64, b1, b2, x []float64) {
	z, xh := forward(w, b1, b2, x)

	e := make([]float64, len(x))
	for j := range x {
		e[j] = xh[j] - x[j]
		g.b2[j] += e[j]
	}
	for i := range w {
		var dz float64
		for j := range x {
			dz += w[i][j] * e[j]
		}
		da := dz * (1 - z[i]*z[i])
		g.b1[i] += da
		for j := range x {
			g.w[i][j] += da*x[j] + z[i]*e[j]
		}
	}
}

func forward(w [][]float64, b1, b2, x []float64) (z, xh []float64) {
	z = make([]float64, len(w))
	for i := range w {
		a := b1[i]
		for j := range x {
			a += w[i][j] * x[j]
		}
		z[i] = math.Tanh(a)
	}
	xh = make([]float64, len(x))
	for j := range x {
		v := b2[j]
		for i := range w {
			v += w[i][j] * z[i]
		}
		xh[j] = v
	}
	return z, xh
}

func reconstructionError(w [][]float64, b1, b2, x []float64) float64 {
	_, xh := forward(w, b1, b2, x)
	var sum float64
	for j := range x {
		d := xh[j] - x[j]
		sum += d * d
	}
	return sum / float64(len(x))
}

// Score implements model.Model.
func (a *Autoencoder) Score(ctx context.Context, vec models.FeatureVector) (models.ModelScore, error) {
	if err := ctx.Err(); err != nil {
		return models.ModelScore{}, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if !a.fitted {
		return models.ModelScore{}, model.ErrNotReady
	}
	if err := model.CheckVector(a.schema, vec); err != nil {
		return models.ModelScore{}, err
	}

	start := time.Now()
	raw := reconstructionError(a.w, a.b1, a.b2, a.std.Transform(vec.Values))
	return models.ModelScore{
		ModelID:      ID,
		Score:        a.norm.Normalize(raw),
		Raw:          raw,
		ModelVersion: a.version,
		Elapsed:      time.Since(start),
	}, nil
}

// Health implements model.Model.
func (a *Autoencoder) Health() model.Health {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return model.Health{Fitted: a.fitted, Version: a.version}
}

// Schema implements model.Model.
func (a *Autoencoder) Schema() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.schema
}

type state struct {
	Std    model.Standardizer    `json:"standardizer"`
	W      [][]float64           `json:"weights"`
	B1     []float64             `json:"bias_hidden"`
	B2     []float64             `json:"bias_output"`
	Hidden int                   `json:"hidden_units"`
	Norm   model.ScoreNormalizer `json:"score_norm"`
}

// Save implements model.Model.
func (a *Autoencoder) Save() ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if !a.fitted {
		return nil, model.ErrNotReady
	}
	return model.Seal(ID, a.version, a.schema, state{
		Std:    a.std,
		W:      a.w,
		B1:     a.b1,
		B2:     a.b2,
		Hidden: a.hidden,
		Norm:   a.norm,
	})
}

// Load implements model.Model.
func (a *Autoencoder) Load(data []byte) error {
	env, err := model.Open(ID, data)
	if err != nil {
		return err
	}
	var st state
	if err := json.Unmarshal(env.Params, &st); err != nil {
		return fmt.Errorf("parsing %s params: %w", ID, err)
	}
	if len(st.W) == 0 {
		return fmt.Errorf("%s state has no weights", ID)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.std = st.Std
	a.w = st.W
	a.b1 = st.B1
	a.b2 = st.B2
	a.norm = st.Norm
	a.fitted = true
	a.schema = env.SchemaHash
	a.version = env.Version
	return nil
}

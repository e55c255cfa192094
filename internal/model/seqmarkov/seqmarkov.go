// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

// Package seqmarkov implements the sequence detector: it quantizes a
// session's ordered sub-window vectors into discrete state symbols and
// scores how surprising the resulting state-transition chain is under
// transition probabilities learned from training sessions. Sessions
// whose internal progression was never seen in training score high even
// when every individual window looks ordinary.
package seqmarkov

import (
	"context"
	"fmt"
	"math"
	"sort"
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
const ID = "seqmarkov"

func init() {
	model.RegisterFactory(ID, func(cfg config.ModelsConfig) (model.Model, error) {
		return New(cfg), nil
	})
}

// Bins per feature. Three levels (low, mid, high) against the training
// tertiles keep the state space small enough for transition counts to
// accumulate meaningfully.
const numBins = 3

// Chain is the Markov sequence model.
type Chain struct {
	window   int
	minFit   int
	normKind string
	log      zerolog.Logger

	mu      sync.RWMutex
	st      chainState
	fitted  bool
	schema  string
	version int
}

// chainState is the fitted, serializable model state.
type chainState struct {
	// Edges[f] holds the per-feature quantile cut points.
	Edges [][]float64 `json:"edges"`
	// Trans[from][to] counts observed transitions.
	Trans      map[string]map[string]int `json:"transitions"`
	FromTotals map[string]int            `json:"from_totals"`
	// Marginal state counts score single-window sessions.
	Marginal      map[string]int        `json:"marginal"`
	MarginalTotal int                   `json:"marginal_total"`
	States        int                   `json:"states"`
	Norm          model.ScoreNormalizer `json:"score_norm"`
}

// New builds an unfitted chain from configuration.
func New(cfg config.ModelsConfig) *Chain {
	return &Chain{
		window:   cfg.SeqMarkov.Window,
		minFit:   cfg.MinFitSamples,
		normKind: cfg.ScoreNorm,
		log:      logging.With().Str("component", "model").Str("model", ID).Logger(),
	}
}

// ID implements model.Model.
func (c *Chain) ID() string { return ID }

// sequence returns the vector's sub-window rows, falling back to the
// session vector itself as a single window.
func sequence(vec *models.FeatureVector) [][]float64 {
	if len(vec.SubVectors) > 0 {
		return vec.SubVectors
	}
	return [][]float64{vec.Values}
}

// Fit learns per-feature quantile cut points over all training
// sub-windows, counts state transitions per training session, and fits
// the score normalizer on the training chain likelihoods.
func (c *Chain) Fit(ctx context.Context, vectors []models.FeatureVector) error {
	_, schema, err := model.TrainingMatrix(vectors)
	if err != nil {
		return err
	}
	if len(vectors) < c.minFit {
		return fmt.Errorf("%d samples, need %d: %w", len(vectors), c.minFit, model.ErrInsufficientSamples)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var pool [][]float64
	for i := range vectors {
		pool = append(pool, sequence(&vectors[i])...)
	}
	edges := fitEdges(pool)

	st := chainState{
		Edges:      edges,
		Trans:      make(map[string]map[string]int),
		FromTotals: make(map[string]int),
		Marginal:   make(map[string]int),
	}
	stateSet := make(map[string]struct{})

	for i := range vectors {
		syms := symbolize(sequence(&vectors[i]), edges)
		for _, sym := range syms {
			st.Marginal[sym]++
			st.MarginalTotal++
			stateSet[sym] = struct{}{}
		}
		for t := 1; t < len(syms); t++ {
			from, to := syms[t-1], syms[t]
			if st.Trans[from] == nil {
				st.Trans[from] = make(map[string]int)
			}
			st.Trans[from][to]++
			st.FromTotals[from]++
		}
	}
	st.States = len(stateSet)

	trainScores := make([]float64, len(vectors))
	for i := range vectors {
		trainScores[i] = st.chainNLL(symbolize(sequence(&vectors[i]), edges), c.window)
	}
	st.Norm = model.FitNormalizer(c.normKind, trainScores)

	c.mu.Lock()
	c.st = st
	c.fitted = true
	c.schema = schema
	c.version++
	version := c.version
	c.mu.Unlock()

	normalized := make([]float64, len(trainScores))
	for i, raw := range trainScores {
		normalized[i] = st.Norm.Normalize(raw)
	}
	if eval, ok := model.EvaluateLabeled(normalized, vectors, model.EvalThreshold); ok {
		c.log.Info().
			Int("version", version).
			Int("states", st.States).
			Int("labeled", eval.Samples).
			Float64("precision", eval.Precision).
			Float64("recall", eval.Recall).
			Float64("f1", eval.F1).
			Msg("Fit evaluation")
	}
	return nil
}

// fitEdges computes the tertile cut points per feature over the pooled
// sub-window rows.
func fitEdges(pool [][]float64) [][]float64 {
	if len(pool) == 0 {
		return nil
	}
	dims := len(pool[0])
	edges := make([][]float64, dims)

	column := make([]float64, len(pool))
	for f := 0; f < dims; f++ {
		for i, row := range pool {
			column[i] = row[f]
		}
		sort.Float64s(column)
		cuts := make([]float64, numBins-1)
		for b := 1; b < numBins; b++ {
			cuts[b-1] = model.Quantile(column, float64(b)/numBins)
		}
		edges[f] = cuts
	}
	return edges
}

// symbolize quantizes each sub-window into a state symbol: one digit
// per feature, the bin index against that feature's cut points.
func symbolize(rows [][]float64, edges [][]float64) []string {
	syms := make([]string, len(rows))
	buf := make([]byte, len(edges))
	for i, row := range rows {
		for f := range edges {
			buf[f] = '0' + byte(binOf(row[f], edges[f]))
		}
		syms[i] = string(buf)
	}
	return syms
}

func binOf(v float64, cuts []float64) int {
	for b, cut := range cuts {
		if v <= cut {
			return b
		}
	}
	return len(cuts)
}

// chainNLL scores a symbol chain: the mean negative log-likelihood of
// its transitions under Laplace-smoothed counts, considering at most
// the final window+1 symbols. Single-symbol chains fall back to the
// marginal state distribution. Unsmoothed vocabulary is States; the +1
// absorbs symbols never seen in training.
func (s *chainState) chainNLL(syms []string, window int) float64 {
	if window > 0 && len(syms) > window+1 {
		syms = syms[len(syms)-window-1:]
	}
	vocab := float64(s.States + 1)

	if len(syms) == 1 {
		p := float64(s.Marginal[syms[0]]+1) / (float64(s.MarginalTotal) + vocab)
		return -math.Log(p)
	}

	var sum float64
	for t := 1; t < len(syms); t++ {
		from, to := syms[t-1], syms[t]
		var p float64
		if total, seen := s.FromTotals[from]; seen {
			p = float64(s.Trans[from][to]+1) / (float64(total) + vocab)
		} else {
			p = 1 / vocab
		}
		sum -= math.Log(p)
	}
	return sum / float64(len(syms)-1)
}

// Score implements model.Model.
func (c *Chain) Score(ctx context.Context, vec models.FeatureVector) (models.ModelScore, error) {
	if err := ctx.Err(); err != nil {
		return models.ModelScore{}, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.fitted {
		return models.ModelScore{}, model.ErrNotReady
	}
	if err := model.CheckVector(c.schema, vec); err != nil {
		return models.ModelScore{}, err
	}

	start := time.Now()
	raw := c.st.chainNLL(symbolize(sequence(&vec), c.st.Edges), c.window)
	return models.ModelScore{
		ModelID:      ID,
		Score:        c.st.Norm.Normalize(raw),
		Raw:          raw,
		ModelVersion: c.version,
		Elapsed:      time.Since(start),
	}, nil
}

// Health implements model.Model.
func (c *Chain) Health() model.Health {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return model.Health{Fitted: c.fitted, Version: c.version}
}

// Schema implements model.Model.
func (c *Chain) Schema() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.schema
}

// Save implements model.Model.
func (c *Chain) Save() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.fitted {
		return nil, model.ErrNotReady
	}
	return model.Seal(ID, c.version, c.schema, c.st)
}

// Load implements model.Model.
func (c *Chain) Load(data []byte) error {
	env, err := model.Open(ID, data)
	if err != nil {
		return err
	}
	var st chainState
	if err := json.Unmarshal(env.Params, &st); err != nil {
		return fmt.Errorf("parsing %s params: %w", ID, err)
	}
	if len(st.Edges) == 0 {
		return fmt.Errorf("%s state has no quantile edges", ID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.st = st
	c.fitted = true
	c.schema = env.SchemaHash
	c.version = env.Version
	return nil
}

// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

// Package calibration derives the alert threshold from the distribution
// of recent benign fused scores and publishes it atomically. Until the
// first successful calibration the pipeline is uncalibrated: every
// session passes through unalerted.
package calibration

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/vigilosec/vigilo/internal/cache"
	"github.com/vigilosec/vigilo/internal/config"
	"github.com/vigilosec/vigilo/internal/logging"
	"github.com/vigilosec/vigilo/internal/metrics"
	"github.com/vigilosec/vigilo/internal/models"
)

// ErrInsufficientHistory is returned by Recalibrate while the benign
// score history is below the configured minimum.
var ErrInsufficientHistory = errors.New("insufficient benign score history")

// Threshold is one published calibration. Immutable once published;
// recalibration swaps in a new snapshot, never edits this one.
type Threshold struct {
	Value        float64   `json:"value"`
	CalibratedAt time.Time `json:"calibrated_at"`
	SampleCount  int       `json:"sample_count"`
	Quantile     float64   `json:"quantile"`
}

// Calibrator keeps a sliding window of benign fused scores and
// republishes their target quantile as the alert threshold on a
// schedule and on explicit request. Readers take lock-free snapshots.
//
// The window is a ring buffer; a parallel binned histogram on a Fenwick
// tree is updated as scores enter and leave the ring, so a quantile
// query is a single prefix-sum descent rather than a window rescan.
type Calibrator struct {
	cfg config.CalibrationConfig
	log zerolog.Logger

	mu     sync.Mutex
	window []float64 // ring buffer of the last cfg.Window benign scores
	next   int
	filled bool
	hist   *cache.FenwickTree // per-bin counts over the live window

	published atomic.Pointer[Threshold]
}

// New builds an uncalibrated calibrator.
func New(cfg config.CalibrationConfig) *Calibrator {
	if cfg.Window <= 0 {
		cfg.Window = 1
	}
	if cfg.Bins <= 0 {
		cfg.Bins = 1
	}
	return &Calibrator{
		cfg:    cfg,
		log:    logging.With().Str("component", "calibration").Logger(),
		window: make([]float64, cfg.Window),
		hist:   cache.NewFenwickTree(cfg.Bins),
	}
}

// Observe folds one verdict's fused score into the benign history.
// Sessions labeled malicious are excluded: the threshold models what
// normal traffic scores, and known attacks in the window would drag it
// upward until they stop alerting. Unlabeled sessions count as benign.
func (c *Calibrator) Observe(v models.Verdict) {
	if v.Labeled && v.Malicious {
		return
	}
	c.add(v.FusedScore)
}

// Prime seeds the history with scores restored from storage, so a
// restarted pipeline does not spend MinSamples sessions uncalibrated.
func (c *Calibrator) Prime(scores []float64) {
	for _, s := range scores {
		c.add(s)
	}
}

func (c *Calibrator) add(score float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.filled {
		c.hist.Update(c.binOf(c.window[c.next]), -1)
	}
	c.window[c.next] = score
	c.hist.Update(c.binOf(score), 1)

	c.next++
	if c.next == len(c.window) {
		c.next = 0
		c.filled = true
	}
}

// size must be called with the lock held.
func (c *Calibrator) size() int {
	if c.filled {
		return len(c.window)
	}
	return c.next
}

// Recalibrate computes the target quantile of the benign history from
// the live histogram and publishes it. The previous threshold stays in
// force on failure.
func (c *Calibrator) Recalibrate() (Threshold, error) {
	c.mu.Lock()
	n := c.size()
	if n < c.cfg.MinSamples {
		c.mu.Unlock()
		return Threshold{}, fmt.Errorf("%d of %d samples: %w", n, c.cfg.MinSamples, ErrInsufficientHistory)
	}
	value := c.quantileCut(n)
	c.mu.Unlock()

	th := Threshold{
		Value:        value,
		CalibratedAt: time.Now().UTC(),
		SampleCount:  n,
		Quantile:     c.cfg.Quantile,
	}
	c.published.Store(&th)

	metrics.PublishThreshold(th.Value, th.SampleCount)
	c.log.Info().
		Float64("threshold", th.Value).
		Int("samples", th.SampleCount).
		Float64("quantile", th.Quantile).
		Msg("Threshold calibrated")
	return th, nil
}

func (c *Calibrator) binOf(score float64) int {
	if score <= 0 {
		return 0
	}
	if score >= 1 {
		return c.cfg.Bins - 1
	}
	return int(score * float64(c.cfg.Bins))
}

// quantileCut returns the upper edge of the bin holding the rank-q
// sample. The upper edge keeps at least a (1-q) share of the history
// strictly below the threshold, erring toward fewer alerts at the
// resolution the bin width allows. Must be called with the lock held.
func (c *Calibrator) quantileCut(n int) float64 {
	rank := int64(math.Ceil(c.cfg.Quantile * float64(n)))
	if rank < 1 {
		rank = 1
	}

	bin := c.hist.FindByPrefixSum(rank)
	if bin >= c.cfg.Bins {
		return 1
	}
	return float64(bin+1) / float64(c.cfg.Bins)
}

// Current implements the score-time threshold lookup. The second return
// is false while uncalibrated.
func (c *Calibrator) Current() (float64, bool) {
	th := c.published.Load()
	if th == nil {
		return 0, false
	}
	return th.Value, true
}

// Snapshot returns the full published threshold for the ops API.
func (c *Calibrator) Snapshot() (Threshold, bool) {
	th := c.published.Load()
	if th == nil {
		return Threshold{}, false
	}
	return *th, true
}

// Calibrated reports whether a threshold has ever been published.
func (c *Calibrator) Calibrated() bool {
	return c.published.Load() != nil
}

// Serve implements suture.Service: recalibrate on the configured
// interval until the context ends. An under-populated history is not an
// error, just a skipped cycle.
func (c *Calibrator) Serve(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info().Msg("Calibration scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := c.Recalibrate(); err != nil {
				if errors.Is(err, ErrInsufficientHistory) {
					c.log.Debug().Err(err).Msg("Calibration skipped")
					continue
				}
				c.log.Error().Err(err).Msg("Calibration failed")
			}
		}
	}
}

// String implements fmt.Stringer for supervisor logs.
func (c *Calibrator) String() string { return "calibration" }

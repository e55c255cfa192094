// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package calibration

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/vigilosec/vigilo/internal/config"
	"github.com/vigilosec/vigilo/internal/ensemble"
	"github.com/vigilosec/vigilo/internal/models"
)

var _ ensemble.ThresholdSource = (*Calibrator)(nil)

func testCfg() config.CalibrationConfig {
	return config.CalibrationConfig{
		Quantile:   0.9,
		MinSamples: 10,
		Window:     100,
		Bins:       10,
		Interval:   time.Minute,
	}
}

// midpoints returns count copies of each bin midpoint for a 10-bin
// histogram, keeping scores far from bin edges.
func midpoints(count int) []float64 {
	var out []float64
	for b := 0; b < 10; b++ {
		mid := float64(b)/10 + 0.05
		for i := 0; i < count; i++ {
			out = append(out, mid)
		}
	}
	return out
}

func benign(score float64) models.Verdict {
	return models.Verdict{SessionID: "s", FusedScore: score}
}

func malicious(score float64) models.Verdict {
	return models.Verdict{SessionID: "s", FusedScore: score, Labeled: true, Malicious: true}
}

func TestCalibrator_UncalibratedByDefault(t *testing.T) {
	c := New(testCfg())

	if c.Calibrated() {
		t.Fatal("fresh calibrator reports calibrated")
	}
	if v, ok := c.Current(); ok || v != 0 {
		t.Fatalf("Current() = %v, %v, want 0, false", v, ok)
	}
	if _, ok := c.Snapshot(); ok {
		t.Fatal("Snapshot() ok before any calibration")
	}
}

func TestCalibrator_InsufficientHistory(t *testing.T) {
	c := New(testCfg())
	for i := 0; i < 9; i++ {
		c.Observe(benign(0.5))
	}

	if _, err := c.Recalibrate(); !errors.Is(err, ErrInsufficientHistory) {
		t.Fatalf("Recalibrate() error = %v, want ErrInsufficientHistory", err)
	}
	if c.Calibrated() {
		t.Fatal("failed recalibration published a threshold")
	}

	c.Observe(benign(0.5))
	if _, err := c.Recalibrate(); err != nil {
		t.Fatalf("Recalibrate() at min samples: %v", err)
	}
}

func TestCalibrator_QuantileCut(t *testing.T) {
	// Two scores per bin midpoint, 20 total. The 0.9 quantile rank is
	// ceil(0.9*20) = 18, reached in bin 8, so the published threshold
	// is that bin's upper edge.
	c := New(testCfg())
	c.Prime(midpoints(2))

	th, err := c.Recalibrate()
	if err != nil {
		t.Fatalf("Recalibrate(): %v", err)
	}
	if math.Abs(th.Value-0.9) > 1e-12 {
		t.Fatalf("threshold = %v, want 0.9", th.Value)
	}
	if th.SampleCount != 20 {
		t.Fatalf("SampleCount = %d, want 20", th.SampleCount)
	}
	if th.Quantile != 0.9 {
		t.Fatalf("Quantile = %v, want 0.9", th.Quantile)
	}
	if th.CalibratedAt.IsZero() {
		t.Fatal("CalibratedAt not stamped")
	}

	if v, ok := c.Current(); !ok || math.Abs(v-0.9) > 1e-12 {
		t.Fatalf("Current() = %v, %v, want 0.9, true", v, ok)
	}
}

func TestCalibrator_ThresholdHugsBenignMass(t *testing.T) {
	// 19 low scores and one high one: the 0.9 quantile stays down in
	// the low bin instead of chasing the outlier.
	c := New(testCfg())
	for i := 0; i < 19; i++ {
		c.Observe(benign(0.15))
	}
	c.Observe(benign(0.95))

	th, err := c.Recalibrate()
	if err != nil {
		t.Fatalf("Recalibrate(): %v", err)
	}
	if math.Abs(th.Value-0.2) > 1e-12 {
		t.Fatalf("threshold = %v, want 0.2", th.Value)
	}
}

func TestCalibrator_ExcludesMaliciousSessions(t *testing.T) {
	cfg := testCfg()
	cfg.MinSamples = 5
	c := New(cfg)

	for i := 0; i < 4; i++ {
		c.Observe(benign(0.15))
	}
	for i := 0; i < 10; i++ {
		c.Observe(malicious(0.99))
	}

	// Malicious verdicts never entered the history.
	if _, err := c.Recalibrate(); !errors.Is(err, ErrInsufficientHistory) {
		t.Fatalf("Recalibrate() error = %v, want ErrInsufficientHistory", err)
	}

	c.Observe(benign(0.15))
	th, err := c.Recalibrate()
	if err != nil {
		t.Fatalf("Recalibrate(): %v", err)
	}
	if th.SampleCount != 5 {
		t.Fatalf("SampleCount = %d, want 5 benign only", th.SampleCount)
	}
	if math.Abs(th.Value-0.2) > 1e-12 {
		t.Fatalf("threshold = %v, want 0.2 from benign scores alone", th.Value)
	}
}

func TestCalibrator_WindowEvictsOldScores(t *testing.T) {
	cfg := testCfg()
	cfg.Window = 4
	cfg.MinSamples = 2
	cfg.Quantile = 1.0
	c := New(cfg)

	c.Prime([]float64{0.95, 0.95, 0.95, 0.95})
	th, err := c.Recalibrate()
	if err != nil {
		t.Fatalf("Recalibrate(): %v", err)
	}
	if th.Value != 1.0 {
		t.Fatalf("threshold = %v, want 1.0", th.Value)
	}

	// Fill the window again with low scores; the high era is gone.
	c.Prime([]float64{0.15, 0.15, 0.15, 0.15})
	th, err = c.Recalibrate()
	if err != nil {
		t.Fatalf("Recalibrate() after wrap: %v", err)
	}
	if math.Abs(th.Value-0.2) > 1e-12 {
		t.Fatalf("threshold = %v, want 0.2 after eviction", th.Value)
	}
	if th.SampleCount != 4 {
		t.Fatalf("SampleCount = %d, want 4", th.SampleCount)
	}

	if v, ok := c.Current(); !ok || math.Abs(v-0.2) > 1e-12 {
		t.Fatalf("Current() = %v, %v after republication", v, ok)
	}
}

func TestCalibrator_ClampsOutOfRangeScores(t *testing.T) {
	cfg := testCfg()
	cfg.MinSamples = 2
	cfg.Bins = 4
	cfg.Quantile = 0.5
	c := New(cfg)

	c.Prime([]float64{-0.5, 2.0})
	th, err := c.Recalibrate()
	if err != nil {
		t.Fatalf("Recalibrate(): %v", err)
	}
	// Rank 1 lands in the first bin (the clamped negative score).
	if math.Abs(th.Value-0.25) > 1e-12 {
		t.Fatalf("threshold = %v, want 0.25", th.Value)
	}
}

func TestCalibrator_PrimeSeedsHistory(t *testing.T) {
	c := New(testCfg())
	c.Prime(midpoints(1))

	th, err := c.Recalibrate()
	if err != nil {
		t.Fatalf("Recalibrate() after Prime: %v", err)
	}
	if th.SampleCount != 10 {
		t.Fatalf("SampleCount = %d, want 10", th.SampleCount)
	}
}

func TestCalibrator_ConcurrentReaders(t *testing.T) {
	cfg := testCfg()
	cfg.MinSamples = 1
	cfg.Window = 8
	c := New(cfg)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				v, ok := c.Current()
				if ok && (v < 0 || v > 1) {
					t.Errorf("torn threshold read: %v", v)
					return
				}
			}
		}()
	}

	for i := 0; i < 200; i++ {
		c.Observe(benign(float64(i%10)/10 + 0.05))
		if _, err := c.Recalibrate(); err != nil {
			t.Errorf("Recalibrate(): %v", err)
			break
		}
	}
	close(stop)
	wg.Wait()
}

func TestCalibrator_ServeRecalibratesOnSchedule(t *testing.T) {
	cfg := testCfg()
	cfg.MinSamples = 1
	cfg.Interval = 5 * time.Millisecond
	c := New(cfg)
	c.Prime([]float64{0.15})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Serve(ctx) }()

	deadline := time.After(5 * time.Second)
	for !c.Calibrated() {
		select {
		case <-deadline:
			t.Fatal("Serve never published a threshold")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Serve() = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not stop on context cancellation")
	}

	if v, ok := c.Current(); !ok || math.Abs(v-0.2) > 1e-12 {
		t.Fatalf("Current() = %v, %v, want 0.2, true", v, ok)
	}
}

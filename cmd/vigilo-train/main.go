// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

// Package main is the offline trainer for the Vigilo detector set.
//
// vigilo-train reads archived telemetry, replays it through the same
// normalizer and session tracker the daemon uses, extracts one feature
// vector per session, fits every enabled detector, and writes the fitted
// state to the model state directory. vigilod loads that state at boot,
// so training happens out of band and the daemon never fits on the live
// stream.
//
// # Input Format
//
// The input is a file of raw telemetry records, one per line, in any mix
// of the three wire formats the daemon accepts (JSON, key=value pairs,
// syslog-style positional lines). Records may carry an is_malicious
// ground-truth label; when any do, the trainer reports precision, recall,
// and F1 per detector against the labeled subset. Pass "-" to read from
// stdin.
//
// # Example Usage
//
// Fit from an archive and write state for the daemon:
//
//	export VIGILO_MODELS_STATE_DIR=/data/models
//	vigilo-train -input /data/archive/sessions-2026-08.jsonl
//
// Pipe from a collector dump:
//
//	zcat audit-*.jsonl.gz | vigilo-train -input -
//
// Configuration comes from the same VIGILO_-prefixed environment and
// config file as the daemon, so session windows and feature extraction
// match what the fitted models will see in production.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/vigilosec/vigilo/internal/config"
	"github.com/vigilosec/vigilo/internal/features"
	"github.com/vigilosec/vigilo/internal/logging"
	"github.com/vigilosec/vigilo/internal/model"
	"github.com/vigilosec/vigilo/internal/models"
	"github.com/vigilosec/vigilo/internal/normalizer"
	"github.com/vigilosec/vigilo/internal/session"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	input := flag.String("input", "", "telemetry file to train on, one record per line (\"-\" for stdin)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("vigilo-train " + version)
		return
	}
	if *input == "" {
		fmt.Fprintln(os.Stderr, "vigilo-train: -input is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().
		Str("version", version).
		Str("input", *input).
		Str("state_dir", cfg.Models.StateDir).
		Msg("Starting training run")

	start := time.Now()

	var reader io.Reader
	if *input == "-" {
		reader = os.Stdin
	} else {
		f, err := os.Open(*input)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to open input")
		}
		defer f.Close()
		reader = f
	}

	// Replay the archive through the daemon's own intake path so training
	// sessions are cut exactly as live ones: same dedup window, same idle
	// timeout, same flush limits.
	norm := normalizer.New(cfg.Ingest)

	var (
		mu       sync.Mutex
		sessions []*models.Session
	)
	tracker := session.New(cfg.Session, func(sess *models.Session) {
		mu.Lock()
		sessions = append(sessions, sess)
		mu.Unlock()
	})
	if err := tracker.Start(ctx); err != nil {
		logging.Fatal().Err(err).Msg("Failed to start session tracker")
	}

	var records, accepted, duplicates, malformed, dropped int

	scanner := bufio.NewScanner(reader)
	// Leave headroom past the record limit so oversized lines reach the
	// normalizer and are counted as rejects instead of aborting the scan.
	maxLine := cfg.Ingest.MaxRecordBytes * 2
	if maxLine < bufio.MaxScanTokenSize {
		maxLine = bufio.MaxScanTokenSize
	}
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)

	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		records++

		ev, err := norm.Normalize(scanner.Bytes())
		if err != nil {
			malformed++
			continue
		}
		if ev == nil {
			duplicates++
			continue
		}

		if err := tracker.Submit(ctx, ev); err != nil {
			dropped++
			continue
		}
		accepted++
	}
	if err := scanner.Err(); err != nil {
		logging.Fatal().Err(err).Msg("Failed reading input")
	}
	if ctx.Err() != nil {
		tracker.Stop()
		logging.Fatal().Msg("Interrupted before fitting, model state unchanged")
	}

	// Stop drains every open session through the emit handler.
	tracker.Stop()

	logging.Info().
		Int("records", records).
		Int("accepted", accepted).
		Int("duplicates", duplicates).
		Int("malformed", malformed).
		Int("dropped", dropped).
		Int("sessions", len(sessions)).
		Msg("Archive replayed")

	engine, err := features.NewEngine(cfg.Features)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build feature engine")
	}

	vectors := make([]models.FeatureVector, 0, len(sessions))
	labeled := 0
	for _, sess := range sessions {
		vec, err := engine.Extract(sess)
		if err != nil {
			logging.Warn().Err(err).Str("session_id", sess.ID).Msg("Skipping session")
			continue
		}
		if vec.Labeled {
			labeled++
		}
		vectors = append(vectors, *vec)
	}
	if len(vectors) == 0 {
		logging.Fatal().Msg("No feature vectors extracted, nothing to fit")
	}
	logging.Info().Int("vectors", len(vectors)).Int("labeled", labeled).Msg("Features extracted")

	registry, err := model.NewRegistry(cfg.Models)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build model registry")
	}
	if err := registry.FitAll(ctx, vectors); err != nil {
		// Per-model failures are already logged; the remaining models
		// fitted and are still worth saving.
		logging.Warn().Err(err).Msg("Some models failed to fit")
	}

	anyFitted := false
	for _, h := range registry.Health() {
		if h.Fitted {
			anyFitted = true
			break
		}
	}
	if !anyFitted {
		logging.Fatal().Msg("No model fitted, model state unchanged")
	}

	evaluate(ctx, registry, vectors)

	if err := registry.SaveAll(); err != nil {
		logging.Fatal().Err(err).Msg("Failed to save model state")
	}

	logging.Info().
		Str("state_dir", cfg.Models.StateDir).
		Dur("elapsed", time.Since(start)).
		Msg("Training run complete")
}

// evaluate scores the training batch with each fitted detector and logs
// precision/recall/F1 against the labeled subset. Purely informational:
// the scores here are in-sample, so treat them as a smoke check, not a
// holdout evaluation.
func evaluate(ctx context.Context, registry *model.Registry, vectors []models.FeatureVector) {
	for _, m := range registry.All() {
		if !m.Health().Fitted {
			continue
		}

		scores := make([]float64, len(vectors))
		scoreErrs := 0
		for i := range vectors {
			ms, err := m.Score(ctx, vectors[i])
			if err != nil {
				scoreErrs++
				continue
			}
			scores[i] = ms.Score
		}
		if scoreErrs == len(vectors) {
			logging.Warn().Str("model", m.ID()).Msg("Scoring failed on every training vector, skipping evaluation")
			continue
		}

		ev, ok := model.EvaluateLabeled(scores, vectors, model.EvalThreshold)
		if !ok {
			logging.Info().Str("model", m.ID()).Msg("No labeled vectors, skipping evaluation")
			continue
		}
		logging.Info().
			Str("model", m.ID()).
			Float64("threshold", model.EvalThreshold).
			Int("labeled", ev.Samples).
			Int("flagged", ev.Flagged).
			Float64("precision", ev.Precision).
			Float64("recall", ev.Recall).
			Float64("f1", ev.F1).
			Msg("Training evaluation")
	}
}

// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package model

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/vigilosec/vigilo/internal/config"
	"github.com/vigilosec/vigilo/internal/logging"
	"github.com/vigilosec/vigilo/internal/metrics"
	"github.com/vigilosec/vigilo/internal/models"
)

// Registry holds the constructed detector set in configuration order.
// Construction is all-or-nothing; fitting and persistence are
// per-model, so one broken detector degrades rather than disables the
// ensemble.
type Registry struct {
	cfg   config.ModelsConfig
	log   zerolog.Logger
	order []string
	byID  map[string]Model
}

// NewRegistry constructs every enabled model via its registered factory.
func NewRegistry(cfg config.ModelsConfig) (*Registry, error) {
	r := &Registry{
		cfg:  cfg,
		log:  logging.With().Str("component", "models").Logger(),
		byID: make(map[string]Model, len(cfg.Enabled)),
	}
	for _, id := range cfg.Enabled {
		m, err := New(id, cfg)
		if err != nil {
			return nil, fmt.Errorf("building model %q: %w", id, err)
		}
		r.byID[id] = m
		r.order = append(r.order, id)
	}
	return r, nil
}

// Get returns the model with the given id.
func (r *Registry) Get(id string) (Model, bool) {
	m, ok := r.byID[id]
	return m, ok
}

// All returns the models in configuration order.
func (r *Registry) All() []Model {
	out := make([]Model, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// IDs returns the enabled model ids in configuration order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Health returns every model's health snapshot keyed by id.
func (r *Registry) Health() map[string]Health {
	out := make(map[string]Health, len(r.order))
	for id, m := range r.byID {
		out[id] = m.Health()
	}
	return out
}

// FitAll trains every model on the batch. Failures are collected, not
// fatal: a model that will not fit stays at its previous version and
// keeps scoring (or stays not-ready), while the others move on.
func (r *Registry) FitAll(ctx context.Context, vectors []models.FeatureVector) error {
	var errs []error
	for _, id := range r.order {
		m := r.byID[id]

		start := time.Now()
		if err := m.Fit(ctx, vectors); err != nil {
			r.log.Error().Err(err).Str("model", id).Int("samples", len(vectors)).Msg("Model fit failed")
			errs = append(errs, fmt.Errorf("fitting %s: %w", id, err))
			continue
		}
		metrics.RecordModelFit(id, time.Since(start), len(vectors))
		r.log.Info().
			Str("model", id).
			Int("samples", len(vectors)).
			Int("version", m.Health().Version).
			Dur("elapsed", time.Since(start)).
			Msg("Model fitted")
	}
	return errors.Join(errs...)
}

// SaveAll persists every fitted model's state to the state directory as
// <id>.json. An empty StateDir disables persistence.
func (r *Registry) SaveAll() error {
	if r.cfg.StateDir == "" {
		return nil
	}
	if err := os.MkdirAll(r.cfg.StateDir, 0o750); err != nil {
		return fmt.Errorf("creating model state dir: %w", err)
	}

	var errs []error
	for _, id := range r.order {
		m := r.byID[id]
		if !m.Health().Fitted {
			continue
		}
		data, err := m.Save()
		if err != nil {
			errs = append(errs, fmt.Errorf("saving %s: %w", id, err))
			continue
		}
		path := filepath.Join(r.cfg.StateDir, id+".json")
		if err := os.WriteFile(path, data, 0o640); err != nil {
			errs = append(errs, fmt.Errorf("writing %s state: %w", id, err))
			continue
		}
		r.log.Debug().Str("model", id).Str("path", path).Msg("Model state saved")
	}
	return errors.Join(errs...)
}

// LoadAll restores saved state for every enabled model. Missing files
// are normal (first boot); state saved under a different feature schema
// is skipped with a warning so the model refits from the stream instead
// of scoring with stale geometry.
func (r *Registry) LoadAll() error {
	if r.cfg.StateDir == "" {
		return nil
	}

	var errs []error
	for _, id := range r.order {
		path := filepath.Join(r.cfg.StateDir, id+".json")
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("reading %s state: %w", id, err))
			continue
		}
		if err := r.byID[id].Load(data); err != nil {
			if errors.Is(err, ErrSchemaMismatch) {
				r.log.Warn().Str("model", id).Str("path", path).
					Msg("Saved model state was fitted under a different feature schema, ignoring")
				continue
			}
			errs = append(errs, fmt.Errorf("loading %s state: %w", id, err))
			continue
		}
		r.log.Info().Str("model", id).Int("version", r.byID[id].Health().Version).Msg("Model state loaded")
	}
	return errors.Join(errs...)
}

// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package model

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vigilosec/vigilo/internal/config"
	"github.com/vigilosec/vigilo/internal/models"
)

// Model is the contract every detector family implements. Implementations
// must be safe for concurrent Score calls; Fit and Load may swap internal
// state and take the writer side of whatever lock guards it.
type Model interface {
	// ID returns the stable detector identifier ("iforest", "recon", ...).
	ID() string

	// Fit trains the detector on the given vectors and fits the raw-score
	// normalizer on the resulting training score distribution. A
	// successful Fit increments the model version.
	Fit(ctx context.Context, vectors []models.FeatureVector) error

	// Score returns the detector's normalized anomaly score for one
	// vector. Scoring an unfitted model returns ErrNotReady; scoring a
	// vector whose schema hash differs from the fitted one returns
	// ErrSchemaMismatch.
	Score(ctx context.Context, vec models.FeatureVector) (models.ModelScore, error)

	// Health reports fitted state and version without scoring.
	Health() Health

	// Save serializes the fitted state (parameters, schema hash, version).
	Save() ([]byte, error)

	// Load restores state produced by Save. State recorded under a
	// different feature schema is refused with ErrSchemaMismatch.
	Load(data []byte) error

	// Schema returns the feature schema hash the model was fitted
	// against, or "" when unfitted.
	Schema() string
}

// Health is a detector's liveness snapshot.
type Health struct {
	Fitted  bool `json:"fitted"`
	Version int  `json:"version"`
}

// Factory builds one detector from the models configuration.
type Factory func(cfg config.ModelsConfig) (Model, error)

var (
	factoryMu sync.RWMutex
	factories = make(map[string]Factory)
)

// RegisterFactory makes a detector family constructible by id. Families
// register themselves from init; registering the same id twice panics,
// since that is a wiring bug, not a runtime condition.
func RegisterFactory(id string, f Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()

	if _, dup := factories[id]; dup {
		panic(fmt.Sprintf("model: factory %q registered twice", id))
	}
	factories[id] = f
}

// New constructs one detector by id.
func New(id string, cfg config.ModelsConfig) (Model, error) {
	factoryMu.RLock()
	f, ok := factories[id]
	factoryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("model: no factory registered for %q (known: %v)", id, Known())
	}
	return f(cfg)
}

// Known returns the registered family ids, sorted.
func Known() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()

	ids := make([]string, 0, len(factories))
	for id := range factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

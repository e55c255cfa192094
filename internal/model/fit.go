// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package model

import (
	"fmt"

	"github.com/vigilosec/vigilo/internal/models"
)

// TrainingMatrix extracts the value rows from a training batch and the
// schema hash they share. Mixed schemas in one batch are refused; that
// only happens when vectors from before and after a schema bump end up
// in the same window.
func TrainingMatrix(vectors []models.FeatureVector) ([][]float64, string, error) {
	if len(vectors) == 0 {
		return nil, "", fmt.Errorf("empty training batch: %w", ErrInsufficientSamples)
	}

	schema := vectors[0].SchemaHash
	rows := make([][]float64, len(vectors))
	for i := range vectors {
		if vectors[i].SchemaHash != schema {
			return nil, "", fmt.Errorf("vector %d schema %s differs from batch schema %s: %w",
				i, shortHash(vectors[i].SchemaHash), shortHash(schema), ErrSchemaMismatch)
		}
		rows[i] = vectors[i].Values
	}
	return rows, schema, nil
}

// CheckVector gates a Score call: the model must be fitted and the
// vector must carry the fitted schema.
func CheckVector(fittedSchema string, vec models.FeatureVector) error {
	if fittedSchema == "" {
		return ErrNotReady
	}
	if vec.SchemaHash != fittedSchema {
		return fmt.Errorf("vector schema %s, fitted against %s: %w",
			shortHash(vec.SchemaHash), shortHash(fittedSchema), ErrSchemaMismatch)
	}
	return nil
}

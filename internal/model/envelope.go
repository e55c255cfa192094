// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package model

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/vigilosec/vigilo/internal/features"
)

// Envelope wraps every serialized model state. The schema hash recorded
// at save time gates loading: state fitted under one feature layout is
// never silently rehydrated into a process running another.
type Envelope struct {
	ModelID    string          `json:"model_id"`
	Version    int             `json:"version"`
	SchemaHash string          `json:"schema_hash"`
	SavedAt    time.Time       `json:"saved_at"`
	Params     json.RawMessage `json:"params"`
}

// Seal serializes fitted state into an envelope.
func Seal(id string, version int, schemaHash string, params interface{}) ([]byte, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s params: %w", id, err)
	}
	data, err := json.Marshal(Envelope{
		ModelID:    id,
		Version:    version,
		SchemaHash: schemaHash,
		SavedAt:    time.Now().UTC(),
		Params:     raw,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling %s envelope: %w", id, err)
	}
	return data, nil
}

// Open parses an envelope and verifies it belongs to the given model
// and to the running feature schema.
func Open(id string, data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parsing %s envelope: %w", id, err)
	}
	if env.ModelID != id {
		return nil, fmt.Errorf("state belongs to model %q, not %q", env.ModelID, id)
	}
	if env.SchemaHash != features.SchemaHash() {
		return nil, fmt.Errorf("state schema %s does not match runtime schema %s: %w",
			shortHash(env.SchemaHash), shortHash(features.SchemaHash()), ErrSchemaMismatch)
	}
	return &env, nil
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

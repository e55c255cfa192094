// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

/*
Package config provides layered configuration loading and validation.

Configuration is assembled with Koanf v2 from three sources, later sources
overriding earlier ones:

 1. Built-in defaults (defaultConfig)
 2. An optional YAML file (vigilo.yaml, or VIGILO_CONFIG_PATH)
 3. VIGILO_-prefixed environment variables

Only explicitly mapped environment variables are honored; see envTransformFunc
for the full table. Slice-valued settings accept comma-separated strings from
the environment. Map-valued settings (ensemble weights, webhook headers) are
YAML-only.

# Usage

	cfg, err := config.Load()
	if err != nil {
	    log.Fatal(err)
	}
	tracker := session.NewTracker(cfg.Session)

Load validates every section and fails fast with the offending variable named
in the error, so a bad deployment dies at startup rather than mid-pipeline.

# Example YAML

	session:
	  idle_timeout: 30m
	  shards: 16
	ensemble:
	  mode: weighted_mean
	  weights:
	    iforest: 2.0
	    recon: 1.0
	calibration:
	  quantile: 0.95
	alerting:
	  webhook:
	    url: https://hooks.example.com/vigilo
	    headers:
	      Authorization: Bearer s3cret

# Thread Safety

Config is immutable after Load and safe for concurrent reads. Hot reload via
WatchConfigFile hands the caller a fresh Config; swapping it in atomically is
the caller's responsibility.
*/
package config

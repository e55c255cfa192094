// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package model

import "sort"

// Raw-score normalization kinds.
const (
	NormMinMax   = "minmax"
	NormQuantile = "quantile"
)

// Quantile bounds used by NormQuantile. The 5th/95th band ignores the
// tails, so a handful of attack sessions in the training window cannot
// stretch the scale and flatten everything else toward zero.
const (
	normQuantileLo = 0.05
	normQuantileHi = 0.95
)

// ScoreNormalizer maps a detector's native score scale onto [0,1].
// It is fitted on the training score distribution at the end of Fit and
// serialized with the model, so normalization survives Save/Load.
type ScoreNormalizer struct {
	Kind string  `json:"kind"`
	Lo   float64 `json:"lo"`
	Hi   float64 `json:"hi"`
}

// FitNormalizer fits the band on the raw training scores. An unknown
// kind falls back to quantile. With no scores the band is degenerate
// and Normalize collapses to a seen/unseen step function.
func FitNormalizer(kind string, raw []float64) ScoreNormalizer {
	n := ScoreNormalizer{Kind: kind}
	if kind != NormMinMax {
		n.Kind = NormQuantile
	}
	if len(raw) == 0 {
		return n
	}

	sorted := make([]float64, len(raw))
	copy(sorted, raw)
	sort.Float64s(sorted)

	switch n.Kind {
	case NormMinMax:
		n.Lo = sorted[0]
		n.Hi = sorted[len(sorted)-1]
	default:
		n.Lo = Quantile(sorted, normQuantileLo)
		n.Hi = Quantile(sorted, normQuantileHi)
	}
	return n
}

// Normalize maps a raw score into [0,1], clamped. A degenerate band
// (every training score identical) maps anything above the band to 1
// and the rest to 0.
func (n ScoreNormalizer) Normalize(raw float64) float64 {
	if n.Hi <= n.Lo {
		if raw > n.Hi {
			return 1
		}
		return 0
	}

	v := (raw - n.Lo) / (n.Hi - n.Lo)
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Quantile returns the q-th quantile of an ascending slice using
// linear interpolation between order statistics.
func Quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}

	pos := q * float64(len(sorted)-1)
	idx := int(pos)
	frac := pos - float64(idx)
	if idx+1 >= len(sorted) {
		return sorted[idx]
	}
	return sorted[idx] + frac*(sorted[idx+1]-sorted[idx])
}

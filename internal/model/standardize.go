// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package model

import "math"

// Standardizer centers and scales features to zero mean and unit
// variance. Detectors whose geometry is scale-sensitive (reconstruction
// error, RBF kernels) fit one on their training batch and serialize it
// with the model; tree partitioning and quantile binning are
// scale-free and skip it.
type Standardizer struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// FitStandardizer computes per-feature mean and population standard
// deviation. Constant features get scale 1 so they transform to zero
// instead of NaN.
func FitStandardizer(rows [][]float64) Standardizer {
	if len(rows) == 0 {
		return Standardizer{}
	}
	dims := len(rows[0])
	mean := make([]float64, dims)
	scale := make([]float64, dims)

	for _, row := range rows {
		for j, v := range row {
			mean[j] += v
		}
	}
	n := float64(len(rows))
	for j := range mean {
		mean[j] /= n
	}

	for _, row := range rows {
		for j, v := range row {
			d := v - mean[j]
			scale[j] += d * d
		}
	}
	for j := range scale {
		scale[j] = math.Sqrt(scale[j] / n)
		if scale[j] == 0 {
			scale[j] = 1
		}
	}
	return Standardizer{Mean: mean, Scale: scale}
}

// Transform returns a standardized copy of one row.
func (s Standardizer) Transform(row []float64) []float64 {
	out := make([]float64, len(row))
	for j, v := range row {
		out[j] = (v - s.Mean[j]) / s.Scale[j]
	}
	return out
}

// TransformAll standardizes every row into new slices.
func (s Standardizer) TransformAll(rows [][]float64) [][]float64 {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		out[i] = s.Transform(row)
	}
	return out
}

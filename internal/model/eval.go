// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package model

import "github.com/vigilosec/vigilo/internal/models"

// EvalThreshold is the normalized-score cut used for fit-time
// evaluation logging. It sits mid-band; the production alerting cut is
// the calibrated threshold, not this.
const EvalThreshold = 0.5

// Evaluation summarizes detector quality against ground-truth labels.
// A sample counts as flagged when its normalized score exceeds the
// threshold. Ratios with a zero denominator are reported as 0.
type Evaluation struct {
	Samples        int     `json:"samples"`
	Flagged        int     `json:"flagged"`
	TruePositives  int     `json:"true_positives"`
	FalsePositives int     `json:"false_positives"`
	TrueNegatives  int     `json:"true_negatives"`
	FalseNegatives int     `json:"false_negatives"`
	Precision      float64 `json:"precision"`
	Recall         float64 `json:"recall"`
	F1             float64 `json:"f1"`
}

// Evaluate computes the confusion counts and derived ratios for
// parallel score/label slices.
func Evaluate(scores []float64, malicious []bool, threshold float64) Evaluation {
	ev := Evaluation{Samples: len(scores)}

	for i, score := range scores {
		flagged := score > threshold
		if flagged {
			ev.Flagged++
		}
		switch {
		case flagged && malicious[i]:
			ev.TruePositives++
		case flagged && !malicious[i]:
			ev.FalsePositives++
		case !flagged && malicious[i]:
			ev.FalseNegatives++
		default:
			ev.TrueNegatives++
		}
	}

	if tpfp := ev.TruePositives + ev.FalsePositives; tpfp > 0 {
		ev.Precision = float64(ev.TruePositives) / float64(tpfp)
	}
	if tpfn := ev.TruePositives + ev.FalseNegatives; tpfn > 0 {
		ev.Recall = float64(ev.TruePositives) / float64(tpfn)
	}
	if ev.Precision+ev.Recall > 0 {
		ev.F1 = 2 * ev.Precision * ev.Recall / (ev.Precision + ev.Recall)
	}
	return ev
}

// EvaluateLabeled evaluates the labeled subset of a training batch.
// scores[i] must correspond to vectors[i]. The second return is false
// when no vector carries a ground-truth label.
func EvaluateLabeled(scores []float64, vectors []models.FeatureVector, threshold float64) (Evaluation, bool) {
	var (
		sub    []float64
		labels []bool
	)
	for i := range vectors {
		if !vectors[i].Labeled {
			continue
		}
		sub = append(sub, scores[i])
		labels = append(labels, vectors[i].Malicious)
	}
	if len(sub) == 0 {
		return Evaluation{}, false
	}
	return Evaluate(sub, labels, threshold), true
}

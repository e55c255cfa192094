// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package alerting

import (
	"github.com/vigilosec/vigilo/internal/features"
)

// Reference scales that saturate a group signal at 1.0. Chosen against
// the lab generators: exfiltration scenarios move 10-50MB, scan-like
// discovery touches dozens of hosts, lateral movement a handful.
const (
	exfilRateRef     = 1 << 20  // bytes/s
	exfilVolumeRef   = 10 << 20 // bytes
	scanFanoutRef    = 16       // distinct hosts
	lateralFanoutRef = 4        // distinct hosts, internal
	portEntropyRef   = 6        // bits
	dominanceFloor   = 0.25
)

// techniqueRule scores one feature group's share of the session. Rules
// are evaluated in order; the first strictly-highest signal wins, so
// earlier entries take exact ties.
type techniqueRule struct {
	tag    string
	group  string
	signal func(v []float64) float64
}

var techniqueRules = []techniqueRule{
	{"T1110", "brute_force", func(v []float64) float64 {
		return share(v[features.IdxFailedAuthCount], v[features.IdxEventCount])
	}},
	{"T1548", "privilege_escalation", func(v []float64) float64 {
		return share(v[features.IdxPrivEscalationCount], v[features.IdxEventCount])
	}},
	{"T1041", "exfiltration", func(v []float64) float64 {
		rate := clamp01(v[features.IdxBytesRate] / exfilRateRef)
		volume := clamp01(v[features.IdxBytesTotal] / exfilVolumeRef)
		return max2(rate, volume)
	}},
	{"T1059", "execution", func(v []float64) float64 {
		return max2(clamp01(v[features.IdxSuspiciousActionRatio]), clamp01(v[features.IdxBurstFlag]))
	}},
	{"T1021", "lateral_movement", func(v []float64) float64 {
		reach := clamp01(v[features.IdxConnectionFanout] / lateralFanoutRef)
		return clamp01(v[features.IdxInternalRatio]) * reach
	}},
	{"T1046", "discovery", func(v []float64) float64 {
		fanout := clamp01(v[features.IdxConnectionFanout] / scanFanoutRef)
		entropy := clamp01(v[features.IdxPortEntropy] / portEntropyRef)
		return max2(fanout, entropy)
	}},
}

// classifyTechnique maps the dominant feature group of a session to its
// ATT&CK technique tag. Sessions where no group clears the dominance
// floor are anomalous without a recognizable shape and get no tag.
func classifyTechnique(values []float64) (tag, group string) {
	if len(values) != features.FeatureCount {
		return "", ""
	}

	best := dominanceFloor
	for _, rule := range techniqueRules {
		if s := rule.signal(values); s > best {
			best = s
			tag = rule.tag
			group = rule.group
		}
	}
	return tag, group
}

func share(count, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return clamp01(count / total)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func max2(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

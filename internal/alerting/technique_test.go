// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package alerting

import (
	"testing"

	"github.com/vigilosec/vigilo/internal/features"
)

func vectorWith(set map[int]float64) []float64 {
	values := make([]float64, features.FeatureCount)
	for idx, v := range set {
		values[idx] = v
	}
	return values
}

func TestClassifyTechnique(t *testing.T) {
	cases := []struct {
		name      string
		values    []float64
		wantTag   string
		wantGroup string
	}{
		{
			name: "failed auth flood maps to brute force",
			values: vectorWith(map[int]float64{
				features.IdxEventCount:      20,
				features.IdxFailedAuthCount: 15,
			}),
			wantTag:   "T1110",
			wantGroup: "brute_force",
		},
		{
			name: "privilege escalation burst",
			values: vectorWith(map[int]float64{
				features.IdxEventCount:          10,
				features.IdxPrivEscalationCount: 8,
			}),
			wantTag:   "T1548",
			wantGroup: "privilege_escalation",
		},
		{
			name: "sustained outbound volume maps to exfiltration",
			values: vectorWith(map[int]float64{
				features.IdxBytesTotal: 20 << 20,
				features.IdxBytesRate:  2 << 20,
			}),
			wantTag:   "T1041",
			wantGroup: "exfiltration",
		},
		{
			name: "suspicious command burst maps to execution",
			values: vectorWith(map[int]float64{
				features.IdxEventCount:            30,
				features.IdxSuspiciousActionRatio: 0.6,
				features.IdxBurstFlag:             1,
			}),
			wantTag:   "T1059",
			wantGroup: "execution",
		},
		{
			name: "internal fan-out maps to lateral movement",
			values: vectorWith(map[int]float64{
				features.IdxInternalRatio:     1,
				features.IdxConnectionFanout:  4,
				features.IdxDistinctResources: 4,
			}),
			wantTag:   "T1021",
			wantGroup: "lateral_movement",
		},
		{
			name: "wide port sweep maps to discovery",
			values: vectorWith(map[int]float64{
				features.IdxConnectionFanout: 40,
				features.IdxPortEntropy:      7,
			}),
			wantTag:   "T1046",
			wantGroup: "discovery",
		},
		{
			name: "ordering breaks ties toward earlier rules",
			values: vectorWith(map[int]float64{
				features.IdxEventCount:          10,
				features.IdxFailedAuthCount:     10,
				features.IdxPrivEscalationCount: 10,
			}),
			wantTag:   "T1110",
			wantGroup: "brute_force",
		},
		{
			name: "shapeless anomaly stays untagged",
			values: vectorWith(map[int]float64{
				features.IdxEventCount:      100,
				features.IdxFailedAuthCount: 10,
				features.IdxBytesTotal:      1 << 20,
			}),
			wantTag:   "",
			wantGroup: "",
		},
		{
			name:      "zero vector stays untagged",
			values:    vectorWith(nil),
			wantTag:   "",
			wantGroup: "",
		},
		{
			name:      "malformed width stays untagged",
			values:    []float64{1, 2, 3},
			wantTag:   "",
			wantGroup: "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tag, group := classifyTechnique(tc.values)
			if tag != tc.wantTag || group != tc.wantGroup {
				t.Fatalf("classifyTechnique() = %q/%q, want %q/%q", tag, group, tc.wantTag, tc.wantGroup)
			}
		})
	}
}

func TestClassifyTechniqueLateralBeatsDiscoveryOnInternalReach(t *testing.T) {
	// Modest fan-out confined to internal targets reads as lateral
	// movement, not a scan.
	values := vectorWith(map[int]float64{
		features.IdxInternalRatio:    0.9,
		features.IdxConnectionFanout: 8,
	})
	tag, group := classifyTechnique(values)
	if tag != "T1021" {
		t.Fatalf("tag = %q (%s), want T1021", tag, group)
	}
}

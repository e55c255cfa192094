// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package features

import (
	"strings"

	"github.com/vigilosec/vigilo/internal/cache"
)

// Keyword classes matched against event action strings. Matching is
// case-insensitive and substring-based: "sudo_su_attempt" counts as
// privilege escalation, "bulk_delete" counts as suspicious.
var (
	privEscalationKeywords = []string{"sudo", "admin", "root", "privilege", "escalate", "elevate"}
	suspiciousKeywords     = []string{"delete", "drop", "exec", "inject", "payload", "shell"}
)

// Failed-auth statuses: unauthorized and forbidden.
const (
	statusUnauthorized = 401
	statusForbidden    = 403
)

// ActionClassifier buckets event actions into the keyword classes the
// feature schema counts. Keyword sets are compiled into Aho-Corasick
// automatons once at construction; classifying an action is a single
// pass over the string per class.
type ActionClassifier struct {
	privEscalation *cache.PatternMatcher
	suspicious     *cache.PatternMatcher
}

// NewActionClassifier compiles the keyword automatons.
func NewActionClassifier() *ActionClassifier {
	return &ActionClassifier{
		privEscalation: cache.NewPatternMatcherFromSlice(privEscalationKeywords, "priv_escalation"),
		suspicious:     cache.NewPatternMatcherFromSlice(suspiciousKeywords, "suspicious"),
	}
}

// IsFailedAuth reports whether the event is a failed authentication
// attempt: a login-like action that came back unauthorized or forbidden.
func (c *ActionClassifier) IsFailedAuth(action string, statusCode int) bool {
	if statusCode != statusUnauthorized && statusCode != statusForbidden {
		return false
	}
	return strings.Contains(strings.ToLower(action), "login")
}

// IsPrivEscalation reports whether the action carries a
// privilege-escalation marker.
func (c *ActionClassifier) IsPrivEscalation(action string) bool {
	return c.privEscalation.Contains(action)
}

// IsSuspicious reports whether the action carries a suspicious verb.
func (c *ActionClassifier) IsSuspicious(action string) bool {
	return c.suspicious.Contains(action)
}

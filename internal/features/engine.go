// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package features

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/vigilosec/vigilo/internal/config"
	"github.com/vigilosec/vigilo/internal/logging"
	"github.com/vigilosec/vigilo/internal/metrics"
	"github.com/vigilosec/vigilo/internal/models"
)

// ErrInsufficientData marks a session that cannot produce a feature
// vector, such as a zero-event window. It is a skip signal, not a
// pipeline failure.
var ErrInsufficientData = errors.New("insufficient data for feature extraction")

// Networks considered internal when the config lists none.
var defaultInternalCIDRs = []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"}

// Engine turns closed sessions into fixed-width feature vectors. It is
// safe for concurrent use; per-session state lives in short-lived
// accumulators, and the shared user baselines are lock-guarded.
type Engine struct {
	cfg        config.FeaturesConfig
	classifier *ActionClassifier
	baselines  *BaselineStore
	internal   []*net.IPNet
	log        zerolog.Logger
}

// NewEngine builds the engine. Zero config fields fall back to
// defaults; an unparseable internal CIDR is an error.
func NewEngine(cfg config.FeaturesConfig) (*Engine, error) {
	if cfg.BurstWindow <= 0 {
		cfg.BurstWindow = 60 * time.Second
	}
	if cfg.BurstThreshold <= 0 {
		cfg.BurstThreshold = 10
	}
	if cfg.OffHoursStart <= 0 || cfg.OffHoursStart > 23 {
		cfg.OffHoursStart = 22
	}
	if cfg.OffHoursEnd <= 0 || cfg.OffHoursEnd > 23 {
		cfg.OffHoursEnd = 6
	}
	if cfg.SubWindowEvents <= 0 {
		cfg.SubWindowEvents = 10
	}

	cidrs := cfg.InternalCIDRs
	if len(cidrs) == 0 {
		cidrs = defaultInternalCIDRs
	}
	internal := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("parsing internal CIDR %q: %w", cidr, err)
		}
		internal = append(internal, network)
	}

	return &Engine{
		cfg:        cfg,
		classifier: NewActionClassifier(),
		baselines:  NewBaselineStore(cfg.BaselineAlpha),
		internal:   internal,
		log:        logging.With().Str("component", "features").Logger(),
	}, nil
}

// Extract builds the feature vector for a closed session, including
// the per-sub-window mini vectors consumed by the sequence model. The
// user's hour baseline is read before extraction and updated after, so
// the session's own hours never dampen its own deviation.
func (e *Engine) Extract(sess *models.Session) (*models.FeatureVector, error) {
	if sess == nil || len(sess.Events) == 0 {
		return nil, ErrInsufficientData
	}
	start := time.Now()

	baseline, haveBaseline := e.baselines.Get(sess.UserID)

	acc := newAccumulator(e)
	sub := newAccumulator(e)
	var subVectors [][]float64

	for i := range sess.Events {
		ev := &sess.Events[i]
		acc.observe(ev)
		sub.observe(ev)
		if sub.count >= e.cfg.SubWindowEvents {
			subVectors = append(subVectors, sub.finalize(baseline, haveBaseline))
			sub = newAccumulator(e)
		}
	}
	// Partial tail window: short sessions still feed the sequence model.
	if sub.count > 0 {
		subVectors = append(subVectors, sub.finalize(baseline, haveBaseline))
	}

	labeled, malicious := sess.Malicious()

	vec := &models.FeatureVector{
		SessionID:  sess.ID,
		UserID:     sess.UserID,
		SourceIP:   originIP(sess),
		StartTime:  sess.StartTime,
		EndTime:    sess.EndTime,
		EventCount: len(sess.Events),
		SchemaHash: SchemaHash(),
		Values:     acc.finalize(baseline, haveBaseline),
		SubVectors: subVectors,
		Labeled:    labeled,
		Malicious:  malicious,
	}

	e.baselines.Update(sess.UserID, acc.hourMean())
	metrics.RecordFeatureExtraction(time.Since(start))

	e.log.Debug().
		Str("session_id", sess.ID).
		Int("events", len(sess.Events)).
		Int("sub_windows", len(subVectors)).
		Msg("Feature vector built")

	return vec, nil
}

// Baselines exposes the per-user hour baseline store.
func (e *Engine) Baselines() *BaselineStore {
	return e.baselines
}

// originIP returns the session's originating source address: the first
// event's non-empty SourceIP in timestamp order. Empty when no event
// carried one.
func originIP(sess *models.Session) string {
	for i := range sess.Events {
		if ip := sess.Events[i].SourceIP; ip != "" {
			return ip
		}
	}
	return ""
}

func (e *Engine) isInternal(ip net.IP) bool {
	for _, network := range e.internal {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// isOffHours reports whether the hour falls in the configured
// late-night band [OffHoursStart, 24) or [0, OffHoursEnd).
func (e *Engine) isOffHours(hour int) bool {
	return hour >= e.cfg.OffHoursStart || hour < e.cfg.OffHoursEnd
}

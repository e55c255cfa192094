// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

// Package alerting turns above-threshold verdicts into enriched,
// deduplicated alerts and drives them to the configured sinks. Delivery
// failures park the alert in a durable undelivered log instead of
// dropping it; a background replayer retries parked alerts until
// delivered or expired.
package alerting

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vigilosec/vigilo/internal/config"
	"github.com/vigilosec/vigilo/internal/logging"
	"github.com/vigilosec/vigilo/internal/metrics"
	"github.com/vigilosec/vigilo/internal/models"
)

// Sink delivers one alert to an external destination. Implementations
// own their retry policy; a returned error means the alert should be
// parked as undelivered.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, alert models.Alert) error
}

// Parker persists alerts whose delivery failed. Satisfied by
// *UndeliveredLog.
type Parker interface {
	Park(ctx context.Context, alert models.Alert, sink, reason string) error
}

// Dispatcher converts alert verdicts into alert records: severity from
// the threshold margin, ATT&CK technique from the dominant feature
// group, cool-down dedup per session, then fan-out to every sink.
type Dispatcher struct {
	cfg    config.AlertingConfig
	ledger *cooldownLedger
	sinks  []Sink
	parker Parker
	log    zerolog.Logger
}

// NewDispatcher builds a dispatcher. parker may be nil, in which case
// failed deliveries are logged and counted but not replayable.
func NewDispatcher(cfg config.AlertingConfig, sinks []Sink, parker Parker) *Dispatcher {
	return &Dispatcher{
		cfg:    cfg,
		ledger: newCooldownLedger(cfg.Cooldown),
		sinks:  sinks,
		parker: parker,
		log:    logging.With().Str("component", "alerting").Logger(),
	}
}

// Dispatch processes one verdict. Non-alert verdicts and suppressed
// repeats return (nil, nil). The returned alert carries the delivery
// status after all sinks were attempted. vec may be nil; technique
// tagging is then skipped.
func (d *Dispatcher) Dispatch(ctx context.Context, v models.Verdict, vec *models.FeatureVector) (*models.Alert, error) {
	if v.Decision != models.DecisionAlert {
		return nil, nil
	}

	now := time.Now().UTC()
	severity := d.severityFor(v.FusedScore - v.Threshold)

	ok, createdAt := d.ledger.admit(v.SessionID, severity, now)
	if !ok {
		metrics.RecordAlertSuppressed()
		d.log.Debug().
			Str("session_id", v.SessionID).
			Str("severity", string(severity)).
			Msg("Alert suppressed by cool-down")
		return nil, nil
	}

	alert := d.build(v, vec, severity, createdAt)
	d.deliver(ctx, &alert, now)
	d.ledger.record(v.SessionID, severity, createdAt, now)

	return &alert, nil
}

// Seed warms the cool-down ledger from alerts persisted before a
// restart.
func (d *Dispatcher) Seed(alerts []models.Alert) {
	cutoff := time.Now().UTC().Add(-d.cfg.Cooldown)
	for _, a := range alerts {
		if a.CreatedAt.Before(cutoff) {
			continue
		}
		d.ledger.seed(a.SessionID, a.Severity, a.CreatedAt, a.CreatedAt)
	}
}

// severityFor grades the margin by which the fused score cleared the
// threshold.
func (d *Dispatcher) severityFor(margin float64) models.Severity {
	switch {
	case margin >= d.cfg.CriticalMargin:
		return models.SeverityCritical
	case margin >= d.cfg.WarningMargin:
		return models.SeverityWarning
	default:
		return models.SeverityInfo
	}
}

func (d *Dispatcher) build(v models.Verdict, vec *models.FeatureVector, severity models.Severity, createdAt time.Time) models.Alert {
	alert := models.Alert{
		AlertID:            uuid.New().String(),
		SessionID:          v.SessionID,
		CreatedAt:          createdAt,
		FusedScore:         v.FusedScore,
		Threshold:          v.Threshold,
		ContributingModels: contributors(v.Scores),
		Severity:           severity,
		Enrichment: models.Enrichment{
			UserID:   v.UserID,
			SourceIP: v.SourceIP,
		},
		Disagreement: v.Disagreement,
		Status:       models.DeliveryPending,
	}

	if vec != nil {
		tag, group := classifyTechnique(vec.Values)
		alert.Technique = tag
		if tag != "" {
			d.log.Debug().
				Str("session_id", v.SessionID).
				Str("technique", tag).
				Str("group", group).
				Msg("Alert technique tagged")
		}
	}
	return alert
}

// deliver fans the alert out to every sink and settles its delivery
// status: delivered only when no sink failed. Failed sinks park the
// alert for replay.
func (d *Dispatcher) deliver(ctx context.Context, alert *models.Alert, start time.Time) {
	alert.Status = models.DeliveryDelivered
	for _, sink := range d.sinks {
		if err := sink.Deliver(ctx, *alert); err != nil {
			alert.Status = models.DeliveryUndelivered
			d.park(ctx, *alert, sink.Name(), err)
		}
	}

	if alert.Status == models.DeliveryDelivered {
		metrics.RecordAlertDispatched(string(alert.Severity), time.Since(start))
		d.log.Warn().
			Str("alert_id", alert.AlertID).
			Str("session_id", alert.SessionID).
			Str("severity", string(alert.Severity)).
			Str("technique", alert.Technique).
			Float64("fused_score", alert.FusedScore).
			Float64("threshold", alert.Threshold).
			Bool("disagreement", alert.Disagreement).
			Msg("Alert dispatched")
	}
}

func (d *Dispatcher) park(ctx context.Context, alert models.Alert, sink string, cause error) {
	metrics.RecordAlertUndelivered()
	if d.parker == nil {
		d.log.Error().
			Err(cause).
			Str("alert_id", alert.AlertID).
			Str("sink", sink).
			Msg("Alert undelivered and no park log configured")
		return
	}
	if err := d.parker.Park(ctx, alert, sink, cause.Error()); err != nil {
		d.log.Error().
			Err(err).
			Str("alert_id", alert.AlertID).
			Str("sink", sink).
			Msg("Failed to park undelivered alert")
		return
	}
	d.log.Warn().
		Err(cause).
		Str("alert_id", alert.AlertID).
		Str("sink", sink).
		Msg("Alert parked for replay")
}

// contributors projects the verdict's scores into alert form, top
// score first. Equal scores order by model ID so the output is stable.
func contributors(scores []models.ModelScore) []models.ContributingModel {
	out := make([]models.ContributingModel, len(scores))
	for i, s := range scores {
		out[i] = models.ContributingModel{ModelID: s.ModelID, Score: s.Score}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ModelID < out[j].ModelID
	})
	return out
}

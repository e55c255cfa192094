// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package alerting

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/vigilosec/vigilo/internal/config"
	"github.com/vigilosec/vigilo/internal/logging"
	"github.com/vigilosec/vigilo/internal/metrics"
	"github.com/vigilosec/vigilo/internal/models"
)

// Breaker thresholds for the webhook endpoint. Five consecutive
// failures open the circuit; a single probe is allowed after the
// recovery timeout.
const (
	breakerFailures = 5
	breakerTimeout  = 30 * time.Second
)

// WebhookSink posts alerts as JSON to an external receiver (SIEM
// ingest endpoint, chat relay). Outbound volume is rate-limited, the
// endpoint is circuit-breaker protected, and each delivery retries
// with jittered exponential backoff before the dispatcher parks the
// alert.
type WebhookSink struct {
	cfg     config.WebhookConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[interface{}]
	limiter *rate.Limiter
	log     zerolog.Logger
}

// NewWebhookSink builds the sink. The caller decides whether a sink is
// wanted at all (empty URL means no webhook sink is constructed).
func NewWebhookSink(cfg config.WebhookConfig) *WebhookSink {
	log := logging.With().Str("component", "alerting").Str("sink", "webhook").Logger()

	settings := gobreaker.Settings{
		Name:    "alert-webhook",
		Timeout: breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Webhook circuit breaker state changed")
		},
	}

	perMinute := cfg.RatePerMinute
	if perMinute <= 0 {
		perMinute = 60
	}

	return &WebhookSink{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker[interface{}](settings),
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
		log:     log,
	}
}

// Name implements Sink.
func (s *WebhookSink) Name() string { return "webhook" }

// Deliver implements Sink. It blocks for the rate limiter, then posts
// the alert with backoff retries. An open circuit breaker or a
// non-retryable response fails fast so the alert parks instead of
// hammering a dead endpoint.
func (s *WebhookSink) Deliver(ctx context.Context, alert models.Alert) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("webhook rate limit wait: %w", err)
	}

	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.cfg.RetryBase
	policy.MaxInterval = s.cfg.RetryMax
	policy.MaxElapsedTime = 0

	attempt := 0
	operation := func() error {
		attempt++
		_, err := s.breaker.Execute(func() (interface{}, error) {
			return nil, s.post(ctx, body)
		})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return backoff.Permanent(err)
		default:
			var status *statusError
			if errors.As(err, &status) && !status.retryable() {
				return backoff.Permanent(err)
			}
			return err
		}
	}

	notify := func(err error, next time.Duration) {
		metrics.RecordAlertRetry()
		s.log.Debug().
			Err(err).
			Str("alert_id", alert.AlertID).
			Int("attempt", attempt).
			Dur("next_retry", next).
			Msg("Webhook delivery retrying")
	}

	bounded := backoff.WithMaxRetries(backoff.WithContext(policy, ctx), uint64(s.cfg.MaxRetries))
	if err := backoff.RetryNotify(operation, bounded, notify); err != nil {
		return fmt.Errorf("webhook delivery to %s: %w", s.cfg.URL, err)
	}
	return nil
}

func (s *WebhookSink) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range s.cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= http.StatusMultipleChoices {
		return &statusError{Code: resp.StatusCode}
	}
	return nil
}

// statusError is a non-2xx webhook response. 4xx responses (other than
// timeout and throttling) will not improve on retry.
type statusError struct {
	Code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("webhook returned status %d", e.Code)
}

func (e *statusError) retryable() bool {
	if e.Code == http.StatusRequestTimeout || e.Code == http.StatusTooManyRequests {
		return true
	}
	return e.Code >= http.StatusInternalServerError
}

// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package pipeline

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/vigilosec/vigilo/internal/config"
)

// newRouter builds the Watermill router with the standard middleware
// stack, outer to inner:
//
//  1. Recoverer - handler panics become errors instead of crashes
//  2. Retry - exponential backoff for transient failures
//  3. PoisonQueue - messages that exhaust retries go to the dead-letter
//     topic instead of blocking the consumer
//
// No signals plugin is installed: the supervision tree owns process
// shutdown, and the router stops when its Run context is canceled.
func newRouter(cfg config.NATSConfig, poison message.Publisher, wmLog watermill.LoggerAdapter) (*message.Router, error) {
	router, err := message.NewRouter(message.RouterConfig{
		CloseTimeout: cfg.RouterCloseTimeout,
	}, wmLog)
	if err != nil {
		return nil, fmt.Errorf("create router: %w", err)
	}

	router.AddMiddleware(middleware.Recoverer)

	retry := middleware.Retry{
		MaxRetries:      cfg.RouterRetryCount,
		InitialInterval: cfg.RouterRetryInitialInterval,
		MaxInterval:     cfg.RouterRetryInitialInterval * 10,
		Multiplier:      2.0,
		Logger:          wmLog,
	}
	router.AddMiddleware(retry.Middleware)

	if cfg.RouterPoisonQueueEnabled && poison != nil && cfg.RouterPoisonQueueTopic != "" {
		poisonQueue, err := middleware.PoisonQueue(poison, cfg.RouterPoisonQueueTopic)
		if err != nil {
			return nil, fmt.Errorf("create poison queue: %w", err)
		}
		router.AddMiddleware(poisonQueue)
	}

	return router, nil
}

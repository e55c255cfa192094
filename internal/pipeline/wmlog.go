// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package pipeline

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
)

// wmLogger adapts a zerolog logger to the watermill.LoggerAdapter
// interface so router and transport internals log through the same
// sink as the rest of the process.
type wmLogger struct {
	log zerolog.Logger
}

func newWMLogger(log zerolog.Logger) watermill.LoggerAdapter {
	return &wmLogger{log: log}
}

func (l *wmLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.emit(l.log.Error().Err(err), fields, msg)
}

func (l *wmLogger) Info(msg string, fields watermill.LogFields) {
	l.emit(l.log.Info(), fields, msg)
}

func (l *wmLogger) Debug(msg string, fields watermill.LogFields) {
	l.emit(l.log.Debug(), fields, msg)
}

func (l *wmLogger) Trace(msg string, fields watermill.LogFields) {
	l.emit(l.log.Trace(), fields, msg)
}

func (l *wmLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	ctx := l.log.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &wmLogger{log: ctx.Logger()}
}

func (l *wmLogger) emit(ev *zerolog.Event, fields watermill.LogFields, msg string) {
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

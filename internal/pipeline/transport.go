// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	natsserver "github.com/nats-io/nats-server/v2/server"
	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/vigilosec/vigilo/internal/config"
	"github.com/vigilosec/vigilo/internal/logging"
	"github.com/vigilosec/vigilo/internal/metrics"
)

const (
	streamName = "VIGILO_EVENTS"

	embeddedHost = "127.0.0.1"
	embeddedPort = 4222

	serverReadyTimeout = 30 * time.Second
	ackWaitTimeout     = 30 * time.Second
	maxDeliver         = 5
	maxAckPending      = 1000
	reconnectWait      = 2 * time.Second
	reconnectBuffer    = 8 * 1024 * 1024
	duplicateWindow    = 2 * time.Minute
	channelBuffer      = 256
)

// Transport owns the message broker behind the pipeline: either a NATS
// JetStream connection (optionally against an embedded nats-server) or
// an in-process Go channel Pub/Sub when NATS is disabled. It hands out
// the publisher and per-consumer subscribers and tears everything down
// in dependency order on Close.
type Transport struct {
	cfg   config.NATSConfig
	log   zerolog.Logger
	wmLog watermill.LoggerAdapter

	channel *gochannel.GoChannel
	server  *natsserver.Server
	conn    *natsgo.Conn
	url     string
	pub     message.Publisher

	mu     sync.Mutex
	subs   []message.Subscriber
	closed bool
}

// NewTransport builds the broker layer for cfg. In NATS mode the
// configured stream is provisioned (created or updated) before any
// publisher exists, so TrackMsgId deduplication and durable consumers
// bind against a known stream.
func NewTransport(ctx context.Context, cfg config.NATSConfig) (*Transport, error) {
	log := logging.With().Str("component", "transport").Logger()
	t := &Transport{
		cfg:   cfg,
		log:   log,
		wmLog: newWMLogger(log),
	}

	if !cfg.Enabled {
		t.channel = gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: channelBuffer,
		}, t.wmLog)
		t.pub = &measuredPublisher{inner: t.channel}
		log.Info().Msg("transport ready: in-process channels")
		return t, nil
	}

	url := cfg.URL
	if cfg.EmbeddedServer {
		ns, err := startEmbeddedServer(cfg)
		if err != nil {
			return nil, err
		}
		t.server = ns
		url = ns.ClientURL()
	}

	conn, err := natsgo.Connect(url,
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(reconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		t.shutdownServer()
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	t.conn = conn
	t.url = url

	if err := t.ensureStream(ctx); err != nil {
		conn.Close()
		t.shutdownServer()
		return nil, err
	}

	pub, err := newNATSPublisher(url, t.wmLog)
	if err != nil {
		conn.Close()
		t.shutdownServer()
		return nil, err
	}
	t.pub = pub

	log.Info().
		Str("url", url).
		Bool("embedded", cfg.EmbeddedServer).
		Str("stream", streamName).
		Msg("transport ready: nats jetstream")
	return t, nil
}

// startEmbeddedServer boots a single-node JetStream server for
// self-contained deployments. The server listens on loopback only.
func startEmbeddedServer(cfg config.NATSConfig) (*natsserver.Server, error) {
	opts := &natsserver.Options{
		ServerName:         "vigilo-events",
		Host:               embeddedHost,
		Port:               embeddedPort,
		JetStream:          true,
		StoreDir:           cfg.StoreDir,
		JetStreamMaxMemory: cfg.MaxMemory,
		JetStreamMaxStore:  cfg.MaxStore,
		DontListen:         false,
		MaxPayload:         8 * 1024 * 1024,
	}

	ns, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create nats server: %w", err)
	}

	ns.ConfigureLogger()
	go ns.Start()

	if !ns.ReadyForConnections(serverReadyTimeout) {
		ns.Shutdown()
		return nil, errors.New("nats server not ready within timeout")
	}
	return ns, nil
}

// ensureStream creates or updates the pipeline stream. Subjects are the
// exact configured topics rather than a wildcard, which keeps stream
// provisioning compatible with BindStream on the consumer side.
func (t *Transport) ensureStream(ctx context.Context) error {
	js, err := jetstream.New(t.conn)
	if err != nil {
		return fmt.Errorf("jetstream context: %w", err)
	}

	streamCfg := jetstream.StreamConfig{
		Name:        streamName,
		Subjects:    t.streamSubjects(),
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      time.Duration(t.cfg.StreamRetentionDays) * 24 * time.Hour,
		MaxBytes:    t.cfg.MaxStore,
		Duplicates:  duplicateWindow,
		Storage:     jetstream.FileStorage,
		AllowDirect: true,
		Discard:     jetstream.DiscardOld,
		AllowRollup: true,
	}

	_, err = js.Stream(ctx, streamName)
	switch {
	case err == nil:
		if _, err := js.UpdateStream(ctx, streamCfg); err != nil {
			return fmt.Errorf("update stream %s: %w", streamName, err)
		}
	case errors.Is(err, jetstream.ErrStreamNotFound):
		if _, err := js.CreateStream(ctx, streamCfg); err != nil {
			return fmt.Errorf("create stream %s: %w", streamName, err)
		}
	default:
		return fmt.Errorf("check stream %s: %w", streamName, err)
	}
	return nil
}

func (t *Transport) streamSubjects() []string {
	candidates := []string{
		t.cfg.EventsTopic,
		t.cfg.AlertsTopic,
		t.cfg.VerdictsTopic,
	}
	if t.cfg.RouterPoisonQueueEnabled {
		candidates = append(candidates, t.cfg.RouterPoisonQueueTopic)
	}

	seen := make(map[string]struct{}, len(candidates))
	subjects := make([]string, 0, len(candidates))
	for _, s := range candidates {
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		subjects = append(subjects, s)
	}
	return subjects
}

func newNATSPublisher(url string, wmLog watermill.LoggerAdapter) (message.Publisher, error) {
	pubCfg := wmNats.PublisherConfig{
		URL: url,
		NatsOptions: []natsgo.Option{
			natsgo.RetryOnFailedConnect(true),
			natsgo.MaxReconnects(-1),
			natsgo.ReconnectWait(reconnectWait),
			natsgo.ReconnectBufSize(reconnectBuffer),
		},
		Marshaler: &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: false, // stream is provisioned by ensureStream
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}

	pub, err := wmNats.NewPublisher(pubCfg, wmLog)
	if err != nil {
		return nil, fmt.Errorf("create nats publisher: %w", err)
	}

	return &measuredPublisher{
		inner:     pub,
		stampID:   true,
		breaker:   gobreaker.NewCircuitBreaker[interface{}](publishBreakerSettings()),
		breakerOn: true,
	}, nil
}

func publishBreakerSettings() gobreaker.Settings {
	return gobreaker.Settings{
		Name:        "broker-publish",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
}

// Publisher returns the shared broker publisher. Callers must not close
// it; the transport owns its lifecycle.
func (t *Transport) Publisher() message.Publisher {
	return t.pub
}

// Subscriber returns a subscriber for one named consumer. In NATS mode
// each name maps to its own durable queue-group consumer so independent
// consumers (pipeline intake, alert fan-out) track their own positions.
// The router closes the subscribers it was handed; in channel mode the
// shared Pub/Sub is shielded from that close so publishes keep working
// while sessions drain.
func (t *Transport) Subscriber(name string) (message.Subscriber, error) {
	if !t.cfg.Enabled {
		return nopCloseSubscriber{t.channel}, nil
	}

	subCfg := wmNats.SubscriberConfig{
		URL:              t.url,
		QueueGroupPrefix: t.cfg.QueueGroup + "-" + name,
		SubscribersCount: t.cfg.SubscribersCount,
		AckWaitTimeout:   ackWaitTimeout,
		CloseTimeout:     t.cfg.RouterCloseTimeout,
		NatsOptions: []natsgo.Option{
			natsgo.RetryOnFailedConnect(true),
			natsgo.MaxReconnects(-1),
			natsgo.ReconnectWait(reconnectWait),
		},
		Unmarshaler: &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: false,
			AckAsync:      false,
			SubscribeOptions: []natsgo.SubOpt{
				natsgo.MaxDeliver(maxDeliver),
				natsgo.MaxAckPending(maxAckPending),
				natsgo.AckWait(ackWaitTimeout),
				natsgo.DeliverNew(),
				natsgo.BindStream(streamName),
			},
			DurablePrefix: t.cfg.DurableName + "-" + name,
		},
	}

	sub, err := wmNats.NewSubscriber(subCfg, t.wmLog)
	if err != nil {
		return nil, fmt.Errorf("create subscriber %s: %w", name, err)
	}

	t.mu.Lock()
	t.subs = append(t.subs, sub)
	t.mu.Unlock()
	return sub, nil
}

// Close tears the transport down: subscribers, then the publisher, then
// the connection and embedded server. Safe to call more than once.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	subs := t.subs
	t.subs = nil
	t.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Close(); err != nil {
			t.log.Warn().Err(err).Msg("close subscriber")
		}
	}
	if t.pub != nil {
		if err := t.pub.Close(); err != nil {
			t.log.Warn().Err(err).Msg("close publisher")
		}
	}
	if t.channel != nil {
		if err := t.channel.Close(); err != nil {
			t.log.Warn().Err(err).Msg("close channel pubsub")
		}
	}
	if t.conn != nil {
		t.conn.Close()
	}
	t.shutdownServer()

	t.log.Info().Msg("transport closed")
	return nil
}

func (t *Transport) shutdownServer() {
	if t.server == nil {
		return
	}
	t.server.Shutdown()
	t.server.WaitForShutdown()
	t.server = nil
}

// measuredPublisher wraps the broker publisher with per-topic publish
// metrics, optional Nats-Msg-Id stamping for JetStream deduplication,
// and an optional circuit breaker so a wedged broker fails fast instead
// of stalling every scoring worker.
type measuredPublisher struct {
	inner     message.Publisher
	stampID   bool
	breaker   *gobreaker.CircuitBreaker[interface{}]
	breakerOn bool
}

func (p *measuredPublisher) Publish(topic string, msgs ...*message.Message) error {
	if p.stampID {
		for _, msg := range msgs {
			if msg.Metadata.Get(natsgo.MsgIdHdr) == "" {
				msg.Metadata.Set(natsgo.MsgIdHdr, msg.UUID)
			}
		}
	}

	var err error
	if p.breakerOn {
		_, err = p.breaker.Execute(func() (interface{}, error) {
			return nil, p.inner.Publish(topic, msgs...)
		})
	} else {
		err = p.inner.Publish(topic, msgs...)
	}
	metrics.RecordBrokerPublish(topic, err)
	return err
}

func (p *measuredPublisher) Close() error {
	return p.inner.Close()
}

// nopCloseSubscriber shields the shared in-process Pub/Sub from the
// router's shutdown close. The transport closes the channel itself once
// drain-time publishes are done.
type nopCloseSubscriber struct {
	message.Subscriber
}

func (nopCloseSubscriber) Close() error { return nil }

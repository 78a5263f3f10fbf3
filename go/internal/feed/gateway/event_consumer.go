package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Broadcaster fans a feed event out to every connected client.
type Broadcaster interface {
	Broadcast(event *FeedEvent)
}

// JetStreamConsumerConfig holds configuration for the JetStream consumer
type JetStreamConsumerConfig struct {
	URL           string
	StreamName    string
	ConsumerName  string
	SubjectFilter string        // e.g., "props.updates.>"
	MaxDeliver    int           // Max delivery attempts
	AckWait       time.Duration // How long to wait for ack
	MaxAckPending int           // Max messages pending ack
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultJetStreamConsumerConfig returns default JetStream consumer configuration
func DefaultJetStreamConsumerConfig() JetStreamConsumerConfig {
	return JetStreamConsumerConfig{
		URL:           nats.DefaultURL,
		StreamName:    "PROPS",
		ConsumerName:  "props-gateway",
		SubjectFilter: "props.updates.>",
		MaxDeliver:    5,
		AckWait:       30 * time.Second,
		MaxAckPending: 100,
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

var errEmptyPayload = errors.New("empty update payload")

// wrapUpdate validates an upstream prop update and wraps it as a
// carnage_update frame. Anything that is not a JSON object is rejected.
func wrapUpdate(data []byte, at time.Time) (*FeedEvent, error) {
	if len(data) == 0 {
		return nil, errEmptyPayload
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("unmarshal update payload: %w", err)
	}

	payload := make(json.RawMessage, len(data))
	copy(payload, data)
	return NewCarnageUpdateEvent(payload, at), nil
}

// EventConsumer consumes prop updates from JetStream and broadcasts them to WebSocket clients
type EventConsumer struct {
	broadcaster Broadcaster
	nc          *nats.Conn
	js          jetstream.JetStream
	consumer    jetstream.Consumer
	config      JetStreamConsumerConfig
	clock       clockwork.Clock
	logger      zerolog.Logger
}

// NewEventConsumer connects to NATS and binds the durable consumer
func NewEventConsumer(ctx context.Context, b Broadcaster, config JetStreamConsumerConfig, clock clockwork.Clock, logger zerolog.Logger) (*EventConsumer, error) {
	logger = logger.With().Str("component", "nats_relay").Logger()

	opts := []nats.Option{
		nats.Name("bookiebutcher-gateway"),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	ec := &EventConsumer{
		broadcaster: b,
		nc:          nc,
		js:          js,
		config:      config,
		clock:       clock,
		logger:      logger,
	}

	if err := ec.ensureConsumer(ctx); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure consumer: %w", err)
	}

	return ec, nil
}

func (ec *EventConsumer) ensureConsumer(ctx context.Context) error {
	stream, err := ec.js.Stream(ctx, ec.config.StreamName)
	if err != nil {
		return fmt.Errorf("get stream: %w", err)
	}

	consumerConfig := jetstream.ConsumerConfig{
		Name:          ec.config.ConsumerName,
		Durable:       ec.config.ConsumerName,
		Description:   "Props gateway WebSocket relay",
		FilterSubject: ec.config.SubjectFilter,
		DeliverPolicy: jetstream.DeliverNewPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    ec.config.MaxDeliver,
		AckWait:       ec.config.AckWait,
		MaxAckPending: ec.config.MaxAckPending,
		ReplayPolicy:  jetstream.ReplayInstantPolicy,
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, consumerConfig)
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}

	ec.logger.Info().
		Str("consumer", ec.config.ConsumerName).
		Str("stream", ec.config.StreamName).
		Str("filter", ec.config.SubjectFilter).
		Msg("JetStream consumer ready")

	ec.consumer = consumer
	return nil
}

// Start relays messages until ctx is cancelled
func (ec *EventConsumer) Start(ctx context.Context) error {
	ec.logger.Info().
		Str("consumer", ec.config.ConsumerName).
		Str("stream", ec.config.StreamName).
		Msg("starting JetStream relay")

	messageCh := make(chan jetstream.Msg, 100)

	consumeCtx, err := ec.consumer.Consume(func(msg jetstream.Msg) {
		select {
		case messageCh <- msg:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer consumeCtx.Stop()

	for {
		select {
		case <-ctx.Done():
			ec.logger.Info().Msg("JetStream relay shutting down")
			return nil
		case msg := <-messageCh:
			ec.handle(msg)
		}
	}
}

func (ec *EventConsumer) handle(msg jetstream.Msg) {
	event, err := wrapUpdate(msg.Data(), ec.clock.Now())
	if err != nil {
		// a malformed update will never parse, so terminate instead of redelivering
		ec.logger.Warn().
			Err(err).
			Str("subject", msg.Subject()).
			Msg("dropping malformed prop update")
		if termErr := msg.Term(); termErr != nil {
			ec.logger.Error().Err(termErr).Msg("failed to TERM message")
		}
		return
	}

	ec.broadcaster.Broadcast(event)
	if ackErr := msg.Ack(); ackErr != nil {
		ec.logger.Error().Err(ackErr).Msg("failed to ACK message")
	}

	ec.logger.Debug().
		Str("subject", msg.Subject()).
		Int("bytes", len(msg.Data())).
		Msg("prop update relayed")
}

// Connected reports whether the NATS connection is currently up
func (ec *EventConsumer) Connected() bool {
	return ec.nc != nil && ec.nc.IsConnected()
}

// Stop closes the NATS connection
func (ec *EventConsumer) Stop() error {
	ec.logger.Info().Msg("stopping JetStream relay")

	if ec.nc != nil {
		ec.nc.Close()
	}

	return nil
}

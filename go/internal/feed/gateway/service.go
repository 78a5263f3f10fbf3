package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/bookiebutcher/go/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Service is the props feed gateway. It serves the time authority endpoint,
// the WebSocket feed and relays upstream prop updates to connected clients.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	timeHandler       *TimeHandler
	health            *HealthChecker
	eventConsumer     *EventConsumer
	redisRelay        *RedisRelay
	logger            zerolog.Logger
}

// Config holds configuration for the props gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
	// JetStreamConfig.URL empty disables the NATS relay.
	JetStreamConfig JetStreamConsumerConfig
	// RedisConfig.URL empty disables the Redis relay.
	RedisConfig RedisRelayConfig
}

// DefaultConfig returns default configuration for the props gateway with no relays
func DefaultConfig() Config {
	js := DefaultJetStreamConsumerConfig()
	js.URL = ""
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		JetStreamConfig:  js,
		RedisConfig:      RedisRelayConfig{Channel: "props:updates"},
	}
}

// ConfigFromApp maps the application config onto the gateway config.
func ConfigFromApp(cfg *config.Config) Config {
	gc := DefaultConfig()
	gc.ConnectionConfig.HeartbeatInterval = cfg.Gateway.HeartbeatInterval
	gc.JetStreamConfig.URL = cfg.Gateway.NATSURL
	if cfg.Gateway.NATSStream != "" {
		gc.JetStreamConfig.StreamName = cfg.Gateway.NATSStream
	}
	if cfg.Gateway.NATSSubject != "" {
		gc.JetStreamConfig.SubjectFilter = cfg.Gateway.NATSSubject
	}
	gc.RedisConfig.URL = cfg.Gateway.RedisURL
	if cfg.Gateway.RedisChannel != "" {
		gc.RedisConfig.Channel = cfg.Gateway.RedisChannel
	}
	return gc
}

type options struct {
	clock  clockwork.Clock
	logger zerolog.Logger
}

type Option func(*options)

func WithClock(clock clockwork.Clock) Option {
	return func(o *options) { o.clock = clock }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// NewService creates the gateway and connects any configured relays
func NewService(ctx context.Context, cfg Config, opts ...Option) (*Service, error) {
	o := options{clock: clockwork.NewRealClock(), logger: log.Logger}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.With().Str("service", "props_gateway").Logger()

	connectionManager := NewConnectionManager(cfg.ConnectionConfig, o.clock, logger)

	s := &Service{
		connectionManager: connectionManager,
		wsHandler:         NewWebSocketHandler(connectionManager, logger),
		timeHandler:       NewTimeHandler(o.clock),
		logger:            logger,
	}

	var natsStatus, redisStatus RelayStatus

	if cfg.JetStreamConfig.URL != "" {
		ec, err := NewEventConsumer(ctx, connectionManager, cfg.JetStreamConfig, o.clock, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create event consumer: %w", err)
		}
		s.eventConsumer = ec
		natsStatus = ec
	}

	if cfg.RedisConfig.URL != "" {
		rr, err := NewRedisRelay(cfg.RedisConfig, connectionManager, o.clock, logger)
		if err != nil {
			s.stopRelays()
			return nil, fmt.Errorf("failed to create redis relay: %w", err)
		}
		s.redisRelay = rr
		redisStatus = rr
	}

	s.health = NewHealthChecker(connectionManager, natsStatus, redisStatus, o.clock)

	return s, nil
}

// Start runs the hub and relays until ctx is cancelled or one of them fails
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info().
		Bool("nats_relay", s.eventConsumer != nil).
		Bool("redis_relay", s.redisRelay != nil).
		Msg("starting props gateway service")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.connectionManager.Start(ctx) })

	if s.eventConsumer != nil {
		g.Go(func() error { return s.eventConsumer.Start(ctx) })
	}
	if s.redisRelay != nil {
		g.Go(func() error { return s.redisRelay.Start(ctx) })
	}

	err := g.Wait()
	s.logger.Info().Msg("props gateway service shutting down")
	s.stopRelays()
	return err
}

func (s *Service) stopRelays() {
	if s.eventConsumer != nil {
		if err := s.eventConsumer.Stop(); err != nil {
			s.logger.Error().Err(err).Msg("failed to stop event consumer")
		}
	}
	if s.redisRelay != nil {
		if err := s.redisRelay.Stop(); err != nil {
			s.logger.Error().Err(err).Msg("failed to stop redis relay")
		}
	}
}

// RegisterRoutes registers the gateway HTTP routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.timeHandler.RegisterRoutes(mux)
	mux.Handle("GET /health", s.health)
	mux.HandleFunc("GET /metrics", s.health.ServeMetrics)
	s.logger.Info().Msg("props gateway routes registered")
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats() ConnectionStats {
	return s.connectionManager.GetConnectionStats()
}

// Broadcast pushes an event to every connected client
func (s *Service) Broadcast(event *FeedEvent) {
	s.connectionManager.Broadcast(event)
}

package gateway

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisRelayConfig configures the Redis pub/sub relay.
type RedisRelayConfig struct {
	URL     string
	Channel string
}

// RedisRelay relays prop updates published on a Redis channel to WebSocket clients.
type RedisRelay struct {
	client      *redis.Client
	channel     string
	broadcaster Broadcaster
	clock       clockwork.Clock
	logger      zerolog.Logger
	active      atomic.Bool
}

// NewRedisRelay parses the Redis URL and prepares the client. No connection is
// made until Start.
func NewRedisRelay(cfg RedisRelayConfig, b Broadcaster, clock clockwork.Clock, logger zerolog.Logger) (*RedisRelay, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	return &RedisRelay{
		client:      redis.NewClient(opts),
		channel:     cfg.Channel,
		broadcaster: b,
		clock:       clock,
		logger:      logger.With().Str("component", "redis_relay").Logger(),
	}, nil
}

// Start subscribes to the channel and relays messages until ctx is cancelled.
func (r *RedisRelay) Start(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	// wait for subscription confirmation
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	r.active.Store(true)
	defer r.active.Store(false)

	r.logger.Info().Str("channel", r.channel).Msg("redis relay started")

	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(msg)
		case <-ctx.Done():
			r.logger.Info().Msg("redis relay shutting down")
			return nil
		}
	}
}

func (r *RedisRelay) handle(msg *redis.Message) {
	event, err := wrapUpdate([]byte(msg.Payload), r.clock.Now())
	if err != nil {
		r.logger.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping malformed prop update")
		return
	}

	r.broadcaster.Broadcast(event)
	r.logger.Debug().Str("channel", msg.Channel).Msg("prop update relayed")
}

// Connected reports whether the relay holds an active subscription.
func (r *RedisRelay) Connected() bool {
	return r.active.Load()
}

// Stop closes the Redis client.
func (r *RedisRelay) Stop() error {
	return r.client.Close()
}

package publisher

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisPublisher publishes prop updates on a Redis pub/sub channel.
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
	logger  zerolog.Logger
}

func NewRedisPublisher(url, channel string, logger zerolog.Logger) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return newRedisPublisher(redis.NewClient(opts), channel, logger), nil
}

func newRedisPublisher(client redis.UniversalClient, channel string, logger zerolog.Logger) *RedisPublisher {
	return &RedisPublisher{
		client:  client,
		channel: channel,
		logger:  logger.With().Str("component", "redis_publisher").Logger(),
	}
}

func (p *RedisPublisher) Publish(ctx context.Context, update PropUpdate) error {
	data, err := prepare(&update)
	if err != nil {
		return err
	}

	receivers, err := p.client.Publish(ctx, p.channel, data).Result()
	if err != nil {
		return fmt.Errorf("publish to redis: %w", err)
	}

	p.logger.Info().
		Str("channel", p.channel).
		Str("prediction_id", update.PredictionID).
		Int64("receivers", receivers).
		Msg("published prop update")

	return nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

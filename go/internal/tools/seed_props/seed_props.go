package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mcdev12/bookiebutcher/go/internal/config"
	"github.com/mcdev12/bookiebutcher/go/internal/feed/publisher"
	"github.com/rs/zerolog/log"
)

var sampleUpdates = []publisher.PropUpdate{
	{
		PredictionID:   "bb-001",
		Player:         "LeBron James",
		Stat:           "Points",
		Line:           24.5,
		Recommendation: "OVER",
		Confidence:     0.92,
		Analysis:       "Advanced mathematical slaughter based on comprehensive analysis",
		Edge:           0.31,
		Level:          "EXECUTION",
	},
	{
		PredictionID:   "bb-002",
		Player:         "Patrick Mahomes",
		Stat:           "Passing Yards",
		Line:           274.5,
		Recommendation: "OVER",
		Confidence:     0.87,
		Edge:           0.22,
		Level:          "PRIME CUT",
	},
}

func loadUpdates(path string) ([]publisher.PropUpdate, error) {
	if path == "" {
		return sampleUpdates, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read updates: %w", err)
	}
	var updates []publisher.PropUpdate
	if err := json.Unmarshal(data, &updates); err != nil {
		return nil, fmt.Errorf("unmarshal updates: %w", err)
	}
	return updates, nil
}

func newPublisher(ctx context.Context, cfg *config.Config) (publisher.UpdatePublisher, error) {
	switch {
	case cfg.Gateway.NATSURL != "":
		js := publisher.DefaultJetStreamConfig()
		js.URL = cfg.Gateway.NATSURL
		if cfg.Gateway.NATSStream != "" {
			js.StreamName = cfg.Gateway.NATSStream
		}
		return publisher.NewJetStreamPublisher(ctx, js, log.Logger)
	case cfg.Gateway.RedisURL != "":
		return publisher.NewRedisPublisher(cfg.Gateway.RedisURL, cfg.Gateway.RedisChannel, log.Logger)
	default:
		return nil, errors.New("set NATS_URL or REDIS_URL")
	}
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	cfg, err := config.Load(os.Getenv("BUTCHER_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	config.ConfigureLogging(cfg.Log)

	var path string
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	updates, err := loadUpdates(path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load updates")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pub, err := newPublisher(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create publisher")
	}
	defer pub.Close()

	for _, u := range updates {
		if err := pub.Publish(ctx, u); err != nil {
			log.Error().Err(err).Str("player", u.Player).Msg("failed to publish update")
		}
	}

	log.Info().Int("count", len(updates)).Msg("seeded prop updates")
}

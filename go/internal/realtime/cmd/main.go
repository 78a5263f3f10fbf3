package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mcdev12/bookiebutcher/go/internal/config"
	"github.com/mcdev12/bookiebutcher/go/internal/realtime"
	"github.com/mcdev12/bookiebutcher/go/internal/realtime/clocksync"
	"github.com/mcdev12/bookiebutcher/go/internal/realtime/connection"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// feedLogger prints what a dashboard would render.
type feedLogger struct {
	display *clocksync.Display
	logger  zerolog.Logger
}

func (f *feedLogger) OnStateChange(state connection.State) {
	f.logger.Info().Str("state", state.String()).Msg("feed connection state changed")
}

func (f *feedLogger) OnMessage(msg connection.InboundMessage) {
	event := f.logger.Info().Str("type", msg.Type).Time("received_at", msg.ReceivedAt)
	if msg.Type == "carnage_update" {
		var frame struct {
			Payload struct {
				Player         string  `json:"player"`
				Stat           string  `json:"stat"`
				Line           float64 `json:"line"`
				Recommendation string  `json:"recommendation"`
			} `json:"payload"`
		}
		if err := msg.Decode(&frame); err == nil {
			event = event.
				Str("player", frame.Payload.Player).
				Str("stat", frame.Payload.Stat).
				Float64("line", frame.Payload.Line).
				Str("recommendation", frame.Payload.Recommendation)
		}
	}
	event.Msg("feed message")
}

func (f *feedLogger) OnClockTick(now time.Time) {
	f.logger.Debug().
		Str("clock", f.display.Clock(now)).
		Str("date", f.display.Date(now)).
		Str("zone", f.display.Zone(now)).
		Msg("tick")
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

	layerCfg, err := realtime.ConfigFromApp(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid realtime config")
	}

	metrics := connection.NewCountingMetrics()
	layer, err := realtime.New(layerCfg, realtime.WithMetrics(metrics))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create realtime layer")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sub := &feedLogger{display: layer.Clock.Display(), logger: log.Logger}
	snap, unsubscribe := layer.Subscribe(sub)
	defer unsubscribe()

	log.Info().
		Str("push_url", layerCfg.Connection.URL).
		Str("authority_url", layerCfg.AuthorityURL).
		Str("state", snap.Connection.State.String()).
		Msg("starting sync agent")

	layer.Start(ctx)

	<-ctx.Done()
	log.Info().Msg("received shutdown signal")

	layer.Shutdown()

	state := layer.Clock.State()
	log.Info().
		Interface("metrics", metrics.Snapshot()).
		Dur("skew", state.Skew).
		Bool("synced", state.Synced).
		Msg("sync agent shutdown complete")
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mcdev12/bookiebutcher/go/internal/config"
	"github.com/mcdev12/bookiebutcher/go/internal/feed/gateway"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	cfg, err := config.Load(os.Getenv("BUTCHER_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	config.ConfigureLogging(cfg.Log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info().
		Str("port", cfg.Gateway.Port).
		Str("nats_url", cfg.Gateway.NATSURL).
		Str("redis_url", cfg.Gateway.RedisURL).
		Dur("heartbeat_interval", cfg.Gateway.HeartbeatInterval).
		Msg("starting props gateway")

	gatewayService, err := gateway.NewService(ctx, gateway.ConfigFromApp(cfg))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create gateway service")
	}

	server := gateway.NewHTTPServer(fmt.Sprintf(":%s", cfg.Gateway.Port), gatewayService.Handler())

	serviceDone := make(chan struct{})
	go func() {
		defer close(serviceDone)
		if err := gatewayService.Start(ctx); err != nil {
			log.Error().Err(err).Msg("gateway service failed")
			cancel()
		}
	}()

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	select {
	case <-serviceDone:
	case <-shutdownCtx.Done():
		log.Warn().Msg("gateway service did not stop in time")
	}

	log.Info().Msg("props gateway shutdown complete")
}

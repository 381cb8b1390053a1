package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/coopsync/go/internal/room/gateway"
	"github.com/mcdev12/coopsync/go/internal/room/mirror"
	"github.com/mcdev12/coopsync/go/internal/room/registry"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the optional YAML config file")
	flag.Parse()

	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := gateway.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var m mirror.Mirror = mirror.Nop{}
	if cfg.Mirror.Enabled {
		js, err := mirror.NewJetStreamMirror(ctx, cfg.Mirror.JetStream)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create JetStream mirror")
		}
		m = mirror.NewAsync(js, cfg.Mirror.QueueSize)
	}
	defer m.Close()

	log.Info().
		Str("addr", cfg.ListenAddr).
		Bool("mirror", cfg.Mirror.Enabled).
		Bool("host_only_control", cfg.Policy.HostOnlyControl).
		Dur("timer_duration", cfg.DefaultTimerDuration).
		Msg("starting room gateway")

	service := gateway.NewService(cfg, registry.WithMirror(m))

	// Event streams stay open indefinitely, so there is no write timeout.
	// Requests inherit ctx so cancelling it ends open streams on shutdown.
	server := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     service.Handler(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		if err := service.Start(ctx); err != nil {
			log.Error().Err(err).Msg("gateway service failed")
		}
	}()

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("room gateway shutdown complete")
}

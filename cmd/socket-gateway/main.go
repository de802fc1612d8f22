package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/alpr-fleet/fleet-server/internal/auth"
	"github.com/alpr-fleet/fleet-server/internal/bus"
	"github.com/alpr-fleet/fleet-server/internal/config"
	"github.com/alpr-fleet/fleet-server/internal/fanout"
	"github.com/alpr-fleet/fleet-server/internal/storage"
)

func main() {
	// Command line flags
	var configFile string
	flag.StringVar(&configFile, "config", "config/socket-gateway.yml", "Configuration file path")
	flag.Parse()

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Load configuration
	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Connect to database (camera lookups for authorization checks)
	store, err := storage.NewPostgresStore(cfg.Database.DSN, storage.PoolOptions{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer store.Close()

	log.Info().Msg("Connected to database")

	// Connect to NATS
	nc, err := bus.Connect(cfg.NATS, "socket-gateway")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to NATS")
	}
	defer nc.Close()

	log.Info().Str("url", cfg.NATS.URL).Msg("Connected to NATS")

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	hub := fanout.NewHub()
	sessions := fanout.NewSessionManager(cfg.Fanout.SessionSweepMax)

	wg.Add(1)
	go func() {
		defer wg.Done()
		sessions.Run(ctx)
	}()

	// Bus bridge feeding the hub
	bridge := fanout.NewBridge(nc, hub)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := bridge.Start(ctx); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("Bus bridge stopped")
		}
	}()

	// Viewer-facing websocket server
	gateway := fanout.NewGateway(cfg.Fanout, store, auth.NewJWTManager(&cfg.JWT), nc, hub, sessions)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := gateway.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("Socket gateway failed")
		}
	}()

	// Wait for signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")

	cancel()
	wg.Wait()

	log.Info().Msg("Socket gateway stopped")
}

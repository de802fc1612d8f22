package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/alpr-fleet/fleet-server/internal/api"
	"github.com/alpr-fleet/fleet-server/internal/bus"
	"github.com/alpr-fleet/fleet-server/internal/config"
	"github.com/alpr-fleet/fleet-server/internal/device"
	"github.com/alpr-fleet/fleet-server/internal/heartbeat"
	"github.com/alpr-fleet/fleet-server/internal/integration"
	"github.com/alpr-fleet/fleet-server/internal/models"
	"github.com/alpr-fleet/fleet-server/internal/storage"
	"github.com/alpr-fleet/fleet-server/pkg/crypto"
)

func main() {
	// Command line flags
	var configFile string
	flag.StringVar(&configFile, "config", "config/fleet-server.yml", "Configuration file path")
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

	// Connect to database
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
	nc, err := bus.Connect(cfg.NATS, "fleet-server")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to NATS")
	}
	defer nc.Close()

	log.Info().Str("url", cfg.NATS.URL).Msg("Connected to NATS")

	publisher, err := bus.NewPublisher(nc)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create bus publisher")
	}

	signer, err := crypto.NewCommandSigner(cfg.HMAC.Secret)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create command signer")
	}

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	// Heartbeat tracker reports silent devices as offline camera_connection
	// events so viewers see the outage.
	tracker, err := heartbeat.New(ctx, cfg.Redis, cfg.Device.HeartbeatInterval, func(lprID int64) {
		publisher.Emit("camera_connection", lprID, map[string]interface{}{
			"camera_connection": false,
			"lpr_id":            lprID,
		})
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		tracker.Run(ctx)
	}()

	// Recording capture
	recorder, err := device.NewRecorder(store, cfg.Recording)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize recorder")
	}
	recorder.Notify = func(record *models.Record) {
		publisher.PublishRecordingSaved(record)
	}

	// Device connection registry
	registry, err := device.NewRegistry(cfg.Device, signer, store, publisher, tracker, recorder)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create device registry")
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		registry.Run(ctx)
	}()

	// Register every active device at startup
	lprs, err := store.ListActiveLPRs(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list active devices")
	}
	for _, lpr := range lprs {
		if err := registry.Add(lpr); err != nil {
			log.Error().Err(err).Int64("lpr_id", lpr.ID).Msg("Failed to register device")
		}
	}
	log.Info().Int("devices", len(lprs)).Msg("Active devices registered")

	// Bus subscriber: command relay and settings request-reply
	subscriber := bus.NewSubscriber(nc, store, registry)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := subscriber.Start(ctx); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("Bus subscriber stopped")
		}
	}()

	// Integration forwarder (optional)
	forwarder := integration.NewForwarderService(nc, cfg.Integration)
	if forwarder.Enabled() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := forwarder.Start(ctx); err != nil && err != context.Canceled {
				log.Error().Err(err).Msg("Integration forwarder stopped")
			}
		}()
	}

	// REST API server
	apiServer := api.NewRESTServer(cfg, store, registry)
	wg.Add(1)
	go func() {
		defer wg.Done()
		addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
		if err := apiServer.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("REST API server failed")
		}
	}()

	// Wait for signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")

	cancel()

	if err := apiServer.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown API server gracefully")
	}

	wg.Wait()

	log.Info().Msg("Fleet server stopped")
}

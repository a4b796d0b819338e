package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"tapline/internal/archive"
	"tapline/internal/config"
	"tapline/internal/grouper"
	"tapline/internal/httpserver"
	"tapline/internal/metrics"
	"tapline/internal/relay"
	"tapline/internal/stream"
	"tapline/internal/supervisor"
	"tapline/internal/tracing"
)

func main() {
	// Configure zerolog
	// Set log level from environment (default: info)
	logLevel := os.Getenv("LOG_LEVEL")
	switch logLevel {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info", "":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	// Use pretty console logging in development, JSON in production
	if os.Getenv("LOG_FORMAT") == "json" {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	}

	log.Info().Msg("Starting tapline stream connector")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A paused deployment acknowledges termination signals and does nothing
	// else: no stream, no sinks, no ops server.
	if cfg.Paused {
		log.Info().Msg("Paused mode enabled, no network activity")
		<-ctx.Done()
		log.Info().Msg("Shutdown signal received")
		return
	}

	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		tp, err := tracing.Init(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize tracing")
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("Tracer shutdown failed")
			}
		}()
		log.Info().Msg("Tracing initialized")
	}

	// Assemble the sinks: webhook always, datastore and archive when
	// configured. All of them are best-effort from the stream's perspective.
	relayOpts := []relay.Option{}

	var archiveStore *archive.Store
	if cfg.ArchiveDBPath != "" {
		archiveStore, err = archive.Open(archive.Options{Path: cfg.ArchiveDBPath})
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.ArchiveDBPath).Msg("Failed to open archive")
		}
		defer archiveStore.Close()
		relayOpts = append(relayOpts, relay.WithArchiver(archiveStore))
		log.Info().Str("path", cfg.ArchiveDBPath).Msg("Archive opened")
	}

	if cfg.DatastoreURL != "" {
		relayOpts = append(relayOpts, relay.WithDatastore(relay.NewDatastore(cfg.DatastoreURL, cfg.DatastoreKey)))
		log.Info().Str("endpoint", cfg.DatastoreURL).Msg("Datastore sink enabled")
	}

	fwd := relay.New(cfg.WebhookURL, relayOpts...)

	params := stream.DefaultSubscriptionParams()
	params.Compress = cfg.Compress
	client, err := stream.NewClient(cfg.StreamEndpoints, cfg.StreamToken, params)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create stream client")
	}
	defer client.Close()

	// Per-post path: reconstruct text, then either buffer by conversation or
	// forward immediately.
	var grp *grouper.Grouper
	var handler supervisor.Handler
	if cfg.GroupThreads {
		grp = grouper.New(cfg.GroupWindow, func(rec relay.Record) {
			fwd.Forward(context.Background(), rec)
		})
		grp.Start()
		handler = func(_ context.Context, post *stream.Post, includes *stream.Includes) {
			grp.Observe(relay.FromPost(post, includes))
		}
		log.Info().Dur("window", cfg.GroupWindow).Msg("Thread grouping enabled")
	} else {
		handler = func(ctx context.Context, post *stream.Post, includes *stream.Includes) {
			fwd.Forward(ctx, relay.FromPost(post, includes))
		}
		log.Info().Msg("Per-post forwarding enabled")
	}

	sup := supervisor.New(client, supervisor.Config{
		LivenessTimeout: cfg.LivenessTimeout,
		ReconnectDelay:  cfg.ReconnectDelay,
		RateLimitFloor:  cfg.RateLimitFloor,
		StrictRestart:   cfg.StrictRestart,
	}, handler)

	statsSource := httpserver.StatsSource{
		State:           func() string { return sup.State().String() },
		StreamConnected: sup.IsConnected,
	}
	collectorSource := metrics.StatsSource{
		StreamConnected: sup.IsConnected,
	}
	if grp != nil {
		statsSource.OpenGroups = grp.OpenCount
	}
	if archiveStore != nil {
		statsSource.ArchivedRecords = archiveStore.Count
		collectorSource.ArchivedCount = archiveStore.Count
	}
	metrics.StartCollector(ctx, collectorSource, 30*time.Second)

	srv := httpserver.New(cfg.ListenAddr, statsSource, log.Logger)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(srv.Start)
	eg.Go(func() error {
		sup.Start(egCtx)
		<-egCtx.Done()
		log.Info().Msg("Shutdown signal received")

		sup.Stop()
		if grp != nil {
			grp.Stop()
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := eg.Wait(); err != nil {
		log.Fatal().Err(err).Msg("Connector failed")
	}
	log.Info().Msg("Shutdown complete")
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"EscrowDesk/internal/config"
	"EscrowDesk/internal/engine"
	"EscrowDesk/internal/events"
	"EscrowDesk/internal/observability"
	"EscrowDesk/internal/oracle"
	"EscrowDesk/internal/persistence"
	"EscrowDesk/internal/server"
	"EscrowDesk/internal/sweep"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("load config")
	}

	root := observability.NewRootLogger(observability.LogConfig{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	log := root.With().Str("component", "main").Logger()
	log.Info().Msg("escrowdesk starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	metrics := observability.NewMetrics()
	health := observability.NewHealthChecker()
	clock := engine.SystemClock{}

	// --- Storage ---
	var (
		store   engine.Store
		offers  engine.OfferLookup
		users   engine.UserDirectory
		history engine.TradeHistory
		lister  sweep.Lister
	)
	switch cfg.Storage.Backend {
	case "memory":
		log.Warn().Msg("memory storage selected, nothing will survive a restart")
		mem := persistence.NewMemStore()
		store, offers, users, history, lister = mem, mem, mem, mem, mem

	case "postgres":
		db, err := sql.Open("postgres", cfg.Storage.PostgresDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("postgres open")
		}
		defer db.Close()
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			log.Fatal().Err(err).Msg("postgres ping")
		}
		log.Info().Msg("postgres connected")

		if cfg.Storage.MigrateOnBoot {
			migrator := persistence.NewMigrator(db, cfg.Storage.MigrationsDir,
				root.With().Str("component", "migrator").Logger())
			if err := migrator.Up(ctx); err != nil {
				log.Fatal().Err(err).Msg("run migrations")
			}
		}

		pg := persistence.NewPGStore(db)
		store, history, lister = pg, pg, pg
		offers = persistence.NewPGOffers(db)
		users = persistence.NewPGAccounts(db)

	default:
		log.Fatal().Str("backend", cfg.Storage.Backend).Msg("unknown storage backend")
	}

	// --- Outbound events ---
	var sink engine.EventSink
	if cfg.NATS.Enabled {
		natsLog := root.With().Str("component", "events").Logger()
		nc, js, err := events.ConnectNATS(cfg.NATS.URL, natsLog)
		if err != nil {
			log.Fatal().Err(err).Msg("nats connect")
		}
		defer nc.Close()
		if err := events.EnsureStream(ctx, js, natsLog); err != nil {
			log.Fatal().Err(err).Msg("ensure event stream")
		}
		sink = events.NewPublisher(js, natsLog, metrics)
	}

	// --- Price oracle ---
	prices := oracle.NewClient(oracle.Config{
		BaseURL:  cfg.Oracle.BaseURL,
		Timeout:  cfg.Oracle.Timeout,
		CacheTTL: cfg.Oracle.CacheTTL,
	}, root.With().Str("component", "oracle").Logger(), metrics)

	// --- Lifecycle engine ---
	eng := engine.NewManager(engine.Config{
		TradeWindow:    cfg.Engine.TradeWindow,
		DedupCacheSize: cfg.Engine.DedupCacheSize,
	}, store, offers, users, prices, history, clock, sink,
		root.With().Str("component", "engine").Logger(), metrics)

	errChan := make(chan error, 4)

	// --- Expiry sweep ---
	if cfg.Sweep.Enabled {
		sweeper := sweep.NewSweeper(sweep.Config{
			Interval:  cfg.Sweep.Interval,
			BatchSize: cfg.Sweep.BatchSize,
		}, lister, eng, clock, root.With().Str("component", "sweep").Logger(), metrics)
		go func() {
			if err := sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errChan <- err
			}
		}()
	}

	// --- Metrics listener ---
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: cfg.HTTP.MetricsAddr, Handler: metricsMux}
	go func() {
		log.Info().Str("addr", cfg.HTTP.MetricsAddr).Msg("metrics listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	// --- API listener ---
	router := server.NewRouter(eng, health,
		root.With().Str("component", "http").Logger(), metrics)
	apiServer := &http.Server{Addr: cfg.HTTP.ListenAddr, Handler: router}
	go func() {
		log.Info().Str("addr", cfg.HTTP.ListenAddr).Msg("api listening")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	health.SetReady(true)
	log.Info().
		Str("storage", cfg.Storage.Backend).
		Bool("events", cfg.NATS.Enabled).
		Msg("escrowdesk ready")

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		log.Error().Err(err).Msg("fatal error, shutting down")
	}

	health.SetReady(false)
	cancel()

	shutCtx, shutCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutCancel()
	if err := apiServer.Shutdown(shutCtx); err != nil {
		log.Error().Err(err).Msg("api shutdown")
	}
	if err := metricsServer.Shutdown(shutCtx); err != nil {
		log.Error().Err(err).Msg("metrics shutdown")
	}

	log.Info().Msg("escrowdesk stopped")
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/keyrace/keyrace/internal/config"
	"github.com/keyrace/keyrace/internal/dbconfig"
	"github.com/keyrace/keyrace/internal/gateway"
	"github.com/keyrace/keyrace/internal/race"
	"github.com/keyrace/keyrace/internal/results"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(logLevel())

	cfg, err := config.Load(getEnv("CONFIG_PATH", ""))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	dbCfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(ctx, dbCfg.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create database pool")
	}
	defer pool.Close()

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := pool.Ping(pingCtx); err != nil {
		pingCancel()
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	pingCancel()

	log.Info().
		Str("database", dbCfg.Database).
		Str("port", cfg.Server.Port).
		Msg("starting keyrace server")

	// Result sinks: Postgres always, JetStream when configured.
	repo := results.NewRepository(pool)
	sinks := []race.ResultSink{repo}

	if cfg.NATS.URL != "" {
		jsCfg := results.DefaultJetStreamConfig()
		jsCfg.URL = cfg.NATS.URL
		publisher, err := results.NewJetStreamPublisher(jsCfg)
		if err != nil {
			log.Warn().Err(err).Msg("result stream unavailable, continuing without it")
		} else {
			defer publisher.Close()
			sinks = append(sinks, publisher)
		}
	}
	sink := results.NewFanoutSink(sinks...)

	// Rooms and gateway
	settings := race.Settings{
		MinPlayers:       cfg.Game.MinPlayers,
		CountdownSeconds: cfg.Game.CountdownSeconds,
		GameTimeout:      time.Duration(cfg.Game.GameTimeoutSec) * time.Second,
		SaveTimeout:      time.Duration(cfg.Game.SaveTimeoutSec) * time.Second,
	}

	cm := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())
	registry := race.NewRegistry(ctx, settings, cm, sink, clockwork.NewRealClock(), nil)
	gatewayService := gateway.NewService(cm, registry)
	leaderboard := results.NewLeaderboardHandler(repo)

	// HTTP server
	mux := http.NewServeMux()
	gatewayService.RegisterRoutes(mux)
	leaderboard.RegisterRoutes(mux)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodOptions,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:     h2c.NewHandler(c.Handler(mux), &http2.Server{}),
		IdleTimeout: 120 * time.Second,
	}

	// Start broadcast loop
	go gatewayService.Start(ctx)

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}

	log.Info().Msg("server stopped")
}

func logLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

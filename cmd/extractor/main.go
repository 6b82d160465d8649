package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/blockedby/tg-extractor/internal/config"
	"github.com/blockedby/tg-extractor/internal/database"
	"github.com/blockedby/tg-extractor/internal/extractor"
	"github.com/blockedby/tg-extractor/internal/logger"
	"github.com/blockedby/tg-extractor/internal/metrics"
	"github.com/blockedby/tg-extractor/internal/migrator"
	"github.com/blockedby/tg-extractor/internal/nats"
	"github.com/blockedby/tg-extractor/internal/publisher"
	"github.com/blockedby/tg-extractor/internal/repository"
	"github.com/blockedby/tg-extractor/internal/telegram"
	"github.com/blockedby/tg-extractor/internal/web"
)

// events older than this are dropped from the stream
const streamRetention = 7 * 24 * time.Hour

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// 2. Initialize logger
	if err := logger.Init(cfg.LogLevel, cfg.LogFile); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	log := logger.Get()
	log.Info().Msg("starting extraction service")

	if cfg.TGApiID == 0 || cfg.TGApiHash == "" {
		log.Fatal().Msg("TG_API_ID and TG_API_HASH are required")
	}

	// 3. Setup context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 4. Connect to database and migrate
	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := migrator.New().Up(ctx, cfg.DatabaseURL); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	// 5. Repositories
	jobsRepo := repository.NewJobsRepository(db.GORM)
	sessionsRepo := repository.NewSessionsRepository(db.GORM)
	settingsRepo := repository.NewSettingsRepository(db.GORM)
	usersRepo := repository.NewUsersRepository(db.Pool)
	statsRepo := repository.NewStatsRepository(db.Pool)

	// jobs left active by a previous process can never progress
	if n, err := jobsRepo.FailStale(ctx, extractor.ReasonInterrupted); err != nil {
		log.Error().Err(err).Msg("failed to recover stale jobs")
	} else if n > 0 {
		log.Warn().Int64("count", n).Msg("marked stale jobs as interrupted")
	}

	// 6. Progress sinks: websocket hub, optionally NATS
	hub := web.NewHub()
	go hub.Run()
	defer hub.Stop()

	sinks := extractor.FanOut{hub}

	nc, err := nats.New(ctx, cfg.NatsURL)
	if err != nil {
		log.Warn().Err(err).Msg("failed to connect to nats, publishing disabled")
	} else {
		defer nc.Close()
		if err := nc.EnsureStream(ctx, publisher.StreamName, []string{publisher.SubjectPattern}, streamRetention); err != nil {
			log.Warn().Err(err).Msg("failed to ensure stream, publishing disabled")
		} else {
			sinks = append(sinks, publisher.NewNATSPublisher(nc, cfg.NatsPublishProgress))
			log.Info().Bool("connected", nc.IsConnected()).Msg("publishing run events to nats")
		}
	}

	// 7. Session pool, engine and registry
	pool := telegram.NewPool(sessionsRepo, telegram.NewUserConnFactory(cfg))
	defer pool.Close()

	deps := extractor.Deps{
		Pool:     pool,
		Jobs:     jobsRepo,
		Settings: settingsRepo,
		Stats:    usersRepo,
		Sink:     sinks,
	}
	engine := extractor.NewEngine(deps, cfg.PacingDelay)
	downloader := extractor.NewDownloader(deps, cfg.DownloadDir, cfg.DownloadProgressInterval)
	registry := extractor.NewRegistry(engine, jobsRepo)

	premiumMax := cfg.PremiumMaxBatch
	if cfg.PlansFile != "" {
		plans, err := config.LoadPlans(cfg.PlansFile)
		if err != nil {
			log.Fatal().Err(err).Str("file", cfg.PlansFile).Msg("failed to load plans")
		}
		premiumMax = plans.MaxBatch()
	}
	limits := extractor.NewLimits(cfg.FreeMaxBatch, premiumMax, usersRepo)

	// 8. HTTP
	metrics.MustRegister()

	handler := extractor.NewHandler(extractor.HandlerDeps{
		Tasks:     registry,
		Limits:    limits,
		Downloads: downloader,
		Pool:      pool,
		Sessions:  sessionsRepo,
		Settings:  settingsRepo,
		Users:     usersRepo,
		Jobs:      jobsRepo,
		Stats:     statsRepo,
	})

	server := web.NewServer(&web.Config{Port: cfg.HTTPPort}, hub)
	server.MountAPI(extractor.NewRouter(handler))

	if err := server.Listen(); err != nil {
		log.Fatal().Err(err).Int("port", cfg.HTTPPort).Msg("failed to bind http port")
	}
	log.Info().Str("addr", server.BaseURL()).Msg("starting web server")
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	// 9. Wait for shutdown
	<-ctx.Done()
	log.Info().Msg("shutting down services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("server shutdown")
	}

	// running jobs end as failed "interrupted"
	registry.Close()

	log.Info().Msg("shutdown complete")
}

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"afterhours-backend/internal/api"
	"afterhours-backend/internal/api/handlers"
	"afterhours-backend/internal/config"
	"afterhours-backend/internal/conversion"
	"afterhours-backend/internal/events"
	"afterhours-backend/internal/matching"
	"afterhours-backend/internal/photos"
	"afterhours-backend/internal/retention"
	"afterhours-backend/internal/scheduler"
	"afterhours-backend/internal/sessions"
	"afterhours-backend/internal/storage"
)

func main() {
	cfg := config.Load()
	log := newLogger(cfg.Logging.Level, "afterhours-engine")

	// Fail fast: without storage and the job substrate, scheduled expiry
	// and matching would silently never fire.
	startupCtx, cancel := context.WithTimeout(context.Background(), cfg.Redis.ConnectTimeout)
	defer cancel()

	store, err := storage.NewStorage(startupCtx, storage.PostgresConfig{
		URL:         cfg.Database.URL,
		MaxConns:    int32(cfg.Database.MaxConnections),
		MaxIdleTime: cfg.Database.MaxIdleTime,
		MaxLifetime: cfg.Database.MaxLifetime,
	}, cfg.Redis.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}
	defer store.Close()

	if err := store.DB.RunMigrations(); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	redisOpt, err := scheduler.RedisOpt(cfg.Redis.URL, cfg.Redis.ConnectTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid redis configuration")
	}

	jobs := scheduler.NewManager(redisOpt, cfg.Session.WarningLead, cfg.Session.WarningSkipMargin, log)
	defer jobs.Close()

	sender := events.NewSender(events.NewRedisPublisher(store.Redis), log)
	photoResolver := photos.NewURLResolver(cfg.Photos.BaseURL)

	sessionService := sessions.NewService(store.DB, jobs, sender, sessions.Config{
		MinDuration:     cfg.Session.MinDuration,
		MaxDuration:     cfg.Session.MaxDuration,
		WarningLead:     cfg.Session.WarningLead,
		StartMatchDelay: cfg.Matching.StartMatchDelay,
	}, log)

	matcher := matching.NewMatcher(store.DB, jobs, sender, photoResolver, matching.Config{
		SweepSafetyMargin: cfg.Matching.SweepSafetyMargin,
	}, log)
	matchService := matching.NewService(store.DB, jobs, sender, photoResolver, cfg.Matching.DeclineRematchDelay, log)
	conversionService := conversion.NewService(store.DB, jobs, sender, log)
	retentionService := retention.NewService(store.DB, retention.Config{
		MatchWindow:   cfg.Retention.MatchWindow,
		DeclineWindow: cfg.Retention.DeclineWindow,
		SessionWindow: cfg.Retention.SessionWindow,
	}, log)

	processor := scheduler.NewProcessor(redisOpt, scheduler.ProcessorConfig{
		SweepInterval: cfg.Matching.SweepInterval,
	}, matcher, matchService, sessionService, retentionService, log)
	if err := processor.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start job processor")
	}
	defer processor.Stop()

	router := api.NewRouter(&api.Dependencies{
		SessionHandler: handlers.NewSessionHandler(sessionService, log),
		MatchHandler:   handlers.NewMatchHandler(matchService, conversionService, log),
		MessageHandler: handlers.NewMessageHandler(store.DB, log),
		Log:            log,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("engine listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
	log.Info().Msg("engine exited")
}

func newLogger(level, service string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).
		Level(lvl).
		With().
		Timestamp().
		Str("service", service).
		Logger()
}

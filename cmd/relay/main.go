package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"afterhours-backend/internal/config"
	"afterhours-backend/internal/events"
	"afterhours-backend/internal/relay"
	"afterhours-backend/internal/storage"
)

func main() {
	cfg := config.Load()
	log := newLogger(cfg.Logging.Level, "afterhours-relay")

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

	sender := events.NewSender(events.NewRedisPublisher(store.Redis), log)

	manager := relay.NewManager(log)
	chat := relay.NewChat(store.DB, sender, log)
	wsHandler := relay.NewHandler(manager, chat, log)

	subCtx, stopSubscriber := context.WithCancel(context.Background())
	defer stopSubscriber()
	subscriber := relay.NewSubscriber(store.Redis, manager, log)
	go subscriber.Run(subCtx)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","service":"afterhours-relay"}`))
	})
	r.Get("/ws/afterhours", wsHandler.ServeWS)

	srv := &http.Server{
		Addr:        ":" + cfg.Server.RelayPort,
		Handler:     r,
		ReadTimeout: cfg.Server.ReadTimeout,
		// No WriteTimeout: it would sever long-lived websocket connections.
	}

	go func() {
		log.Info().Str("port", cfg.Server.RelayPort).Msg("relay listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	stopSubscriber()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
	log.Info().Msg("relay exited")
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

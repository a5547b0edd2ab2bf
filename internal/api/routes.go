package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"afterhours-backend/internal/api/handlers"
)

type Dependencies struct {
	SessionHandler *handlers.SessionHandler
	MatchHandler   *handlers.MatchHandler
	MessageHandler *handlers.MessageHandler
	Log            zerolog.Logger
}

func NewRouter(deps *Dependencies) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","service":"afterhours-engine"}`))
	})

	r.Route("/api/v1/afterhours", func(r chi.Router) {
		r.Use(handlers.RequireUser(deps.Log))

		r.Post("/session", deps.SessionHandler.Start)
		r.Delete("/session", deps.SessionHandler.End)
		r.Post("/session/extend", deps.SessionHandler.Extend)
		r.Get("/session", deps.SessionHandler.Status)

		r.Get("/match", deps.MatchHandler.Current)
		r.Post("/match/{matchID}/decline", deps.MatchHandler.Decline)
		r.Post("/match/{matchID}/save", deps.MatchHandler.Save)

		r.Get("/match/{matchID}/messages", deps.MessageHandler.History)
	})

	return r
}

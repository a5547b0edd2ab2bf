package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"afterhours-backend/internal/apperr"
	"afterhours-backend/internal/conversion"
	"afterhours-backend/internal/matching"
)

type MatchHandler struct {
	matches    *matching.Service
	conversion *conversion.Service
	log        zerolog.Logger
}

func NewMatchHandler(matches *matching.Service, conv *conversion.Service, log zerolog.Logger) *MatchHandler {
	return &MatchHandler{matches: matches, conversion: conv, log: log}
}

func (h *MatchHandler) Current(w http.ResponseWriter, r *http.Request) {
	current, err := h.matches.Current(r.Context(), userID(r))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, current)
}

func (h *MatchHandler) Decline(w http.ResponseWriter, r *http.Request) {
	matchID, err := uuid.Parse(chi.URLParam(r, "matchID"))
	if err != nil {
		writeError(w, h.log, apperr.Validation("invalid match id"))
		return
	}

	if err := h.matches.Decline(r.Context(), userID(r), matchID); err != nil {
		writeError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "declined"})
}

func (h *MatchHandler) Save(w http.ResponseWriter, r *http.Request) {
	matchID, err := uuid.Parse(chi.URLParam(r, "matchID"))
	if err != nil {
		writeError(w, h.log, apperr.Validation("invalid match id"))
		return
	}

	result, err := h.conversion.Vote(r.Context(), userID(r), matchID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

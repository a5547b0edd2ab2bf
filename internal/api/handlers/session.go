package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"afterhours-backend/internal/apperr"
	"afterhours-backend/internal/sessions"
)

type SessionHandler struct {
	sessions *sessions.Service
	log      zerolog.Logger
}

func NewSessionHandler(sessions *sessions.Service, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{sessions: sessions, log: log}
}

type startSessionRequest struct {
	DurationMinutes int     `json:"duration_minutes"`
	Latitude        float64 `json:"latitude"`
	Longitude       float64 `json:"longitude"`
}

type sessionResponse struct {
	SessionID uuid.UUID `json:"session_id"`
	StartedAt time.Time `json:"started_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.log, apperr.Validation("invalid request body"))
		return
	}

	session, err := h.sessions.Start(r.Context(), userID(r),
		time.Duration(req.DurationMinutes)*time.Minute, req.Latitude, req.Longitude)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusCreated, sessionResponse{
		SessionID: session.ID,
		StartedAt: session.StartedAt,
		ExpiresAt: session.ExpiresAt,
	})
}

func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.End(r.Context(), userID(r))
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": session.ID,
		"ended_at":   session.EndedAt,
	})
}

type extendSessionRequest struct {
	AdditionalMinutes int `json:"additional_minutes"`
}

func (h *SessionHandler) Extend(w http.ResponseWriter, r *http.Request) {
	var req extendSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.log, apperr.Validation("invalid request body"))
		return
	}

	session, err := h.sessions.Extend(r.Context(), userID(r),
		time.Duration(req.AdditionalMinutes)*time.Minute)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		SessionID: session.ID,
		StartedAt: session.StartedAt,
		ExpiresAt: session.ExpiresAt,
	})
}

func (h *SessionHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.sessions.Status(r.Context(), userID(r))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

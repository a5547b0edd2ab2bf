package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"afterhours-backend/internal/apperr"
	"afterhours-backend/internal/storage"
)

// MessagePageSize is the fixed history page size; callers may ask for less,
// never more.
const MessagePageSize = 50

type MessageStore interface {
	GetMatch(ctx context.Context, matchID uuid.UUID) (*storage.Match, error)
	MessagesBefore(ctx context.Context, matchID uuid.UUID, before time.Time, beforeID uuid.UUID, limit int) ([]storage.EphemeralMessage, error)
}

type MessageHandler struct {
	store MessageStore
	log   zerolog.Logger
}

func NewMessageHandler(store MessageStore, log zerolog.Logger) *MessageHandler {
	return &MessageHandler{store: store, log: log}
}

type messageHistoryResponse struct {
	Messages     []storage.EphemeralMessage `json:"messages"`
	NextBefore   *time.Time                 `json:"next_before,omitempty"`
	NextBeforeID *uuid.UUID                 `json:"next_before_id,omitempty"`
}

// History pages newest-first by a (before, before_id) keyset cursor; clients
// echo next_before/next_before_id back verbatim. It deliberately works on
// expired and declined matches: history viewing survives match expiry, only
// new sends are gated.
func (h *MessageHandler) History(w http.ResponseWriter, r *http.Request) {
	matchID, err := uuid.Parse(chi.URLParam(r, "matchID"))
	if err != nil {
		writeError(w, h.log, apperr.Validation("invalid match id"))
		return
	}

	before := time.Now().UTC()
	if raw := r.URL.Query().Get("before"); raw != "" {
		before, err = time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, h.log, apperr.Validation("before must be an RFC 3339 timestamp"))
			return
		}
	}

	// uuid.Max makes a bare timestamp cursor include every id at that
	// instant; a real continuation carries the id of the oldest row seen.
	beforeID := uuid.Max
	if raw := r.URL.Query().Get("before_id"); raw != "" {
		beforeID, err = uuid.Parse(raw)
		if err != nil {
			writeError(w, h.log, apperr.Validation("before_id must be a UUID"))
			return
		}
	}

	limit := MessagePageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, h.log, apperr.Validation("limit must be a positive integer"))
			return
		}
		if n < limit {
			limit = n
		}
	}

	match, err := h.store.GetMatch(r.Context(), matchID)
	if err != nil {
		writeError(w, h.log, apperr.Internal("match lookup failed", err))
		return
	}
	if match == nil || !match.Involves(userID(r)) {
		writeError(w, h.log, apperr.New(apperr.CodeMatchNotFound, "match not found"))
		return
	}

	messages, err := h.store.MessagesBefore(r.Context(), matchID, before, beforeID, limit)
	if err != nil {
		writeError(w, h.log, apperr.Internal("message lookup failed", err))
		return
	}

	resp := messageHistoryResponse{Messages: messages}
	if len(messages) == limit {
		oldest := messages[len(messages)-1]
		resp.NextBefore = &oldest.CreatedAt
		resp.NextBeforeID = &oldest.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

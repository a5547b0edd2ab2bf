package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"afterhours-backend/internal/apperr"
)

type contextKey string

const userIDKey contextKey = "user_id"

// RequireUser trusts the already-validated identity the gateway forwards in
// X-User-ID. Credential checking happens upstream; the engine only refuses
// requests arriving without an identity at all.
func RequireUser(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get("X-User-ID")
			if raw == "" {
				writeError(w, log, apperr.New(apperr.CodeUnauthorized, "missing user identity"))
				return
			}
			id, err := uuid.Parse(raw)
			if err != nil {
				writeError(w, log, apperr.New(apperr.CodeUnauthorized, "invalid user identity"))
				return
			}
			ctx := context.WithValue(r.Context(), userIDKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func userID(r *http.Request) uuid.UUID {
	id, _ := r.Context().Value(userIDKey).(uuid.UUID)
	return id
}

type errorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps the error taxonomy onto status codes and a
// machine-readable body, so clients branch on codes instead of prose.
func writeError(w http.ResponseWriter, log zerolog.Logger, err error) {
	code := apperr.CodeOf(err)
	status := apperr.HTTPStatus(code)

	message := "internal error"
	var appErr *apperr.Error
	if errors.As(err, &appErr) && code != apperr.CodeInternal {
		message = appErr.Message
	}
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("code", string(code)).Msg("request failed")
	}

	writeJSON(w, status, errorResponse{
		Error:   http.StatusText(status),
		Code:    string(code),
		Message: message,
	})
}

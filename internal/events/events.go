// Package events is the cross-process bridge between the engine and the
// relay. The engine knows "this happened, deliver it to this user ID" and
// nothing about connections; envelopes go out over a shared broadcast
// channel with at-most-once, best-effort delivery. Clients recover missed
// pushes through the status-polling endpoints.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Channel is the shared broadcast channel. Every relay replica subscribes
// and filters to its own connected users.
const Channel = "afterhours:events"

const (
	TypeMatch           = "match"
	TypeNoMatches       = "no_matches"
	TypeMatchExpired    = "match_expired"
	TypeSessionExpiring = "session_expiring"
	TypeSessionExpired  = "session_expired"
	TypeMatchSaved      = "match_saved"
	TypePartnerSaved    = "partner_saved"
	TypeNewMessage      = "new_message"
	TypeTyping          = "typing"
	TypeRead            = "read"
)

type Envelope struct {
	Type         string    `json:"type"`
	TargetUserID uuid.UUID `json:"target_user_id"`
	Payload      any       `json:"payload"`
	Timestamp    time.Time `json:"timestamp"`
}

func New(eventType string, target uuid.UUID, payload any) Envelope {
	return Envelope{
		Type:         eventType,
		TargetUserID: target,
		Payload:      payload,
		Timestamp:    time.Now().UTC(),
	}
}

// PartnerPreview is each user's view of the other side of a match.
type PartnerPreview struct {
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Age         int       `json:"age"`
	Bio         string    `json:"bio"`
	PhotoURL    string    `json:"photo_url"`
	DistanceKM  float64   `json:"distance_km"`
}

type MatchPayload struct {
	MatchID       uuid.UUID      `json:"match_id"`
	ExpiresAt     time.Time      `json:"expires_at"`
	AutoDeclineAt time.Time      `json:"auto_decline_at"`
	Partner       PartnerPreview `json:"partner"`
}

type NoMatchesPayload struct {
	NearbyActive int `json:"nearby_active"`
}

type MatchExpiredPayload struct {
	MatchID uuid.UUID `json:"match_id"`
	Reason  string    `json:"reason"`
}

type SessionExpiringPayload struct {
	SessionID        uuid.UUID `json:"session_id"`
	MinutesRemaining int       `json:"minutes_remaining"`
}

type SessionExpiredPayload struct {
	SessionID uuid.UUID `json:"session_id"`
	Reason    string    `json:"reason"`
}

type MatchSavedPayload struct {
	MatchID          uuid.UUID `json:"match_id"`
	PermanentMatchID uuid.UUID `json:"permanent_match_id"`
}

type PartnerSavedPayload struct {
	MatchID uuid.UUID `json:"match_id"`
}

type NewMessagePayload struct {
	MatchID   uuid.UUID `json:"match_id"`
	MessageID uuid.UUID `json:"message_id"`
	SenderID  uuid.UUID `json:"sender_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

type TypingPayload struct {
	MatchID uuid.UUID `json:"match_id"`
	UserID  uuid.UUID `json:"user_id"`
}

type ReadPayload struct {
	MatchID uuid.UUID `json:"match_id"`
	UserID  uuid.UUID `json:"user_id"`
	ReadAt  time.Time `json:"read_at"`
}

// Reasons on expiry-flavored events, so clients can branch without prose
// matching.
const (
	ReasonDeclined = "declined"
	ReasonTimeout  = "timeout"
	ReasonExpired  = "expired"
	ReasonEnded    = "ended"
)

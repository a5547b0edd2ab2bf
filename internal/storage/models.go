package storage

import (
	"time"

	"github.com/google/uuid"
)

// Session is one user's active After Hours window. At most one row per user
// may be active (ended_at IS NULL and expires_at in the future).
type Session struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	UserID    uuid.UUID  `json:"user_id" db:"user_id"`
	StartedAt time.Time  `json:"started_at" db:"started_at"`
	ExpiresAt time.Time  `json:"expires_at" db:"expires_at"`
	EndedAt   *time.Time `json:"ended_at" db:"ended_at"`
	FuzzedLat float64    `json:"fuzzed_lat" db:"fuzzed_lat"`
	FuzzedLng float64    `json:"fuzzed_lng" db:"fuzzed_lng"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

func (s *Session) Active(now time.Time) bool {
	return s.EndedAt == nil && now.Before(s.ExpiresAt)
}

// Phase is derived from the row, never from scheduler bookkeeping. The
// warning/expire jobs are triggers for side effects, not the source of truth.
type Phase string

const (
	PhaseActive       Phase = "active"
	PhaseExpiringSoon Phase = "expiring_soon"
	PhaseExpired      Phase = "expired"
)

func (s *Session) Phase(now time.Time, warningLead time.Duration) Phase {
	if !s.Active(now) {
		return PhaseExpired
	}
	if now.After(s.ExpiresAt.Add(-warningLead)) {
		return PhaseExpiringSoon
	}
	return PhaseActive
}

// Match pairs two users for the lifetime of the shorter session, capped at
// the creation-time TTL ceiling. Save votes live on the row because the
// cardinality is fixed at two.
type Match struct {
	ID               uuid.UUID  `json:"id" db:"id"`
	SessionID        uuid.UUID  `json:"session_id" db:"session_id"`
	UserID1          uuid.UUID  `json:"user_id_1" db:"user_id_1"`
	UserID2          uuid.UUID  `json:"user_id_2" db:"user_id_2"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	ExpiresAt        time.Time  `json:"expires_at" db:"expires_at"`
	DeclinedBy       *uuid.UUID `json:"declined_by" db:"declined_by"`
	DeclinedAt       *time.Time `json:"declined_at" db:"declined_at"`
	User1SaveVote    *bool      `json:"user1_save_vote" db:"user1_save_vote"`
	User2SaveVote    *bool      `json:"user2_save_vote" db:"user2_save_vote"`
	PermanentMatchID *uuid.UUID `json:"permanent_match_id" db:"permanent_match_id"`
}

// Live reports whether the match is neither declined nor expired.
func (m *Match) Live(now time.Time) bool {
	return m.DeclinedBy == nil && now.Before(m.ExpiresAt)
}

func (m *Match) Involves(userID uuid.UUID) bool {
	return m.UserID1 == userID || m.UserID2 == userID
}

// Other returns the counterpart of userID in the pair.
func (m *Match) Other(userID uuid.UUID) uuid.UUID {
	if m.UserID1 == userID {
		return m.UserID2
	}
	return m.UserID1
}

// EphemeralMessage is a chat message scoped to a match. Rows survive match
// expiry for history viewing; only new sends are gated on liveness.
type EphemeralMessage struct {
	ID        uuid.UUID `json:"id" db:"id"`
	MatchID   uuid.UUID `json:"match_id" db:"match_id"`
	SenderID  uuid.UUID `json:"sender_id" db:"sender_id"`
	Text      string    `json:"text" db:"text"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// DeclineMemory is a cooldown, not a permanent block: the counter saturates
// at the cap and the row is purged, re-opening the pair for matching.
type DeclineMemory struct {
	UserID          uuid.UUID `json:"user_id" db:"user_id"`
	DeclinedUserID  uuid.UUID `json:"declined_user_id" db:"declined_user_id"`
	DeclineCount    int       `json:"decline_count" db:"decline_count"`
	FirstDeclinedAt time.Time `json:"first_declined_at" db:"first_declined_at"`
	LastSessionID   uuid.UUID `json:"last_session_id" db:"last_session_id"`
}

// PermanentMatch is the converted record a mutual save produces. Source
// distinguishes After Hours conversions from organically formed matches.
type PermanentMatch struct {
	ID        uuid.UUID `json:"id" db:"id"`
	UserID1   uuid.UUID `json:"user_id_1" db:"user_id_1"`
	UserID2   uuid.UUID `json:"user_id_2" db:"user_id_2"`
	Source    string    `json:"source" db:"source"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

const SourceAfterHours = "after_hours"

// Profile is the read-only view of the external profile/preferences store.
// The engine never mutates these rows.
type Profile struct {
	UserID        uuid.UUID `json:"user_id" db:"user_id"`
	DisplayName   string    `json:"display_name" db:"display_name"`
	Gender        string    `json:"gender" db:"gender"`
	SeekingGender string    `json:"seeking_gender" db:"seeking_gender"`
	Age           int       `json:"age" db:"age"`
	MinAge        int       `json:"min_age" db:"min_age"`
	MaxAge        int       `json:"max_age" db:"max_age"`
	MaxDistanceKM float64   `json:"max_distance_km" db:"max_distance_km"`
	Bio           string    `json:"bio" db:"bio"`
	PhotoKey      string    `json:"photo_key" db:"photo_key"`
}

const GenderAny = "any"

// Candidate joins an active session with its owner's profile, the unit the
// evaluator works over.
type Candidate struct {
	Session Session
	Profile Profile
}

// Package sessions owns the After Hours session lifecycle: start, self-end,
// extend, status, and the warning/expire job fires. The computed session
// phase comes from the row itself; the scheduled jobs only trigger the
// side effects of phase transitions.
package sessions

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"afterhours-backend/internal/apperr"
	"afterhours-backend/internal/events"
	"afterhours-backend/internal/geo"
	"afterhours-backend/internal/storage"
)

type Store interface {
	CreateSession(ctx context.Context, s *storage.Session) error
	GetSession(ctx context.Context, sessionID uuid.UUID) (*storage.Session, error)
	ActiveSessionForUser(ctx context.Context, userID uuid.UUID) (*storage.Session, error)
	EndSessionAt(ctx context.Context, sessionID uuid.UUID, endedAt time.Time) (bool, error)
	ExtendSession(ctx context.Context, sessionID uuid.UUID, newExpiry time.Time) (bool, error)
	HasAfterHoursProfile(ctx context.Context, userID uuid.UUID) (bool, error)
}

type Jobs interface {
	ScheduleSessionJobs(ctx context.Context, sessionID uuid.UUID, expiresAt time.Time) error
	CancelSessionJobs(ctx context.Context, sessionID uuid.UUID) error
	RescheduleSessionJobs(ctx context.Context, sessionID uuid.UUID, expiresAt time.Time) error
	EnqueueUserMatch(ctx context.Context, userID uuid.UUID, delay time.Duration) error
}

type Config struct {
	MinDuration     time.Duration
	MaxDuration     time.Duration
	WarningLead     time.Duration
	StartMatchDelay time.Duration
}

type Service struct {
	store  Store
	jobs   Jobs
	events events.Sender
	cfg    Config
	log    zerolog.Logger
	now    func() time.Time
}

func NewService(store Store, jobs Jobs, sender events.Sender, cfg Config, log zerolog.Logger) *Service {
	return &Service{
		store:  store,
		jobs:   jobs,
		events: sender,
		cfg:    cfg,
		log:    log.With().Str("component", "sessions").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Start validates, creates the session with fuzzed coordinates, schedules
// the warning/expire jobs, and enqueues a delayed first matching run. The
// short delay lets the session row settle so the user is never evaluated
// against their own just-created session.
func (s *Service) Start(ctx context.Context, userID uuid.UUID, duration time.Duration, lat, lng float64) (*storage.Session, error) {
	if duration < s.cfg.MinDuration || duration > s.cfg.MaxDuration {
		return nil, apperr.Validation("duration must be between " + s.cfg.MinDuration.String() + " and " + s.cfg.MaxDuration.String())
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return nil, apperr.Validation("location out of range")
	}

	hasProfile, err := s.store.HasAfterHoursProfile(ctx, userID)
	if err != nil {
		return nil, apperr.Internal("profile lookup failed", err)
	}
	if !hasProfile {
		return nil, apperr.New(apperr.CodeProfileRequired, "complete your After Hours profile before starting a session")
	}

	existing, err := s.store.ActiveSessionForUser(ctx, userID)
	if err != nil {
		return nil, apperr.Internal("session lookup failed", err)
	}
	if existing != nil {
		return nil, apperr.New(apperr.CodeSessionActive, "a session is already active")
	}

	now := s.now()
	session := &storage.Session{
		UserID:    userID,
		StartedAt: now,
		ExpiresAt: now.Add(duration),
		FuzzedLat: geo.FuzzCoordinate(lat),
		FuzzedLng: geo.FuzzCoordinate(lng),
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		if errors.Is(err, storage.ErrSessionExists) {
			// Two starts raced past the lookup above; the unique index on
			// open rows let exactly one through.
			return nil, apperr.New(apperr.CodeSessionActive, "a session is already active")
		}
		return nil, apperr.Internal("failed to create session", err)
	}

	// Without the expire job the session would never close; treat this as a
	// hard failure and roll the session back.
	if err := s.jobs.ScheduleSessionJobs(ctx, session.ID, session.ExpiresAt); err != nil {
		if _, endErr := s.store.EndSessionAt(ctx, session.ID, now); endErr != nil {
			s.log.Error().Err(endErr).Str("session_id", session.ID.String()).Msg("failed to end session after scheduling failure")
		}
		return nil, apperr.Internal("failed to schedule session expiry", err)
	}

	// The periodic sweep covers a lost trigger, so this one is best-effort.
	if err := s.jobs.EnqueueUserMatch(ctx, userID, s.cfg.StartMatchDelay); err != nil {
		s.log.Warn().Err(err).Str("user_id", userID.String()).Msg("failed to enqueue initial matching run")
	}

	s.log.Info().
		Str("session_id", session.ID.String()).
		Str("user_id", userID.String()).
		Time("expires_at", session.ExpiresAt).
		Msg("session started")
	return session, nil
}

// End closes the caller's active session and cancels its scheduled jobs.
func (s *Service) End(ctx context.Context, userID uuid.UUID) (*storage.Session, error) {
	session, err := s.store.ActiveSessionForUser(ctx, userID)
	if err != nil {
		return nil, apperr.Internal("session lookup failed", err)
	}
	if session == nil {
		return nil, apperr.New(apperr.CodeNoSession, "no active session")
	}

	now := s.now()
	if _, err := s.store.EndSessionAt(ctx, session.ID, now); err != nil {
		return nil, apperr.Internal("failed to end session", err)
	}
	session.EndedAt = &now

	if err := s.jobs.CancelSessionJobs(ctx, session.ID); err != nil {
		// The fire handlers re-verify liveness, so a leftover job is noise,
		// not incorrectness.
		s.log.Warn().Err(err).Str("session_id", session.ID.String()).Msg("failed to cancel session jobs")
	}

	// Other devices of the same user learn about the end the same way they
	// would learn about an expiry.
	s.events.Send(ctx, events.New(events.TypeSessionExpired, session.UserID, events.SessionExpiredPayload{
		SessionID: session.ID,
		Reason:    events.ReasonEnded,
	}))

	s.log.Info().Str("session_id", session.ID.String()).Msg("session ended by user")
	return session, nil
}

// Extend pushes the expiry out and reschedules the jobs (cancel-then-create,
// keyed by session ID, so the swap is exact).
func (s *Service) Extend(ctx context.Context, userID uuid.UUID, additional time.Duration) (*storage.Session, error) {
	if additional <= 0 {
		return nil, apperr.Validation("extension must be positive")
	}

	session, err := s.store.ActiveSessionForUser(ctx, userID)
	if err != nil {
		return nil, apperr.Internal("session lookup failed", err)
	}
	if session == nil {
		return nil, apperr.New(apperr.CodeNoSession, "no active session")
	}

	now := s.now()
	newExpiry := session.ExpiresAt.Add(additional)
	if newExpiry.After(now.Add(s.cfg.MaxDuration)) {
		return nil, apperr.Validation("extension exceeds the maximum session length")
	}

	ok, err := s.store.ExtendSession(ctx, session.ID, newExpiry)
	if err != nil {
		return nil, apperr.Internal("failed to extend session", err)
	}
	if !ok {
		return nil, apperr.New(apperr.CodeNoSession, "session ended before it could be extended")
	}
	session.ExpiresAt = newExpiry

	if err := s.jobs.RescheduleSessionJobs(ctx, session.ID, newExpiry); err != nil {
		return nil, apperr.Internal("failed to reschedule session expiry", err)
	}

	s.log.Info().Str("session_id", session.ID.String()).Time("expires_at", newExpiry).Msg("session extended")
	return session, nil
}

type Status struct {
	Active           bool           `json:"active"`
	SessionID        *uuid.UUID     `json:"session_id,omitempty"`
	ExpiresAt        *time.Time     `json:"expires_at,omitempty"`
	RemainingSeconds int            `json:"remaining_seconds"`
	Phase            *storage.Phase `json:"phase,omitempty"`
}

// Status is the pull-based fallback for clients that missed a push.
func (s *Service) Status(ctx context.Context, userID uuid.UUID) (*Status, error) {
	session, err := s.store.ActiveSessionForUser(ctx, userID)
	if err != nil {
		return nil, apperr.Internal("session lookup failed", err)
	}
	if session == nil {
		return &Status{Active: false}, nil
	}

	now := s.now()
	phase := session.Phase(now, s.cfg.WarningLead)
	return &Status{
		Active:           true,
		SessionID:        &session.ID,
		ExpiresAt:        &session.ExpiresAt,
		RemainingSeconds: int(session.ExpiresAt.Sub(now).Seconds()),
		Phase:            &phase,
	}, nil
}

// HandleWarning fires the session_expiring event, unless the session was
// already ended in the window between scheduling and firing.
func (s *Service) HandleWarning(ctx context.Context, sessionID uuid.UUID) error {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	now := s.now()
	if session == nil || !session.Active(now) {
		s.log.Debug().Str("session_id", sessionID.String()).Msg("warning fired for inactive session, skipping")
		return nil
	}

	minutes := int(math.Ceil(session.ExpiresAt.Sub(now).Minutes()))
	s.events.Send(ctx, events.New(events.TypeSessionExpiring, session.UserID, events.SessionExpiringPayload{
		SessionID:        session.ID,
		MinutesRemaining: minutes,
	}))
	return nil
}

// HandleExpire closes the session if still open. The session_expired event
// goes out regardless of whether this fire performed the write: even if a
// manual end won the race on the row, the session is over and the client
// needs to hear it.
func (s *Service) HandleExpire(ctx context.Context, sessionID uuid.UUID) error {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return nil
	}

	if session.EndedAt == nil {
		if _, err := s.store.EndSessionAt(ctx, sessionID, session.ExpiresAt); err != nil {
			return err
		}
	}

	s.events.Send(ctx, events.New(events.TypeSessionExpired, session.UserID, events.SessionExpiredPayload{
		SessionID: session.ID,
		Reason:    events.ReasonExpired,
	}))
	s.log.Info().Str("session_id", session.ID.String()).Msg("session expired")
	return nil
}

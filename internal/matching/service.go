package matching

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"afterhours-backend/internal/apperr"
	"afterhours-backend/internal/events"
	"afterhours-backend/internal/geo"
)

// Service covers the request/response side of the match lifecycle: decline,
// current-match status, and the auto-decline fire.
type Service struct {
	store               Store
	jobs                Jobs
	events              events.Sender
	photos              PhotoResolver
	declineRematchDelay time.Duration
	log                 zerolog.Logger
	now                 func() time.Time
}

func NewService(store Store, jobs Jobs, sender events.Sender, photos PhotoResolver, declineRematchDelay time.Duration, log zerolog.Logger) *Service {
	return &Service{
		store:               store,
		jobs:                jobs,
		events:              sender,
		photos:              photos,
		declineRematchDelay: declineRematchDelay,
		log:                 log.With().Str("component", "match-service").Logger(),
		now:                 func() time.Time { return time.Now().UTC() },
	}
}

// Decline records the decline, bumps decline memory, cancels the
// auto-decline job, notifies the partner, and schedules the decliner's next
// matching run after a cooldown so they are not immediately re-offered
// someone new with no pause.
func (s *Service) Decline(ctx context.Context, userID, matchID uuid.UUID) error {
	match, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return apperr.Internal("match lookup failed", err)
	}
	if match == nil || !match.Involves(userID) {
		return apperr.New(apperr.CodeMatchNotFound, "match not found")
	}

	now := s.now()
	ok, err := s.store.DeclineMatch(ctx, matchID, userID, now)
	if err != nil {
		return apperr.Internal("failed to decline match", err)
	}
	if !ok {
		return apperr.New(apperr.CodeMatchClosed, "match already declined or expired")
	}

	other := match.Other(userID)

	// The decline itself is committed; everything below is follow-up and
	// must not undo it.
	if _, _, err := s.store.RecordDecline(ctx, userID, other, match.SessionID, MaxDeclineCount); err != nil {
		s.log.Error().Err(err).Str("match_id", matchID.String()).Msg("failed to record decline memory")
	}
	if err := s.jobs.CancelMatchExpiry(ctx, matchID); err != nil {
		s.log.Warn().Err(err).Str("match_id", matchID.String()).Msg("failed to cancel match auto-decline job")
	}
	if err := s.jobs.EnqueueUserMatch(ctx, userID, s.declineRematchDelay); err != nil {
		s.log.Warn().Err(err).Str("user_id", userID.String()).Msg("failed to enqueue post-decline matching run")
	}

	s.events.Send(ctx, events.New(events.TypeMatchExpired, other, events.MatchExpiredPayload{
		MatchID: matchID,
		Reason:  events.ReasonDeclined,
	}))

	s.log.Info().Str("match_id", matchID.String()).Str("declined_by", userID.String()).Msg("match declined")
	return nil
}

// CurrentMatch mirrors the realtime match event for pull-based recovery.
type CurrentMatch struct {
	State   string               `json:"state"` // no_session | searching | matched
	MatchID *uuid.UUID           `json:"match_id,omitempty"`
	Match   *events.MatchPayload `json:"match,omitempty"`
}

func (s *Service) Current(ctx context.Context, userID uuid.UUID) (*CurrentMatch, error) {
	session, err := s.store.ActiveSessionForUser(ctx, userID)
	if err != nil {
		return nil, apperr.Internal("session lookup failed", err)
	}
	if session == nil {
		return &CurrentMatch{State: "no_session"}, nil
	}

	match, err := s.store.LiveMatchForUser(ctx, userID)
	if err != nil {
		return nil, apperr.Internal("match lookup failed", err)
	}
	if match == nil {
		return &CurrentMatch{State: "searching"}, nil
	}

	other := match.Other(userID)
	partner, err := s.store.GetProfile(ctx, other)
	if err != nil {
		return nil, apperr.Internal("partner profile lookup failed", err)
	}

	payload := &events.MatchPayload{
		MatchID:       match.ID,
		ExpiresAt:     match.ExpiresAt,
		AutoDeclineAt: match.ExpiresAt,
	}
	if partner != nil {
		photoURL, err := s.photos.Resolve(ctx, partner.PhotoKey)
		if err != nil {
			s.log.Warn().Err(err).Str("user_id", other.String()).Msg("photo resolution failed")
			photoURL = ""
		}
		preview := events.PartnerPreview{
			UserID:      partner.UserID,
			DisplayName: partner.DisplayName,
			Age:         partner.Age,
			Bio:         partner.Bio,
			PhotoURL:    photoURL,
		}
		if partnerSession, err := s.store.ActiveSessionForUser(ctx, other); err == nil && partnerSession != nil {
			preview.DistanceKM = geo.DistanceKM(session.FuzzedLat, session.FuzzedLng, partnerSession.FuzzedLat, partnerSession.FuzzedLng)
		}
		payload.Partner = preview
	}

	return &CurrentMatch{State: "matched", MatchID: &match.ID, Match: payload}, nil
}

// HandleMatchExpired is the auto-decline fire: if the match ran out without
// a decline or a conversion, tell both users it is over.
func (s *Service) HandleMatchExpired(ctx context.Context, matchID uuid.UUID) error {
	match, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return err
	}
	if match == nil || match.DeclinedBy != nil || match.PermanentMatchID != nil {
		return nil
	}
	if s.now().Before(match.ExpiresAt) {
		// Stale fire for a rescheduled expiry.
		return nil
	}

	payload := events.MatchExpiredPayload{MatchID: matchID, Reason: events.ReasonTimeout}
	s.events.Send(ctx, events.New(events.TypeMatchExpired, match.UserID1, payload))
	s.events.Send(ctx, events.New(events.TypeMatchExpired, match.UserID2, payload))

	s.log.Info().Str("match_id", matchID.String()).Msg("match expired unanswered")
	return nil
}

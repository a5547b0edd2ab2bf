// Package conversion implements the mutual-save protocol: the transition
// from an ephemeral match to a permanent relationship record.
package conversion

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"afterhours-backend/internal/apperr"
	"afterhours-backend/internal/events"
	"afterhours-backend/internal/storage"
)

type Store interface {
	RecordSaveVote(ctx context.Context, matchID, userID uuid.UUID, now time.Time) (*storage.SaveVoteOutcome, error)
}

type Jobs interface {
	CancelMatchExpiry(ctx context.Context, matchID uuid.UUID) error
}

type Service struct {
	store  Store
	jobs   Jobs
	events events.Sender
	log    zerolog.Logger
	now    func() time.Time
}

func NewService(store Store, jobs Jobs, sender events.Sender, log zerolog.Logger) *Service {
	return &Service{
		store:  store,
		jobs:   jobs,
		events: sender,
		log:    log.With().Str("component", "conversion").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

type Result struct {
	Status           string     `json:"status"` // waiting | converted
	PermanentMatchID *uuid.UUID `json:"permanent_match_id,omitempty"`
}

// Vote records the caller's save vote. The repository does the locked
// read-modify-write and the single-transaction conversion; this layer maps
// outcomes to results and fires the notifications. Voting twice, including
// after conversion, is safe and returns the same permanent reference.
func (s *Service) Vote(ctx context.Context, userID, matchID uuid.UUID) (*Result, error) {
	outcome, err := s.store.RecordSaveVote(ctx, matchID, userID, s.now())
	switch {
	case errors.Is(err, storage.ErrMatchMissing), errors.Is(err, storage.ErrNotInMatch):
		return nil, apperr.New(apperr.CodeMatchNotFound, "match not found")
	case errors.Is(err, storage.ErrMatchClosed):
		return nil, apperr.New(apperr.CodeMatchClosed, "match already declined or expired")
	case err != nil:
		return nil, apperr.Internal("save vote failed", err)
	}

	match := outcome.Match
	switch {
	case outcome.Converted:
		// The auto-decline job has nothing left to do; its fire handler
		// skips converted matches anyway, so this is cleanup, not
		// correctness.
		if err := s.jobs.CancelMatchExpiry(ctx, matchID); err != nil {
			s.log.Warn().Err(err).Str("match_id", matchID.String()).Msg("failed to cancel match auto-decline job")
		}

		payload := events.MatchSavedPayload{MatchID: matchID, PermanentMatchID: outcome.PermanentMatchID}
		s.events.Send(ctx, events.New(events.TypeMatchSaved, match.UserID1, payload))
		s.events.Send(ctx, events.New(events.TypeMatchSaved, match.UserID2, payload))
		s.log.Info().
			Str("match_id", matchID.String()).
			Str("permanent_match_id", outcome.PermanentMatchID.String()).
			Msg("match converted to permanent")
		id := outcome.PermanentMatchID
		return &Result{Status: "converted", PermanentMatchID: &id}, nil

	case outcome.AlreadyConverted:
		id := outcome.PermanentMatchID
		return &Result{Status: "converted", PermanentMatchID: &id}, nil

	default:
		// Nudge the partner to reciprocate.
		s.events.Send(ctx, events.New(events.TypePartnerSaved, match.Other(userID), events.PartnerSavedPayload{
			MatchID: matchID,
		}))
		return &Result{Status: "waiting"}, nil
	}
}

// Package matching orchestrates candidate selection and match lifecycle.
// Two entry points feed one single-user routine: the periodic sweep and the
// event-driven delayed triggers (session start, decline). Correctness under
// concurrency comes from the repository's lock-or-skip creation, not from
// any ordering between these entry points.
package matching

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"afterhours-backend/internal/events"
	"afterhours-backend/internal/geo"
	"afterhours-backend/internal/storage"
)

// MatchTTLCeiling bounds how long a match can sit unanswered even when both
// sessions have hours left. Product constant pending confirmation that it
// should ever vary per deployment.
const MatchTTLCeiling = 10 * time.Minute

// MaxDeclineCount is the decline-memory saturation cap: the cooldown, not a
// permanent block.
const MaxDeclineCount = 3

type Store interface {
	ActiveSessionForUser(ctx context.Context, userID uuid.UUID) (*storage.Session, error)
	SweepCandidates(ctx context.Context, margin time.Duration) ([]storage.Session, error)
	CandidatePool(ctx context.Context, excludeUserID uuid.UUID) ([]storage.Candidate, error)
	GetProfile(ctx context.Context, userID uuid.UUID) (*storage.Profile, error)
	BlockedUserIDs(ctx context.Context, userID uuid.UUID) (map[uuid.UUID]struct{}, error)
	DeclineCounterparts(ctx context.Context, userID uuid.UUID) (map[uuid.UUID]struct{}, error)
	GetMatch(ctx context.Context, matchID uuid.UUID) (*storage.Match, error)
	LiveMatchForUser(ctx context.Context, userID uuid.UUID) (*storage.Match, error)
	TryCreateMatch(ctx context.Context, sessionID, userID1, userID2 uuid.UUID, ttlCeiling time.Duration) (storage.CreateResult, *storage.Match, error)
	DeclineMatch(ctx context.Context, matchID, userID uuid.UUID, at time.Time) (bool, error)
	RecordDecline(ctx context.Context, userID, declinedUserID, sessionID uuid.UUID, maxCount int) (int, bool, error)
}

type Jobs interface {
	EnqueueUserMatch(ctx context.Context, userID uuid.UUID, delay time.Duration) error
	ScheduleMatchExpiry(ctx context.Context, matchID uuid.UUID, expiresAt time.Time) error
	CancelMatchExpiry(ctx context.Context, matchID uuid.UUID) error
}

// PhotoResolver turns an opaque photo key into a client-usable URL. URL
// resolution is an external concern; the engine stores only keys.
type PhotoResolver interface {
	Resolve(ctx context.Context, key string) (string, error)
}

type Config struct {
	SweepSafetyMargin time.Duration
}

type Matcher struct {
	store  Store
	jobs   Jobs
	events events.Sender
	photos PhotoResolver
	cfg    Config
	log    zerolog.Logger
	now    func() time.Time
}

func NewMatcher(store Store, jobs Jobs, sender events.Sender, photos PhotoResolver, cfg Config, log zerolog.Logger) *Matcher {
	return &Matcher{
		store:  store,
		jobs:   jobs,
		events: sender,
		photos: photos,
		cfg:    cfg,
		log:    log.With().Str("component", "matcher").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Sweep runs single-user matching for every active, unmatched session with
// enough time left. One user's failure never aborts the sweep.
func (m *Matcher) Sweep(ctx context.Context) error {
	sessions, err := m.store.SweepCandidates(ctx, m.cfg.SweepSafetyMargin)
	if err != nil {
		return err
	}

	for _, session := range sessions {
		if err := m.MatchUser(ctx, session.UserID); err != nil {
			m.log.Error().Err(err).Str("user_id", session.UserID.String()).Msg("sweep: matching failed for user, continuing")
		}
	}
	return nil
}

// MatchUser runs one matching attempt for one user. Every early return
// before the creation attempt is a routine outcome, not a failure.
func (m *Matcher) MatchUser(ctx context.Context, userID uuid.UUID) error {
	live, err := m.store.LiveMatchForUser(ctx, userID)
	if err != nil {
		return err
	}
	if live != nil {
		return nil
	}

	session, err := m.store.ActiveSessionForUser(ctx, userID)
	if err != nil {
		return err
	}
	if session == nil {
		return nil
	}

	profile, err := m.store.GetProfile(ctx, userID)
	if err != nil {
		return err
	}
	if profile == nil {
		m.log.Warn().Str("user_id", userID.String()).Msg("active session without a profile, skipping")
		return nil
	}

	pool, err := m.store.CandidatePool(ctx, userID)
	if err != nil {
		return err
	}

	blocked, err := m.store.BlockedUserIDs(ctx, userID)
	if err != nil {
		return err
	}
	declined, err := m.store.DeclineCounterparts(ctx, userID)
	if err != nil {
		return err
	}
	excluded := func(id uuid.UUID) bool {
		if _, ok := blocked[id]; ok {
			return true
		}
		_, ok := declined[id]
		return ok
	}

	requester := person(session, profile)
	people := make([]geo.Person, 0, len(pool))
	byUser := make(map[uuid.UUID]storage.Candidate, len(pool))
	for _, c := range pool {
		people = append(people, person(&c.Session, &c.Profile))
		byUser[c.Profile.UserID] = c
	}

	best, distance, found := geo.Nearest(requester, people, excluded)
	if !found {
		nearby := geo.CountWithin(requester, people, requester.MaxDistanceKM)
		m.events.Send(ctx, events.New(events.TypeNoMatches, userID, events.NoMatchesPayload{
			NearbyActive: nearby,
		}))
		return nil
	}

	result, match, err := m.store.TryCreateMatch(ctx, session.ID, userID, best.UserID, MatchTTLCeiling)
	if err != nil {
		return err
	}
	switch result {
	case storage.MatchNotLocked:
		// Another process holds one of the sessions; the next cycle will
		// reconsider both users.
		m.log.Debug().Str("user_id", userID.String()).Str("candidate_id", best.UserID.String()).Msg("could not lock both sessions")
		return nil
	case storage.MatchAlreadyMatched:
		m.log.Debug().Str("user_id", userID.String()).Msg("user matched concurrently")
		return nil
	}

	if err := m.jobs.ScheduleMatchExpiry(ctx, match.ID, match.ExpiresAt); err != nil {
		m.log.Warn().Err(err).Str("match_id", match.ID.String()).Msg("failed to schedule match auto-decline")
	}

	candidate := byUser[best.UserID]
	m.events.Send(ctx, events.New(events.TypeMatch, userID, m.matchPayload(ctx, match, &candidate.Profile, distance)))
	m.events.Send(ctx, events.New(events.TypeMatch, best.UserID, m.matchPayload(ctx, match, profile, distance)))

	m.log.Info().
		Str("match_id", match.ID.String()).
		Str("user_id_1", match.UserID1.String()).
		Str("user_id_2", match.UserID2.String()).
		Float64("distance_km", distance).
		Msg("match created")
	return nil
}

func (m *Matcher) matchPayload(ctx context.Context, match *storage.Match, partner *storage.Profile, distance float64) events.MatchPayload {
	photoURL, err := m.photos.Resolve(ctx, partner.PhotoKey)
	if err != nil {
		m.log.Warn().Err(err).Str("user_id", partner.UserID.String()).Msg("photo resolution failed")
		photoURL = ""
	}
	return events.MatchPayload{
		MatchID:       match.ID,
		ExpiresAt:     match.ExpiresAt,
		AutoDeclineAt: match.ExpiresAt,
		Partner: events.PartnerPreview{
			UserID:      partner.UserID,
			DisplayName: partner.DisplayName,
			Age:         partner.Age,
			Bio:         partner.Bio,
			PhotoURL:    photoURL,
			DistanceKM:  distance,
		},
	}
}

func person(s *storage.Session, p *storage.Profile) geo.Person {
	return geo.Person{
		UserID:        p.UserID,
		Gender:        p.Gender,
		SeekingGender: p.SeekingGender,
		Age:           p.Age,
		MinAge:        p.MinAge,
		MaxAge:        p.MaxAge,
		MaxDistanceKM: p.MaxDistanceKM,
		Lat:           s.FuzzedLat,
		Lng:           s.FuzzedLng,
	}
}

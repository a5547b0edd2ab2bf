// Package retention runs the nightly purges. Retention is explicitly off
// the critical path: a failed run means slightly larger tables until the
// next one, so every method logs and returns nil rather than triggering the
// substrate's retry machinery.
package retention

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

type Store interface {
	PurgeExpiredMatches(ctx context.Context, cutoff time.Time) (int64, error)
	PurgeStaleDeclines(ctx context.Context, cutoff time.Time) (int64, error)
	PurgeEndedSessions(ctx context.Context, cutoff time.Time) (int64, error)
}

type Config struct {
	MatchWindow   time.Duration
	DeclineWindow time.Duration
	SessionWindow time.Duration
}

type Service struct {
	store Store
	cfg   Config
	log   zerolog.Logger
	now   func() time.Time
}

func NewService(store Store, cfg Config, log zerolog.Logger) *Service {
	return &Service{
		store: store,
		cfg:   cfg,
		log:   log.With().Str("component", "retention").Logger(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) PurgeMatches(ctx context.Context) error {
	cutoff := s.now().Add(-s.cfg.MatchWindow)
	n, err := s.store.PurgeExpiredMatches(ctx, cutoff)
	if err != nil {
		s.log.Error().Err(err).Msg("match retention purge failed")
		return nil
	}
	s.log.Info().Int64("purged", n).Time("cutoff", cutoff).Msg("purged unconverted matches")
	return nil
}

func (s *Service) PurgeDeclines(ctx context.Context) error {
	cutoff := s.now().Add(-s.cfg.DeclineWindow)
	n, err := s.store.PurgeStaleDeclines(ctx, cutoff)
	if err != nil {
		s.log.Error().Err(err).Msg("decline-memory purge failed")
		return nil
	}
	s.log.Info().Int64("purged", n).Time("cutoff", cutoff).Msg("purged stale decline memory")
	return nil
}

func (s *Service) PurgeSessions(ctx context.Context) error {
	cutoff := s.now().Add(-s.cfg.SessionWindow)
	n, err := s.store.PurgeEndedSessions(ctx, cutoff)
	if err != nil {
		s.log.Error().Err(err).Msg("session purge failed")
		return nil
	}
	s.log.Info().Int64("purged", n).Time("cutoff", cutoff).Msg("purged old ended sessions")
	return nil
}

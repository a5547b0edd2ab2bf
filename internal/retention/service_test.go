package retention

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type fakeStore struct {
	matchCutoff   time.Time
	declineCutoff time.Time
	sessionCutoff time.Time
	err           error
}

func (f *fakeStore) PurgeExpiredMatches(_ context.Context, cutoff time.Time) (int64, error) {
	f.matchCutoff = cutoff
	return 3, f.err
}

func (f *fakeStore) PurgeStaleDeclines(_ context.Context, cutoff time.Time) (int64, error) {
	f.declineCutoff = cutoff
	return 1, f.err
}

func (f *fakeStore) PurgeEndedSessions(_ context.Context, cutoff time.Time) (int64, error) {
	f.sessionCutoff = cutoff
	return 7, f.err
}

func TestPurgeCutoffs(t *testing.T) {
	now := time.Date(2025, 6, 1, 4, 0, 0, 0, time.UTC)
	store := &fakeStore{}
	svc := NewService(store, Config{
		MatchWindow:   30 * 24 * time.Hour,
		DeclineWindow: 7 * 24 * time.Hour,
		SessionWindow: 30 * 24 * time.Hour,
	}, zerolog.Nop())
	svc.now = func() time.Time { return now }

	ctx := context.Background()
	assert.NoError(t, svc.PurgeMatches(ctx))
	assert.NoError(t, svc.PurgeDeclines(ctx))
	assert.NoError(t, svc.PurgeSessions(ctx))

	assert.Equal(t, now.Add(-30*24*time.Hour), store.matchCutoff)
	assert.Equal(t, now.Add(-7*24*time.Hour), store.declineCutoff)
	assert.Equal(t, now.Add(-30*24*time.Hour), store.sessionCutoff)
}

func TestPurgeFailuresAreSwallowed(t *testing.T) {
	store := &fakeStore{err: errors.New("db unavailable")}
	svc := NewService(store, Config{}, zerolog.Nop())

	ctx := context.Background()
	// A failed purge must not trigger the task retry machinery.
	assert.NoError(t, svc.PurgeMatches(ctx))
	assert.NoError(t, svc.PurgeDeclines(ctx))
	assert.NoError(t, svc.PurgeSessions(ctx))
}

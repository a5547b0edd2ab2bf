package sessions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"afterhours-backend/internal/apperr"
	"afterhours-backend/internal/events"
	"afterhours-backend/internal/storage"
)

type fakeStore struct {
	sessions    map[uuid.UUID]*storage.Session
	activeByUID map[uuid.UUID]*storage.Session
	hasProfile  bool

	createErr  error
	endedAt    map[uuid.UUID]time.Time
	extendOK   bool
	extendedTo map[uuid.UUID]time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions:    make(map[uuid.UUID]*storage.Session),
		activeByUID: make(map[uuid.UUID]*storage.Session),
		hasProfile:  true,
		endedAt:     make(map[uuid.UUID]time.Time),
		extendOK:    true,
		extendedTo:  make(map[uuid.UUID]time.Time),
	}
}

func (f *fakeStore) CreateSession(_ context.Context, s *storage.Session) error {
	if f.createErr != nil {
		return f.createErr
	}
	s.ID = uuid.New()
	s.CreatedAt = s.StartedAt
	f.sessions[s.ID] = s
	f.activeByUID[s.UserID] = s
	return nil
}

func (f *fakeStore) GetSession(_ context.Context, id uuid.UUID) (*storage.Session, error) {
	return f.sessions[id], nil
}

func (f *fakeStore) ActiveSessionForUser(_ context.Context, userID uuid.UUID) (*storage.Session, error) {
	return f.activeByUID[userID], nil
}

func (f *fakeStore) EndSessionAt(_ context.Context, id uuid.UUID, endedAt time.Time) (bool, error) {
	f.endedAt[id] = endedAt
	if s, ok := f.sessions[id]; ok && s.EndedAt == nil {
		s.EndedAt = &endedAt
		delete(f.activeByUID, s.UserID)
		return true, nil
	}
	return false, nil
}

func (f *fakeStore) ExtendSession(_ context.Context, id uuid.UUID, newExpiry time.Time) (bool, error) {
	if !f.extendOK {
		return false, nil
	}
	f.extendedTo[id] = newExpiry
	if s, ok := f.sessions[id]; ok {
		s.ExpiresAt = newExpiry
	}
	return true, nil
}

func (f *fakeStore) HasAfterHoursProfile(_ context.Context, _ uuid.UUID) (bool, error) {
	return f.hasProfile, nil
}

type fakeJobs struct {
	scheduled   []uuid.UUID
	cancelled   []uuid.UUID
	rescheduled []uuid.UUID
	enqueued    []uuid.UUID

	scheduleErr error
	enqueueErr  error
}

func (f *fakeJobs) ScheduleSessionJobs(_ context.Context, id uuid.UUID, _ time.Time) error {
	if f.scheduleErr != nil {
		return f.scheduleErr
	}
	f.scheduled = append(f.scheduled, id)
	return nil
}

func (f *fakeJobs) CancelSessionJobs(_ context.Context, id uuid.UUID) error {
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeJobs) RescheduleSessionJobs(_ context.Context, id uuid.UUID, _ time.Time) error {
	f.rescheduled = append(f.rescheduled, id)
	return nil
}

func (f *fakeJobs) EnqueueUserMatch(_ context.Context, userID uuid.UUID, _ time.Duration) error {
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	f.enqueued = append(f.enqueued, userID)
	return nil
}

var testNow = time.Date(2025, 6, 1, 23, 0, 0, 0, time.UTC)

func newTestService(store *fakeStore, jobs *fakeJobs, mem *events.Memory) *Service {
	svc := NewService(store, jobs, events.NewSender(mem, zerolog.Nop()), Config{
		MinDuration:     15 * time.Minute,
		MaxDuration:     4 * time.Hour,
		WarningLead:     2 * time.Minute,
		StartMatchDelay: 15 * time.Second,
	}, zerolog.Nop())
	svc.now = func() time.Time { return testNow }
	return svc
}

func TestStart(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	t.Run("creates session with fuzzed coordinates", func(t *testing.T) {
		store, jobs := newFakeStore(), &fakeJobs{}
		svc := newTestService(store, jobs, events.NewMemory())

		session, err := svc.Start(ctx, userID, time.Hour, 52.520008, 13.404954)
		require.NoError(t, err)

		assert.Equal(t, 52.52, session.FuzzedLat)
		assert.Equal(t, 13.4, session.FuzzedLng)
		assert.Equal(t, testNow.Add(time.Hour), session.ExpiresAt)
		assert.Equal(t, []uuid.UUID{session.ID}, jobs.scheduled)
		assert.Equal(t, []uuid.UUID{userID}, jobs.enqueued)
	})

	t.Run("rejects out-of-range duration", func(t *testing.T) {
		svc := newTestService(newFakeStore(), &fakeJobs{}, events.NewMemory())

		_, err := svc.Start(ctx, userID, 5*time.Minute, 52.52, 13.40)
		assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))

		_, err = svc.Start(ctx, userID, 5*time.Hour, 52.52, 13.40)
		assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))
	})

	t.Run("rejects invalid coordinates", func(t *testing.T) {
		svc := newTestService(newFakeStore(), &fakeJobs{}, events.NewMemory())

		_, err := svc.Start(ctx, userID, time.Hour, 91, 13.40)
		assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))

		_, err = svc.Start(ctx, userID, time.Hour, 52.52, -181)
		assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))
	})

	t.Run("requires completed profile", func(t *testing.T) {
		store := newFakeStore()
		store.hasProfile = false
		svc := newTestService(store, &fakeJobs{}, events.NewMemory())

		_, err := svc.Start(ctx, userID, time.Hour, 52.52, 13.40)
		assert.Equal(t, apperr.CodeProfileRequired, apperr.CodeOf(err))
	})

	t.Run("rejects a second concurrent session", func(t *testing.T) {
		store, jobs := newFakeStore(), &fakeJobs{}
		svc := newTestService(store, jobs, events.NewMemory())

		_, err := svc.Start(ctx, userID, time.Hour, 52.52, 13.40)
		require.NoError(t, err)

		_, err = svc.Start(ctx, userID, time.Hour, 52.52, 13.40)
		assert.Equal(t, apperr.CodeSessionActive, apperr.CodeOf(err))
	})

	t.Run("unique-index loss surfaces as session already active", func(t *testing.T) {
		store := newFakeStore()
		store.createErr = storage.ErrSessionExists
		svc := newTestService(store, &fakeJobs{}, events.NewMemory())

		_, err := svc.Start(ctx, userID, time.Hour, 52.52, 13.40)
		assert.Equal(t, apperr.CodeSessionActive, apperr.CodeOf(err))
	})

	t.Run("rolls the session back when scheduling fails", func(t *testing.T) {
		store := newFakeStore()
		jobs := &fakeJobs{scheduleErr: errors.New("redis down")}
		svc := newTestService(store, jobs, events.NewMemory())

		_, err := svc.Start(ctx, userID, time.Hour, 52.52, 13.40)
		assert.Equal(t, apperr.CodeInternal, apperr.CodeOf(err))
		assert.Nil(t, store.activeByUID[userID])
	})

	t.Run("enqueue failure does not fail the start", func(t *testing.T) {
		store := newFakeStore()
		jobs := &fakeJobs{enqueueErr: errors.New("redis hiccup")}
		svc := newTestService(store, jobs, events.NewMemory())

		session, err := svc.Start(ctx, userID, time.Hour, 52.52, 13.40)
		require.NoError(t, err)
		assert.NotNil(t, session)
	})
}

func TestEnd(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	t.Run("ends the active session and cancels jobs", func(t *testing.T) {
		store, jobs := newFakeStore(), &fakeJobs{}
		svc := newTestService(store, jobs, events.NewMemory())

		started, err := svc.Start(ctx, userID, time.Hour, 52.52, 13.40)
		require.NoError(t, err)

		ended, err := svc.End(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, started.ID, ended.ID)
		assert.NotNil(t, ended.EndedAt)
		assert.Equal(t, []uuid.UUID{started.ID}, jobs.cancelled)
	})

	t.Run("publishes session_expired with reason ended", func(t *testing.T) {
		store, mem := newFakeStore(), events.NewMemory()
		svc := newTestService(store, &fakeJobs{}, mem)

		started, err := svc.Start(ctx, userID, time.Hour, 52.52, 13.40)
		require.NoError(t, err)

		_, err = svc.End(ctx, userID)
		require.NoError(t, err)

		published := mem.ByType(events.TypeSessionExpired)
		require.Len(t, published, 1)
		assert.Equal(t, userID, published[0].TargetUserID)
		payload := published[0].Payload.(events.SessionExpiredPayload)
		assert.Equal(t, started.ID, payload.SessionID)
		assert.Equal(t, events.ReasonEnded, payload.Reason)
	})

	t.Run("no active session", func(t *testing.T) {
		svc := newTestService(newFakeStore(), &fakeJobs{}, events.NewMemory())
		_, err := svc.End(ctx, userID)
		assert.Equal(t, apperr.CodeNoSession, apperr.CodeOf(err))
	})
}

func TestExtend(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	t.Run("extends and reschedules", func(t *testing.T) {
		store, jobs := newFakeStore(), &fakeJobs{}
		svc := newTestService(store, jobs, events.NewMemory())

		started, err := svc.Start(ctx, userID, time.Hour, 52.52, 13.40)
		require.NoError(t, err)

		extended, err := svc.Extend(ctx, userID, 30*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, testNow.Add(90*time.Minute), extended.ExpiresAt)
		assert.Equal(t, []uuid.UUID{started.ID}, jobs.rescheduled)
	})

	t.Run("rejects non-positive extension", func(t *testing.T) {
		svc := newTestService(newFakeStore(), &fakeJobs{}, events.NewMemory())
		_, err := svc.Extend(ctx, userID, 0)
		assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))
	})

	t.Run("caps the total length", func(t *testing.T) {
		store := newFakeStore()
		svc := newTestService(store, &fakeJobs{}, events.NewMemory())

		_, err := svc.Start(ctx, userID, 3*time.Hour, 52.52, 13.40)
		require.NoError(t, err)

		_, err = svc.Extend(ctx, userID, 2*time.Hour)
		assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))
	})

	t.Run("session ended under us", func(t *testing.T) {
		store := newFakeStore()
		svc := newTestService(store, &fakeJobs{}, events.NewMemory())

		_, err := svc.Start(ctx, userID, time.Hour, 52.52, 13.40)
		require.NoError(t, err)

		store.extendOK = false
		_, err = svc.Extend(ctx, userID, 30*time.Minute)
		assert.Equal(t, apperr.CodeNoSession, apperr.CodeOf(err))
	})
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	t.Run("inactive", func(t *testing.T) {
		svc := newTestService(newFakeStore(), &fakeJobs{}, events.NewMemory())
		status, err := svc.Status(ctx, userID)
		require.NoError(t, err)
		assert.False(t, status.Active)
		assert.Nil(t, status.SessionID)
	})

	t.Run("active with remaining time and phase", func(t *testing.T) {
		store := newFakeStore()
		svc := newTestService(store, &fakeJobs{}, events.NewMemory())

		started, err := svc.Start(ctx, userID, time.Hour, 52.52, 13.40)
		require.NoError(t, err)

		status, err := svc.Status(ctx, userID)
		require.NoError(t, err)
		assert.True(t, status.Active)
		assert.Equal(t, started.ID, *status.SessionID)
		assert.Equal(t, 3600, status.RemainingSeconds)
		assert.Equal(t, storage.PhaseActive, *status.Phase)
	})

	t.Run("expiring soon", func(t *testing.T) {
		store := newFakeStore()
		svc := newTestService(store, &fakeJobs{}, events.NewMemory())

		session := &storage.Session{
			ID: uuid.New(), UserID: userID,
			StartedAt: testNow.Add(-time.Hour),
			ExpiresAt: testNow.Add(90 * time.Second),
		}
		store.sessions[session.ID] = session
		store.activeByUID[userID] = session

		status, err := svc.Status(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, storage.PhaseExpiringSoon, *status.Phase)
	})
}

func TestHandleWarning(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	t.Run("publishes minutes remaining", func(t *testing.T) {
		store, mem := newFakeStore(), events.NewMemory()
		svc := newTestService(store, &fakeJobs{}, mem)

		session := &storage.Session{
			ID: uuid.New(), UserID: userID,
			ExpiresAt: testNow.Add(2 * time.Minute),
		}
		store.sessions[session.ID] = session

		require.NoError(t, svc.HandleWarning(ctx, session.ID))

		published := mem.ByType(events.TypeSessionExpiring)
		require.Len(t, published, 1)
		assert.Equal(t, userID, published[0].TargetUserID)
		payload := published[0].Payload.(events.SessionExpiringPayload)
		assert.Equal(t, 2, payload.MinutesRemaining)
	})

	t.Run("skips sessions already over", func(t *testing.T) {
		store, mem := newFakeStore(), events.NewMemory()
		svc := newTestService(store, &fakeJobs{}, mem)

		endedAt := testNow.Add(-time.Minute)
		session := &storage.Session{
			ID: uuid.New(), UserID: userID,
			ExpiresAt: testNow.Add(2 * time.Minute),
			EndedAt:   &endedAt,
		}
		store.sessions[session.ID] = session

		require.NoError(t, svc.HandleWarning(ctx, session.ID))
		assert.Empty(t, mem.All())
	})

	t.Run("unknown session is a no-op", func(t *testing.T) {
		mem := events.NewMemory()
		svc := newTestService(newFakeStore(), &fakeJobs{}, mem)
		require.NoError(t, svc.HandleWarning(ctx, uuid.New()))
		assert.Empty(t, mem.All())
	})
}

func TestHandleExpire(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	t.Run("closes the session and publishes", func(t *testing.T) {
		store, mem := newFakeStore(), events.NewMemory()
		svc := newTestService(store, &fakeJobs{}, mem)

		session := &storage.Session{
			ID: uuid.New(), UserID: userID,
			ExpiresAt: testNow.Add(-time.Second),
		}
		store.sessions[session.ID] = session

		require.NoError(t, svc.HandleExpire(ctx, session.ID))
		assert.NotNil(t, session.EndedAt)

		published := mem.ByType(events.TypeSessionExpired)
		require.Len(t, published, 1)
		payload := published[0].Payload.(events.SessionExpiredPayload)
		assert.Equal(t, events.ReasonExpired, payload.Reason)
	})

	t.Run("publishes even when a manual end won the race", func(t *testing.T) {
		store, mem := newFakeStore(), events.NewMemory()
		svc := newTestService(store, &fakeJobs{}, mem)

		endedAt := testNow.Add(-time.Minute)
		session := &storage.Session{
			ID: uuid.New(), UserID: userID,
			ExpiresAt: testNow.Add(-time.Second),
			EndedAt:   &endedAt,
		}
		store.sessions[session.ID] = session

		require.NoError(t, svc.HandleExpire(ctx, session.ID))
		assert.Len(t, mem.ByType(events.TypeSessionExpired), 1)
		// The earlier end timestamp is preserved.
		assert.Equal(t, endedAt, *session.EndedAt)
	})

	t.Run("unknown session is a no-op", func(t *testing.T) {
		mem := events.NewMemory()
		svc := newTestService(newFakeStore(), &fakeJobs{}, mem)
		require.NoError(t, svc.HandleExpire(ctx, uuid.New()))
		assert.Empty(t, mem.All())
	})
}

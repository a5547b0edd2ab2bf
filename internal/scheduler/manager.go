package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"afterhours-backend/internal/storage"
)

// Manager is the enqueue/cancel side of the job substrate. Services talk to
// it through their own small interfaces so tests can substitute fakes.
type Manager struct {
	client            *asynq.Client
	inspector         *asynq.Inspector
	warningLead       time.Duration
	warningSkipMargin time.Duration
	log               zerolog.Logger
	now               func() time.Time
}

func NewManager(opt asynq.RedisClientOpt, warningLead, warningSkipMargin time.Duration, log zerolog.Logger) *Manager {
	return &Manager{
		client:            asynq.NewClient(opt),
		inspector:         asynq.NewInspector(opt),
		warningLead:       warningLead,
		warningSkipMargin: warningSkipMargin,
		log:               log.With().Str("component", "scheduler").Logger(),
		now:               func() time.Time { return time.Now().UTC() },
	}
}

func (m *Manager) Close() error {
	if err := m.client.Close(); err != nil {
		return err
	}
	return m.inspector.Close()
}

// ScheduleSessionJobs schedules the expire job at expiry and, when enough
// lead remains, the warning job warningLead before it.
func (m *Manager) ScheduleSessionJobs(ctx context.Context, sessionID uuid.UUID, expiresAt time.Time) error {
	payload := SessionPayload{SessionID: sessionID}

	expireTask, err := newTask(TaskSessionExpire, payload)
	if err != nil {
		return err
	}
	_, err = m.client.EnqueueContext(ctx, expireTask,
		asynq.Queue(QueueSessions),
		asynq.TaskID(SessionExpireTaskID(sessionID)),
		asynq.ProcessAt(expiresAt),
		asynq.MaxRetry(3),
	)
	if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return err
	}

	at, ok := warnTime(m.now(), expiresAt, m.warningLead, m.warningSkipMargin)
	if !ok {
		m.log.Debug().Str("session_id", sessionID.String()).Msg("session too short for expiry warning, skipping")
		return nil
	}

	warnTask, err := newTask(TaskSessionWarn, payload)
	if err != nil {
		return err
	}
	_, err = m.client.EnqueueContext(ctx, warnTask,
		asynq.Queue(QueueSessions),
		asynq.TaskID(SessionWarnTaskID(sessionID)),
		asynq.ProcessAt(at),
		asynq.MaxRetry(3),
	)
	if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return err
	}
	return nil
}

// CancelSessionJobs removes both session jobs if present; already-fired or
// already-removed jobs are a no-op.
func (m *Manager) CancelSessionJobs(ctx context.Context, sessionID uuid.UUID) error {
	if err := m.deleteTask(QueueSessions, SessionWarnTaskID(sessionID)); err != nil {
		return err
	}
	return m.deleteTask(QueueSessions, SessionExpireTaskID(sessionID))
}

// RescheduleSessionJobs is cancel-then-recreate, keeping the scheduling
// substrate free of in-place updates.
func (m *Manager) RescheduleSessionJobs(ctx context.Context, sessionID uuid.UUID, expiresAt time.Time) error {
	if err := m.CancelSessionJobs(ctx, sessionID); err != nil {
		return err
	}
	return m.ScheduleSessionJobs(ctx, sessionID, expiresAt)
}

// EnqueueUserMatch schedules a delayed single-user matching run. A pending
// duplicate for the same user collapses into the existing task.
func (m *Manager) EnqueueUserMatch(ctx context.Context, userID uuid.UUID, delay time.Duration) error {
	task, err := newTask(TaskMatchUser, UserPayload{UserID: userID})
	if err != nil {
		return err
	}
	_, err = m.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueMatching),
		asynq.TaskID(MatchUserTaskID(userID)),
		asynq.ProcessIn(delay),
		asynq.MaxRetry(5),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

// ScheduleMatchExpiry schedules the auto-decline fire for a match.
func (m *Manager) ScheduleMatchExpiry(ctx context.Context, matchID uuid.UUID, expiresAt time.Time) error {
	task, err := newTask(TaskMatchExpire, MatchPayload{MatchID: matchID})
	if err != nil {
		return err
	}
	_, err = m.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueMatching),
		asynq.TaskID(MatchExpireTaskID(matchID)),
		asynq.ProcessAt(expiresAt),
		asynq.MaxRetry(3),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

func (m *Manager) CancelMatchExpiry(ctx context.Context, matchID uuid.UUID) error {
	return m.deleteTask(QueueMatching, MatchExpireTaskID(matchID))
}

func (m *Manager) deleteTask(queue, taskID string) error {
	err := m.inspector.DeleteTask(queue, taskID)
	if err == nil || errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
		return nil
	}
	return err
}

// RedisOpt builds the asynq connection options from the shared Redis URL
// so the substrate and the broadcast channel point at the same instance.
func RedisOpt(redisURL string, connectTimeout time.Duration) (asynq.RedisClientOpt, error) {
	addr, password, db, err := storage.AsynqOpt(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}
	return asynq.RedisClientOpt{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  connectTimeout,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}, nil
}

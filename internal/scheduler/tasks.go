package scheduler

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Task types. The substrate is durable: scheduled jobs survive restarts and
// are shared across engine replicas, which is why none of this uses
// in-process timers.
const (
	TaskMatchSweep        = "matching:sweep"
	TaskMatchUser         = "matching:user"
	TaskSessionWarn       = "session:warn"
	TaskSessionExpire     = "session:expire"
	TaskMatchExpire       = "match:expire"
	TaskRetentionMatches  = "retention:matches"
	TaskRetentionDeclines = "retention:declines"
	TaskRetentionSessions = "retention:sessions"
)

const (
	QueueMatching  = "matching"
	QueueSessions  = "sessions"
	QueueRetention = "retention"
)

type UserPayload struct {
	UserID uuid.UUID `json:"user_id"`
}

type SessionPayload struct {
	SessionID uuid.UUID `json:"session_id"`
}

type MatchPayload struct {
	MatchID uuid.UUID `json:"match_id"`
}

// Deterministic task IDs make cancellation exact: removing a session's
// expire job needs no bookkeeping beyond the session ID. They also collapse
// duplicate pending triggers for the same target.
func SessionWarnTaskID(sessionID uuid.UUID) string {
	return TaskSessionWarn + ":" + sessionID.String()
}

func SessionExpireTaskID(sessionID uuid.UUID) string {
	return TaskSessionExpire + ":" + sessionID.String()
}

func MatchExpireTaskID(matchID uuid.UUID) string {
	return TaskMatchExpire + ":" + matchID.String()
}

func MatchUserTaskID(userID uuid.UUID) string {
	return TaskMatchUser + ":" + userID.String()
}

func newTask(taskType string, payload any) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, data), nil
}

// warnTime decides when (and whether) the expiry warning fires. Sessions too
// short for the warning to be useful skip it entirely: firing a two-minute
// warning seconds before the expire job is noise, not warning.
func warnTime(now, expiresAt time.Time, lead, skipMargin time.Duration) (time.Time, bool) {
	at := expiresAt.Add(-lead)
	if at.Sub(now) < skipMargin {
		return time.Time{}, false
	}
	return at, true
}

package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrSessionExists reports a concurrent start racing this one: the partial
// unique index on open session rows rejected the insert.
var ErrSessionExists = errors.New("an open session already exists for this user")

const sessionColumns = `id, user_id, started_at, expires_at, ended_at, fuzzed_lat, fuzzed_lng, created_at`

func scanSession(row pgx.Row) (*Session, error) {
	s := &Session{}
	err := row.Scan(
		&s.ID, &s.UserID, &s.StartedAt, &s.ExpiresAt, &s.EndedAt,
		&s.FuzzedLat, &s.FuzzedLng, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// CreateSession inserts the session row. An expired row the expire job never
// stamped is closed first so it cannot trip the open-session unique index;
// a genuinely live row does trip it, and the violation comes back as
// ErrSessionExists.
func (db *PostgresDB) CreateSession(ctx context.Context, s *Session) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	closeOverdue := `
		UPDATE sessions SET ended_at = expires_at
		WHERE user_id = $1 AND ended_at IS NULL AND expires_at <= now()`
	if _, err := tx.Exec(ctx, closeOverdue, s.UserID); err != nil {
		return err
	}

	insert := `
		INSERT INTO sessions (user_id, started_at, expires_at, fuzzed_lat, fuzzed_lng)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`
	if err := tx.QueryRow(ctx, insert,
		s.UserID, s.StartedAt, s.ExpiresAt, s.FuzzedLat, s.FuzzedLng).
		Scan(&s.ID, &s.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrSessionExists
		}
		return err
	}

	return tx.Commit(ctx)
}

func (db *PostgresDB) GetSession(ctx context.Context, sessionID uuid.UUID) (*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`

	s, err := scanSession(db.pool.QueryRow(ctx, query, sessionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// ActiveSessionForUser returns the user's active session, or nil when the
// user has none. Absence is a routine outcome, not an error.
func (db *PostgresDB) ActiveSessionForUser(ctx context.Context, userID uuid.UUID) (*Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE user_id = $1 AND ended_at IS NULL AND expires_at > now()
		ORDER BY started_at DESC
		LIMIT 1`

	s, err := scanSession(db.pool.QueryRow(ctx, query, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// EndSessionAt closes the session only if it is still open. Returns whether
// this call performed the write, so expire-job fires stay idempotent against
// a prior manual end.
func (db *PostgresDB) EndSessionAt(ctx context.Context, sessionID uuid.UUID, endedAt time.Time) (bool, error) {
	query := `UPDATE sessions SET ended_at = $2 WHERE id = $1 AND ended_at IS NULL`

	tag, err := db.pool.Exec(ctx, query, sessionID, endedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (db *PostgresDB) ExtendSession(ctx context.Context, sessionID uuid.UUID, newExpiry time.Time) (bool, error) {
	query := `
		UPDATE sessions SET expires_at = $2
		WHERE id = $1 AND ended_at IS NULL AND expires_at > now()`

	tag, err := db.pool.Exec(ctx, query, sessionID, newExpiry)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// SweepCandidates returns active sessions with more than margin left before
// expiry whose owners currently lack a live match.
func (db *PostgresDB) SweepCandidates(ctx context.Context, margin time.Duration) ([]Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions s
		WHERE s.ended_at IS NULL
		  AND s.expires_at > now() + ($1 * interval '1 second')
		  AND NOT EXISTS (
			SELECT 1 FROM matches m
			WHERE (m.user_id_1 = s.user_id OR m.user_id_2 = s.user_id)
			  AND m.declined_by IS NULL AND m.expires_at > now()
		  )
		ORDER BY s.started_at`

	rows, err := db.pool.Query(ctx, query, margin.Seconds())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

// CandidatePool returns every other user's active session joined with their
// profile, excluding owners who already hold a live match. This is the
// evaluator's optimistic read; the authoritative recheck happens inside
// TryCreateMatch.
func (db *PostgresDB) CandidatePool(ctx context.Context, excludeUserID uuid.UUID) ([]Candidate, error) {
	query := `
		SELECT s.id, s.user_id, s.started_at, s.expires_at, s.ended_at,
		       s.fuzzed_lat, s.fuzzed_lng, s.created_at,
		       p.user_id, p.display_name, p.gender, p.seeking_gender,
		       date_part('year', age(p.birthdate))::int,
		       p.min_age, p.max_age, p.max_distance_km, p.after_hours_bio, p.photo_key
		FROM sessions s
		JOIN profiles p ON p.user_id = s.user_id
		WHERE s.user_id <> $1
		  AND s.ended_at IS NULL AND s.expires_at > now()
		  AND NOT EXISTS (
			SELECT 1 FROM matches m
			WHERE (m.user_id_1 = s.user_id OR m.user_id_2 = s.user_id)
			  AND m.declined_by IS NULL AND m.expires_at > now()
		  )
		ORDER BY s.user_id`

	rows, err := db.pool.Query(ctx, query, excludeUserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pool []Candidate
	for rows.Next() {
		var c Candidate
		err := rows.Scan(
			&c.Session.ID, &c.Session.UserID, &c.Session.StartedAt, &c.Session.ExpiresAt,
			&c.Session.EndedAt, &c.Session.FuzzedLat, &c.Session.FuzzedLng, &c.Session.CreatedAt,
			&c.Profile.UserID, &c.Profile.DisplayName, &c.Profile.Gender, &c.Profile.SeekingGender,
			&c.Profile.Age, &c.Profile.MinAge, &c.Profile.MaxAge, &c.Profile.MaxDistanceKM,
			&c.Profile.Bio, &c.Profile.PhotoKey,
		)
		if err != nil {
			return nil, err
		}
		pool = append(pool, c)
	}
	return pool, rows.Err()
}

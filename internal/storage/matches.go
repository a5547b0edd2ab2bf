package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateResult is the explicit outcome of an atomic match-creation attempt.
// NotLocked and AlreadyMatched are routine under concurrency; the caller
// simply moves on and lets the next sweep cycle reconsider.
type CreateResult int

const (
	MatchCreated CreateResult = iota
	MatchNotLocked
	MatchAlreadyMatched
)

const matchColumns = `id, session_id, user_id_1, user_id_2, created_at, expires_at,
	declined_by, declined_at, user1_save_vote, user2_save_vote, permanent_match_id`

func scanMatch(row pgx.Row) (*Match, error) {
	m := &Match{}
	err := row.Scan(
		&m.ID, &m.SessionID, &m.UserID1, &m.UserID2, &m.CreatedAt, &m.ExpiresAt,
		&m.DeclinedBy, &m.DeclinedAt, &m.User1SaveVote, &m.User2SaveVote, &m.PermanentMatchID,
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (db *PostgresDB) GetMatch(ctx context.Context, matchID uuid.UUID) (*Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE id = $1`

	m, err := scanMatch(db.pool.QueryRow(ctx, query, matchID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

// LiveMatchForUser returns the user's live match, or nil. The at-most-one
// invariant is enforced at creation, so LIMIT 1 is belt and suspenders.
func (db *PostgresDB) LiveMatchForUser(ctx context.Context, userID uuid.UUID) (*Match, error) {
	query := `
		SELECT ` + matchColumns + `
		FROM matches
		WHERE (user_id_1 = $1 OR user_id_2 = $1)
		  AND declined_by IS NULL AND expires_at > now()
		ORDER BY created_at DESC
		LIMIT 1`

	m, err := scanMatch(db.pool.QueryRow(ctx, query, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

// TryCreateMatch creates exactly one match for the pair or reports cleanly
// why it could not, never blocking on contention.
//
// Protocol: lock both users' active session rows FOR UPDATE SKIP LOCKED; if
// fewer than two rows come back, some concurrent attempt holds one of them
// and we abort with MatchNotLocked. With both locks held, re-check that
// neither user gained a live match since the evaluator's optimistic read,
// then insert with expiry = min(both session expiries, now + ttlCeiling).
//
// SKIP LOCKED rather than blocking locks: blocking would serialize unrelated
// pairs and risk deadlock across concurrent matchers; skipping converts
// contention into "try again next sweep."
func (db *PostgresDB) TryCreateMatch(ctx context.Context, sessionID, userID1, userID2 uuid.UUID, ttlCeiling time.Duration) (CreateResult, *Match, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return MatchNotLocked, nil, err
	}
	defer tx.Rollback(ctx)

	lockQuery := `
		SELECT user_id, expires_at
		FROM sessions
		WHERE user_id IN ($1, $2) AND ended_at IS NULL AND expires_at > now()
		FOR UPDATE SKIP LOCKED`

	rows, err := tx.Query(ctx, lockQuery, userID1, userID2)
	if err != nil {
		return MatchNotLocked, nil, err
	}

	// Count distinct owners, not rows: if one user somehow holds more than
	// one open session row, two rows from the same owner must not pass for
	// both locks.
	locked := make(map[uuid.UUID]struct{}, 2)
	matchExpiry := time.Now().UTC().Add(ttlCeiling)
	for rows.Next() {
		var owner uuid.UUID
		var expiresAt time.Time
		if err := rows.Scan(&owner, &expiresAt); err != nil {
			rows.Close()
			return MatchNotLocked, nil, err
		}
		locked[owner] = struct{}{}
		if expiresAt.Before(matchExpiry) {
			matchExpiry = expiresAt
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return MatchNotLocked, nil, err
	}

	if len(locked) < 2 {
		// A concurrent transaction holds one of the rows, or a session just
		// ended. Either way: no write, no error.
		return MatchNotLocked, nil, nil
	}

	// Authoritative recheck under the locks, closing the window between
	// candidate selection and creation.
	var alreadyMatched bool
	recheck := `
		SELECT EXISTS (
			SELECT 1 FROM matches
			WHERE (user_id_1 IN ($1, $2) OR user_id_2 IN ($1, $2))
			  AND declined_by IS NULL AND expires_at > now()
		)`
	if err := tx.QueryRow(ctx, recheck, userID1, userID2).Scan(&alreadyMatched); err != nil {
		return MatchNotLocked, nil, err
	}
	if alreadyMatched {
		return MatchAlreadyMatched, nil, nil
	}

	m := &Match{
		SessionID: sessionID,
		UserID1:   userID1,
		UserID2:   userID2,
		ExpiresAt: matchExpiry,
	}
	insert := `
		INSERT INTO matches (session_id, user_id_1, user_id_2, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`
	if err := tx.QueryRow(ctx, insert, m.SessionID, m.UserID1, m.UserID2, m.ExpiresAt).
		Scan(&m.ID, &m.CreatedAt); err != nil {
		return MatchNotLocked, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return MatchNotLocked, nil, err
	}
	return MatchCreated, m, nil
}

// DeclineMatch records the decline only while the match is still live.
// Returns whether this call performed the write.
func (db *PostgresDB) DeclineMatch(ctx context.Context, matchID, userID uuid.UUID, at time.Time) (bool, error) {
	query := `
		UPDATE matches SET declined_by = $2, declined_at = $3
		WHERE id = $1 AND declined_by IS NULL AND expires_at > now()`

	tag, err := db.pool.Exec(ctx, query, matchID, userID, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

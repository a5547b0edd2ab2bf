package storage

import (
	"context"
	"time"
)

// PurgeExpiredMatches deletes matches whose expiry passed before cutoff and
// that never converted, together with their ephemeral messages. Converted
// matches keep their rows: the permanent copy references them by history.
func (db *PostgresDB) PurgeExpiredMatches(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	delMessages := `
		DELETE FROM ephemeral_messages
		WHERE match_id IN (
			SELECT id FROM matches
			WHERE expires_at < $1 AND permanent_match_id IS NULL
		)`
	if _, err := tx.Exec(ctx, delMessages, cutoff); err != nil {
		return 0, err
	}

	delMatches := `DELETE FROM matches WHERE expires_at < $1 AND permanent_match_id IS NULL`
	tag, err := tx.Exec(ctx, delMatches, cutoff)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// PurgeStaleDeclines bounds decline-memory growth independently of the
// saturation cap.
func (db *PostgresDB) PurgeStaleDeclines(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM decline_memory WHERE first_declined_at < $1`

	tag, err := db.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// PurgeEndedSessions removes long-dead session rows once no match still
// references them. Rows whose expire job never stamped ended_at count as
// dead from their expiry.
func (db *PostgresDB) PurgeEndedSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM sessions s
		WHERE ((s.ended_at IS NOT NULL AND s.ended_at < $1)
		    OR (s.ended_at IS NULL AND s.expires_at < $1))
		  AND NOT EXISTS (SELECT 1 FROM matches m WHERE m.session_id = s.id)`

	tag, err := db.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

package storage

import (
	"context"

	"github.com/google/uuid"
)

// RecordDecline upserts the (user, declined_user) counter. When the counter
// reaches maxCount the row is purged in the same transaction: the cooldown
// has served its purpose and the pair becomes matchable again. Returns the
// count the decline reached and whether the row was purged.
func (db *PostgresDB) RecordDecline(ctx context.Context, userID, declinedUserID, sessionID uuid.UUID, maxCount int) (int, bool, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return 0, false, err
	}
	defer tx.Rollback(ctx)

	upsert := `
		INSERT INTO decline_memory (user_id, declined_user_id, decline_count, last_session_id)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (user_id, declined_user_id)
		DO UPDATE SET decline_count = decline_memory.decline_count + 1, last_session_id = $3
		RETURNING decline_count`

	var count int
	if err := tx.QueryRow(ctx, upsert, userID, declinedUserID, sessionID).Scan(&count); err != nil {
		return 0, false, err
	}

	purged := false
	if count >= maxCount {
		del := `DELETE FROM decline_memory WHERE user_id = $1 AND declined_user_id = $2`
		if _, err := tx.Exec(ctx, del, userID, declinedUserID); err != nil {
			return count, false, err
		}
		purged = true
	}

	if err := tx.Commit(ctx); err != nil {
		return count, false, err
	}
	return count, purged, nil
}

// DeclineCounterparts returns the users excluded from matching with userID
// by decline memory, in either direction.
func (db *PostgresDB) DeclineCounterparts(ctx context.Context, userID uuid.UUID) (map[uuid.UUID]struct{}, error) {
	query := `
		SELECT declined_user_id FROM decline_memory WHERE user_id = $1
		UNION
		SELECT user_id FROM decline_memory WHERE declined_user_id = $1`

	rows, err := db.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uuid.UUID]struct{})
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

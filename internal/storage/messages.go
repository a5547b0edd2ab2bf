package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
)

func (db *PostgresDB) InsertMessage(ctx context.Context, m *EphemeralMessage) error {
	query := `
		INSERT INTO ephemeral_messages (match_id, sender_id, text)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`

	return db.pool.QueryRow(ctx, query, m.MatchID, m.SenderID, m.Text).
		Scan(&m.ID, &m.CreatedAt)
}

// MessagesBefore pages newest-first with a (created_at, id) keyset cursor.
// Messages are insert-only, so the cursor is stable where an offset would
// drift; the id tie-break keeps messages sharing a timestamp from being
// skipped across page boundaries. History remains readable after the match
// expires or is declined.
func (db *PostgresDB) MessagesBefore(ctx context.Context, matchID uuid.UUID, before time.Time, beforeID uuid.UUID, limit int) ([]EphemeralMessage, error) {
	query := `
		SELECT id, match_id, sender_id, text, created_at
		FROM ephemeral_messages
		WHERE match_id = $1 AND (created_at, id) < ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`

	rows, err := db.pool.Query(ctx, query, matchID, before, beforeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []EphemeralMessage
	for rows.Next() {
		var m EphemeralMessage
		if err := rows.Scan(&m.ID, &m.MatchID, &m.SenderID, &m.Text, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

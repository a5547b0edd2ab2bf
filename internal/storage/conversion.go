package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Errors the save-vote transaction distinguishes for the service layer.
var (
	ErrMatchMissing = errors.New("match not found")
	ErrNotInMatch   = errors.New("user is not part of this match")
	ErrMatchClosed  = errors.New("match declined or expired")
)

// SaveVoteOutcome reports what a vote did. Exactly one of Waiting,
// Converted, AlreadyConverted is true.
type SaveVoteOutcome struct {
	Waiting          bool
	Converted        bool
	AlreadyConverted bool
	PermanentMatchID uuid.UUID
	Match            *Match
}

// RecordSaveVote applies one user's save vote under a row lock on the match
// and, when the partner's vote is already present, performs the conversion
// in the same transaction: create the permanent match, copy the ephemeral
// messages chronologically (copy, not move — the originals stay subject to
// normal retention), and stamp permanent_match_id on the match. The stamp
// makes re-invocation idempotent: an already-converted match returns the
// existing permanent reference without touching messages again.
func (db *PostgresDB) RecordSaveVote(ctx context.Context, matchID, userID uuid.UUID, now time.Time) (*SaveVoteOutcome, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	lock := `SELECT ` + matchColumns + ` FROM matches WHERE id = $1 FOR UPDATE`
	m, err := scanMatch(tx.QueryRow(ctx, lock, matchID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMatchMissing
	}
	if err != nil {
		return nil, err
	}
	if !m.Involves(userID) {
		return nil, ErrNotInMatch
	}

	if m.PermanentMatchID != nil {
		return &SaveVoteOutcome{AlreadyConverted: true, PermanentMatchID: *m.PermanentMatchID, Match: m}, nil
	}
	if !m.Live(now) {
		return nil, ErrMatchClosed
	}

	voteCol, otherVote := "user1_save_vote", m.User2SaveVote
	if m.UserID2 == userID {
		voteCol, otherVote = "user2_save_vote", m.User1SaveVote
	}

	if _, err := tx.Exec(ctx, `UPDATE matches SET `+voteCol+` = true WHERE id = $1`, matchID); err != nil {
		return nil, err
	}

	if otherVote == nil || !*otherVote {
		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		return &SaveVoteOutcome{Waiting: true, Match: m}, nil
	}

	// Both votes present: convert exactly once, inside this transaction.
	var permanentID uuid.UUID
	createPermanent := `
		INSERT INTO permanent_matches (user_id_1, user_id_2, source)
		VALUES ($1, $2, $3)
		RETURNING id`
	if err := tx.QueryRow(ctx, createPermanent, m.UserID1, m.UserID2, SourceAfterHours).
		Scan(&permanentID); err != nil {
		return nil, err
	}

	copyMessages := `
		INSERT INTO permanent_messages (match_id, sender_id, text, created_at)
		SELECT $1, sender_id, text, created_at
		FROM ephemeral_messages
		WHERE match_id = $2
		ORDER BY created_at`
	if _, err := tx.Exec(ctx, copyMessages, permanentID, matchID); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `UPDATE matches SET permanent_match_id = $2 WHERE id = $1`, matchID, permanentID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &SaveVoteOutcome{Converted: true, PermanentMatchID: permanentID, Match: m}, nil
}

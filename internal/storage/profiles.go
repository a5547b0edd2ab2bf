package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// GetProfile reads the external profile/preferences row. Age is derived from
// birthdate at read time so the stored row never goes stale.
func (db *PostgresDB) GetProfile(ctx context.Context, userID uuid.UUID) (*Profile, error) {
	query := `
		SELECT user_id, display_name, gender, seeking_gender,
		       date_part('year', age(birthdate))::int,
		       min_age, max_age, max_distance_km, after_hours_bio, photo_key
		FROM profiles WHERE user_id = $1`

	p := &Profile{}
	err := db.pool.QueryRow(ctx, query, userID).Scan(
		&p.UserID, &p.DisplayName, &p.Gender, &p.SeekingGender,
		&p.Age, &p.MinAge, &p.MaxAge, &p.MaxDistanceKM, &p.Bio, &p.PhotoKey,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// HasAfterHoursProfile reports whether the user finished the After Hours
// profile (photo and bio are the gate; the rest has defaults).
func (db *PostgresDB) HasAfterHoursProfile(ctx context.Context, userID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM profiles
			WHERE user_id = $1 AND photo_key <> '' AND after_hours_bio <> ''
		)`

	var ok bool
	err := db.pool.QueryRow(ctx, query, userID).Scan(&ok)
	return ok, err
}

// BlockedUserIDs returns users blocked in either direction. The block store
// is external; this is a read-only bidirectional lookup.
func (db *PostgresDB) BlockedUserIDs(ctx context.Context, userID uuid.UUID) (map[uuid.UUID]struct{}, error) {
	query := `
		SELECT blocked_id FROM blocks WHERE blocker_id = $1
		UNION
		SELECT blocker_id FROM blocks WHERE blocked_id = $1`

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

package storage

import (
	"context"
)

// Storage bundles the Postgres repositories and the Redis client. The
// relational tables are the only authoritative shared state; Redis carries
// the broadcast channel and the job substrate, never source-of-truth data.
type Storage struct {
	DB    *PostgresDB
	Redis *RedisClient
}

func NewStorage(ctx context.Context, dbCfg PostgresConfig, redisURL string) (*Storage, error) {
	db, err := NewPostgresDB(ctx, dbCfg)
	if err != nil {
		return nil, err
	}

	redisClient, err := NewRedisClient(ctx, redisURL)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Storage{
		DB:    db,
		Redis: redisClient,
	}, nil
}

func (s *Storage) Close() error {
	s.DB.Close()
	return s.Redis.Close()
}

package events

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"afterhours-backend/internal/storage"
)

// Publisher is the only thing the engine depends on for delivery. The Redis
// implementation backs production; Memory backs tests.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

type RedisPublisher struct {
	redis *storage.RedisClient
}

func NewRedisPublisher(redis *storage.RedisClient) *RedisPublisher {
	return &RedisPublisher{redis: redis}
}

func (p *RedisPublisher) Publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return p.redis.Publish(ctx, Channel, data)
}

// Sender wraps a Publisher with fire-and-forget semantics: a failed publish
// is logged and swallowed so it can never abort or roll back the primary
// operation it is attached to.
type Sender struct {
	pub Publisher
	log zerolog.Logger
}

func NewSender(pub Publisher, log zerolog.Logger) Sender {
	return Sender{pub: pub, log: log}
}

func (s Sender) Send(ctx context.Context, env Envelope) {
	if err := s.pub.Publish(ctx, env); err != nil {
		s.log.Warn().
			Err(err).
			Str("event_type", env.Type).
			Str("target_user_id", env.TargetUserID.String()).
			Msg("event publish failed, notification lost")
	}
}

// Memory records published envelopes for test assertions.
type Memory struct {
	mu     sync.Mutex
	events []Envelope
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Publish(_ context.Context, env Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, env)
	return nil
}

func (m *Memory) All() []Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Envelope, len(m.events))
	copy(out, m.events)
	return out
}

func (m *Memory) ByType(eventType string) []Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Envelope
	for _, e := range m.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

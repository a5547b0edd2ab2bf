package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"afterhours-backend/internal/events"
	"afterhours-backend/internal/storage"
)

// Subscriber consumes the shared broadcast channel and hands matching
// envelopes to the connection manager. Every relay replica receives every
// message; filtering to locally connected users happens here.
type Subscriber struct {
	redis   *storage.RedisClient
	manager *Manager
	log     zerolog.Logger
}

func NewSubscriber(redis *storage.RedisClient, manager *Manager, log zerolog.Logger) *Subscriber {
	return &Subscriber{
		redis:   redis,
		manager: manager,
		log:     log.With().Str("component", "subscriber").Logger(),
	}
}

// Run blocks until ctx is cancelled, resubscribing with a small backoff
// after channel errors. Messages lost while disconnected stay lost: the
// channel is at-most-once and clients have the polling endpoints to recover.
func (s *Subscriber) Run(ctx context.Context) {
	for {
		if err := s.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Error().Err(err).Msg("event subscription lost, reconnecting")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}

func (s *Subscriber) consume(ctx context.Context) error {
	pubsub := s.redis.Subscribe(ctx, events.Channel)
	defer pubsub.Close()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			return err
		}

		var env events.Envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			s.log.Warn().Err(err).Msg("dropping malformed event envelope")
			continue
		}

		if !s.manager.Connected(env.TargetUserID) {
			continue
		}
		s.manager.Deliver(env)
	}
}

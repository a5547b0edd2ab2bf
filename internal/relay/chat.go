package relay

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"afterhours-backend/internal/apperr"
	"afterhours-backend/internal/events"
	"afterhours-backend/internal/storage"
)

const maxMessageLength = 2000

type ChatStore interface {
	GetMatch(ctx context.Context, matchID uuid.UUID) (*storage.Match, error)
	InsertMessage(ctx context.Context, m *storage.EphemeralMessage) error
}

// Chat owns ephemeral message persistence plus the pure fan-out extras
// (typing, read receipts). The liveness check before every write is the
// authoritative gate against posting into an expired or declined match.
type Chat struct {
	store  ChatStore
	events events.Sender
	log    zerolog.Logger
	now    func() time.Time
}

func NewChat(store ChatStore, sender events.Sender, log zerolog.Logger) *Chat {
	return &Chat{
		store:  store,
		events: sender,
		log:    log.With().Str("component", "chat").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// liveMatchFor loads the match and gates on membership and liveness.
func (c *Chat) liveMatchFor(ctx context.Context, userID, matchID uuid.UUID) (*storage.Match, error) {
	match, err := c.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, apperr.Internal("match lookup failed", err)
	}
	if match == nil || !match.Involves(userID) {
		return nil, apperr.New(apperr.CodeMatchNotFound, "match not found")
	}
	if !match.Live(c.now()) {
		return nil, apperr.New(apperr.CodeMatchClosed, "match declined or expired")
	}
	return match, nil
}

// Send persists the message and broadcasts new_message to both users, so
// every device on every relay replica hears it, the sender's included.
func (c *Chat) Send(ctx context.Context, senderID, matchID uuid.UUID, text string) (*storage.EphemeralMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperr.Validation("message text is required")
	}
	if len(text) > maxMessageLength {
		return nil, apperr.Validation("message too long")
	}

	match, err := c.liveMatchFor(ctx, senderID, matchID)
	if err != nil {
		return nil, err
	}

	msg := &storage.EphemeralMessage{
		MatchID:  matchID,
		SenderID: senderID,
		Text:     text,
	}
	if err := c.store.InsertMessage(ctx, msg); err != nil {
		return nil, apperr.Internal("failed to store message", err)
	}

	payload := events.NewMessagePayload{
		MatchID:   matchID,
		MessageID: msg.ID,
		SenderID:  senderID,
		Text:      msg.Text,
		CreatedAt: msg.CreatedAt,
	}
	c.events.Send(ctx, events.New(events.TypeNewMessage, match.UserID1, payload))
	c.events.Send(ctx, events.New(events.TypeNewMessage, match.UserID2, payload))
	return msg, nil
}

// Typing is not persisted; it rides the same liveness gate and fans out to
// the partner only.
func (c *Chat) Typing(ctx context.Context, userID, matchID uuid.UUID) error {
	match, err := c.liveMatchFor(ctx, userID, matchID)
	if err != nil {
		return err
	}
	c.events.Send(ctx, events.New(events.TypeTyping, match.Other(userID), events.TypingPayload{
		MatchID: matchID,
		UserID:  userID,
	}))
	return nil
}

// Read receipts are pure fan-out as well.
func (c *Chat) Read(ctx context.Context, userID, matchID uuid.UUID) error {
	match, err := c.liveMatchFor(ctx, userID, matchID)
	if err != nil {
		return err
	}
	c.events.Send(ctx, events.New(events.TypeRead, match.Other(userID), events.ReadPayload{
		MatchID: matchID,
		UserID:  userID,
		ReadAt:  c.now(),
	}))
	return nil
}

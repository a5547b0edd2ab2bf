package relay

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"afterhours-backend/internal/apperr"
	"afterhours-backend/internal/events"
	"afterhours-backend/internal/storage"
)

var testNow = time.Date(2025, 6, 1, 23, 0, 0, 0, time.UTC)

type fakeChatStore struct {
	matches  map[uuid.UUID]*storage.Match
	inserted []*storage.EphemeralMessage
}

func newFakeChatStore() *fakeChatStore {
	return &fakeChatStore{matches: make(map[uuid.UUID]*storage.Match)}
}

func (f *fakeChatStore) GetMatch(_ context.Context, matchID uuid.UUID) (*storage.Match, error) {
	return f.matches[matchID], nil
}

func (f *fakeChatStore) InsertMessage(_ context.Context, m *storage.EphemeralMessage) error {
	m.ID = uuid.New()
	m.CreatedAt = testNow
	f.inserted = append(f.inserted, m)
	return nil
}

func newTestChat(store *fakeChatStore, mem *events.Memory) *Chat {
	c := NewChat(store, events.NewSender(mem, zerolog.Nop()), zerolog.Nop())
	c.now = func() time.Time { return testNow }
	return c
}

func addMatch(store *fakeChatStore, u1, u2 uuid.UUID, expiresIn time.Duration) *storage.Match {
	m := &storage.Match{
		ID:        uuid.New(),
		UserID1:   u1,
		UserID2:   u2,
		CreatedAt: testNow.Add(-time.Minute),
		ExpiresAt: testNow.Add(expiresIn),
	}
	store.matches[m.ID] = m
	return m
}

func TestSend(t *testing.T) {
	ctx := context.Background()
	u1, u2 := uuid.New(), uuid.New()

	t.Run("persists and broadcasts to both users", func(t *testing.T) {
		store, mem := newFakeChatStore(), events.NewMemory()
		m := addMatch(store, u1, u2, 5*time.Minute)
		chat := newTestChat(store, mem)

		msg, err := chat.Send(ctx, u1, m.ID, "  hey there  ")
		require.NoError(t, err)
		assert.Equal(t, "hey there", msg.Text)
		require.Len(t, store.inserted, 1)

		published := mem.ByType(events.TypeNewMessage)
		require.Len(t, published, 2)
		targets := map[uuid.UUID]bool{}
		for _, env := range published {
			targets[env.TargetUserID] = true
			payload := env.Payload.(events.NewMessagePayload)
			assert.Equal(t, msg.ID, payload.MessageID)
			assert.Equal(t, u1, payload.SenderID)
		}
		assert.True(t, targets[u1], "sender gets the echo for multi-device sync")
		assert.True(t, targets[u2])
	})

	t.Run("empty after trimming", func(t *testing.T) {
		store := newFakeChatStore()
		m := addMatch(store, u1, u2, 5*time.Minute)
		chat := newTestChat(store, events.NewMemory())

		_, err := chat.Send(ctx, u1, m.ID, "   ")
		assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))
	})

	t.Run("over the length limit", func(t *testing.T) {
		store := newFakeChatStore()
		m := addMatch(store, u1, u2, 5*time.Minute)
		chat := newTestChat(store, events.NewMemory())

		_, err := chat.Send(ctx, u1, m.ID, strings.Repeat("a", maxMessageLength+1))
		assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))
	})

	t.Run("expired match rejects new sends", func(t *testing.T) {
		store := newFakeChatStore()
		m := addMatch(store, u1, u2, -time.Second)
		chat := newTestChat(store, events.NewMemory())

		_, err := chat.Send(ctx, u1, m.ID, "too late")
		assert.Equal(t, apperr.CodeMatchClosed, apperr.CodeOf(err))
		assert.Empty(t, store.inserted)
	})

	t.Run("declined match rejects new sends", func(t *testing.T) {
		store := newFakeChatStore()
		m := addMatch(store, u1, u2, 5*time.Minute)
		m.DeclinedBy = &u2
		chat := newTestChat(store, events.NewMemory())

		_, err := chat.Send(ctx, u1, m.ID, "hello?")
		assert.Equal(t, apperr.CodeMatchClosed, apperr.CodeOf(err))
	})

	t.Run("outsider cannot send", func(t *testing.T) {
		store := newFakeChatStore()
		m := addMatch(store, u1, u2, 5*time.Minute)
		chat := newTestChat(store, events.NewMemory())

		_, err := chat.Send(ctx, uuid.New(), m.ID, "hi")
		assert.Equal(t, apperr.CodeMatchNotFound, apperr.CodeOf(err))
	})

	t.Run("unknown match", func(t *testing.T) {
		chat := newTestChat(newFakeChatStore(), events.NewMemory())
		_, err := chat.Send(ctx, u1, uuid.New(), "hi")
		assert.Equal(t, apperr.CodeMatchNotFound, apperr.CodeOf(err))
	})
}

func TestTyping(t *testing.T) {
	ctx := context.Background()
	u1, u2 := uuid.New(), uuid.New()

	t.Run("fans out to the partner only", func(t *testing.T) {
		store, mem := newFakeChatStore(), events.NewMemory()
		m := addMatch(store, u1, u2, 5*time.Minute)
		chat := newTestChat(store, mem)

		require.NoError(t, chat.Typing(ctx, u1, m.ID))

		published := mem.ByType(events.TypeTyping)
		require.Len(t, published, 1)
		assert.Equal(t, u2, published[0].TargetUserID)
		assert.Equal(t, u1, published[0].Payload.(events.TypingPayload).UserID)
	})

	t.Run("closed match rejects typing", func(t *testing.T) {
		store := newFakeChatStore()
		m := addMatch(store, u1, u2, -time.Second)
		chat := newTestChat(store, events.NewMemory())

		err := chat.Typing(ctx, u1, m.ID)
		assert.Equal(t, apperr.CodeMatchClosed, apperr.CodeOf(err))
	})
}

func TestRead(t *testing.T) {
	ctx := context.Background()
	u1, u2 := uuid.New(), uuid.New()

	store, mem := newFakeChatStore(), events.NewMemory()
	m := addMatch(store, u1, u2, 5*time.Minute)
	chat := newTestChat(store, mem)

	require.NoError(t, chat.Read(ctx, u2, m.ID))

	published := mem.ByType(events.TypeRead)
	require.Len(t, published, 1)
	assert.Equal(t, u1, published[0].TargetUserID)
	payload := published[0].Payload.(events.ReadPayload)
	assert.Equal(t, u2, payload.UserID)
	assert.Equal(t, testNow, payload.ReadAt)
}

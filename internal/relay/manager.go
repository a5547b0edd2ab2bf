// Package relay is the realtime delivery layer: it subscribes to the shared
// broadcast channel and fans events out to this replica's live connections.
// The engine never holds client connections; the relay never decides
// business outcomes.
package relay

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"afterhours-backend/internal/events"
)

// Manager is the per-replica connection registry. A user may hold several
// live connections (multiple devices); every one of them gets every event.
type Manager struct {
	connections map[uuid.UUID]map[*websocket.Conn]struct{}
	mu          sync.RWMutex
	log         zerolog.Logger
}

func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		connections: make(map[uuid.UUID]map[*websocket.Conn]struct{}),
		log:         log.With().Str("component", "relay").Logger(),
	}
}

func (m *Manager) Register(userID uuid.UUID, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connections[userID] == nil {
		m.connections[userID] = make(map[*websocket.Conn]struct{})
	}
	m.connections[userID][conn] = struct{}{}
}

func (m *Manager) Unregister(userID uuid.UUID, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conns, ok := m.connections[userID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(m.connections, userID)
		}
	}
}

// Connected reports whether the user has at least one connection on this
// replica. The subscriber uses it to filter the broadcast stream.
func (m *Manager) Connected(userID uuid.UUID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections[userID]) > 0
}

// Deliver writes the envelope to every live connection the target user has
// here. A failed write only drops that one connection's delivery; the read
// loop notices the broken connection and cleans it up.
func (m *Manager) Deliver(env events.Envelope) {
	m.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(m.connections[env.TargetUserID]))
	for conn := range m.connections[env.TargetUserID] {
		conns = append(conns, conn)
	}
	m.mu.RUnlock()

	for _, conn := range conns {
		if err := conn.WriteJSON(env); err != nil {
			m.log.Debug().
				Err(err).
				Str("user_id", env.TargetUserID.String()).
				Str("event_type", env.Type).
				Msg("websocket write failed")
		}
	}
}

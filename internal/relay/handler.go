package relay

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"afterhours-backend/internal/apperr"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// TODO: restrict origins once the client domains are finalized
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
)

// ClientMessage is what clients send up the socket. Everything outbound is
// an events.Envelope.
type ClientMessage struct {
	Type    string    `json:"type"` // message | typing | read | ping
	MatchID uuid.UUID `json:"match_id,omitempty"`
	Text    string    `json:"text,omitempty"`
}

type ackMessage struct {
	Type      string    `json:"type"`
	MessageID uuid.UUID `json:"message_id,omitempty"`
	Code      string    `json:"code,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Handler struct {
	manager *Manager
	chat    *Chat
	log     zerolog.Logger
}

func NewHandler(manager *Manager, chat *Chat, log zerolog.Logger) *Handler {
	return &Handler{manager: manager, chat: chat, log: log.With().Str("component", "ws").Logger()}
}

// ServeWS upgrades the connection and pumps client messages until the
// connection drops. Identity comes from the gateway-validated header, same
// as the HTTP API.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.Header.Get("X-User-ID"))
	if err != nil {
		http.Error(w, "missing or invalid user identity", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	h.manager.Register(userID, conn)
	defer h.manager.Unregister(userID, conn)
	h.log.Info().Str("user_id", userID.String()).Msg("websocket connected")

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	go h.readLoop(userID, conn, done)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			h.log.Info().Str("user_id", userID.String()).Msg("websocket disconnected")
			return
		}
	}
}

func (h *Handler) readLoop(userID uuid.UUID, conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	for {
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Debug().Err(err).Str("user_id", userID.String()).Msg("websocket read error")
			}
			return
		}
		h.handleClientMessage(userID, conn, msg)
	}
}

func (h *Handler) handleClientMessage(userID uuid.UUID, conn *websocket.Conn, msg ClientMessage) {
	ctx := context.Background()

	switch msg.Type {
	case "message":
		stored, err := h.chat.Send(ctx, userID, msg.MatchID, msg.Text)
		if err != nil {
			h.writeAck(conn, ackError("message_rejected", err))
			return
		}
		h.writeAck(conn, ackMessage{Type: "message_ack", MessageID: stored.ID, Timestamp: time.Now().UTC()})

	case "typing":
		if err := h.chat.Typing(ctx, userID, msg.MatchID); err != nil {
			h.log.Debug().Err(err).Str("user_id", userID.String()).Msg("typing rejected")
		}

	case "read":
		if err := h.chat.Read(ctx, userID, msg.MatchID); err != nil {
			h.log.Debug().Err(err).Str("user_id", userID.String()).Msg("read receipt rejected")
		}

	case "ping":
		h.writeAck(conn, ackMessage{Type: "pong", Timestamp: time.Now().UTC()})

	default:
		h.log.Debug().Str("type", msg.Type).Msg("unknown client message type")
	}
}

func (h *Handler) writeAck(conn *websocket.Conn, ack ackMessage) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(ack); err != nil {
		h.log.Debug().Err(err).Msg("ack write failed")
	}
}

func ackError(ackType string, err error) ackMessage {
	ack := ackMessage{Type: ackType, Code: string(apperr.CodeInternal), Message: "internal error", Timestamp: time.Now().UTC()}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		ack.Code = string(appErr.Code)
		ack.Message = appErr.Message
	}
	return ack
}

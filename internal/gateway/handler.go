package gateway

import (
	"encoding/json"

	"github.com/keyrace/keyrace/internal/events"
	"github.com/keyrace/keyrace/internal/race"
	"github.com/rs/zerolog/log"
)

// Handler routes validated client messages to room operations. Malformed or
// out-of-protocol messages are dropped here so rooms only ever see the typed
// event set.
type Handler struct {
	registry *race.Registry
	sessions *SessionBindings
	cm       *ConnectionManager
}

// NewHandler creates a message handler over the given registry and
// connection manager.
func NewHandler(registry *race.Registry, cm *ConnectionManager) *Handler {
	return &Handler{
		registry: registry,
		sessions: NewSessionBindings(),
		cm:       cm,
	}
}

// HandleMessage decodes and routes one inbound client message.
func (h *Handler) HandleMessage(conn *Connection, raw []byte) {
	var msg events.ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Debug().Err(err).Str("connection_id", conn.ID).Msg("dropping malformed client message")
		return
	}

	payload, err := events.ParseClientPayload(msg)
	if err != nil {
		log.Debug().Err(err).Str("connection_id", conn.ID).Str("type", string(msg.Type)).Msg("dropping client message with bad payload")
		return
	}

	switch p := payload.(type) {
	case events.JoinRoomPayload:
		h.handleJoin(conn, p)
	case events.TypingProgressPayload:
		h.handleProgress(conn, p)
	case events.SendMessagePayload:
		h.handleChat(conn, p)
	default:
		log.Debug().Str("connection_id", conn.ID).Str("type", string(msg.Type)).Msg("ignoring unknown client message type")
	}
}

// HandleDisconnect routes a dropped connection into its room, then removes
// the session binding.
func (h *Handler) HandleDisconnect(conn *Connection) {
	binding, ok := h.sessions.Unbind(conn.ID)
	if !ok {
		return
	}
	if room, ok := h.registry.Lookup(binding.RoomID); ok {
		room.MarkDisconnected(conn.ID)
	}
}

func (h *Handler) handleJoin(conn *Connection, p events.JoinRoomPayload) {
	if p.RoomID == "" || p.Username == "" {
		log.Debug().Str("connection_id", conn.ID).Msg("ignoring join with empty room id or username")
		return
	}

	room := h.registry.GetOrCreate(p.RoomID)
	h.cm.Subscribe(conn, p.RoomID)
	h.sessions.Bind(conn.ID, p.RoomID, p.Username)
	room.AddPlayer(conn.ID, p.Username)
}

func (h *Handler) handleProgress(conn *Connection, p events.TypingProgressPayload) {
	binding, ok := h.sessions.Get(conn.ID)
	if !ok {
		return
	}
	room, ok := h.registry.Lookup(binding.RoomID)
	if !ok {
		return
	}
	room.RecordProgress(conn.ID, p.Progress, p.WPM, p.Accuracy)
}

func (h *Handler) handleChat(conn *Connection, p events.SendMessagePayload) {
	room, ok := h.registry.Lookup(p.RoomID)
	if !ok {
		// Room may never have existed; chat to unknown rooms is a no-op.
		return
	}

	username := p.Username
	if binding, ok := h.sessions.Get(conn.ID); ok {
		username = binding.Username
	}
	room.RecordChat(username, p.Message)
}

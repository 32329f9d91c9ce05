package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/keyrace/keyrace/internal/models"
)

// Event is the envelope for every server-to-client message.
type Event struct {
	ID        string          `json:"id"`
	RoomID    string          `json:"room_id"`
	Type      Type            `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Type names the closed set of server-to-client events.
type Type string

const (
	TypeRoomData       Type = "room-data"
	TypePlayerJoined   Type = "player-joined"
	TypePlayersUpdate  Type = "players-update"
	TypeCountdown      Type = "countdown"
	TypeGameStart      Type = "game-start"
	TypePlayerProgress Type = "player-progress"
	TypeGameEnd        Type = "game-end"
	TypeReceiveMessage Type = "receive-message"
	TypePlayerLeft     Type = "player-left"
)

// CountdownPayload carries one countdown tick.
type CountdownPayload struct {
	Remaining int `json:"remaining"`
}

// GameStartPayload is broadcast on the Countdown -> Playing transition.
type GameStartPayload struct {
	Text      string    `json:"text"`
	StartTime time.Time `json:"startTime"`
}

// PlayerProgressPayload is the progress delta broadcast to other players.
type PlayerProgressPayload struct {
	PlayerID string  `json:"playerId"`
	Progress float64 `json:"progress"`
	WPM      float64 `json:"wpm"`
	Accuracy float64 `json:"accuracy"`
}

// PlayerLeftPayload identifies a player that disconnected.
type PlayerLeftPayload struct {
	PlayerID string `json:"playerId"`
}

// GameEndPayload carries the finalized result batch.
type GameEndPayload struct {
	Results []models.GameResult `json:"results"`
}

// New builds an event envelope, marshaling the payload. Payloads are plain
// structs from this package or internal/models and cannot fail to marshal.
func New(roomID string, t Type, payload any) Event {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte("null")
	}
	return Event{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		Type:      t,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

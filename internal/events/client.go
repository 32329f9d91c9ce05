package events

import (
	"encoding/json"
	"fmt"
)

// ClientMessage is the envelope for every client-to-server message.
type ClientMessage struct {
	Type ClientType      `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ClientType names the closed set of client-to-server messages.
type ClientType string

const (
	ClientJoinRoom       ClientType = "join-room"
	ClientTypingProgress ClientType = "typing-progress"
	ClientSendMessage    ClientType = "send-message"
)

// JoinRoomPayload is a request to join or rejoin a room.
type JoinRoomPayload struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
}

// TypingProgressPayload is the periodic self-reported stats while playing.
type TypingProgressPayload struct {
	RoomID   string  `json:"roomId"`
	Progress float64 `json:"progress"`
	WPM      float64 `json:"wpm"`
	Accuracy float64 `json:"accuracy"`
}

// SendMessagePayload is a chat message.
type SendMessagePayload struct {
	RoomID   string `json:"roomId"`
	Message  string `json:"message"`
	Username string `json:"username"`
}

// ParseClientPayload decodes the payload matching the message type. Unknown
// types return (nil, nil) so the caller can ignore them.
func ParseClientPayload(msg ClientMessage) (any, error) {
	switch msg.Type {
	case ClientJoinRoom:
		var payload JoinRoomPayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal join-room payload: %w", err)
		}
		return payload, nil

	case ClientTypingProgress:
		var payload TypingProgressPayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal typing-progress payload: %w", err)
		}
		return payload, nil

	case ClientSendMessage:
		var payload SendMessagePayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal send-message payload: %w", err)
		}
		return payload, nil

	default:
		return nil, nil
	}
}

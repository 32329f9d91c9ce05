package models

import (
	"time"
)

// Phase defines the lifecycle position of a room. Transitions are
// one-directional: Waiting -> Countdown -> Playing -> Finished.
type Phase string

const (
	PhaseWaiting   Phase = "WAITING"
	PhaseCountdown Phase = "COUNTDOWN"
	PhasePlaying   Phase = "PLAYING"
	PhaseFinished  Phase = "FINISHED"
)

// Player is one participant's standing within a room. The key is derived
// from the username and survives reconnects; only ConnID changes when the
// same username rejoins.
type Player struct {
	Key          string  `json:"id"`
	Username     string  `json:"username"`
	ConnID       string  `json:"-"`
	Progress     float64 `json:"progress"`
	WPM          float64 `json:"wpm"`
	Accuracy     float64 `json:"accuracy"`
	Disconnected bool    `json:"disconnected"`
}

// ChatMessage is one entry in a room's append-only chat log.
type ChatMessage struct {
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// GameResult is the per-player outcome snapshot handed to the result sinks
// when a room finishes.
type GameResult struct {
	Username  string    `json:"username"`
	WPM       float64   `json:"wpm"`
	Accuracy  float64   `json:"accuracy"`
	RoomID    string    `json:"roomId"`
	Timestamp time.Time `json:"timestamp"`
}

// RoomSnapshot is the full room state sent to a joining connection.
type RoomSnapshot struct {
	ID        string        `json:"id"`
	Players   []Player      `json:"players"`
	Text      string        `json:"text"`
	Phase     Phase         `json:"phase"`
	Countdown int           `json:"countdown"`
	StartTime *time.Time    `json:"startTime,omitempty"`
	Messages  []ChatMessage `json:"messages"`
}

package models

import (
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// Player is a party member. Bots participate under the same identity model
// as humans; only the move source differs.
type Player struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	IsBot     bool      `json:"isBot"`
	Connected bool      `json:"connected"`

	// Conn is the live WebSocket connection, nil for bots and for
	// disconnected humans.
	Conn *websocket.Conn `json:"-"`
}

// Gift is a party gift. The engine tracks it by index; the service keeps the
// durable identity and display label.
type Gift struct {
	ID    uuid.UUID `json:"id"`
	Label string    `json:"label,omitempty"`
}

// GameAction is a raw command received from a client connection.
type GameAction struct {
	ActionType string                 `json:"action"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

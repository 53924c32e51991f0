package game

import "github.com/google/uuid"

// GameEventType identifies a broadcast event.
type GameEventType string

// Event types broadcast to all party members over the real-time fan-out.
// action-started fires before the transition is applied and is used purely
// for UI choreography (e.g. an unwrap animation), never for correctness.
const (
	EventGameStarted   GameEventType = "game-started"
	EventGameUpdated   GameEventType = "game-updated"
	EventGameEnded     GameEventType = "game-ended"
	EventActionStarted GameEventType = "action-started"

	// action-rejected is sent privately to the requester with a typed
	// reason code; the shared state is untouched.
	EventActionRejected GameEventType = "action-rejected"
)

// EventUser identifies a player within a GameEvent payload.
type EventUser struct {
	ID uuid.UUID `json:"id"`
}

// EventGift identifies a gift within a GameEvent payload.
type EventGift struct {
	ID    uuid.UUID `json:"id"`
	Label string    `json:"label,omitempty"`
}

// GameEvent is the standard structure broadcast on every transition.
type GameEvent struct {
	Type  GameEventType `json:"type"`
	Actor *EventUser    `json:"actor,omitempty"`
	Gift  *EventGift    `json:"gift,omitempty"`

	// Action names the pending move for action-started events: "pick",
	// "steal" or "end_turn".
	Action string `json:"action,omitempty"`

	Payload map[string]interface{} `json:"payload,omitempty"`

	State *PartyStateView `json:"state,omitempty"`
}

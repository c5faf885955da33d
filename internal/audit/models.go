package audit

import "time"

// Event is an immutable, append-only record of an operator action.
//
// Events are never updated or deleted. Actor capture is best-effort; audit
// failures never block the action being audited.
type Event struct {
	ID   string    `json:"id" db:"id"`
	Type EventType `json:"type" db:"type"`

	// ActorIdentity is the authenticated caller, or "system" for scheduled work.
	ActorIdentity string `json:"actor_identity,omitempty" db:"actor_identity"`

	RoomName string `json:"room_name,omitempty" db:"room_name"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeTakeover   EventType = "takeover"
	EventTypeManualReap EventType = "manual_reap"
	EventTypeBotSession EventType = "bot_session"
)

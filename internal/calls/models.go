package calls

import "time"

// Call is the database record correlated with one media room. The caller is the
// fixed system identity; the callee is the device user that triggered the session.
//
// Only the webhook processor mutates State after creation, and an ended call is frozen.
type Call struct {
	ID       string `json:"id" db:"id"`
	RoomName string `json:"room_name" db:"room_name"`

	CallerIdentity string `json:"caller_identity" db:"caller_identity"`
	CalleeIdentity string `json:"callee_identity" db:"callee_identity"`

	State State `json:"state" db:"state"`

	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	AnsweredAt *time.Time `json:"answered_at,omitempty" db:"answered_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

type State string

const (
	StateRinging  State = "ringing"
	StateAnswered State = "answered"
	StateEnded    State = "ended"
)

func (s State) Valid() bool {
	switch s {
	case StateRinging, StateAnswered, StateEnded:
		return true
	default:
		return false
	}
}

func (s State) Terminal() bool { return s == StateEnded }

// CanTransition reports whether from -> to is a legal move.
// ringing may skip straight to ended (missed or failed call).
func CanTransition(from, to State) bool {
	switch from {
	case StateRinging:
		return to == StateAnswered || to == StateEnded
	case StateAnswered:
		return to == StateEnded
	default:
		return false
	}
}

// Summary is the analysis output attached to a call by the analysis collaborator.
type Summary struct {
	CallID    string    `json:"call_id" db:"call_id"`
	Mood      string    `json:"mood,omitempty" db:"mood"`
	Summary   string    `json:"summary,omitempty" db:"summary"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

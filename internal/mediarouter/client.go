// Package mediarouter is a thin synchronous facade over the external room service.
//
// Callers depend on the Client interface and the plain types below, never on the
// LiveKit wire types, so the reaper and takeover logic can run against Memory in tests.
package mediarouter

import (
	"context"
	"errors"
	"time"

	"carecall-rtc/internal/identity"
)

var ErrRoomNotFound = errors.New("mediarouter: room not found")

type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
	TrackData  TrackKind = "data"
)

type Track struct {
	SID    string    `json:"sid"`
	Kind   TrackKind `json:"kind"`
	Source string    `json:"source,omitempty"`
	Muted  bool      `json:"muted"`
}

type Participant struct {
	Identity string        `json:"identity"`
	Name     string        `json:"name,omitempty"`
	State    string        `json:"state,omitempty"`
	JoinedAt time.Time     `json:"joinedAt"`
	Role     identity.Role `json:"-"`
	Tracks   []Track       `json:"tracks,omitempty"`
}

// AudioTrackSIDs returns the sids of every published audio track.
func (p Participant) AudioTrackSIDs() []string {
	var out []string
	for _, t := range p.Tracks {
		if t.Kind == TrackAudio && t.SID != "" {
			out = append(out, t.SID)
		}
	}
	return out
}

type Room struct {
	Name            string    `json:"name"`
	Metadata        string    `json:"metadata"`
	CreatedAt       time.Time `json:"createdAt"`
	NumParticipants int       `json:"numParticipants"`
}

// DataOptions controls SendData delivery.
type DataOptions struct {
	Reliable              bool
	DestinationIdentities []string
	Topic                 string
}

// Client is the set of room-service operations the orchestration layer consumes.
type Client interface {
	ListRooms(ctx context.Context, names ...string) ([]Room, error)
	ListParticipants(ctx context.Context, room string) ([]Participant, error)
	RemoveParticipant(ctx context.Context, room, identity string) error
	DeleteRoom(ctx context.Context, room string) error
	CreateDispatch(ctx context.Context, room, agentName, metadata string) error
	UpdateRoomMetadata(ctx context.Context, room, metadata string) error
	SendData(ctx context.Context, room string, data []byte, opts DataOptions) error
	UpdateSubscriptions(ctx context.Context, room, identity string, trackSIDs []string, subscribe bool) error
	MutePublishedTrack(ctx context.Context, room, identity, trackSID string, muted bool) error
}

// Partition splits participants by role class.
func Partition(ps []Participant) (operators, agents, realUsers []Participant) {
	for _, p := range ps {
		switch {
		case p.Role.IsAgent():
			agents = append(agents, p)
		case p.Role.IsOperator():
			operators = append(operators, p)
		default:
			realUsers = append(realUsers, p)
		}
	}
	return operators, agents, realUsers
}

package rtc

import (
	"context"
	"errors"
	"time"

	"carecall-rtc/internal/mediarouter"
	"carecall-rtc/internal/rtcerr"
)

type ParticipantView struct {
	Identity string              `json:"identity"`
	Name     string              `json:"name,omitempty"`
	Kind     string              `json:"kind"`
	State    string              `json:"state,omitempty"`
	JoinedAt *time.Time          `json:"joinedAt,omitempty"`
	Tracks   []mediarouter.Track `json:"tracks,omitempty"`
}

type RoomView struct {
	Name            string            `json:"name"`
	Metadata        string            `json:"metadata"`
	CreatedAt       *time.Time        `json:"createdAt,omitempty"`
	NumParticipants int               `json:"numParticipants"`
	Participants    []ParticipantView `json:"participants"`
}

type Overview struct {
	RouterURL         string     `json:"routerUrl"`
	TotalRooms        int        `json:"totalRooms"`
	TotalParticipants int        `json:"totalParticipants"`
	Rooms             []RoomView `json:"rooms"`
}

// Overview snapshots every live room with its participants for operators.
// A room that disappears between listing and reading its roster is skipped.
func (r *Registrar) Overview(ctx context.Context, routerURL string) (Overview, error) {
	rooms, err := r.router.ListRooms(ctx)
	if err != nil {
		return Overview{}, rtcerr.Upstream("list rooms", err)
	}

	out := Overview{RouterURL: routerURL, Rooms: make([]RoomView, 0, len(rooms))}
	for _, room := range rooms {
		ps, err := r.router.ListParticipants(ctx, room.Name)
		if err != nil {
			if errors.Is(err, mediarouter.ErrRoomNotFound) {
				continue
			}
			return Overview{}, rtcerr.Upstream("list participants", err)
		}

		view := RoomView{
			Name:            room.Name,
			Metadata:        room.Metadata,
			NumParticipants: len(ps),
			Participants:    make([]ParticipantView, 0, len(ps)),
		}
		if !room.CreatedAt.IsZero() {
			t := room.CreatedAt
			view.CreatedAt = &t
		}
		for _, p := range ps {
			pv := ParticipantView{
				Identity: p.Identity,
				Name:     p.Name,
				Kind:     p.Role.Kind.String(),
				State:    p.State,
				Tracks:   p.Tracks,
			}
			if !p.JoinedAt.IsZero() {
				t := p.JoinedAt
				pv.JoinedAt = &t
			}
			view.Participants = append(view.Participants, pv)
		}
		out.TotalParticipants += len(ps)
		out.Rooms = append(out.Rooms, view)
	}
	out.TotalRooms = len(out.Rooms)
	return out, nil
}

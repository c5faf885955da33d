package mediarouter

import (
	"context"
	"sort"
	"sync"

	"carecall-rtc/internal/identity"
)

// Op names recorded by Memory.
const (
	OpListRooms           = "list_rooms"
	OpListParticipants    = "list_participants"
	OpRemoveParticipant   = "remove_participant"
	OpDeleteRoom          = "delete_room"
	OpCreateDispatch      = "create_dispatch"
	OpUpdateRoomMetadata  = "update_room_metadata"
	OpSendData            = "send_data"
	OpUpdateSubscriptions = "update_subscriptions"
	OpMutePublishedTrack  = "mute_published_track"
)

// Recorded is one call observed by Memory.
type Recorded struct {
	Op        string
	Room      string
	Identity  string
	AgentName string
	Metadata  string
	TrackSIDs []string
	Subscribe bool
	Muted     bool
	Data      []byte
	Opts      DataOptions
}

// Memory is an in-process room service for tests and local runs.
// It is not intended for production use.
type Memory struct {
	mu    sync.Mutex
	rooms map[string]*memRoom
	calls []Recorded

	// Errors makes an op fail. Keyed by Op* constants.
	Errors map[string]error

	// OnRemove runs after each successful RemoveParticipant, outside the lock.
	OnRemove func(room, identity string)
}

type memRoom struct {
	room         Room
	participants []Participant
}

func NewMemory() *Memory {
	return &Memory{rooms: map[string]*memRoom{}, Errors: map[string]error{}}
}

// AddRoom creates or replaces a room.
func (m *Memory) AddRoom(r Room) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[r.Name] = &memRoom{room: r}
}

// Join adds a participant, creating the room if needed. Tracks may be given inline.
func (m *Memory) Join(room string, p Participant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[room]
	if !ok {
		r = &memRoom{room: Room{Name: room}}
		m.rooms[room] = r
	}
	if p.Role.Raw == "" {
		p.Role = identity.Classify(p.Identity)
	}
	r.participants = append(r.participants, p)
}

func (m *Memory) HasRoom(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rooms[name]
	return ok
}

func (m *Memory) Metadata(name string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rooms[name]; ok {
		return r.room.Metadata
	}
	return ""
}

// Calls returns every recorded call, optionally filtered by op.
func (m *Memory) Calls(ops ...string) []Recorded {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(ops) == 0 {
		out := make([]Recorded, len(m.calls))
		copy(out, m.calls)
		return out
	}
	want := map[string]bool{}
	for _, op := range ops {
		want[op] = true
	}
	var out []Recorded
	for _, c := range m.calls {
		if want[c.Op] {
			out = append(out, c)
		}
	}
	return out
}

func (m *Memory) record(c Recorded) error {
	m.calls = append(m.calls, c)
	return m.Errors[c.Op]
}

func (m *Memory) ListRooms(ctx context.Context, names ...string) ([]Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(Recorded{Op: OpListRooms}); err != nil {
		return nil, err
	}
	filter := map[string]bool{}
	for _, n := range names {
		filter[n] = true
	}
	out := make([]Room, 0, len(m.rooms))
	for name, r := range m.rooms {
		if len(filter) > 0 && !filter[name] {
			continue
		}
		room := r.room
		room.NumParticipants = len(r.participants)
		out = append(out, room)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) ListParticipants(ctx context.Context, room string) ([]Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(Recorded{Op: OpListParticipants, Room: room}); err != nil {
		return nil, err
	}
	r, ok := m.rooms[room]
	if !ok {
		return nil, ErrRoomNotFound
	}
	out := make([]Participant, len(r.participants))
	copy(out, r.participants)
	return out, nil
}

func (m *Memory) RemoveParticipant(ctx context.Context, room, who string) error {
	m.mu.Lock()
	if err := m.record(Recorded{Op: OpRemoveParticipant, Room: room, Identity: who}); err != nil {
		m.mu.Unlock()
		return err
	}
	r, ok := m.rooms[room]
	if !ok {
		m.mu.Unlock()
		return ErrRoomNotFound
	}
	kept := r.participants[:0]
	for _, p := range r.participants {
		if p.Identity != who {
			kept = append(kept, p)
		}
	}
	r.participants = kept
	hook := m.OnRemove
	m.mu.Unlock()

	if hook != nil {
		hook(room, who)
	}
	return nil
}

func (m *Memory) DeleteRoom(ctx context.Context, room string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(Recorded{Op: OpDeleteRoom, Room: room}); err != nil {
		return err
	}
	delete(m.rooms, room)
	return nil
}

func (m *Memory) CreateDispatch(ctx context.Context, room, agentName, metadata string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record(Recorded{Op: OpCreateDispatch, Room: room, AgentName: agentName, Metadata: metadata})
}

func (m *Memory) UpdateRoomMetadata(ctx context.Context, room, metadata string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(Recorded{Op: OpUpdateRoomMetadata, Room: room, Metadata: metadata}); err != nil {
		return err
	}
	if r, ok := m.rooms[room]; ok {
		r.room.Metadata = metadata
	}
	return nil
}

func (m *Memory) SendData(ctx context.Context, room string, data []byte, opts DataOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := append([]byte(nil), data...)
	return m.record(Recorded{Op: OpSendData, Room: room, Data: buf, Opts: opts})
}

func (m *Memory) UpdateSubscriptions(ctx context.Context, room, who string, trackSIDs []string, subscribe bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sids := append([]string(nil), trackSIDs...)
	return m.record(Recorded{Op: OpUpdateSubscriptions, Room: room, Identity: who, TrackSIDs: sids, Subscribe: subscribe})
}

func (m *Memory) MutePublishedTrack(ctx context.Context, room, who, trackSID string, muted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(Recorded{Op: OpMutePublishedTrack, Room: room, Identity: who, TrackSIDs: []string{trackSID}, Muted: muted}); err != nil {
		return err
	}
	if r, ok := m.rooms[room]; ok {
		for i := range r.participants {
			if r.participants[i].Identity != who {
				continue
			}
			for j := range r.participants[i].Tracks {
				if r.participants[i].Tracks[j].SID == trackSID {
					r.participants[i].Tracks[j].Muted = muted
				}
			}
		}
	}
	return nil
}

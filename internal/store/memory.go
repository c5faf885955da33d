package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"carecall-rtc/internal/calls"

	"github.com/google/uuid"
)

// Memory is an in-memory implementation useful for tests and local runs without Postgres.
// It is not intended for production use.
type Memory struct {
	mu sync.Mutex

	users     map[string]User // by identity
	devices   map[string]Device
	members   map[string]RoomMember
	calls     map[string]calls.Call // by id
	byRoom    map[string]string     // room name -> call id
	summaries map[string]calls.Summary

	// Counters for assertions.
	Transitions int

	// Fail, when set, is returned by every call whose op name it accepts.
	Fail func(op string) error
}

func NewMemory() *Memory {
	return &Memory{
		users:     map[string]User{},
		devices:   map[string]Device{},
		members:   map[string]RoomMember{},
		calls:     map[string]calls.Call{},
		byRoom:    map[string]string{},
		summaries: map[string]calls.Summary{},
	}
}

func (m *Memory) fail(op string) error {
	if m.Fail == nil {
		return nil
	}
	return m.Fail(op)
}

func deviceKey(kind TokenKind, token string) string { return string(kind) + ":" + token }

func (m *Memory) FindUserByDeviceToken(ctx context.Context, kind TokenKind, token string) (User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("find_user_by_device"); err != nil {
		return User{}, false, err
	}
	d, ok := m.devices[deviceKey(kind, token)]
	if !ok {
		return User{}, false, nil
	}
	for _, u := range m.users {
		if u.ID == d.UserID {
			return u, true, nil
		}
	}
	return User{}, false, nil
}

func (m *Memory) FindUserByIdentity(ctx context.Context, identity string) (User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("find_user_by_identity"); err != nil {
		return User{}, false, err
	}
	u, ok := m.users[identity]
	return u, ok, nil
}

func (m *Memory) UpsertUser(ctx context.Context, identity, name string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("upsert_user"); err != nil {
		return User{}, err
	}
	now := time.Now().UTC()
	u, ok := m.users[identity]
	if !ok {
		u = User{ID: uuid.NewString(), Identity: identity, CreatedAt: now}
	}
	if name != "" {
		u.Name = name
	}
	u.UpdatedAt = now
	m.users[identity] = u
	return u, nil
}

func (m *Memory) UpsertDevice(ctx context.Context, d Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("upsert_device"); err != nil {
		return err
	}
	now := time.Now().UTC()
	key := deviceKey(d.TokenKind, d.Token)
	if prev, ok := m.devices[key]; ok {
		d.ID = prev.ID
		d.CreatedAt = prev.CreatedAt
	} else {
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	m.devices[key] = d
	return nil
}

func (m *Memory) UpsertRoomMember(ctx context.Context, rm RoomMember) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("upsert_room_member"); err != nil {
		return err
	}
	if rm.JoinedAt.IsZero() {
		rm.JoinedAt = time.Now().UTC()
	}
	m.members[rm.RoomName+"\x00"+rm.Identity] = rm
	return nil
}

func (m *Memory) CreateCall(ctx context.Context, roomName, caller, callee string) (calls.Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("create_call"); err != nil {
		return calls.Call{}, err
	}
	if id, ok := m.byRoom[roomName]; ok {
		return m.calls[id], nil
	}
	now := time.Now().UTC()
	c := calls.Call{
		ID:             uuid.NewString(),
		RoomName:       roomName,
		CallerIdentity: caller,
		CalleeIdentity: callee,
		State:          calls.StateRinging,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.calls[c.ID] = c
	m.byRoom[roomName] = c.ID
	return c, nil
}

func (m *Memory) GetCallByRoom(ctx context.Context, roomName string) (calls.Call, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("get_call_by_room"); err != nil {
		return calls.Call{}, false, err
	}
	id, ok := m.byRoom[roomName]
	if !ok {
		return calls.Call{}, false, nil
	}
	return m.calls[id], true, nil
}

func (m *Memory) TransitionCall(ctx context.Context, callID string, to calls.State, at time.Time) (calls.Call, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("transition_call"); err != nil {
		return calls.Call{}, false, err
	}
	c, ok := m.calls[callID]
	if !ok {
		return calls.Call{}, false, ErrNotFound
	}
	if !calls.CanTransition(c.State, to) {
		return c, false, nil
	}
	at = at.UTC()
	c.State = to
	switch to {
	case calls.StateAnswered:
		c.AnsweredAt = &at
	case calls.StateEnded:
		c.EndedAt = &at
	}
	c.UpdatedAt = time.Now().UTC()
	m.calls[callID] = c
	m.Transitions++
	return c, true, nil
}

func (m *Memory) HasSummary(ctx context.Context, callID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("has_summary"); err != nil {
		return false, err
	}
	_, ok := m.summaries[callID]
	return ok, nil
}

// PutSummary stands in for the analysis collaborator writing its result.
func (m *Memory) PutSummary(s calls.Summary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	m.summaries[s.CallID] = s
}

func (m *Memory) Members(roomName string) []RoomMember {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []RoomMember
	for _, rm := range m.members {
		if rm.RoomName == roomName {
			out = append(out, rm)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

func (m *Memory) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *Memory) RecentCalls(ctx context.Context, limit int) ([]calls.Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]calls.Call, 0, len(m.calls))
	for _, c := range m.calls {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

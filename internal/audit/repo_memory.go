package audit

import (
	"context"
	"sync"
)

// MemoryRepo keeps audit events in memory for tests and local runs.
type MemoryRepo struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Append(ctx context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *MemoryRepo) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// ForRoom returns the events recorded against room, oldest first.
func (r *MemoryRepo) ForRoom(room string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.RoomName == room {
			out = append(out, e)
		}
	}
	return out
}

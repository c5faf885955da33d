// Package events carries room lifecycle notifications to real-time subscribers.
package events

import (
	"context"
	"sync"
	"time"
)

type Type string

const (
	RoomCreated       Type = "room-created"
	RoomStarted       Type = "room-started"
	RoomFinished      Type = "room-finished"
	ParticipantJoined Type = "participant-joined"
	ParticipantLeft   Type = "participant-left"
	CallAnswered      Type = "call-answered"
	CallEnded         Type = "call-ended"
	TakeoverChanged   Type = "takeover-changed"
	RoomReaped        Type = "room-reaped"
)

type Event struct {
	Type     Type      `json:"type"`
	RoomName string    `json:"roomName"`
	Identity string    `json:"identity,omitempty"`
	CallID   string    `json:"callId,omitempty"`
	Active   *bool     `json:"active,omitempty"`
	At       time.Time `json:"at"`
}

// Emitter publishes lifecycle events. Emission is best-effort; callers log failures.
type Emitter interface {
	Emit(ctx context.Context, e Event) error
}

// Recorder keeps emitted events in memory for assertions.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Emit(ctx context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Of returns recorded events of type t.
func (r *Recorder) Of(t Type) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

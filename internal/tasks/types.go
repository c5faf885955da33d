package tasks

import (
	"encoding/json"
	"fmt"
)

const (
	TypeDispatchAgent = "rtc:dispatch_agent"
	TypeReapRoom      = "rtc:reap_room"
	TypeFinalizeCall  = "rtc:finalize_call"
	TypeAnswerCall    = "rtc:answer_call"
)

type DispatchAgentPayload struct {
	RoomName  string `json:"roomName"`
	AgentName string `json:"agentName"`
	Metadata  string `json:"metadata,omitempty"`
}

type ReapRoomPayload struct {
	RoomName string `json:"roomName"`
}

type FinalizeCallPayload struct {
	RoomName string `json:"roomName"`
}

// AnswerCallPayload names the participant whose first published track answers the call.
type AnswerCallPayload struct {
	RoomName string `json:"roomName"`
	Identity string `json:"identity"`
}

func NewDispatchAgent(p DispatchAgentPayload) (Task, error) { return newTask(TypeDispatchAgent, p) }
func NewReapRoom(p ReapRoomPayload) (Task, error)           { return newTask(TypeReapRoom, p) }
func NewFinalizeCall(p FinalizeCallPayload) (Task, error)   { return newTask(TypeFinalizeCall, p) }
func NewAnswerCall(p AnswerCallPayload) (Task, error)       { return newTask(TypeAnswerCall, p) }

func newTask(typ string, v any) (Task, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Task{}, fmt.Errorf("encode %s: %w", typ, err)
	}
	return Task{Type: typ, Payload: b}, nil
}

// Decode unmarshals a task payload into v.
func Decode(t Task, v any) error {
	if err := json.Unmarshal(t.Payload, v); err != nil {
		return fmt.Errorf("decode %s: %w", t.Type, err)
	}
	return nil
}

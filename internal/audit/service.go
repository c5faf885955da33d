package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events. Append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s == nil || s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" || e.ActorIdentity == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LogTakeover records an operator toggling takeover on a room.
func (s *Service) LogTakeover(ctx context.Context, actor, room string, active bool, outcome any) error {
	msg := "takeover ended"
	if active {
		msg = "takeover started"
	}
	return s.Append(ctx, Event{
		Type:          EventTypeTakeover,
		ActorIdentity: actor,
		RoomName:      room,
		Message:       msg,
		Metadata:      toJSON(outcome),
	})
}

// LogManualReap records an operator-triggered reap. room is empty for a full pass.
func (s *Service) LogManualReap(ctx context.Context, actor, room string, report any) error {
	msg := "reap pass"
	if room != "" {
		msg = fmt.Sprintf("reap room %s", room)
	}
	return s.Append(ctx, Event{
		Type:          EventTypeManualReap,
		ActorIdentity: actor,
		RoomName:      room,
		Message:       msg,
		Metadata:      toJSON(report),
	})
}

func (s *Service) LogBotSession(ctx context.Context, actor, room, botIdentity string) error {
	return s.Append(ctx, Event{
		Type:          EventTypeBotSession,
		ActorIdentity: actor,
		RoomName:      room,
		Message:       "bot session " + botIdentity,
	})
}

func toJSON(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

package rtc

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"carecall-rtc/internal/calls"
	"carecall-rtc/internal/events"
	"carecall-rtc/internal/mediarouter"
	"carecall-rtc/internal/rtcerr"
	"carecall-rtc/internal/store"
	"carecall-rtc/internal/tasks"
	"carecall-rtc/pkg/logger"
)

// Roster is the persistence the registrar writes at session open.
type Roster interface {
	UpsertRoomMember(ctx context.Context, m store.RoomMember) error
	CreateCall(ctx context.Context, roomName, caller, callee string) (calls.Call, error)
}

type RegistrarConfig struct {
	AgentName    string
	SystemCaller string
}

// Registrar records a device session's room and schedules the voice agent into it.
// Everything it does is best-effort: a failed side effect is logged and the token
// is still handed out.
type Registrar struct {
	roster  Roster
	router  mediarouter.Client
	emitter events.Emitter
	queue   tasks.Enqueuer
	cfg     RegistrarConfig
	log     *slog.Logger
	now     func() time.Time
}

func NewRegistrar(roster Roster, router mediarouter.Client, emitter events.Emitter, queue tasks.Enqueuer, cfg RegistrarConfig, log *slog.Logger) *Registrar {
	if cfg.SystemCaller == "" {
		cfg.SystemCaller = "system"
	}
	return &Registrar{
		roster:  roster,
		router:  router,
		emitter: emitter,
		queue:   queue,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
	}
}

// OpenSession runs the side effects of a device-initiated session. It returns the
// call id when the call record could be created, empty otherwise.
func (r *Registrar) OpenSession(ctx context.Context, room, callee, role string) string {
	l := logger.FromOr(ctx, r.log).With("room", room, "identity", callee)

	if err := r.roster.UpsertRoomMember(ctx, store.RoomMember{
		RoomName: room,
		Identity: callee,
		Role:     role,
		JoinedAt: r.now().UTC(),
	}); err != nil {
		l.Warn("room member upsert failed", "err", rtcerr.Transient("upsert room member", err))
	}

	var callID string
	call, err := r.roster.CreateCall(ctx, room, r.cfg.SystemCaller, callee)
	if err != nil {
		l.Warn("call auto-create failed", "err", rtcerr.Transient("create call", err))
	} else {
		callID = call.ID
	}

	r.emit(ctx, l, events.Event{Type: events.RoomCreated, RoomName: room, Identity: callee, CallID: callID})
	r.scheduleAgent(ctx, l, room, agentMetadata{CalleeIdentity: callee, CallID: callID})
	return callID
}

type agentMetadata struct {
	CalleeIdentity string `json:"calleeIdentity,omitempty"`
	CallID         string `json:"callId,omitempty"`
	Bot            bool   `json:"bot,omitempty"`
}

func (r *Registrar) scheduleAgent(ctx context.Context, l *slog.Logger, room string, meta agentMetadata) {
	b, _ := json.Marshal(meta)
	task, err := tasks.NewDispatchAgent(tasks.DispatchAgentPayload{
		RoomName:  room,
		AgentName: r.cfg.AgentName,
		Metadata:  string(b),
	})
	if err == nil {
		_, err = r.queue.Enqueue(ctx, task)
	}
	if err != nil {
		l.Warn("agent dispatch not scheduled", "err", rtcerr.Transient("enqueue dispatch", err))
	}
}

func (r *Registrar) emit(ctx context.Context, l *slog.Logger, e events.Event) {
	if e.At.IsZero() {
		e.At = r.now().UTC()
	}
	if err := r.emitter.Emit(ctx, e); err != nil {
		l.Warn("lifecycle event not emitted", "event", e.Type, "err", err)
	}
}

// HandleDispatch is the rtc:dispatch_agent task handler.
func (r *Registrar) HandleDispatch(ctx context.Context, t tasks.Task) error {
	var p tasks.DispatchAgentPayload
	if err := tasks.Decode(t, &p); err != nil {
		return err
	}
	agent := p.AgentName
	if agent == "" {
		agent = r.cfg.AgentName
	}
	if err := r.router.CreateDispatch(ctx, p.RoomName, agent, p.Metadata); err != nil {
		return rtcerr.Transient("dispatch agent", err)
	}
	logger.FromOr(ctx, r.log).Info("agent dispatched", "room", p.RoomName, "agent", agent)
	return nil
}

// Package webhook turns media-router notifications into lifecycle events, call
// state transitions and the one-time post-call analysis trigger.
//
// Process only emits events and enqueues work; everything that touches the
// database or the analysis service runs later as a task so the webhook is
// acknowledged quickly.
package webhook

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"carecall-rtc/internal/analysis"
	"carecall-rtc/internal/calls"
	"carecall-rtc/internal/events"
	"carecall-rtc/internal/identity"
	"carecall-rtc/internal/rtcerr"
	"carecall-rtc/internal/tasks"
	"carecall-rtc/pkg/logger"
)

// Notification kinds sent by the media router.
const (
	KindRoomStarted       = "room_started"
	KindRoomFinished      = "room_finished"
	KindParticipantJoined = "participant_joined"
	KindParticipantLeft   = "participant_left"
	KindTrackPublished    = "track_published"
)

const (
	analysisClaimPrefix = "rtc:analysis:"
	reapDebounce        = 5 * time.Second
)

// Notification is the part of a media-router webhook the processor acts on.
// Role is derived from Identity once, when the notification is decoded.
type Notification struct {
	ID        string
	Kind      string
	RoomName  string
	Identity  string
	Role      identity.Role
	TrackKind string
	At        time.Time
}

// CallStore is the call persistence the processor reads and mutates.
type CallStore interface {
	GetCallByRoom(ctx context.Context, roomName string) (calls.Call, bool, error)
	TransitionCall(ctx context.Context, callID string, to calls.State, at time.Time) (calls.Call, bool, error)
	HasSummary(ctx context.Context, callID string) (bool, error)
}

type Analyzer interface {
	Analyze(ctx context.Context, callID string) (analysis.Result, error)
	Index(ctx context.Context, callID, wardID string) error
}

// Claimer narrows the window between the summary check and the analysis call
// across replicas. utils.Claimer and utils.MemoryClaimer satisfy it.
type Claimer interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, func(context.Context) error, error)
}

type Config struct {
	ClaimTTL time.Duration
	// EmitTimeout caps each lifecycle publish so a slow bus cannot hold up
	// the webhook ack.
	EmitTimeout time.Duration
}

type Processor struct {
	calls    CallStore
	analyzer Analyzer
	claims   Claimer
	emitter  events.Emitter
	queue    tasks.Enqueuer
	cfg      Config
	log      *slog.Logger
	now      func() time.Time
}

func NewProcessor(store CallStore, analyzer Analyzer, claims Claimer, emitter events.Emitter, queue tasks.Enqueuer, cfg Config, log *slog.Logger) *Processor {
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = 10 * time.Minute
	}
	if cfg.EmitTimeout <= 0 {
		cfg.EmitTimeout = 2 * time.Second
	}
	return &Processor{
		calls:    store,
		analyzer: analyzer,
		claims:   claims,
		emitter:  emitter,
		queue:    queue,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// Process handles one notification. It never blocks on the database or the
// analysis service; unknown kinds are ignored.
func (p *Processor) Process(ctx context.Context, n Notification) {
	l := logger.FromOr(ctx, p.log).With("webhook", n.Kind, "room", n.RoomName)
	if n.Identity != "" {
		l = l.With("identity", n.Identity)
	}
	at := n.At
	if at.IsZero() {
		at = p.now().UTC()
	}

	switch n.Kind {
	case KindParticipantJoined:
		p.emit(ctx, l, events.Event{Type: events.ParticipantJoined, RoomName: n.RoomName, Identity: n.Identity, At: at})

	case KindParticipantLeft:
		p.emit(ctx, l, events.Event{Type: events.ParticipantLeft, RoomName: n.RoomName, Identity: n.Identity, At: at})
		// several participants leaving together collapse into one reap
		task, err := tasks.NewReapRoom(tasks.ReapRoomPayload{RoomName: n.RoomName})
		p.enqueue(ctx, l, task, err, tasks.EnqueueOption{UniqueTTL: reapDebounce})

	case KindRoomStarted:
		p.emit(ctx, l, events.Event{Type: events.RoomStarted, RoomName: n.RoomName, At: at})

	case KindRoomFinished:
		p.emit(ctx, l, events.Event{Type: events.RoomFinished, RoomName: n.RoomName, At: at})
		task, err := tasks.NewFinalizeCall(tasks.FinalizeCallPayload{RoomName: n.RoomName})
		p.enqueue(ctx, l, task, err)

	case KindTrackPublished:
		// only an end user publishing can answer a call
		if n.Role.Kind != identity.EndUser || n.Identity == "" {
			return
		}
		task, err := tasks.NewAnswerCall(tasks.AnswerCallPayload{RoomName: n.RoomName, Identity: n.Identity})
		p.enqueue(ctx, l, task, err)

	default:
		l.Debug("webhook ignored")
	}
}

func (p *Processor) emit(ctx context.Context, l *slog.Logger, e events.Event) {
	if p.emitter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, p.cfg.EmitTimeout)
	defer cancel()
	if err := p.emitter.Emit(ctx, e); err != nil {
		l.Warn("lifecycle event not emitted", "event", e.Type, "err", err)
	}
}

func (p *Processor) enqueue(ctx context.Context, l *slog.Logger, t tasks.Task, err error, opts ...tasks.EnqueueOption) {
	if err == nil {
		_, err = p.queue.Enqueue(ctx, t, opts...)
	}
	if err != nil {
		l.Error("deferred task not scheduled", "task", t.Type, "err", rtcerr.Transient("enqueue", err))
	}
}

// HandleAnswer is the rtc:answer_call task handler. It answers a ringing call
// when its callee publishes a track.
func (p *Processor) HandleAnswer(ctx context.Context, t tasks.Task) error {
	var pl tasks.AnswerCallPayload
	if err := tasks.Decode(t, &pl); err != nil {
		return err
	}
	l := logger.FromOr(ctx, p.log).With("room", pl.RoomName, "identity", pl.Identity)

	call, ok, err := p.calls.GetCallByRoom(ctx, pl.RoomName)
	if err != nil {
		return rtcerr.Transient("get call", err)
	}
	if !ok || call.CalleeIdentity != pl.Identity || call.State != calls.StateRinging {
		return nil
	}
	call, changed, err := p.calls.TransitionCall(ctx, call.ID, calls.StateAnswered, p.now())
	if err != nil {
		return rtcerr.Transient("answer call", err)
	}
	if changed {
		l.Info("call answered", "call_id", call.ID)
		p.emit(ctx, l, events.Event{Type: events.CallAnswered, RoomName: pl.RoomName, Identity: pl.Identity, CallID: call.ID, At: p.now().UTC()})
	}
	return nil
}

// HandleFinalize is the rtc:finalize_call task handler. It ends the room's call
// and triggers analysis unless a summary already exists. Analysis failures are
// logged; only store failures are returned so a durable backend can retry.
func (p *Processor) HandleFinalize(ctx context.Context, t tasks.Task) error {
	var pl tasks.FinalizeCallPayload
	if err := tasks.Decode(t, &pl); err != nil {
		return err
	}
	l := logger.FromOr(ctx, p.log).With("room", pl.RoomName)

	call, ok, err := p.calls.GetCallByRoom(ctx, pl.RoomName)
	if err != nil {
		return rtcerr.Transient("get call", err)
	}
	if !ok {
		l.Info("room finished without a call")
		return nil
	}
	l = l.With("call_id", call.ID)

	call, changed, err := p.calls.TransitionCall(ctx, call.ID, calls.StateEnded, p.now())
	if err != nil {
		return rtcerr.Transient("end call", err)
	}
	if changed {
		l.Info("call ended")
		p.emit(ctx, l, events.Event{Type: events.CallEnded, RoomName: pl.RoomName, Identity: call.CalleeIdentity, CallID: call.ID, At: p.now().UTC()})
	}

	done, err := p.calls.HasSummary(ctx, call.ID)
	if err != nil {
		return rtcerr.Transient("check summary", err)
	}
	if done {
		l.Info("call already analyzed")
		return nil
	}

	release, ok := p.claim(ctx, l, call.ID)
	if !ok {
		l.Info("analysis already in progress elsewhere")
		return nil
	}

	res, err := p.analyzer.Analyze(ctx, call.ID)
	if err != nil {
		if errors.Is(err, analysis.ErrNotConfigured) {
			l.Info("analysis skipped, service not configured")
		} else {
			l.Error("call analysis failed", "err", err)
		}
		if release != nil {
			if rerr := release(context.WithoutCancel(ctx)); rerr != nil {
				l.Warn("analysis claim release failed", "err", rerr)
			}
		}
		return nil
	}
	l.Info("call analyzed", "mood", res.Mood)

	if err := p.analyzer.Index(ctx, call.ID, call.CalleeIdentity); err != nil {
		l.Warn("transcript indexing failed", "err", rtcerr.Transient("index transcript", err))
	}
	return nil
}

// claim takes the per-call analysis claim. A claim backend failure does not
// block analysis; the summary check above is the remaining guard.
func (p *Processor) claim(ctx context.Context, l *slog.Logger, callID string) (func(context.Context) error, bool) {
	if p.claims == nil {
		return nil, true
	}
	ok, release, err := p.claims.Claim(ctx, analysisClaimPrefix+callID, p.cfg.ClaimTTL)
	if err != nil {
		l.Warn("analysis claim failed, continuing without it", "err", err)
		return nil, true
	}
	return release, ok
}

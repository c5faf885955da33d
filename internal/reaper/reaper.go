// Package reaper reclaims rooms that no real user is in anymore.
//
// A room is dead when it has no participants, or when everyone left in it is an
// operator or an agent. Dead rooms are emptied and deleted. Participants are
// classified from their identity strings only; the database is never consulted.
package reaper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"carecall-rtc/internal/events"
	"carecall-rtc/internal/mediarouter"
	"carecall-rtc/internal/rtcerr"
	"carecall-rtc/internal/tasks"
	"carecall-rtc/pkg/logger"
)

// LockKey serializes interval passes across replicas.
const LockKey = "rtc:reaper"

// Outcome is what a pass did to one room.
type Outcome string

const (
	OutcomeKept    Outcome = "kept"
	OutcomeDeleted Outcome = "deleted"
	OutcomeRescued Outcome = "rescued" // a real user joined while the room was being emptied
	OutcomeYoung   Outcome = "young"
	OutcomeGone    Outcome = "gone"
	OutcomeFailed  Outcome = "failed"
)

type Report struct {
	Scanned int      `json:"scanned"`
	Deleted []string `json:"deleted"`
	Rescued []string `json:"rescued"`
	Kept    int      `json:"kept"`
	Skipped int      `json:"skipped"`
	Failed  int      `json:"failed"`
}

func (r *Report) add(room string, o Outcome) {
	switch o {
	case OutcomeDeleted:
		r.Deleted = append(r.Deleted, room)
	case OutcomeRescued:
		r.Rescued = append(r.Rescued, room)
	case OutcomeKept:
		r.Kept++
	case OutcomeYoung, OutcomeGone:
		r.Skipped++
	case OutcomeFailed:
		r.Failed++
	}
}

// Claimer takes a short exclusive claim on a key. utils.Claimer and
// utils.MemoryClaimer satisfy it.
type Claimer interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, func(context.Context) error, error)
}

type Config struct {
	// MinRoomAge protects rooms created less than this long ago when only agents
	// or operators are in them, so a freshly dispatched agent is not reaped
	// before the device joins. Zero disables the grace. Rooms with no creation
	// time are never young.
	MinRoomAge time.Duration
}

type Reaper struct {
	router  mediarouter.Client
	emitter events.Emitter
	queue   tasks.Enqueuer
	cfg     Config
	log     *slog.Logger
	now     func() time.Time
}

// New builds a reaper. queue receives the follow-up check for a room that was
// too young to reap; it may be nil when only full passes run.
func New(router mediarouter.Client, emitter events.Emitter, queue tasks.Enqueuer, cfg Config, log *slog.Logger) *Reaper {
	return &Reaper{router: router, emitter: emitter, queue: queue, cfg: cfg, log: log, now: time.Now}
}

// ReapDeadRooms scans every live room. It is safe to run concurrently with
// itself and with joins; per-room failures are logged and do not stop the scan.
func (r *Reaper) ReapDeadRooms(ctx context.Context) (Report, error) {
	rooms, err := r.router.ListRooms(ctx)
	if err != nil {
		return Report{}, rtcerr.Upstream("list rooms", err)
	}
	rep := Report{Scanned: len(rooms), Deleted: []string{}, Rescued: []string{}}
	for _, room := range rooms {
		rep.add(room.Name, r.reap(ctx, room))
	}
	logger.FromOr(ctx, r.log).Info("reap pass finished",
		"scanned", rep.Scanned, "deleted", len(rep.Deleted), "rescued", len(rep.Rescued), "failed", rep.Failed)
	return rep, nil
}

// ReapRoom runs the same check for a single room by name.
func (r *Reaper) ReapRoom(ctx context.Context, name string) (Outcome, error) {
	o, _, err := r.reapByName(ctx, name)
	return o, err
}

func (r *Reaper) reapByName(ctx context.Context, name string) (Outcome, mediarouter.Room, error) {
	rooms, err := r.router.ListRooms(ctx, name)
	if err != nil {
		return OutcomeFailed, mediarouter.Room{}, rtcerr.Upstream("list rooms", err)
	}
	for _, room := range rooms {
		if room.Name == name {
			return r.reap(ctx, room), room, nil
		}
	}
	return OutcomeGone, mediarouter.Room{}, nil
}

// HandleReapTask is the rtc:reap_room task handler. A room still inside its
// grace is checked again once the grace runs out; nothing else would revisit
// it when the interval loop is off.
func (r *Reaper) HandleReapTask(ctx context.Context, t tasks.Task) error {
	var p tasks.ReapRoomPayload
	if err := tasks.Decode(t, &p); err != nil {
		return err
	}
	l := logger.FromOr(ctx, r.log).With("room", p.RoomName)

	o, room, err := r.reapByName(ctx, p.RoomName)
	if err != nil {
		return err
	}
	if o == OutcomeYoung {
		r.reschedule(ctx, l, room)
		return nil
	}
	l.Debug("room reap checked", "outcome", o)
	return nil
}

func (r *Reaper) reschedule(ctx context.Context, l *slog.Logger, room mediarouter.Room) {
	if r.queue == nil {
		l.Warn("young room left for the interval pass")
		return
	}
	wait := r.cfg.MinRoomAge - r.now().Sub(room.CreatedAt)
	task, err := tasks.NewReapRoom(tasks.ReapRoomPayload{RoomName: room.Name})
	if err == nil {
		_, err = r.queue.Enqueue(ctx, task, tasks.EnqueueOption{ProcessIn: wait})
	}
	if err != nil {
		l.Error("young room reap not rescheduled", "err", rtcerr.Transient("enqueue", err))
		return
	}
	l.Debug("young room reap rescheduled", "in", wait)
}

func (r *Reaper) reap(ctx context.Context, room mediarouter.Room) Outcome {
	l := logger.FromOr(ctx, r.log).With("room", room.Name)

	ps, err := r.router.ListParticipants(ctx, room.Name)
	if errors.Is(err, mediarouter.ErrRoomNotFound) {
		return OutcomeGone
	}
	if err != nil {
		l.Warn("reap: list participants failed", "err", rtcerr.Transient("list participants", err))
		return OutcomeFailed
	}
	if len(ps) == 0 {
		return r.delete(ctx, l, room.Name)
	}

	if _, _, users := mediarouter.Partition(ps); len(users) > 0 {
		return OutcomeKept
	}
	if r.young(room) {
		return OutcomeYoung
	}

	for _, p := range ps {
		err := r.router.RemoveParticipant(ctx, room.Name, p.Identity)
		if err != nil && !errors.Is(err, mediarouter.ErrRoomNotFound) {
			l.Warn("reap: remove participant failed", "identity", p.Identity, "err", rtcerr.Transient("remove participant", err))
		}
	}

	// re-list after removal; a real user may have joined meanwhile
	ps, err = r.router.ListParticipants(ctx, room.Name)
	if errors.Is(err, mediarouter.ErrRoomNotFound) {
		return OutcomeGone
	}
	if err != nil {
		l.Warn("reap: re-list participants failed", "err", rtcerr.Transient("list participants", err))
		return OutcomeFailed
	}
	if _, _, users := mediarouter.Partition(ps); len(users) > 0 {
		l.Info("reap: real user joined during cleanup, keeping room", "identity", users[0].Identity)
		return OutcomeRescued
	}
	return r.delete(ctx, l, room.Name)
}

func (r *Reaper) delete(ctx context.Context, l *slog.Logger, room string) Outcome {
	if err := r.router.DeleteRoom(ctx, room); err != nil {
		if errors.Is(err, mediarouter.ErrRoomNotFound) {
			return OutcomeGone
		}
		l.Warn("reap: delete room failed", "err", rtcerr.Transient("delete room", err))
		return OutcomeFailed
	}
	l.Info("dead room deleted")
	if r.emitter != nil {
		if err := r.emitter.Emit(ctx, events.Event{Type: events.RoomReaped, RoomName: room, At: r.now().UTC()}); err != nil {
			l.Warn("lifecycle event not emitted", "event", events.RoomReaped, "err", err)
		}
	}
	return OutcomeDeleted
}

func (r *Reaper) young(room mediarouter.Room) bool {
	if r.cfg.MinRoomAge <= 0 || room.CreatedAt.IsZero() {
		return false
	}
	return r.now().Sub(room.CreatedAt) < r.cfg.MinRoomAge
}

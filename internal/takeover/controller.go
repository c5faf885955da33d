// Package takeover lets an operator silence the voice agent in a room and
// speak to the user directly, without disconnecting anyone.
//
// The media router cannot mute one participant for a chosen set of listeners,
// so every toggle is applied on three independent channels:
//
//  1. subscriptions: agents stop receiving real-user audio and real users stop
//     receiving agent audio;
//  2. a reliable data message to the agents only, for agents that mute themselves;
//  3. room metadata {"takeover":bool,"timestamp":ms}, which a reconnecting agent
//     reads to recover the current state.
//
// Each channel is attempted regardless of the others and reports its own result.
package takeover

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"carecall-rtc/internal/events"
	"carecall-rtc/internal/mediarouter"
	"carecall-rtc/internal/rtcerr"
	"carecall-rtc/pkg/logger"
)

const (
	Topic        = "takeover"
	MessageStart = "takeover:start"
	MessageEnd   = "takeover:end"
)

// Channel status values.
const (
	StatusOK      = "ok"
	StatusSkipped = "skipped"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

type ChannelResult struct {
	Status   string `json:"status"`
	Calls    int    `json:"calls"`
	Failures int    `json:"failures"`
	Error    string `json:"error,omitempty"`
}

func (c *ChannelResult) record(err error) {
	c.Calls++
	if err != nil {
		c.Failures++
		c.Error = err.Error()
	}
}

func (c *ChannelResult) settle() {
	switch {
	case c.Calls == 0:
		c.Status = StatusSkipped
	case c.Failures == 0:
		c.Status = StatusOK
	case c.Failures < c.Calls:
		c.Status = StatusPartial
	default:
		c.Status = StatusFailed
	}
}

type Outcome struct {
	Room          string         `json:"roomName"`
	Active        bool           `json:"active"`
	Agents        int            `json:"agents"`
	RealUsers     int            `json:"realUsers"`
	Subscriptions ChannelResult  `json:"subscriptions"`
	DataMessage   ChannelResult  `json:"dataMessage"`
	Metadata      ChannelResult  `json:"metadata"`
	TrackMute     *ChannelResult `json:"trackMute,omitempty"`
}

// State is the room metadata blob.
type State struct {
	Takeover  bool  `json:"takeover"`
	Timestamp int64 `json:"timestamp"`
}

type Config struct {
	// MuteAgentTracks additionally mutes the agents' published audio tracks.
	MuteAgentTracks bool
}

type Controller struct {
	router  mediarouter.Client
	emitter events.Emitter
	cfg     Config
	log     *slog.Logger
	now     func() time.Time
}

func New(router mediarouter.Client, emitter events.Emitter, cfg Config, log *slog.Logger) *Controller {
	return &Controller{router: router, emitter: emitter, cfg: cfg, log: log, now: time.Now}
}

func (c *Controller) Start(ctx context.Context, room string) (Outcome, error) {
	return c.Set(ctx, room, true)
}

func (c *Controller) End(ctx context.Context, room string) (Outcome, error) {
	return c.Set(ctx, room, false)
}

// Set applies the takeover state to room. Only reading the room roster can fail
// the call; channel failures are logged and reported in the Outcome.
func (c *Controller) Set(ctx context.Context, room string, active bool) (Outcome, error) {
	l := logger.FromOr(ctx, c.log).With("room", room, "takeover", active)

	ps, err := c.router.ListParticipants(ctx, room)
	if errors.Is(err, mediarouter.ErrRoomNotFound) {
		return Outcome{}, rtcerr.NotFound("room not found")
	}
	if err != nil {
		return Outcome{}, rtcerr.Upstream("list participants", err)
	}
	_, agents, users := mediarouter.Partition(ps)

	out := Outcome{Room: room, Active: active, Agents: len(agents), RealUsers: len(users)}
	if len(agents) == 0 {
		l.Warn("takeover: no agent in room, nothing to mute")
	}

	c.applySubscriptions(ctx, l, &out, agents, users)
	c.sendSignal(ctx, l, &out, agents)
	c.writeMetadata(ctx, l, &out)
	if c.cfg.MuteAgentTracks {
		out.TrackMute = c.muteAgentTracks(ctx, l, room, active, agents)
	}

	if c.emitter != nil {
		on := active
		if err := c.emitter.Emit(ctx, events.Event{Type: events.TakeoverChanged, RoomName: room, Active: &on, At: c.now().UTC()}); err != nil {
			l.Warn("lifecycle event not emitted", "event", events.TakeoverChanged, "err", err)
		}
	}
	l.Info("takeover applied",
		"agents", out.Agents,
		"subscriptions", out.Subscriptions.Status,
		"data_message", out.DataMessage.Status,
		"metadata", out.Metadata.Status)
	return out, nil
}

func audioSIDs(ps []mediarouter.Participant) []string {
	var out []string
	for _, p := range ps {
		out = append(out, p.AudioTrackSIDs()...)
	}
	return out
}

func (c *Controller) applySubscriptions(ctx context.Context, l *slog.Logger, out *Outcome, agents, users []mediarouter.Participant) {
	defer out.Subscriptions.settle()
	if len(agents) == 0 {
		return
	}
	subscribe := !out.Active

	userAudio := audioSIDs(users)
	agentAudio := audioSIDs(agents)

	if len(userAudio) > 0 {
		for _, a := range agents {
			err := c.router.UpdateSubscriptions(ctx, out.Room, a.Identity, userAudio, subscribe)
			if err != nil {
				l.Warn("takeover: agent subscription update failed", "identity", a.Identity, "err", rtcerr.Transient("update subscriptions", err))
			}
			out.Subscriptions.record(err)
		}
	}
	if len(agentAudio) > 0 {
		for _, u := range users {
			err := c.router.UpdateSubscriptions(ctx, out.Room, u.Identity, agentAudio, subscribe)
			if err != nil {
				l.Warn("takeover: user subscription update failed", "identity", u.Identity, "err", rtcerr.Transient("update subscriptions", err))
			}
			out.Subscriptions.record(err)
		}
	}
}

func (c *Controller) sendSignal(ctx context.Context, l *slog.Logger, out *Outcome, agents []mediarouter.Participant) {
	defer out.DataMessage.settle()
	if len(agents) == 0 {
		// an empty destination list would broadcast to everyone
		return
	}
	dest := make([]string, 0, len(agents))
	for _, a := range agents {
		dest = append(dest, a.Identity)
	}
	msg := MessageEnd
	if out.Active {
		msg = MessageStart
	}
	err := c.router.SendData(ctx, out.Room, []byte(msg), mediarouter.DataOptions{
		Reliable:              true,
		DestinationIdentities: dest,
		Topic:                 Topic,
	})
	if err != nil {
		l.Warn("takeover: data message failed", "err", rtcerr.Transient("send data", err))
	}
	out.DataMessage.record(err)
}

func (c *Controller) writeMetadata(ctx context.Context, l *slog.Logger, out *Outcome) {
	defer out.Metadata.settle()
	b, err := json.Marshal(State{Takeover: out.Active, Timestamp: c.now().UnixMilli()})
	if err == nil {
		err = c.router.UpdateRoomMetadata(ctx, out.Room, string(b))
	}
	if err != nil {
		l.Warn("takeover: metadata update failed", "err", rtcerr.Transient("update room metadata", err))
	}
	out.Metadata.record(err)
}

func (c *Controller) muteAgentTracks(ctx context.Context, l *slog.Logger, room string, active bool, agents []mediarouter.Participant) *ChannelResult {
	res := &ChannelResult{}
	for _, a := range agents {
		for _, sid := range a.AudioTrackSIDs() {
			err := c.router.MutePublishedTrack(ctx, room, a.Identity, sid, active)
			if err != nil {
				l.Warn("takeover: agent track mute failed", "identity", a.Identity, "track", sid, "err", rtcerr.Transient("mute track", err))
			}
			res.record(err)
		}
	}
	res.settle()
	return res
}

// ParseState reads room metadata written by Set. Metadata that is empty or
// not a takeover blob reads as inactive.
func ParseState(metadata string) State {
	var s State
	if metadata == "" {
		return s
	}
	_ = json.Unmarshal([]byte(metadata), &s)
	return s
}

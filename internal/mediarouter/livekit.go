package mediarouter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"carecall-rtc/internal/identity"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/twitchtv/twirp"
)

// LiveKit implements Client over the LiveKit server API.
type LiveKit struct {
	rooms    *lksdk.RoomServiceClient
	dispatch *lksdk.AgentDispatchClient
}

// NewLiveKit builds the room and dispatch clients. url may be ws(s):// or http(s)://.
func NewLiveKit(url, apiKey, apiSecret string) *LiveKit {
	host := toHTTP(url)
	return &LiveKit{
		rooms:    lksdk.NewRoomServiceClient(host, apiKey, apiSecret),
		dispatch: lksdk.NewAgentDispatchServiceClient(host, apiKey, apiSecret),
	}
}

func toHTTP(url string) string {
	switch {
	case strings.HasPrefix(url, "wss://"):
		return "https://" + strings.TrimPrefix(url, "wss://")
	case strings.HasPrefix(url, "ws://"):
		return "http://" + strings.TrimPrefix(url, "ws://")
	default:
		return url
	}
}

func (l *LiveKit) ListRooms(ctx context.Context, names ...string) ([]Room, error) {
	res, err := l.rooms.ListRooms(ctx, &livekit.ListRoomsRequest{Names: names})
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	out := make([]Room, 0, len(res.GetRooms()))
	for _, r := range res.GetRooms() {
		out = append(out, fromLiveKitRoom(r))
	}
	return out, nil
}

func (l *LiveKit) ListParticipants(ctx context.Context, room string) ([]Participant, error) {
	res, err := l.rooms.ListParticipants(ctx, &livekit.ListParticipantsRequest{Room: room})
	if err != nil {
		return nil, routerErr(fmt.Sprintf("list participants %s", room), err)
	}
	out := make([]Participant, 0, len(res.GetParticipants()))
	for _, p := range res.GetParticipants() {
		out = append(out, FromLiveKitParticipant(p))
	}
	return out, nil
}

func (l *LiveKit) RemoveParticipant(ctx context.Context, room, identity string) error {
	_, err := l.rooms.RemoveParticipant(ctx, &livekit.RoomParticipantIdentity{Room: room, Identity: identity})
	if err != nil {
		return routerErr(fmt.Sprintf("remove participant %s/%s", room, identity), err)
	}
	return nil
}

func (l *LiveKit) DeleteRoom(ctx context.Context, room string) error {
	if _, err := l.rooms.DeleteRoom(ctx, &livekit.DeleteRoomRequest{Room: room}); err != nil {
		return routerErr("delete room "+room, err)
	}
	return nil
}

func (l *LiveKit) CreateDispatch(ctx context.Context, room, agentName, metadata string) error {
	_, err := l.dispatch.CreateDispatch(ctx, &livekit.CreateAgentDispatchRequest{
		Room:      room,
		AgentName: agentName,
		Metadata:  metadata,
	})
	if err != nil {
		return fmt.Errorf("dispatch %s to %s: %w", agentName, room, err)
	}
	return nil
}

func (l *LiveKit) UpdateRoomMetadata(ctx context.Context, room, metadata string) error {
	_, err := l.rooms.UpdateRoomMetadata(ctx, &livekit.UpdateRoomMetadataRequest{Room: room, Metadata: metadata})
	if err != nil {
		return routerErr("update metadata "+room, err)
	}
	return nil
}

func (l *LiveKit) SendData(ctx context.Context, room string, data []byte, opts DataOptions) error {
	kind := livekit.DataPacket_LOSSY
	if opts.Reliable {
		kind = livekit.DataPacket_RELIABLE
	}
	req := &livekit.SendDataRequest{
		Room:                  room,
		Data:                  data,
		Kind:                  kind,
		DestinationIdentities: opts.DestinationIdentities,
	}
	if opts.Topic != "" {
		topic := opts.Topic
		req.Topic = &topic
	}
	if _, err := l.rooms.SendData(ctx, req); err != nil {
		return routerErr("send data "+room, err)
	}
	return nil
}

func (l *LiveKit) UpdateSubscriptions(ctx context.Context, room, identity string, trackSIDs []string, subscribe bool) error {
	_, err := l.rooms.UpdateSubscriptions(ctx, &livekit.UpdateSubscriptionsRequest{
		Room:      room,
		Identity:  identity,
		TrackSids: trackSIDs,
		Subscribe: subscribe,
	})
	if err != nil {
		return routerErr(fmt.Sprintf("update subscriptions %s/%s", room, identity), err)
	}
	return nil
}

func (l *LiveKit) MutePublishedTrack(ctx context.Context, room, identity, trackSID string, muted bool) error {
	_, err := l.rooms.MutePublishedTrack(ctx, &livekit.MuteRoomTrackRequest{
		Room:     room,
		Identity: identity,
		TrackSid: trackSID,
		Muted:    muted,
	})
	if err != nil {
		return routerErr(fmt.Sprintf("mute track %s/%s/%s", room, identity, trackSID), err)
	}
	return nil
}

// routerErr wraps a room-service error, adding ErrRoomNotFound when the
// server answered not_found.
func routerErr(op string, err error) error {
	var te twirp.Error
	if errors.As(err, &te) && te.Code() == twirp.NotFound {
		return fmt.Errorf("%s: %w: %w", op, ErrRoomNotFound, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func fromLiveKitRoom(r *livekit.Room) Room {
	out := Room{
		Name:            r.GetName(),
		Metadata:        r.GetMetadata(),
		NumParticipants: int(r.GetNumParticipants()),
	}
	if ts := r.GetCreationTime(); ts > 0 {
		out.CreatedAt = time.Unix(ts, 0).UTC()
	}
	return out
}

// FromLiveKitParticipant converts a wire participant, classifying its identity.
func FromLiveKitParticipant(p *livekit.ParticipantInfo) Participant {
	out := Participant{
		Identity: p.GetIdentity(),
		Name:     p.GetName(),
		State:    p.GetState().String(),
		Role:     identity.Classify(p.GetIdentity()),
	}
	if ts := p.GetJoinedAt(); ts > 0 {
		out.JoinedAt = time.Unix(ts, 0).UTC()
	}
	for _, t := range p.GetTracks() {
		out.Tracks = append(out.Tracks, FromLiveKitTrack(t))
	}
	return out
}

func FromLiveKitTrack(t *livekit.TrackInfo) Track {
	kind := TrackData
	switch t.GetType() {
	case livekit.TrackType_AUDIO:
		kind = TrackAudio
	case livekit.TrackType_VIDEO:
		kind = TrackVideo
	}
	return Track{
		SID:    t.GetSid(),
		Kind:   kind,
		Source: strings.ToLower(t.GetSource().String()),
		Muted:  t.GetMuted(),
	}
}

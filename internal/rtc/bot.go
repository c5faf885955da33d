package rtc

import (
	"context"

	"carecall-rtc/internal/events"
	"carecall-rtc/internal/identity"
	"carecall-rtc/internal/mediarouter"
	"carecall-rtc/pkg/logger"

	"github.com/google/uuid"
)

// BotSession is a throwaway room with a scripted client standing in for a device.
type BotSession struct {
	LiveKitURL string `json:"livekitUrl"`
	Token      string `json:"token"`
	RoomName   string `json:"roomName"`
	Identity   string `json:"identity"`
}

// StartBot opens a fresh bot room, schedules the agent into it and returns a
// publish/subscribe token for the bot participant. No call record is created.
func (i *Issuer) StartBot(ctx context.Context) (BotSession, error) {
	id := uuid.NewString()
	room := "bot-room-" + id
	who := identity.BotPrefix + id

	tok, err := i.minter.Mint(mediarouter.TokenRequest{
		Room:        room,
		Identity:    who,
		Name:        who,
		Permissions: PermissionsFor(""),
	})
	if err != nil {
		return BotSession{}, err
	}

	l := logger.FromOr(ctx, i.log).With("room", room, "identity", who)
	i.reg.emit(ctx, l, events.Event{Type: events.RoomCreated, RoomName: room, Identity: who})
	i.reg.scheduleAgent(ctx, l, room, agentMetadata{CalleeIdentity: who, Bot: true})
	l.Info("bot session opened")

	return BotSession{
		LiveKitURL: i.routerURL,
		Token:      tok.Token,
		RoomName:   room,
		Identity:   who,
	}, nil
}

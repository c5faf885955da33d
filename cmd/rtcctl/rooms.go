package main

import (
	"context"
	"fmt"

	"carecall-rtc/internal/events"
	"carecall-rtc/internal/reaper"
	"carecall-rtc/internal/rtc"
	"carecall-rtc/internal/takeover"
	"carecall-rtc/pkg/utils"

	"github.com/spf13/cobra"
)

// emitter publishes to the shared event bus so dashboards see CLI actions.
// Without Redis the command still runs, silently.
func (g *globals) emitter(ctx context.Context) (events.Emitter, func()) {
	rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: g.cfg.RedisAddr()})
	if err != nil {
		g.log.Warn("redis unavailable; lifecycle events will not be published", "err", err)
		return nil, func() {}
	}
	return events.NewRedisBus(rdb, events.DefaultChannel, g.log), func() { _ = rdb.Close() }
}

func roomsCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "rooms",
		Short: "List live rooms with their participants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := rtc.NewRegistrar(nil, g.router(), nil, nil, rtc.RegistrarConfig{}, g.log)
			ov, err := reg.Overview(cmd.Context(), g.cfg.LiveKit.URL)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), ov)
		},
	}
}

func reapCmd(g *globals) *cobra.Command {
	var room string

	cmd := &cobra.Command{
		Use:   "reap",
		Short: "Remove rooms that no real user is in",
		Long: `Run one reap pass now. Rooms holding only agents or operators are
emptied and deleted; a room a user rejoins mid-pass is kept.

Without --room every live room is scanned.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			em, done := g.emitter(ctx)
			defer done()

			rp := reaper.New(g.router(), em, nil, reaper.Config{MinRoomAge: g.cfg.Reaper.MinRoomAge}, g.log)
			if room != "" {
				o, err := rp.ReapRoom(ctx, room)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{"roomName": room, "outcome": o})
			}
			rep, err := rp.ReapDeadRooms(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rep)
		},
	}
	cmd.Flags().StringVar(&room, "room", "", "reap only this room")
	return cmd
}

func takeoverCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "takeover",
		Short: "Hand a room between the agent and a human operator",
	}

	set := func(active bool) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			em, done := g.emitter(ctx)
			defer done()

			tc := takeover.New(g.router(), em, takeover.Config{MuteAgentTracks: g.cfg.RTC.TakeoverMuteAgentTrks}, g.log)
			out, err := tc.Set(ctx, args[0], active)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), out); err != nil {
				return err
			}
			if out.Metadata.Status == takeover.StatusFailed {
				return fmt.Errorf("takeover state not persisted: %s", out.Metadata.Error)
			}
			return nil
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "start <room>",
			Short: "Silence the agent and let the operator speak",
			Args:  cobra.ExactArgs(1),
			RunE:  set(true),
		},
		&cobra.Command{
			Use:   "end <room>",
			Short: "Return the room to the agent",
			Args:  cobra.ExactArgs(1),
			RunE:  set(false),
		},
	)
	return cmd
}

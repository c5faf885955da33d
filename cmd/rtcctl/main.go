// Command rtcctl is the operator console for the session orchestrator: it
// inspects and reaps rooms, toggles takeover and mints tokens against the same
// environment the API reads.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"carecall-rtc/internal/config"
	"carecall-rtc/internal/mediarouter"
	"carecall-rtc/pkg/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type globals struct {
	envFile string
	cfg     config.Config
	log     *slog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := RootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func RootCmd() *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:           "rtcctl",
		Short:         "Operate live call rooms",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if g.envFile != "" {
				if err := godotenv.Load(g.envFile); err != nil {
					return fmt.Errorf("load %s: %w", g.envFile, err)
				}
			} else {
				_ = godotenv.Load()
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			g.cfg = cfg
			g.log = logger.NewWithWriter(cmd.ErrOrStderr(), cfg.App.Env, cfg.App.LogLevel)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&g.envFile, "env-file", "", "dotenv file to load (default: .env when present)")

	root.AddCommand(
		roomsCmd(g),
		reapCmd(g),
		takeoverCmd(g),
		tokenCmd(g),
		migrateCmd(g),
		callsCmd(g),
	)
	return root
}

func (g *globals) router() *mediarouter.LiveKit {
	return mediarouter.NewLiveKit(g.cfg.LiveKit.URL, g.cfg.LiveKit.APIKey, g.cfg.LiveKit.APISecret)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

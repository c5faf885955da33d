package main

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"carecall-rtc/internal/auth"
	"carecall-rtc/internal/mediarouter"
	"carecall-rtc/internal/rbac"
	"carecall-rtc/internal/rtc"
	"carecall-rtc/internal/store"
	"carecall-rtc/pkg/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
)

func tokenCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Room-access tokens",
	}

	var room, identity, name, role string
	mint := &cobra.Command{
		Use:   "mint",
		Short: "Mint a room token without registering a call",
		Long: `Sign a token for joining a room directly. No call record, agent
dispatch or push is triggered; use it for debugging a room by hand.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if room == "" || identity == "" {
				return errors.New("--room and --identity are required")
			}
			if !rtc.ValidRole(role) {
				return fmt.Errorf("unknown role %q", role)
			}
			m, err := mediarouter.NewMinter(g.cfg.LiveKit.APIKey, g.cfg.LiveKit.APISecret, g.cfg.LiveKit.TokenTTL)
			if err != nil {
				return err
			}
			tok, err := m.Mint(mediarouter.TokenRequest{
				Room:        room,
				Identity:    identity,
				Name:        name,
				Permissions: rtc.PermissionsFor(role),
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"token":      tok.Token,
				"roomName":   room,
				"identity":   identity,
				"livekitUrl": g.cfg.LiveKit.URL,
				"expiresAt":  tok.ExpiresAt.UTC().Format(time.RFC3339),
			})
		},
	}
	mint.Flags().StringVar(&room, "room", "", "room name")
	mint.Flags().StringVar(&identity, "identity", "", "participant identity")
	mint.Flags().StringVar(&name, "name", "", "display name")
	mint.Flags().StringVar(&role, "role", "ward", "participant role (ward, guardian, observer, host)")

	cmd.AddCommand(mint, operatorTokenCmd(g))
	return cmd
}

func operatorTokenCmd(g *globals) *cobra.Command {
	var identity, name, role string

	cmd := &cobra.Command{
		Use:   "operator",
		Short: "Mint an API bearer for a staff member",
		Long: `Sign an access and refresh token pair for the HTTP API. The access
token authorizes the staff routes under /v1/livekit and host joins.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if identity == "" {
				return errors.New("--identity is required")
			}
			if !rbac.IsStaff(role) {
				return fmt.Errorf("role %q is not a staff role", role)
			}
			m, err := auth.NewManager(g.cfg.Auth)
			if err != nil {
				return err
			}
			now := time.Now()
			pair, err := m.IssuePair(now, identity, name, role)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"accessToken":      pair.AccessToken,
				"refreshToken":     pair.RefreshToken,
				"identity":         identity,
				"role":             role,
				"expiresAt":        now.Add(g.cfg.Auth.AccessTokenTTL).UTC().Format(time.RFC3339),
				"refreshExpiresAt": now.Add(g.cfg.Auth.RefreshTokenTTL).UTC().Format(time.RFC3339),
			})
		},
	}
	cmd.Flags().StringVar(&identity, "identity", "", "staff identity, without the operator prefix")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&role, "role", rbac.RoleOperator, "staff role (operator, admin)")
	return cmd
}

func (g *globals) openDB(cmd *cobra.Command) (*sql.DB, error) {
	return utils.OpenPostgres(cmd.Context(), "pgx", g.cfg.PostgresDSN(), utils.PostgresPoolConfig{})
}

func migrateCmd(g *globals) *cobra.Command {
	var status bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := g.openDB(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			if !status {
				if err := store.Migrate(ctx, db); err != nil {
					return err
				}
			}
			v, err := store.MigrationVersion(ctx, db)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", v)
			return err
		},
	}
	cmd.Flags().BoolVar(&status, "status", false, "print the current version without migrating")
	return cmd
}

func callsCmd(g *globals) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "calls",
		Short: "List recent calls, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := g.openDB(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			list, err := store.NewPostgres(db).RecentCalls(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), list)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum calls to list (1-500)")
	return cmd
}

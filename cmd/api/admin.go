package main

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"taskboard/internal/app"
	"taskboard/internal/config"
	"taskboard/internal/realtime"
	"taskboard/internal/store"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			logger := newLogger(cfg)
			if strings.TrimSpace(cfg.DatabaseURL) == "" {
				return errors.New("DATABASE_URL is required")
			}
			db, err := store.Open(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()
			applied, err := store.ApplyMigrations(cmd.Context(), db, os.DirFS(cfg.MigrationsDir))
			if err != nil {
				return err
			}
			for _, name := range applied {
				logger.WithField("migration", name).Info("migration applied")
			}
			printf(cmd, "%d migration(s) applied\n", len(applied))
			return nil
		},
	}
}

// adminService builds a service on the configured store without the live
// transport. The returned func releases the store.
func adminService(ctx context.Context, cfg config.Config) (*app.Service, func(), error) {
	logger := newLogger(cfg)
	rt := &runtime{}
	if err := openStore(ctx, cfg, logger, rt); err != nil {
		rt.close()
		return nil, nil, err
	}
	service := app.New(cfg, rt.store, realtime.NewHub(logger, 1), app.Deps{}, logger)
	return service, rt.close, nil
}

func userCmd() *cobra.Command {
	user := &cobra.Command{
		Use:   "user",
		Short: "Manage user records",
	}

	add := &cobra.Command{
		Use:   "add",
		Short: "Create a user",
		Long: `Create a user record.

Examples:
  api user add --username=alice --email=alice@example.com
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			username, _ := cmd.Flags().GetString("username")
			emailAddr, _ := cmd.Flags().GetString("email")
			avatar, _ := cmd.Flags().GetString("avatar")

			service, closeFn, err := adminService(cmd.Context(), config.Load())
			if err != nil {
				return err
			}
			defer closeFn()

			created, err := service.CreateUser(cmd.Context(), app.CreateUserInput{Username: username, Email: emailAddr, Avatar: avatar})
			if err != nil {
				return err
			}
			printf(cmd, "%s\n", created.ID)
			return nil
		},
	}
	add.Flags().String("username", "", "Display name")
	add.Flags().String("email", "", "Unique email address")
	add.Flags().String("avatar", "", "Avatar URL")
	_ = add.MarkFlagRequired("username")
	_ = add.MarkFlagRequired("email")

	user.AddCommand(add)
	return user
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a bearer token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, _ := cmd.Flags().GetString("user")

			service, closeFn, err := adminService(cmd.Context(), config.Load())
			if err != nil {
				return err
			}
			defer closeFn()

			token, err := service.IssueToken(cmd.Context(), userID)
			if err != nil {
				return err
			}
			printf(cmd, "%s\n", token)
			return nil
		},
	}
	cmd.Flags().String("user", "", "User id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

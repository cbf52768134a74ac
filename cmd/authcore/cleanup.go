// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/config"
	"github.com/holomush/authcore/internal/logging"
	"github.com/holomush/authcore/internal/maintenance"
)

// NewCleanupCmd creates the cleanup subcommand.
func NewCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Purge expired sessions, reset tokens and sent notifications once",
		Long: `Run a single maintenance pass and exit. Useful from an external
scheduler when the in-process janitor is disabled.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runCleanup(cmd.Context(), cfg, cmd, openBackend)
		},
	}
}

func runCleanup(
	ctx context.Context,
	cfg *config.Config,
	cmd *cobra.Command,
	open func(context.Context, *config.Config, *slog.Logger) (*Backend, error),
) error {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err //nolint:wrapcheck // already coded
	}
	logger := logging.SetDefault(serviceName, version, cfg.Log.Format, level)

	backend, err := open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	sessions, err := auth.NewSessionManager(backend.Sessions, backend.Users, cfg.SessionConfig())
	if err != nil {
		return oops.With("operation", "create session manager").Wrap(err)
	}
	resets, err := auth.NewResetTokenManager(backend.Resets, auth.WithResetRetention(cfg.Auth.ResetRetention))
	if err != nil {
		return oops.With("operation", "create reset token manager").Wrap(err)
	}
	janitor, err := maintenance.NewJanitor(sessions, resets, backend.Outbox,
		maintenance.WithLogger(logger),
		maintenance.WithOutboxRetention(cfg.Maintenance.OutboxRetention),
	)
	if err != nil {
		return oops.With("operation", "create janitor").Wrap(err)
	}

	res, err := janitor.RunOnce(ctx)
	if err != nil {
		return err //nolint:wrapcheck // already coded
	}
	cmd.Printf("Purged %d sessions, %d reset tokens, %d notifications\n",
		res.Sessions, res.ResetTokens, res.Notifications)
	return nil
}

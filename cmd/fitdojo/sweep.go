// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitDojo Contributors

package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/fitdojo/fitdojo/internal/auth"
	"github.com/fitdojo/fitdojo/internal/auth/postgres"
	"github.com/fitdojo/fitdojo/internal/logging"
	"github.com/fitdojo/fitdojo/internal/store"
)

// NewSweepCmd creates the sweep command.
func NewSweepCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove idle sessions and spent one-time tokens once",
		Long: `Run a single sweep: delete sessions idle for longer than
session.idle-ttl and one-time tokens that are used or expired.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Database.URL == "" {
				return oops.Code("CONFIG_INVALID").
					With("field", "database.url").
					Errorf("database URL is required (set DATABASE_URL or database.url)")
			}

			logger := deps.LoggerFactory(logging.Options{
				Service: "fitdojo",
				Version: version,
				Format:  cfg.Server.LogFormat,
			})
			return runSweep(cmd, cfg.Database.URL, cfg.Session.IdleTTL, deps, logger)
		},
	}
}

func runSweep(cmd *cobra.Command, databaseURL string, idleTTL time.Duration, deps *Deps, logger *slog.Logger) error {
	ctx := cmd.Context()
	pool, err := deps.PoolFactory(ctx, databaseURL, store.DefaultPoolConfig(), logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	sweeper, err := auth.NewSweeper(
		postgres.NewSessionRepository(pool),
		postgres.NewOneTimeTokenRepository(pool),
		auth.SweeperConfig{IdleTTL: idleTTL, Logger: logger},
	)
	if err != nil {
		return err
	}
	res, err := sweeper.SweepOnce(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d idle session(s) and %d one-time token(s)\n", res.Sessions, res.OneTimeTokens)
	return nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitDojo Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fitdojo/fitdojo/internal/config"
	"github.com/fitdojo/fitdojo/internal/xdg"
)

// NewRootCmd creates the root command. deps may be nil.
func NewRootCmd(deps *Deps) *cobra.Command {
	deps = deps.withDefaults()

	cmd := &cobra.Command{
		Use:   "fitdojo",
		Short: "FitDojo - authentication and session service",
		Long: `FitDojo issues and verifies access and refresh tokens, tracks
login sessions, and runs the email verification and password reset flows.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "config file path (YAML, default $XDG_CONFIG_HOME/fitdojo/config.yaml)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd(deps))
	cmd.AddCommand(NewMigrateCmd(deps))
	cmd.AddCommand(NewSweepCmd(deps))
	cmd.AddCommand(NewConfigCmd(deps))

	return cmd
}

// loadConfig reads the layered configuration for cmd.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err //nolint:wrapcheck // flag is always registered
	}
	if path == "" {
		if path, err = xdg.FindConfigFile(); err != nil {
			return nil, err //nolint:wrapcheck // already coded
		}
	}
	return config.Load(path, cmd.Flags())
}

// NewConfigCmd prints the effective configuration.
func NewConfigCmd(_ *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Long: `Print the configuration after applying the config file, flags and
environment. Secrets are redacted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), string(out))
			return err //nolint:wrapcheck // write to stdout
		},
	}
}

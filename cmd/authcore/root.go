// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/holomush/authcore/internal/config"
	"github.com/holomush/authcore/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the authcore CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "authcore",
		Short: "authcore - email and password authentication service",
		Long: `authcore provides signup, signin, logout and password reset over HTTP,
with server-side sessions and an outbox for transactional email.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewCleanupCmd())
	cmd.AddCommand(NewConfigCmd())

	return cmd
}

// loadConfig resolves the configuration for cmd from the config file, the
// environment and any flags set on the command line. Without --config the
// XDG config directories are searched.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	file := configFile
	if file == "" {
		if found, ok := xdg.FindConfigFile(); ok {
			file = found
		}
	}
	return config.Load(config.Options{ //nolint:wrapcheck // Load returns coded errors
		File:  file,
		Flags: cmd.Flags(),
	})
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"os"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/authcore/internal/config"
)

// NewConfigCmd creates the config subcommand.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration with secrets redacted",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				out, err := cfg.Redacted().YAML()
				if err != nil {
					return err //nolint:wrapcheck // already coded
				}
				cmd.Print(string(out))
				return nil
			},
		},
		&cobra.Command{
			Use:   "validate FILE",
			Short: "Check a config file against the JSON schema",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := os.ReadFile(args[0])
				if err != nil {
					return oops.Code("CONFIG_READ_FAILED").With("file", args[0]).Wrap(err)
				}
				if err := config.ValidateYAML(data); err != nil {
					return oops.With("file", args[0]).Wrap(err)
				}
				cmd.Println("Configuration is valid")
				return nil
			},
		},
		&cobra.Command{
			Use:   "schema",
			Short: "Print the configuration JSON schema",
			RunE: func(cmd *cobra.Command, _ []string) error {
				schema, err := config.GenerateSchema()
				if err != nil {
					return err //nolint:wrapcheck // already coded
				}
				cmd.Println(string(schema))
				return nil
			},
		},
	)
	return cmd
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/authcore/internal/config"
	"github.com/holomush/authcore/internal/store"
)

// schemaMigrator is the subset of *store.Migrator used by the migrate commands.
type schemaMigrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (uint, bool, error)
	Force(version int) error
	Status() (*store.MigrationStatus, error)
	Close() error
}

// newMigrator opens a migrator; tests replace it.
var newMigrator = func(databaseURL string) (schemaMigrator, error) {
	return store.NewMigrator(databaseURL) //nolint:wrapcheck // already coded
}

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database schema migrations",
		Long:  `Apply, roll back and inspect the PostgreSQL schema migrations embedded in the binary.`,
	}

	var all bool
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		RunE: withMigrator(func(cmd *cobra.Command, m schemaMigrator, _ []string) error {
			if all {
				if err := m.Down(); err != nil {
					return err //nolint:wrapcheck // already coded
				}
				cmd.Println("All migrations rolled back")
				return nil
			}
			if err := m.Steps(-1); err != nil {
				return err //nolint:wrapcheck // already coded
			}
			cmd.Println("Rolled back one migration")
			return nil
		}),
	}
	down.Flags().BoolVar(&all, "all", false, "roll back every migration")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: withMigrator(func(cmd *cobra.Command, m schemaMigrator, _ []string) error {
				cmd.Println("Running migrations...")
				if err := m.Up(); err != nil {
					return err //nolint:wrapcheck // already coded
				}
				cmd.Println("Migrations completed successfully")
				return nil
			}),
		},
		down,
		&cobra.Command{
			Use:   "status",
			Short: "Show applied and pending migrations",
			RunE: withMigrator(func(cmd *cobra.Command, m schemaMigrator, _ []string) error {
				st, err := m.Status()
				if err != nil {
					return err //nolint:wrapcheck // already coded
				}
				cmd.Print(formatStatus(st))
				return nil
			}),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			RunE: withMigrator(func(cmd *cobra.Command, m schemaMigrator, _ []string) error {
				v, dirty, err := m.Version()
				if err != nil {
					return err //nolint:wrapcheck // already coded
				}
				if dirty {
					cmd.Printf("%d (dirty)\n", v)
					return nil
				}
				cmd.Printf("%d\n", v)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "force VERSION",
			Short: "Set the schema version without running migrations",
			Long: `Set the recorded schema version and clear the dirty flag. Use this to
recover after a failed migration has been fixed by hand.`,
			Args: cobra.ExactArgs(1),
			RunE: withMigrator(func(cmd *cobra.Command, m schemaMigrator, args []string) error {
				v, err := parseForceVersion(args[0])
				if err != nil {
					return err
				}
				if err := m.Force(v); err != nil {
					return err //nolint:wrapcheck // already coded
				}
				cmd.Printf("Schema version forced to %d\n", v)
				return nil
			}),
		},
	)
	return cmd
}

// withMigrator loads the config, opens a migrator and closes it after fn.
func withMigrator(fn func(cmd *cobra.Command, m schemaMigrator, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		databaseURL, err := getDatabaseURL(cfg)
		if err != nil {
			return err
		}
		m, err := newMigrator(databaseURL)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := m.Close(); closeErr != nil && err == nil {
				err = closeErr
			}
		}()
		return fn(cmd, m, args)
	}
}

// getDatabaseURL returns the database URL, which migrations always need.
func getDatabaseURL(cfg *config.Config) (string, error) {
	if cfg.Store.DatabaseURL == "" {
		return "", oops.Code("CONFIG_INVALID").Errorf("DATABASE_URL is required for migrations")
	}
	return cfg.Store.DatabaseURL, nil
}

// parseForceVersion reads a leading integer; trailing characters are ignored.
func parseForceVersion(s string) (int, error) {
	var v int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &v); err != nil {
		return 0, oops.Code("INVALID_VERSION").With("input", s).Wrap(err)
	}
	return v, nil
}

func formatStatus(st *store.MigrationStatus) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current version: %d", st.Current)
	if st.Dirty {
		b.WriteString(" (dirty)")
	}
	b.WriteString("\n")
	for _, m := range st.Applied {
		fmt.Fprintf(&b, "  [x] %s\n", m.Name)
	}
	for _, m := range st.Pending {
		fmt.Fprintf(&b, "  [ ] %s\n", m.Name)
	}
	return b.String()
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/ledger/internal/config"
	"github.com/holomush/ledger/internal/store"
)

// Migrator wraps the methods used from store.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Force(version int) error
	Status() (store.MigrationStatus, error)
	Close() error
}

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	return newMigrateCmd(nil)
}

func newMigrateCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
		Long:  `Apply, revert and inspect the action log schema migrations.`,
	}

	var upSteps, downSteps int

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, deps, func(m Migrator) error {
				if upSteps > 0 {
					return m.Steps(upSteps)
				}
				return m.Up()
			}, "Migrations applied")
		},
	}
	up.Flags().IntVar(&upSteps, "steps", 0, "apply at most this many migrations (0 = all)")

	down := &cobra.Command{
		Use:   "down",
		Short: "Revert migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, deps, func(m Migrator) error {
				if downSteps > 0 {
					return m.Steps(-downSteps)
				}
				return m.Down()
			}, "Migrations reverted")
		},
	}
	down.Flags().IntVar(&downSteps, "steps", 0, "revert at most this many migrations (0 = all, dropping the action log)")

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the schema version and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, deps, func(m Migrator) error {
				st, err := m.Status()
				if err != nil {
					return err
				}
				cmd.Print(formatMigrationStatus(st))
				return nil
			}, "")
		},
	}

	force := &cobra.Command{
		Use:   "force VERSION",
		Short: "Mark VERSION as applied and clear the dirty flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := parseForceVersion(args[0])
			if err != nil {
				return err
			}
			return withMigrator(cmd, deps, func(m Migrator) error {
				return m.Force(version)
			}, fmt.Sprintf("Forced version %d", version))
		},
	}

	cmd.AddCommand(up, down, status, force)
	return cmd
}

// withMigrator opens a migrator for the configured database, runs fn and
// prints done on success.
func withMigrator(cmd *cobra.Command, deps *Deps, fn func(Migrator) error, done string) error {
	deps = deps.withDefaults()

	cfg, _, err := loadConfig(cmd, "ledger-cli")
	if err != nil {
		return err
	}
	if cfg.Storage.Driver != config.DriverPostgres {
		return oops.Code(config.CodeInvalid).
			With("driver", cfg.Storage.Driver).
			Errorf("migrations apply to the postgres driver only")
	}

	m, err := deps.MigratorFactory(cfg.Storage.DSN)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			cmd.PrintErrln("warning: closing migrator:", closeErr)
		}
	}()

	if err := fn(m); err != nil {
		return err
	}
	if done != "" {
		cmd.Println(done)
	}
	return nil
}

// parseForceVersion reads a non-negative schema version.
func parseForceVersion(s string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, oops.Code(store.CodeMigrationVersion).With("input", s).Wrapf(err, "version must be an integer")
	}
	if v < 0 {
		return 0, oops.Code(store.CodeMigrationVersion).With("input", s).Errorf("version must be non-negative")
	}
	return v, nil
}

func formatMigrationStatus(st store.MigrationStatus) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current version: %d", st.Version)
	if st.Dirty {
		b.WriteString(" (dirty)")
	}
	b.WriteString("\n")

	list := func(label string, versions []uint) {
		fmt.Fprintf(&b, "%s:", label)
		if len(versions) == 0 {
			b.WriteString(" none\n")
			return
		}
		b.WriteString("\n")
		for _, v := range versions {
			name, err := store.MigrationName(v)
			if err != nil || name == "" {
				name = fmt.Sprintf("%06d", v)
			}
			fmt.Fprintf(&b, "  %s\n", name)
		}
	}
	list("Applied", st.Applied)
	list("Pending", st.Pending)
	return b.String()
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/holomush/ledger/internal/config"
	"github.com/holomush/ledger/internal/logging"
)

// NewRootCmd creates the root command for the ledger CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(nil)
}

// newRootCmd builds the command tree. If deps is nil, default
// implementations are used.
func newRootCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Ledger - an action log with rollback and restore",
		Long: `Ledger records block, item and entity actions from a world host,
answers filtered queries over them, and stages rollbacks and restores
that are applied or cancelled per actor.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "config file path (default: XDG_CONFIG_HOME/ledger/config.yaml)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(newServeCmd(deps))
	cmd.AddCommand(newMigrateCmd(deps))
	cmd.AddCommand(newSearchCmd(deps))
	cmd.AddCommand(newReplaySpoolCmd(deps))

	return cmd
}

// loadConfig reads configuration for cmd and installs the default logger.
func loadConfig(cmd *cobra.Command, service string) (*config.Config, *slog.Logger, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, nil, err //nolint:wrapcheck // flag is always registered
	}

	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	logger := logging.SetDefault(service, version, cfg.Log.Format, level)
	return cfg, logger, nil
}

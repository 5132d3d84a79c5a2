// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/holomush/ledger/internal/recorder"
)

// NewReplaySpoolCmd creates the replay-spool subcommand.
func NewReplaySpoolCmd() *cobra.Command {
	return newReplaySpoolCmd(nil)
}

func newReplaySpoolCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "replay-spool",
		Short: "Write spooled actions to the store",
		Long: `Re-record the actions the recorder spooled while the store was
unavailable. Actions keep their IDs; ones already stored are skipped.
serve does this at startup.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReplaySpool(cmd, deps)
		},
	}
}

func runReplaySpool(cmd *cobra.Command, deps *Deps) error {
	deps = deps.withDefaults()

	cfg, logger, err := loadConfig(cmd, "ledger-cli")
	if err != nil {
		return err
	}

	st, err := deps.StoreOpener(cmd.Context(), cfg.Storage)
	if err != nil {
		return err
	}
	defer closeLogged(logger, "store", st.Close)

	rec, err := recorder.New(st, recorder.Options{SpoolPath: cfg.Recorder.SpoolPath, Logger: logger})
	if err != nil {
		return err
	}
	defer closeLogged(logger, "recorder", rec.Close)

	n, err := rec.ReplaySpool(cmd.Context())
	if err != nil {
		return err
	}
	cmd.Printf("Replayed %d spooled actions\n", n)
	return nil
}

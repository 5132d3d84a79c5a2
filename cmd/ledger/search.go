// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/ledger/internal/action"
	"github.com/holomush/ledger/internal/query"
)

const defaultSearchLimit = 50

// searchOptions holds flags local to the search command.
type searchOptions struct {
	at     []int
	limit  int
	asJSON bool
	now    func() time.Time
}

// NewSearchCmd creates the search subcommand.
func NewSearchCmd() *cobra.Command {
	return newSearchCmd(nil)
}

func newSearchCmd(deps *Deps) *cobra.Command {
	opts := searchOptions{now: time.Now}

	cmd := &cobra.Command{
		Use:   "search [QUERY...]",
		Short: "List recorded actions matching a query",
		Long: `List recorded actions matching a query such as

  action:block-break source:Steve,!@tnt range:5 after:1d

range needs --at. Results are newest first unless the query says order:asc.`,
		Example: `  ledger search source:Steve after:2h
  ledger search --at 0,64,0 range:10 object:*_ore --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, strings.Join(args, " "), opts, deps)
		},
	}

	cmd.Flags().IntSliceVar(&opts.at, "at", nil, "origin for range: as x,y,z")
	cmd.Flags().IntVar(&opts.limit, "limit", defaultSearchLimit, "maximum results when the query sets no limit")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print actions as JSON")

	return cmd
}

func runSearch(cmd *cobra.Command, text string, opts searchOptions, deps *Deps) error {
	deps = deps.withDefaults()

	pc := query.ParseContext{Now: opts.now()}
	if len(opts.at) > 0 {
		if len(opts.at) != 3 {
			return oops.Code(query.CodeInvalidQuery).With("at", opts.at).Errorf("--at needs x,y,z")
		}
		pc.Origin = &action.Position{X: opts.at[0], Y: opts.at[1], Z: opts.at[2]}
	}

	params, err := query.Parse(text, pc)
	if err != nil {
		return err
	}
	if !strings.Contains(text, "order:") {
		params.Order = query.Descending
	}
	if params.Limit == 0 {
		params.Limit = opts.limit
	}

	cfg, logger, err := loadConfig(cmd, "ledger-cli")
	if err != nil {
		return err
	}

	st, err := deps.StoreOpener(cmd.Context(), cfg.Storage)
	if err != nil {
		return err
	}
	defer closeLogged(logger, "store", st.Close)

	actions, err := st.Query(cmd.Context(), params)
	if err != nil {
		return err
	}

	if opts.asJSON {
		return writeActionsJSON(cmd.OutOrStdout(), actions)
	}
	return writeActionsTable(cmd.OutOrStdout(), actions)
}

func writeActionsJSON(w io.Writer, actions []action.Action) error {
	if actions == nil {
		actions = []action.Action{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(actions); err != nil {
		return oops.Wrapf(err, "encode actions")
	}
	return nil
}

func writeActionsTable(w io.Writer, actions []action.Action) error {
	if len(actions) == 0 {
		_, err := fmt.Fprintln(w, "No actions found.")
		return err //nolint:wrapcheck // terminal write
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSOURCE\tACTION\tOBJECT\tWORLD\tPOSITION\tROLLED BACK")
	for i := range actions {
		a := &actions[i]
		object := string(a.Object)
		if a.Kind == action.KindBlockBreak && a.OldObject != nil {
			object = string(*a.OldObject)
		}
		rolledBack := ""
		if a.RolledBack {
			rolledBack = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			a.Time.UTC().Format(time.RFC3339), a.SourceDisplay(), a.Kind, object, a.World, a.Pos, rolledBack)
	}
	return tw.Flush() //nolint:wrapcheck // terminal write
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/vango-dev/tablesync/pkg/store"
)

func inspectCmd() *cobra.Command {
	var (
		tableKey string
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show the saved table",
		Long: `Load the saved table from the configured store and print a summary.

The snapshot is checked the same way the server checks it on start,
so a snapshot inspect rejects is one the server refuses to load.

Examples:
  tablesync inspect
  tablesync inspect --table=campaign-2 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if tableKey != "" {
				cfg.Server.TableKey = tableKey
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			st, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			return runInspect(cmd.Context(), cmd.OutOrStdout(), st, cfg.Server.TableKey, asJSON)
		},
	}

	cmd.Flags().StringVarP(&tableKey, "table", "t", "", "Table key (default from tablesync.json)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the state as JSON")

	return cmd
}

func runInspect(ctx context.Context, out io.Writer, st store.Store, key string, asJSON bool) error {
	snap, ok, err := store.LoadSnapshot(ctx, st, key)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintf(out, "No table saved under %q\n", key)
		return nil
	}

	s, err := store.StrictMigrator{}.Migrate(snap)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}

	fmt.Fprintf(out, "Table:    %s\n", key)
	fmt.Fprintf(out, "Saved at: %s\n", snap.SavedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(out, "Summary:  %s\n", summarize(s))
	for _, m := range s.Maps.All() {
		fmt.Fprintf(out, "  map %s %q objects=%d\n", m.ID, m.Settings.Name, m.Objects.Len())
	}
	if s.InitiativeTracker.Entries.Len() > 0 {
		fmt.Fprintln(out, "Initiative:")
		for _, e := range s.InitiativeTracker.Entries.All() {
			marker := " "
			if e.ID == s.InitiativeTracker.CurrentEntryID {
				marker = ">"
			}
			fmt.Fprintf(out, "  %s %3d %s\n", marker, e.Initiative, e.ID)
		}
	}
	return nil
}

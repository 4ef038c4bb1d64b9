package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fractal-lba/fairmind/internal/api"
	"github.com/fractal-lba/fairmind/internal/fairness"
	"github.com/fractal-lba/fairmind/internal/journal"
	"github.com/fractal-lba/fairmind/internal/store"
)

func newMetricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "List the supported fairness metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTITLE\tGROUND TRUTH")
			for _, m := range api.AllMetrics {
				gt := "no"
				if m.RequiresGroundTruth() {
					gt = "required"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", m, fairness.Title(m), gt)
			}
			return w.Flush()
		},
	}
}

func newStoreCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Manage the result store",
	}

	get := &cobra.Command{
		Use:   "get <analysis-id>",
		Short: "Print a stored analysis result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := store.Open(ctx, a.v.GetString("store.backend"), a.v.GetString("store.dsn"))
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := s.Get(ctx, args[0])
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("analysis %s not found", args[0])
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Create the Postgres result table",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pg, err := store.NewPostgresStore(ctx, a.v.GetString("store.dsn"))
			if err != nil {
				return err
			}
			defer pg.Close()
			if err := pg.Migrate(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}

	cleanup := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired results from the Postgres store",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pg, err := store.NewPostgresStore(ctx, a.v.GetString("store.dsn"))
			if err != nil {
				return err
			}
			defer pg.Close()
			n, err := pg.CleanupExpired(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d expired results\n", n)
			return nil
		},
	}

	cmd.AddCommand(get, migrate, cleanup)
	return cmd
}

func newJournalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the analysis journal written by the server",
	}

	replay := &cobra.Command{
		Use:   "replay <file>",
		Short: "Print every entry of a journal file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := journal.Replay(args[0])
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tANALYSIS\tSTATE\tRISK\tFAILED\tSAMPLES\tERROR")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
					e.Timestamp.Format(time.RFC3339), e.AnalysisID, e.State, e.Risk, e.FailedCount, e.Samples, e.Error)
			}
			return w.Flush()
		},
	}

	summary := &cobra.Command{
		Use:   "summary <file>",
		Short: "Count journal entries by state and risk level",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := journal.Replay(args[0])
			if err != nil {
				return err
			}
			counts := summarize(entries)
			keys := make([]string, 0, len(counts))
			for k := range counts {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", k, counts[k])
			}
			return nil
		},
	}

	cmd.AddCommand(replay, summary)
	return cmd
}

// summarize counts entries by "state" and, for completed analyses, by
// "state/risk".
func summarize(entries []journal.Entry) map[string]int {
	counts := make(map[string]int)
	for _, e := range entries {
		counts[e.State]++
		if e.Risk != "" {
			counts[e.State+"/"+e.Risk]++
		}
	}
	return counts
}

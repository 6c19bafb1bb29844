package main

import (
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"kart-drive-core/telemetry"
)

var runsFlags struct {
	db    string
	limit int
	run   string
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded telemetry runs",
	Args:  cobra.NoArgs,
	RunE:  runRuns,
}

func init() {
	f := runsCmd.Flags()
	f.StringVar(&runsFlags.db, "db", "", "Telemetry SQLite file (default telemetry.db_path)")
	f.IntVar(&runsFlags.limit, "limit", 20, "Show at most this many runs; 0 for all")
	f.StringVar(&runsFlags.run, "run", "", "Show the per-mode tick counts of one run")
}

func runRuns(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	path := runsFlags.db
	if path == "" {
		path = cfg.Telemetry.DBPath
	}
	if path == "" {
		return fmt.Errorf("no telemetry database: pass --db or set telemetry.db_path")
	}

	db, err := telemetry.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()

	out := cmd.OutOrStdout()
	if runsFlags.run != "" {
		counts, err := db.ModeCounts(cmd.Context(), runsFlags.run)
		if err != nil {
			return err
		}
		if len(counts) == 0 {
			return fmt.Errorf("run %s: %w", runsFlags.run, telemetry.ErrUnknownRun)
		}
		modes := make([]string, 0, len(counts))
		for m := range counts {
			modes = append(modes, m)
		}
		sort.Strings(modes)
		for _, m := range modes {
			fmt.Fprintf(out, "%-20s %d\n", m, counts[m])
		}
		return nil
	}

	runs, err := db.ListRuns(cmd.Context(), runsFlags.limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintf(out, "No runs in %s\n", path)
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSOURCE\tLABEL\tSTARTED\tDURATION\tTICKS\tFINAL MODE")
	for _, r := range runs {
		dur := "running"
		if r.EndedAt != nil {
			dur = r.EndedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			r.ID, r.Source, r.Label, r.StartedAt.Format(time.RFC3339), dur, r.Ticks, r.FinalMode)
	}
	return tw.Flush()
}

package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"kart-drive-core/drive_loop/arbitration"
	"kart-drive-core/telemetry"
	"kart-drive-core/utils"
)

var replayFlags struct {
	db       string
	trace    bool
	noExpect bool
}

var replayCmd = &cobra.Command{
	Use:   "replay <scenario.yaml>...",
	Short: "Feed scripted scenarios through the arbiter without hardware",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runReplay,
}

func init() {
	f := replayCmd.Flags()
	f.StringVar(&replayFlags.db, "db", "", "Record each replay as a telemetry run in this SQLite file")
	f.BoolVar(&replayFlags.trace, "trace", false, "Print every tick as CSV")
	f.BoolVar(&replayFlags.noExpect, "no-expect", false, "Do not fail on unmet scenario expectations")
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := writerLogger(cmd.ErrOrStderr(), utils.WARN)
	out := cmd.OutOrStdout()

	var db *telemetry.Store
	if replayFlags.db != "" {
		if db, err = telemetry.Open(replayFlags.db); err != nil {
			return err
		}
		defer db.Close()
	}

	failed := 0
	for _, path := range args {
		scen, err := LoadScenario(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		p := NewReplayer(cfg, log)
		var (
			res   ReplayResult
			runID string
		)
		if db != nil {
			res, runID, err = replayIntoStore(cmd.Context(), db, p, scen, log)
		} else {
			res, err = p.Replay(scen)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		if replayFlags.trace {
			writeTrace(out, res.Trace)
		}
		printSummary(out, res.Summary, runID)

		if err := res.Summary.Check(scen.Expect); err != nil {
			fmt.Fprintf(out, "  FAIL: %v\n", err)
			failed++
			continue
		}
		if scen.Expect.FinalMode != "" || len(scen.Expect.Visits) > 0 {
			fmt.Fprintf(out, "  ok\n")
		}
	}

	if failed > 0 && !replayFlags.noExpect {
		return fmt.Errorf("%d of %d scenarios failed: %w", failed, len(args), errExpectation)
	}
	return nil
}

func writeTrace(w io.Writer, trace []ReplayTick) {
	fmt.Fprintln(w, "tick,t,mode,steering,throttle,actions")
	for _, t := range trace {
		actions := ""
		if !t.Actions.Empty() {
			actions = t.Actions.String()
		}
		fmt.Fprintf(w, "%d,%.3f,%s,%.4f,%.4f,%q\n",
			t.Tick, t.T, t.Command.Mode, t.Command.Steering, t.Command.Throttle, actions)
	}
}

func printSummary(w io.Writer, s ReplaySummary, runID string) {
	fmt.Fprintf(w, "Scenario:    %s\n", s.Scenario)
	if runID != "" {
		fmt.Fprintf(w, "Run:         %s\n", runID)
	}
	fmt.Fprintf(w, "Ticks:       %d\n", s.Ticks)
	fmt.Fprintf(w, "Final mode:  %s\n", s.FinalMode)
	fmt.Fprintf(w, "Transitions: %d\n", s.Transitions)
	fmt.Fprintf(w, "Throttle:    mean %.4f\n", s.MeanThrottle)
	fmt.Fprintf(w, "Steering:    mean %.4f sd %.4f\n", s.MeanSteering, s.StdSteering)

	modes := make([]arbitration.ModeTag, 0, len(s.ModeTicks))
	for m := range s.ModeTicks {
		modes = append(modes, m)
	}
	sort.Slice(modes, func(i, j int) bool { return modes[i] < modes[j] })
	fmt.Fprintf(w, "Modes:\n")
	for _, m := range modes {
		fmt.Fprintf(w, "  %-20s %d\n", m, s.ModeTicks[m])
	}
}

package main

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kart-drive-core/drive_loop/arbitration"
	"kart-drive-core/telemetry"
	"kart-drive-core/utils"
)

func quietLogger() *utils.Logger {
	return utils.NewWriterLogger(io.Discard, utils.CRITICAL)
}

func vehicleConfig(t *testing.T) AppConfig {
	t.Helper()
	cfg, err := LoadAppConfig("../config/vehicle.yaml")
	require.NoError(t, err)
	return cfg
}

func replayShipped(t *testing.T, name string) ReplayResult {
	t.Helper()
	scen, err := LoadScenario(filepath.Join("../config/scenarios", name))
	require.NoError(t, err)
	res, err := NewReplayer(vehicleConfig(t), quietLogger()).Replay(scen)
	require.NoError(t, err)
	require.NoError(t, res.Summary.Check(scen.Expect))
	return res
}

func TestShippedScenariosMeetExpectations(t *testing.T) {
	paths, err := filepath.Glob("../config/scenarios/*.yaml")
	require.NoError(t, err)
	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			replayShipped(t, filepath.Base(path))
		})
	}
}

type modeStep struct {
	Mode     arbitration.ModeTag
	Throttle float64
}

func stepsOf(trace []ReplayTick, from, to int) []modeStep {
	out := make([]modeStep, 0, to-from)
	for _, tk := range trace[from:to] {
		out = append(out, modeStep{Mode: tk.Command.Mode, Throttle: tk.Command.Throttle})
	}
	return out
}

func TestExitStopTrace(t *testing.T) {
	res := replayShipped(t, "exit_stop.yaml")
	require.Len(t, res.Trace, 100)

	assert.Equal(t, arbitration.ModeUser, res.Trace[10].Command.Mode)
	assert.True(t, res.Trace[10].Actions.Has(arbitration.ActionModeToggle))
	assert.Equal(t, arbitration.ModeAI, res.Trace[11].Command.Mode)
	assert.Equal(t, 0.1, res.Trace[11].Command.Steering)

	var want []modeStep
	want = append(want, modeStep{arbitration.ModeAI, 0.22})
	want = append(want, modeStep{arbitration.ModeEmergencyStop, -0.25}, modeStep{arbitration.ModeEmergencyStop, 0.01})
	for i := 0; i < 5; i++ {
		want = append(want, modeStep{arbitration.ModeEmergencyStop, -0.25})
	}
	for i := 0; i < 21; i++ {
		want = append(want, modeStep{arbitration.ModeEmergencyStop, 0})
	}
	want = append(want, modeStep{arbitration.ModeSafe, 0})

	if diff := cmp.Diff(want, stepsOf(res.Trace, 41, 71)); diff != "" {
		t.Errorf("ticks 41..70 mismatch (-want +got):\n%s", diff)
	}
	for _, tk := range res.Trace[42:70] {
		assert.Zero(t, tk.Command.Steering, "tick %d", tk.Tick)
	}

	s := res.Summary
	assert.Equal(t, "exit_stop", s.Scenario)
	assert.Equal(t, 100, s.Ticks)
	assert.Equal(t, arbitration.ModeSafe, s.FinalMode)
	assert.Equal(t, uint64(3), s.Transitions)
	assert.Equal(t, []arbitration.ModeTag{
		arbitration.ModeUser, arbitration.ModeAI, arbitration.ModeEmergencyStop, arbitration.ModeSafe,
	}, s.Visits)
	assert.Equal(t, map[arbitration.ModeTag]int{
		arbitration.ModeUser:          11,
		arbitration.ModeAI:            31,
		arbitration.ModeEmergencyStop: 28,
		arbitration.ModeSafe:          30,
	}, s.ModeTicks)
}

func TestWatchdogStopsSilentModel(t *testing.T) {
	res := replayShipped(t, "ai_watchdog.yaml")

	assert.Equal(t, arbitration.ModeAI, res.Trace[49].Command.Mode)
	assert.Equal(t, arbitration.ModeEmergencyStop, res.Trace[50].Command.Mode)
	assert.Equal(t, -0.25, res.Trace[50].Command.Throttle)
	assert.Equal(t, arbitration.ModeEmergencyStop, res.Trace[77].Command.Mode)
	assert.Equal(t, arbitration.ModeSafe, res.Trace[78].Command.Mode)
}

func TestTakeoverReturnsToModel(t *testing.T) {
	res := replayShipped(t, "takeover.yaml")

	assert.Equal(t, arbitration.ModeAI, res.Trace[20].Command.Mode)
	assert.Equal(t, arbitration.ModeTakeover, res.Trace[21].Command.Mode)
	assert.Equal(t, -1.0, res.Trace[21].Command.Steering)
	assert.Equal(t, 0.5, res.Trace[36].Command.Steering)
	assert.Equal(t, 0.2, res.Trace[51].Command.Throttle)
	assert.Equal(t, arbitration.ModeAI, res.Trace[52].Command.Mode)
	assert.Equal(t, 31, res.Summary.ModeTicks[arbitration.ModeTakeover])
}

func TestReturnReentersModel(t *testing.T) {
	res := replayShipped(t, "return_reentry.yaml")

	assert.Equal(t, arbitration.ModeSafe, res.Trace[80].Command.Mode)
	assert.Equal(t, arbitration.ModeReturn, res.Trace[81].Command.Mode)
	assert.Equal(t, -0.10, res.Trace[81].Command.Steering)
	assert.Equal(t, 0.18, res.Trace[81].Command.Throttle)
	assert.Equal(t, arbitration.ModeReturn, res.Trace[103].Command.Mode)
	assert.Equal(t, arbitration.ModeAI, res.Trace[104].Command.Mode)
}

func TestCheckReportsUnmetExpectations(t *testing.T) {
	s := ReplaySummary{
		FinalMode: arbitration.ModeSafe,
		Visits:    []arbitration.ModeTag{arbitration.ModeUser, arbitration.ModeAI, arbitration.ModeSafe},
	}

	assert.NoError(t, s.Check(ScenarioExpect{FinalMode: "safe", Visits: []string{"user_mode", "safe_mode"}}))

	err := s.Check(ScenarioExpect{FinalMode: "ai_mode"})
	assert.True(t, errors.Is(err, errExpectation))

	err = s.Check(ScenarioExpect{Visits: []string{"safe_mode", "ai_mode"}})
	assert.True(t, errors.Is(err, errExpectation))

	err = s.Check(ScenarioExpect{Visits: []string{"emergency_stop_mode"}})
	assert.True(t, errors.Is(err, errExpectation))
}

func TestReplayIntoStore(t *testing.T) {
	db, err := telemetry.Open(filepath.Join(t.TempDir(), "replay.db"))
	require.NoError(t, err)
	defer db.Close()

	scen, err := LoadScenario("../config/scenarios/exit_stop.yaml")
	require.NoError(t, err)

	ctx := context.Background()
	log := quietLogger()
	res, id, err := replayIntoStore(ctx, db, NewReplayer(vehicleConfig(t), log), scen, log)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.Equal(t, arbitration.ModeSafe, res.Summary.FinalMode)

	runs, err := db.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].ID)
	assert.Equal(t, "replay", runs[0].Source)
	assert.Equal(t, "exit_stop", runs[0].Label)
	assert.Equal(t, int64(100), runs[0].Ticks)
	assert.Equal(t, "safe_mode", runs[0].FinalMode)
	require.NotNil(t, runs[0].EndedAt)

	ticks, err := db.RunTicks(ctx, id)
	require.NoError(t, err)
	require.Len(t, ticks, 100)
	assert.Equal(t, "emergency_stop_mode", ticks[42].Mode)
	assert.Equal(t, -0.25, ticks[42].Throttle)
	assert.Equal(t, "{mode_toggle}", ticks[10].Actions)

	counts, err := db.ModeCounts(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{
		"user_mode": 11, "ai_mode": 31, "emergency_stop_mode": 28, "safe_mode": 30,
	}, counts)
}

package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kart-drive-core/drive_loop/arbitration"
)

func TestShippedScenariosLoad(t *testing.T) {
	paths, err := filepath.Glob("../config/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			scen, err := LoadScenario(path)
			require.NoError(t, err)
			assert.NotEmpty(t, scen.Meta.Name)
			assert.Positive(t, scen.Ticks())
		})
	}
}

const sampleScenario = `
meta: {name: sample}
timing: {dt_s: 0.1, duration_s: 2}
defaults:
  user_throttle: 0.3
  ai_steering: 0.2
  exit_prob: 0.01
  brightness: 1000
segments:
  - t0: 0.5
    t1: 1.0
    exit_prob: 0.9
    box: {valid: true, x: 10, y: 60}
    actions: [mode_toggle, increase_throttle]
  - t0: 0.8
    ai_silent: true
  - t0: 1.5
    ranging:
      size: 8
      fill: 1000
      blocked: {start: 2, end: 4, distance: 100}
`

func TestScenarioSample(t *testing.T) {
	scen, err := ParseScenario([]byte(sampleScenario))
	require.NoError(t, err)
	assert.Equal(t, 20, scen.Ticks())

	s := scen.Sample(0)
	assert.Equal(t, 0.3, s.UserThrottle)
	assert.Equal(t, 0.2, s.AISteering)
	assert.True(t, s.AIPresent)
	assert.Equal(t, 0.01, s.ExitProb)
	assert.Equal(t, 1000.0, s.Brightness)
	assert.False(t, s.Box.Valid)
	assert.Nil(t, s.Ranging)
	assert.True(t, s.Actions.Empty())

	s = scen.Sample(5)
	assert.Equal(t, 0.9, s.ExitProb)
	assert.Equal(t, arbitration.DetectionBox{Valid: true, X: 10, Y: 60}, s.Box)
	assert.Equal(t, arbitration.NewActionSet(arbitration.ActionModeToggle, arbitration.ActionIncreaseThrottle), s.Actions)

	// Actions fire once, inputs hold for the whole segment.
	s = scen.Sample(6)
	assert.Equal(t, 0.9, s.ExitProb)
	assert.True(t, s.Actions.Empty())

	// t1 is exclusive; the open-ended segment keeps going.
	s = scen.Sample(10)
	assert.Equal(t, 0.01, s.ExitProb)
	assert.False(t, s.AIPresent)

	s = scen.Sample(15)
	assert.Equal(t, []float64{1000, 1000, 100, 100, 1000, 1000, 1000, 1000}, s.Ranging)
	assert.False(t, s.AIPresent)
}

func TestScenarioValidation(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"zero dt", "timing: {dt_s: 0, duration_s: 1}"},
		{"zero duration", "timing: {dt_s: 0.1, duration_s: 0}"},
		{"negative t0", "timing: {dt_s: 0.1, duration_s: 1}\nsegments: [{t0: -1}]"},
		{"t1 before t0", "timing: {dt_s: 0.1, duration_s: 1}\nsegments: [{t0: 0.5, t1: 0.2}]"},
		{"unknown action", "timing: {dt_s: 0.1, duration_s: 1}\nsegments: [{t0: 0, actions: [boost]}]"},
		{"unknown final mode", "timing: {dt_s: 0.1, duration_s: 1}\nexpect: {final_mode: turbo_mode}"},
		{"unknown visit", "timing: {dt_s: 0.1, duration_s: 1}\nexpect: {visits: [ai_mode, turbo]}"},
		{"bad yaml", "timing: [1, 2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadScenarioMissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

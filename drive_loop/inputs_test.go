package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"kart-drive-core/drive_loop/arbitration"
)

func newTestStore() *InputStore {
	return NewInputStore(BufferConfig{Exit: 2, Brightness: 3}, map[uint]arbitration.Action{
		0: arbitration.ActionModeToggle,
		1: arbitration.ActionTriggerEmergencyStop,
	})
}

func TestButtonsFireOnRisingEdge(t *testing.T) {
	s := newTestStore()

	s.SetJoystick(0.1, 0.2, 0b01)
	in := s.Snapshot(arbitration.ModeUser)
	assert.Equal(t, arbitration.NewActionSet(arbitration.ActionModeToggle), in.Actions)
	assert.Equal(t, 0.1, in.UserSteering)
	assert.Equal(t, 0.2, in.UserThrottle)

	// Held: nothing new.
	s.SetJoystick(0.1, 0.2, 0b01)
	assert.True(t, s.Snapshot(arbitration.ModeUser).Actions.Empty())

	s.SetJoystick(0, 0, 0b11)
	assert.Equal(t, arbitration.NewActionSet(arbitration.ActionTriggerEmergencyStop), s.Snapshot(arbitration.ModeUser).Actions)

	s.SetJoystick(0, 0, 0)
	s.SetJoystick(0, 0, 0b01)
	assert.True(t, s.Snapshot(arbitration.ModeUser).Actions.Has(arbitration.ActionModeToggle))
}

func TestPressesBetweenTicksAccumulate(t *testing.T) {
	s := newTestStore()
	s.SetJoystick(0, 0, 0b01)
	s.SetJoystick(0, 0, 0b00)
	s.SetJoystick(0, 0, 0b10)
	s.AddActions(arbitration.NewActionSet(arbitration.ActionIncreaseThrottle))

	in := s.Snapshot(arbitration.ModeAI)
	assert.Equal(t, 3, in.Actions.Len())
	assert.True(t, s.Snapshot(arbitration.ModeAI).Actions.Empty())
}

func TestRemoteEngageOnlyWhenNotAutonomous(t *testing.T) {
	s := newTestStore()
	engage, err := parseRemoteWord("ai")
	assert.NoError(t, err)

	s.AddRemote(engage)
	assert.True(t, s.Snapshot(arbitration.ModeUser).Actions.Has(arbitration.ActionModeToggle))

	s.AddRemote(engage)
	assert.True(t, s.Snapshot(arbitration.ModeAI).Actions.Empty())

	// Drained even when it did not fire.
	assert.True(t, s.Snapshot(arbitration.ModeUser).Actions.Empty())
}

func TestRollingSumsAndSignals(t *testing.T) {
	s := newTestStore()
	for _, p := range []float64{0.5, 0.25, 0.125} {
		s.PushExit(p)
	}
	for i := 0; i < 5; i++ {
		s.PushBrightness(100)
	}
	s.SetRanging([]float64{1, 2, 3})

	in := s.Snapshot(arbitration.ModeUser)
	assert.Equal(t, 0.375, in.ExitSum)
	assert.Equal(t, 300.0, in.BrightnessSum)
	assert.Equal(t, []float64{1, 2, 3}, in.Ranging)
}

func TestSetAIStampsWatchdog(t *testing.T) {
	s := newTestStore()
	assert.True(t, s.LastAI().IsZero())

	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return at }
	box := arbitration.DetectionBox{Valid: true, X: 10, Y: 60}
	s.SetAI(-0.4, box)

	assert.Equal(t, at, s.LastAI())
	in := s.Snapshot(arbitration.ModeAI)
	assert.Equal(t, -0.4, in.AISteering)
	assert.Equal(t, box, in.Box)
}

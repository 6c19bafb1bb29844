package main

import (
	"sync"
	"time"

	"kart-drive-core/drive_loop/arbitration"
	"kart-drive-core/drive_loop/sensing"
)

// InputStore holds the latest value of every input. RX goroutines write to it;
// the control loop takes one coherent Snapshot per tick.
type InputStore struct {
	mu sync.Mutex

	userSteering float64
	userThrottle float64
	aiSteering   float64
	box          arbitration.DetectionBox
	ranging      []float64

	exit       *sensing.Rolling
	brightness *sensing.Rolling

	buttons     map[uint]arbitration.Action
	lastButtons uint64
	pending     arbitration.ActionSet
	engage      bool

	lastAI time.Time
	now    func() time.Time
}

func NewInputStore(buffers BufferConfig, buttons map[uint]arbitration.Action) *InputStore {
	return &InputStore{
		exit:       sensing.NewRolling(buffers.Exit),
		brightness: sensing.NewRolling(buffers.Brightness),
		buttons:    buttons,
		now:        time.Now,
	}
}

// SetJoystick stores the stick axes and turns newly pressed buttons into
// actions. A held button fires once.
func (s *InputStore) SetJoystick(steering, throttle float64, buttons uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.userSteering = steering
	s.userThrottle = throttle

	pressed := buttons &^ s.lastButtons
	s.lastButtons = buttons
	for bit, action := range s.buttons {
		if pressed&(1<<bit) != 0 {
			s.pending = s.pending.With(action)
		}
	}
}

// SetAI stores one inference result and feeds the watchdog.
func (s *InputStore) SetAI(steering float64, box arbitration.DetectionBox) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aiSteering = steering
	s.box = box
	s.lastAI = s.now()
}

func (s *InputStore) PushExit(prob float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exit.Push(prob)
}

func (s *InputStore) PushBrightness(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.brightness.Push(v)
}

// SetRanging replaces the latest scan. The store keeps scan; callers must not
// modify it afterwards.
func (s *InputStore) SetRanging(scan []float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ranging = scan
}

// AddActions queues actions for the next snapshot.
func (s *InputStore) AddActions(set arbitration.ActionSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = s.pending.Union(set)
}

// AddRemote queues a remote command. Engage requests only toggle when the
// kart is not already driving autonomously.
func (s *InputStore) AddRemote(cmd remoteCommand) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cmd.unlessAutonomous {
		s.engage = true
		return
	}
	s.pending = s.pending.With(cmd.action)
}

// LastAI is when the last inference result arrived; zero if none has.
func (s *InputStore) LastAI() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAI
}

// Snapshot returns the inputs for one tick and drains the queued actions.
func (s *InputStore) Snapshot(mode arbitration.ModeTag) arbitration.Inputs {
	s.mu.Lock()
	defer s.mu.Unlock()

	actions := s.pending
	if s.engage && !mode.Autonomous() {
		actions = actions.With(arbitration.ActionModeToggle)
	}
	s.pending = 0
	s.engage = false

	return arbitration.Inputs{
		UserSteering:  s.userSteering,
		UserThrottle:  s.userThrottle,
		Actions:       actions,
		AISteering:    s.aiSteering,
		Box:           s.box,
		ExitSum:       s.exit.Sum(),
		BrightnessSum: s.brightness.Sum(),
		Ranging:       s.ranging,
	}
}

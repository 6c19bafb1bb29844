package arbitration

// script plays a fixed list of values back, one per tick.
type script struct {
	steps  []float64
	cursor int
}

func (s *script) pop() (float64, bool) {
	if s.cursor >= len(s.steps) {
		return 0, false
	}
	v := s.steps[s.cursor]
	s.cursor++
	return v, true
}

// emergencyStopMode brakes along the emergency throttle script with the wheels
// straight. Actions are not consulted until the script is drained; the tick
// after the last step outputs a full stop and hands over to safe mode.
type emergencyStopMode struct {
	base
	throttle script
}

func newEmergencyStopMode(env modeEnv) Mode {
	return &emergencyStopMode{
		base:     newBase(ModeEmergencyStop, env),
		throttle: script{steps: env.cfg.EmergencySequence},
	}
}

func (m *emergencyStopMode) Tick(Inputs) (float64, float64) {
	if v, ok := m.throttle.pop(); ok {
		return 0, v
	}
	m.request(ModeSafe)
	return 0, 0
}

// takeoverMode swerves along the takeover steering script at a constant
// throttle, then gives control back to the model.
type takeoverMode struct {
	base
	cfg      *Config
	steering script
}

func newTakeoverMode(env modeEnv) Mode {
	return &takeoverMode{
		base:     newBase(ModeTakeover, env),
		cfg:      env.cfg,
		steering: script{steps: env.cfg.TakeoverSequence},
	}
}

func (m *takeoverMode) Tick(Inputs) (float64, float64) {
	if v, ok := m.steering.pop(); ok {
		return v, m.cfg.TakeoverThrottle
	}
	m.request(ModeAI)
	return 0, m.cfg.TakeoverThrottle
}

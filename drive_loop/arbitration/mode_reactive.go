package arbitration

import "fmt"

// userMode passes the human controls through.
type userMode struct {
	base
}

func newUserMode(env modeEnv) Mode {
	return &userMode{base: newBase(ModeUser, env)}
}

func (m *userMode) Tick(in Inputs) (float64, float64) {
	m.consume(in.Actions, nil)
	return in.UserSteering, in.UserThrottle
}

// aiSteeringMode steers from the model and keeps the human throttle.
type aiSteeringMode struct {
	base
}

func newAISteeringMode(env modeEnv) Mode {
	return &aiSteeringMode{base: newBase(ModeAISteering, env)}
}

func (m *aiSteeringMode) Tick(in Inputs) (float64, float64) {
	m.consume(in.Actions, nil)
	return in.AISteering, in.UserThrottle
}

// aiMode steers from the model at a constant, trimmable throttle and watches
// the danger signals.
type aiMode struct {
	base
	cfg      *Config
	throttle float64
}

func newAIMode(env modeEnv) Mode {
	return &aiMode{
		base:     newBase(ModeAI, env),
		cfg:      env.cfg,
		throttle: env.cfg.DefaultThrottle,
	}
}

func (m *aiMode) Tick(in Inputs) (float64, float64) {
	m.consume(in.Actions, m.trim)
	if reason := m.danger(in); reason != "" {
		m.log.Info("%s: %s", m.tag, reason)
		m.request(ModeEmergencyStop)
	}
	return in.AISteering, m.throttle
}

func (m *aiMode) trim(delta float64) {
	m.throttle = clamp(m.throttle+delta, 0, m.cfg.MaxThrottle)
	m.log.Debug("%s: throttle trimmed to %.2f", m.tag, m.throttle)
}

// danger returns why the kart must stop, or "" when it may keep driving.
func (m *aiMode) danger(in Inputs) string {
	switch {
	case in.ExitSum > m.cfg.ExitThreshold:
		return fmt.Sprintf("exit likelihood %.3f above %.3f", in.ExitSum, m.cfg.ExitThreshold)
	case in.BrightnessSum < m.cfg.BrightnessThreshold:
		return fmt.Sprintf("brightness %.0f below %.0f", in.BrightnessSum, m.cfg.BrightnessThreshold)
	case m.cfg.ForbiddenZone.Contains(in.Box):
		return fmt.Sprintf("detection box (%.0f, %.0f) inside forbidden zone", in.Box.X, in.Box.Y)
	case m.cfg.Obstacle.Enabled && len(in.Ranging) > 0 && m.cfg.Obstacle.Check(in.Ranging):
		return fmt.Sprintf("obstacle within %.0f in scan [%d, %d)", m.cfg.Obstacle.Distance, m.cfg.Obstacle.Start, m.cfg.Obstacle.End)
	}
	return ""
}

// returnMode backs the kart away along a fixed arc until the exit signal
// clears.
type returnMode struct {
	base
	cfg *Config
}

func newReturnMode(env modeEnv) Mode {
	return &returnMode{base: newBase(ModeReturn, env), cfg: env.cfg}
}

func (m *returnMode) Tick(in Inputs) (float64, float64) {
	m.consume(in.Actions, nil)
	if in.ExitSum < m.cfg.ReturnReentryThreshold {
		m.request(ModeAI)
	}
	return m.cfg.ReturnSteering, m.cfg.ReturnThrottle
}

// safeMode follows an emergency stop: the kart stays drivable by hand but is
// flagged until the operator leaves it explicitly.
type safeMode struct {
	base
}

func newSafeMode(env modeEnv) Mode {
	return &safeMode{base: newBase(ModeSafe, env)}
}

func (m *safeMode) Tick(in Inputs) (float64, float64) {
	m.consume(in.Actions, nil)
	return in.UserSteering, in.UserThrottle
}

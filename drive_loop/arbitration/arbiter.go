// Package arbitration decides, once per control tick, who drives the kart:
// the human, the model, or a safety override.
//
// The Arbiter owns exactly one active Mode. Each tick it sanitizes the inputs,
// lets the active mode compute the command, and only then commits any
// transition the mode requested. The Arbiter is not safe for concurrent use;
// the host must serialize calls to Tick.
package arbitration

import (
	"fmt"
	"math"
)

// Arbiter owns the active mode and runs the per-tick decision.
type Arbiter struct {
	cfg       Config
	log       Logger
	reactions reactionTable
	active    Mode

	transitions uint64
}

// NewArbiter validates cfg and the reaction table and starts in
// cfg.InitialMode. A nil logger discards diagnostics.
func NewArbiter(cfg Config, log Logger) (*Arbiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = nopLogger{}
	}
	cfg.EmergencySequence = append([]float64(nil), cfg.EmergencySequence...)
	cfg.TakeoverSequence = append([]float64(nil), cfg.TakeoverSequence...)

	reactions := buildReactions(cfg)
	if err := reactions.validate(); err != nil {
		return nil, err
	}

	a := &Arbiter{cfg: cfg, log: log, reactions: reactions}
	if !a.setMode(cfg.InitialMode) {
		return nil, fmt.Errorf("%w: cannot start in %s", ErrInvalidConfig, cfg.InitialMode)
	}
	a.transitions = 0
	return a, nil
}

// Tick runs one control period. The returned command is attributed to the
// mode that computed it, even when that mode hands over afterwards.
func (a *Arbiter) Tick(in Inputs) Command {
	in = sanitize(in)

	mode := a.active
	steering, throttle := mode.Tick(in)
	cmd := Command{
		Steering: clampUnit(steering),
		Throttle: clampUnit(throttle),
		Mode:     mode.Tag(),
	}

	if next, ok := mode.Next(); ok {
		a.setMode(next)
	}
	return cmd
}

// Mode returns the active mode.
func (a *Arbiter) Mode() ModeTag {
	return a.active.Tag()
}

// Transitions returns how many mode changes were committed since start.
func (a *Arbiter) Transitions() uint64 {
	return a.transitions
}

// Config returns the configuration the arbiter was built with.
func (a *Arbiter) Config() Config {
	return a.cfg
}

// ForceEmergencyStop enters the emergency stop before the next tick. The host
// calls it when a collaborator faults. A stop already in progress is not
// restarted.
func (a *Arbiter) ForceEmergencyStop(reason string) {
	if a.active.Tag() == ModeEmergencyStop {
		a.log.Debug("emergency stop already running, ignoring: %s", reason)
		return
	}
	a.log.Warn("forcing %s from %s: %s", ModeEmergencyStop, a.active.Tag(), reason)
	a.setMode(ModeEmergencyStop)
}

// setMode replaces the active mode with a fresh instance of tag. Unknown tags
// are logged and leave the active mode untouched.
func (a *Arbiter) setMode(tag ModeTag) bool {
	if !tag.Valid() || factories[tag] == nil {
		a.log.Warn("mode %s doesn't exist, staying in %s", tag, a.activeLabel())
		return false
	}
	mode := factories[tag](modeEnv{cfg: &a.cfg, reactions: a.reactions, log: a.log})
	a.log.Info("changing mode: %s -> %s", a.activeLabel(), tag)
	a.active = mode
	a.transitions++
	return true
}

func (a *Arbiter) activeLabel() string {
	if a.active == nil {
		return "none"
	}
	return a.active.Tag().String()
}

// sanitize clamps out-of-domain numeric inputs so a bad sample never stalls
// the loop. Non-finite danger sums are read as having crossed their
// threshold.
func sanitize(in Inputs) Inputs {
	in.UserSteering = clampUnit(in.UserSteering)
	in.UserThrottle = clampUnit(in.UserThrottle)
	// A faulted model must not turn into full lock.
	if math.IsInf(in.AISteering, 0) {
		in.AISteering = 0
	}
	in.AISteering = clampUnit(in.AISteering)
	if math.IsNaN(in.ExitSum) {
		in.ExitSum = math.Inf(1)
	}
	if math.IsNaN(in.BrightnessSum) {
		in.BrightnessSum = 0
	}
	if math.IsNaN(in.Box.X) || math.IsNaN(in.Box.Y) {
		in.Box.Valid = false
	}
	return in
}

// clampUnit keeps v inside [-1, 1]; NaN maps to 0.
func clampUnit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return clamp(v, -1, 1)
}

// clamp keeps value inside [lo, hi].
func clamp(value, lo, hi float64) float64 {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}

package arbitration

import (
	"errors"
	"fmt"
	"math"

	"kart-drive-core/drive_loop/sensing"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid driver config")

// Zone is an axis-aligned pixel region: XMin <= x < XMax and YMin < y <= YMax.
type Zone struct {
	XMin float64 `yaml:"x_min"`
	XMax float64 `yaml:"x_max"`
	YMin float64 `yaml:"y_min"`
	YMax float64 `yaml:"y_max"`
}

// Contains reports whether a valid detection box lies inside the zone.
func (z Zone) Contains(box DetectionBox) bool {
	if !box.Valid {
		return false
	}
	return z.YMin < box.Y && box.Y <= z.YMax && z.XMin <= box.X && box.X < z.XMax
}

// ObstacleConfig enables the ranging check of the autonomous mode.
type ObstacleConfig struct {
	Enabled        bool `yaml:"enabled"`
	sensing.Window `yaml:",inline"`
}

// Config holds every threshold and scripted sequence threaded into the modes.
// It is supplied once at construction and never mutated afterwards.
type Config struct {
	InitialMode    ModeTag `yaml:"initial_mode"`
	AutonomousMode ModeTag `yaml:"autonomous_mode"`

	DefaultThrottle float64 `yaml:"default_throttle"`
	MaxThrottle     float64 `yaml:"max_throttle"`
	ThrottleStep    float64 `yaml:"throttle_step"`

	ExitThreshold       float64 `yaml:"exit_threshold"`
	BrightnessThreshold float64 `yaml:"brightness_threshold"`

	ReturnReentryThreshold float64 `yaml:"return_reentry_threshold"`
	ReturnSteering         float64 `yaml:"return_steering"`
	ReturnThrottle         float64 `yaml:"return_throttle"`

	TakeoverThrottle  float64   `yaml:"takeover_throttle"`
	EmergencySequence []float64 `yaml:"emergency_sequence"`
	TakeoverSequence  []float64 `yaml:"takeover_sequence"`

	ForbiddenZone Zone           `yaml:"forbidden_zone"`
	Obstacle      ObstacleConfig `yaml:"obstacle"`
}

// DefaultBrightnessWindow is the rolling window length the default brightness
// threshold was derived for.
const DefaultBrightnessWindow = 10

// DefaultConfig returns the tuning the kart was driven with.
func DefaultConfig() Config {
	const maxThrottle = 0.25
	return Config{
		InitialMode:            ModeUser,
		AutonomousMode:         ModeAI,
		DefaultThrottle:        0.22,
		MaxThrottle:            maxThrottle,
		ThrottleStep:           0.01,
		ExitThreshold:          1.0,
		BrightnessThreshold:    50000 * DefaultBrightnessWindow,
		ReturnReentryThreshold: 0.1,
		ReturnSteering:         -0.10,
		ReturnThrottle:         0.18,
		TakeoverThrottle:       0.20,
		EmergencySequence:      EmergencySequenceFor(maxThrottle),
		TakeoverSequence:       TakeoverSequence(),
		ForbiddenZone:          Zone{XMin: 0, XMax: 100, YMin: 50, YMax: 120},
		Obstacle: ObstacleConfig{
			Enabled: true,
			Window:  sensing.Window{Start: 135, End: 225, Distance: 600, MinRun: 3},
		},
	}
}

// EmergencySequenceFor builds the brake-pulse throttle script for a kart whose
// joystick tops out at maxThrottle.
func EmergencySequenceFor(maxThrottle float64) []float64 {
	seq := []float64{-maxThrottle, 0.01}
	for i := 0; i < 5; i++ {
		seq = append(seq, -maxThrottle)
	}
	for i := 0; i < 20; i++ {
		seq = append(seq, 0)
	}
	return seq
}

// TakeoverSequence is a hard-left swerve followed by a gentle right recovery.
func TakeoverSequence() []float64 {
	seq := make([]float64, 0, 30)
	for i := 0; i < 15; i++ {
		seq = append(seq, -1)
	}
	for i := 0; i < 15; i++ {
		seq = append(seq, 0.5)
	}
	return seq
}

// Validate checks the configuration for values the modes cannot work with.
func (c Config) Validate() error {
	if !c.InitialMode.Valid() {
		return fmt.Errorf("%w: initial_mode %d", ErrInvalidConfig, int(c.InitialMode))
	}
	if c.AutonomousMode != ModeAI && c.AutonomousMode != ModeAISteering {
		return fmt.Errorf("%w: autonomous_mode must be ai_mode or ai_steering_mode, got %s", ErrInvalidConfig, c.AutonomousMode)
	}
	if c.MaxThrottle <= 0 || c.MaxThrottle > 1 {
		return fmt.Errorf("%w: max_throttle %.3f outside (0, 1]", ErrInvalidConfig, c.MaxThrottle)
	}
	if c.DefaultThrottle < 0 || c.DefaultThrottle > c.MaxThrottle {
		return fmt.Errorf("%w: default_throttle %.3f outside [0, %.3f]", ErrInvalidConfig, c.DefaultThrottle, c.MaxThrottle)
	}
	if c.ThrottleStep <= 0 {
		return fmt.Errorf("%w: throttle_step must be > 0", ErrInvalidConfig)
	}
	if len(c.EmergencySequence) == 0 {
		return fmt.Errorf("%w: emergency_sequence is empty", ErrInvalidConfig)
	}
	if len(c.TakeoverSequence) == 0 {
		return fmt.Errorf("%w: takeover_sequence is empty", ErrInvalidConfig)
	}
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"exit_threshold", c.ExitThreshold},
		{"brightness_threshold", c.BrightnessThreshold},
		{"return_reentry_threshold", c.ReturnReentryThreshold},
	} {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return fmt.Errorf("%w: %s must be finite, got %v", ErrInvalidConfig, f.name, f.value)
		}
	}
	for _, s := range []struct {
		name  string
		steps []float64
	}{
		{"emergency_sequence", c.EmergencySequence},
		{"takeover_sequence", c.TakeoverSequence},
	} {
		for i, v := range s.steps {
			if math.IsNaN(v) || v < -1 || v > 1 {
				return fmt.Errorf("%w: %s[%d] = %v outside [-1, 1]", ErrInvalidConfig, s.name, i, v)
			}
		}
	}
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"return_steering", c.ReturnSteering},
		{"return_throttle", c.ReturnThrottle},
		{"takeover_throttle", c.TakeoverThrottle},
	} {
		if math.IsNaN(f.value) || f.value < -1 || f.value > 1 {
			return fmt.Errorf("%w: %s %v outside [-1, 1]", ErrInvalidConfig, f.name, f.value)
		}
	}
	if c.Obstacle.Enabled && c.Obstacle.Start >= c.Obstacle.End {
		return fmt.Errorf("%w: obstacle window [%d, %d) is empty", ErrInvalidConfig, c.Obstacle.Start, c.Obstacle.End)
	}
	return nil
}

package arbitration

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Len(t, cfg.EmergencySequence, 27)
	assert.Equal(t, []float64{-0.25, 0.01, -0.25}, cfg.EmergencySequence[:3])
	assert.Len(t, cfg.TakeoverSequence, 30)
	assert.Equal(t, 500000.0, cfg.BrightnessThreshold)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown initial mode", func(c *Config) { c.InitialMode = 0 }},
		{"autonomous mode not ai", func(c *Config) { c.AutonomousMode = ModeReturn }},
		{"max throttle zero", func(c *Config) { c.MaxThrottle = 0 }},
		{"default above max", func(c *Config) { c.DefaultThrottle = 0.5 }},
		{"zero step", func(c *Config) { c.ThrottleStep = 0 }},
		{"empty emergency", func(c *Config) { c.EmergencySequence = nil }},
		{"empty takeover", func(c *Config) { c.TakeoverSequence = []float64{} }},
		{"emergency out of range", func(c *Config) { c.EmergencySequence = []float64{-2} }},
		{"return throttle out of range", func(c *Config) { c.ReturnThrottle = 1.5 }},
		{"empty obstacle window", func(c *Config) { c.Obstacle.End = c.Obstacle.Start }},
		{"NaN exit threshold", func(c *Config) { c.ExitThreshold = math.NaN() }},
		{"infinite brightness threshold", func(c *Config) { c.BrightnessThreshold = math.Inf(-1) }},
		{"NaN reentry threshold", func(c *Config) { c.ReturnReentryThreshold = math.NaN() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestConfigValidateReportsFirstBadField(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReturnSteering = 2
	cfg.ReturnThrottle = 2
	cfg.TakeoverThrottle = 2
	cfg.EmergencySequence = []float64{-2}
	cfg.TakeoverSequence = []float64{-2}
	for i := 0; i < 20; i++ {
		err := cfg.Validate()
		require.ErrorIs(t, err, ErrInvalidConfig)
		assert.Contains(t, err.Error(), "emergency_sequence[0]")
	}

	cfg.EmergencySequence = EmergencySequenceFor(0.25)
	cfg.TakeoverSequence = TakeoverSequence()
	for i := 0; i < 20; i++ {
		assert.Contains(t, cfg.Validate().Error(), "return_steering")
	}
}

func TestThresholdFromYAMLMustBeFinite(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, yaml.Unmarshal([]byte("exit_threshold: .nan\n"), &cfg))
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestConfigYAML(t *testing.T) {
	doc := `
initial_mode: safe
autonomous_mode: ai_steering_mode
max_throttle: 0.3
obstacle:
  enabled: false
  start: 90
  end: 270
  distance: 450
  min_run: 5
forbidden_zone: {x_min: 10, x_max: 20, y_min: 30, y_max: 40}
`
	cfg := DefaultConfig()
	require.NoError(t, yaml.Unmarshal([]byte(doc), &cfg))

	assert.Equal(t, ModeSafe, cfg.InitialMode)
	assert.Equal(t, ModeAISteering, cfg.AutonomousMode)
	assert.Equal(t, 0.3, cfg.MaxThrottle)
	assert.False(t, cfg.Obstacle.Enabled)
	assert.Equal(t, 90, cfg.Obstacle.Start)
	assert.Equal(t, 5, cfg.Obstacle.MinRun)
	assert.Equal(t, Zone{XMin: 10, XMax: 20, YMin: 30, YMax: 40}, cfg.ForbiddenZone)
	assert.Equal(t, 0.22, cfg.DefaultThrottle, "omitted fields keep defaults")

	out, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(out), "initial_mode: safe_mode")

	err = yaml.Unmarshal([]byte("initial_mode: cruise"), &cfg)
	assert.Error(t, err)
}

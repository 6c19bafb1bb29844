package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"kart-drive-core/drive_loop/arbitration"
)

var errInvalidAppConfig = errors.New("invalid vehicle config")

// FrameNames binds the drive loop's inputs and output to can_map.csv frames.
type FrameNames struct {
	Joystick   string `yaml:"joystick"`
	AIOutput   string `yaml:"ai_output"`
	ExitState  string `yaml:"exit_state"`
	Brightness string `yaml:"brightness"`
	Command    string `yaml:"command"`
}

type CANConfig struct {
	Interface string     `yaml:"interface"`
	Map       string     `yaml:"map"`
	Frames    FrameNames `yaml:"frames"`
}

type RangingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    string `yaml:"port"`
	Baud    int    `yaml:"baud"`
}

type RemoteConfig struct {
	UDPAddr string `yaml:"udp_addr"`
}

type TelemetryConfig struct {
	DBPath     string `yaml:"db_path"`
	UDPAddr    string `yaml:"udp_addr"`
	QueueDepth int    `yaml:"queue_depth"`
}

// BufferConfig sizes the rolling windows whose sums feed the arbiter.
type BufferConfig struct {
	Exit       int `yaml:"exit"`
	Brightness int `yaml:"brightness"`
}

type LogConfig struct {
	File  string `yaml:"file"`
	Level string `yaml:"level"`
}

// AppConfig is the whole vehicle.yaml document.
type AppConfig struct {
	Hz        int                `yaml:"hz"`
	CAN       CANConfig          `yaml:"can"`
	Ranging   RangingConfig      `yaml:"ranging"`
	Remote    RemoteConfig       `yaml:"remote"`
	Telemetry TelemetryConfig    `yaml:"telemetry"`
	Buffers   BufferConfig       `yaml:"buffers"`
	Buttons   map[uint]string    `yaml:"buttons"`
	AITimeout time.Duration      `yaml:"ai_timeout"`
	Log       LogConfig          `yaml:"log"`
	Driver    arbitration.Config `yaml:"driver"`
}

func DefaultAppConfig() AppConfig {
	return AppConfig{
		Hz: 20,
		CAN: CANConfig{
			Interface: "can0",
			Map:       "config/can/can_map.csv",
			Frames: FrameNames{
				Joystick:   "JS_STATE",
				AIOutput:   "AI_OUTPUT",
				ExitState:  "EXIT_STATE",
				Brightness: "BRIGHTNESS_STATE",
				Command:    "KART_CMD",
			},
		},
		Ranging: RangingConfig{Port: "/dev/ttyUSB0", Baud: 115200},
		Telemetry: TelemetryConfig{
			QueueDepth: 1024,
		},
		Buffers: BufferConfig{Exit: 4, Brightness: arbitration.DefaultBrightnessWindow},
		Buttons: map[uint]string{
			0: arbitration.ActionModeToggle.String(),
			1: arbitration.ActionTriggerEmergencyStop.String(),
			2: arbitration.ActionIncreaseThrottle.String(),
			3: arbitration.ActionDecreaseThrottle.String(),
			4: arbitration.ActionTriggerExitSafeMode.String(),
			5: arbitration.ActionTriggerReturnMode.String(),
		},
		AITimeout: 500 * time.Millisecond,
		Log:       LogConfig{File: "drive_loop.log", Level: "info"},
		Driver:    arbitration.DefaultConfig(),
	}
}

// LoadAppConfig reads path over the defaults. When the file omits
// driver.emergency_sequence, the brake script is built for the configured
// max_throttle.
func LoadAppConfig(path string) (AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}
	return ParseAppConfig(data)
}

func ParseAppConfig(data []byte) (AppConfig, error) {
	cfg := DefaultAppConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("parse config: %w", err)
	}

	// yaml.v3 merges into the default button map; a configured table replaces it.
	var probe struct {
		Buttons map[uint]string `yaml:"buttons"`
		Driver  struct {
			EmergencySequence []float64 `yaml:"emergency_sequence"`
		} `yaml:"driver"`
	}
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return AppConfig{}, fmt.Errorf("parse config: %w", err)
	}
	if probe.Driver.EmergencySequence == nil {
		cfg.Driver.EmergencySequence = arbitration.EmergencySequenceFor(cfg.Driver.MaxThrottle)
	}
	if probe.Buttons != nil {
		cfg.Buttons = probe.Buttons
	}

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c AppConfig) Validate() error {
	if c.Hz <= 0 || c.Hz > 1000 {
		return fmt.Errorf("%w: hz %d outside 1..1000", errInvalidAppConfig, c.Hz)
	}
	if c.Buffers.Exit < 1 {
		return fmt.Errorf("%w: buffers.exit must be >= 1, got %d", errInvalidAppConfig, c.Buffers.Exit)
	}
	if c.Buffers.Brightness < 1 {
		return fmt.Errorf("%w: buffers.brightness must be >= 1, got %d", errInvalidAppConfig, c.Buffers.Brightness)
	}
	if c.AITimeout < 0 {
		return fmt.Errorf("%w: ai_timeout must not be negative", errInvalidAppConfig)
	}
	if c.Ranging.Enabled && (c.Ranging.Port == "" || c.Ranging.Baud <= 0) {
		return fmt.Errorf("%w: ranging enabled without port/baud", errInvalidAppConfig)
	}
	f := c.CAN.Frames
	for name, v := range map[string]string{
		"joystick": f.Joystick, "ai_output": f.AIOutput, "exit_state": f.ExitState,
		"brightness": f.Brightness, "command": f.Command,
	} {
		if v == "" {
			return fmt.Errorf("%w: can.frames.%s is empty", errInvalidAppConfig, name)
		}
	}
	if _, err := c.ButtonActions(); err != nil {
		return err
	}
	if err := c.Driver.Validate(); err != nil {
		return err
	}
	return nil
}

// Period is the control tick interval.
func (c AppConfig) Period() time.Duration {
	return time.Second / time.Duration(c.Hz)
}

// ButtonActions resolves the button bit -> action name table.
func (c AppConfig) ButtonActions() (map[uint]arbitration.Action, error) {
	out := make(map[uint]arbitration.Action, len(c.Buttons))
	bits := make([]uint, 0, len(c.Buttons))
	for bit := range c.Buttons {
		bits = append(bits, bit)
	}
	sort.Slice(bits, func(i, j int) bool { return bits[i] < bits[j] })

	for _, bit := range bits {
		if bit > 15 {
			return nil, fmt.Errorf("%w: button bit %d beyond the 16-bit mask", errInvalidAppConfig, bit)
		}
		a, err := arbitration.ParseAction(c.Buttons[bit])
		if err != nil {
			return nil, fmt.Errorf("%w: button %d: %v", errInvalidAppConfig, bit, err)
		}
		out[bit] = a
	}
	return out, nil
}

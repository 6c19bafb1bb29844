package arbitration

import (
	"fmt"
	"strings"
)

// ModeTag identifies one control authority variant.
type ModeTag int

const (
	ModeUser ModeTag = iota + 1
	ModeAISteering
	ModeAI
	ModeReturn
	ModeSafe
	ModeEmergencyStop
	ModeTakeover

	numModes = int(ModeTakeover) + 1
)

var modeLabels = map[ModeTag]string{
	ModeUser:          "user_mode",
	ModeAISteering:    "ai_steering_mode",
	ModeAI:            "ai_mode",
	ModeReturn:        "return_mode",
	ModeSafe:          "safe_mode",
	ModeEmergencyStop: "emergency_stop_mode",
	ModeTakeover:      "takeover_mode",
}

// String returns the telemetry label of the mode.
func (m ModeTag) String() string {
	if label, ok := modeLabels[m]; ok {
		return label
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Valid reports whether m is one of the known variants.
func (m ModeTag) Valid() bool {
	_, ok := modeLabels[m]
	return ok
}

// Code is the numeric mode identifier sent on the actuator frame.
func (m ModeTag) Code() float64 {
	if !m.Valid() {
		return 0
	}
	return float64(m)
}

// Autonomous reports whether the mode steers from the inference output.
func (m ModeTag) Autonomous() bool {
	return m == ModeAI || m == ModeAISteering
}

// ParseModeTag converts a mode label into a ModeTag. Both "ai_mode" and the
// short form "ai" are accepted.
func ParseModeTag(value string) (ModeTag, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for tag, label := range modeLabels {
		if label == normalized || strings.TrimSuffix(label, "_mode") == normalized {
			return tag, nil
		}
	}
	return 0, fmt.Errorf("unknown mode %q", value)
}

// UnmarshalText allows modes to be loaded from config strings.
func (m *ModeTag) UnmarshalText(b []byte) error {
	parsed, err := ParseModeTag(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// MarshalText renders the mode label.
func (m ModeTag) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("unknown mode %d", int(m))
	}
	return []byte(m.String()), nil
}

// Command is the output of one tick, attributed to the mode that computed it.
type Command struct {
	Steering float64
	Throttle float64
	Mode     ModeTag
}

// DetectionBox is the vision detector output consumed by the forbidden-zone
// check. Coordinates are image pixels.
type DetectionBox struct {
	Valid bool
	X     float64
	Y     float64
}

// Inputs is the coherent snapshot of every signal consumed by one tick.
type Inputs struct {
	UserSteering float64
	UserThrottle float64
	Actions      ActionSet

	AISteering float64
	Box        DetectionBox

	// Rolling window sums, not means.
	ExitSum       float64
	BrightnessSum float64

	// Distance samples by angle index. Nil when no ranging data is available.
	Ranging []float64
}

package utils

import "sort"

// Frame directions in can_map.csv, seen from the kart controller.
const (
	DirectionTX = "tx"
	DirectionRX = "rx"
)

type SignalDef struct {
	Name       string
	StartBit   int
	BitLength  int
	Signed     bool
	Factor     float64
	Offset     float64
	Min        float64
	Max        float64
	Default    float64
	Unit       string
	Comment    string
	Endianness string // only "little" supported
}

type FrameDef struct {
	ID        uint32
	Name      string
	DLC       int
	Direction string
	CycleMS   int
	Signals   []SignalDef
}

// Signal looks a signal up by name.
func (fd *FrameDef) Signal(name string) (SignalDef, bool) {
	for _, s := range fd.Signals {
		if s.Name == name {
			return s, true
		}
	}
	return SignalDef{}, false
}

type CANMap struct {
	ByID   map[uint32]*FrameDef
	ByName map[string]*FrameDef
}

func (m *CANMap) FrameNames() []string {
	out := make([]string, 0, len(m.ByName))
	for k := range m.ByName {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// RequireSignals checks that frame exists, flows in direction and carries
// every named signal. The drive loop calls it at startup so a map edit cannot
// silently drop an input.
func (m *CANMap) RequireSignals(frame, direction string, signals ...string) (*FrameDef, error) {
	fd, err := m.FrameByName(frame)
	if err != nil {
		return nil, err
	}
	if direction != "" && fd.Direction != direction {
		return nil, &MapError{Frame: frame, Reason: "direction is " + fd.Direction + ", want " + direction}
	}
	for _, s := range signals {
		if _, ok := fd.Signal(s); !ok {
			return nil, &MapError{Frame: frame, Reason: "missing signal " + s}
		}
	}
	return fd, nil
}

// MapError reports a CAN map that does not match what the drive loop needs.
type MapError struct {
	Frame  string
	Reason string
}

func (e *MapError) Error() string {
	return "can map: frame " + e.Frame + ": " + e.Reason
}

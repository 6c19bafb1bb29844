package arbitration

import (
	"fmt"
	"math/bits"
	"strings"
)

// Action is a discrete control-surface event (a button press or a remote
// command) observed during one tick.
type Action uint8

const (
	ActionModeToggle Action = iota
	ActionTriggerEmergencyStop
	ActionIncreaseThrottle
	ActionDecreaseThrottle
	ActionTriggerExitSafeMode
	ActionTriggerReturnMode
	ActionTriggerTakeover

	numActions
)

var actionNames = [numActions]string{
	ActionModeToggle:           "mode_toggle",
	ActionTriggerEmergencyStop: "trigger_emergency_stop",
	ActionIncreaseThrottle:     "increase_throttle",
	ActionDecreaseThrottle:     "decrease_throttle",
	ActionTriggerExitSafeMode:  "trigger_exit_safe_mode",
	ActionTriggerReturnMode:    "trigger_return_mode",
	ActionTriggerTakeover:      "trigger_takeover",
}

func (a Action) String() string {
	if a.Valid() {
		return actionNames[a]
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// Valid reports whether a belongs to the known action enumeration.
func (a Action) Valid() bool {
	return a < numActions
}

// ParseAction converts an action name into an Action.
func ParseAction(value string) (Action, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for a, name := range actionNames {
		if name == normalized {
			return Action(a), nil
		}
	}
	return 0, fmt.Errorf("unknown action %q", value)
}

// AllActions returns every known action in enumeration order.
func AllActions() []Action {
	out := make([]Action, 0, numActions)
	for a := Action(0); a < numActions; a++ {
		out = append(out, a)
	}
	return out
}

// ActionSet is an unordered set of actions built fresh every tick.
//
// Iteration always follows enumeration order, which is the documented
// tie-break when two actions request conflicting transitions: the action
// processed last wins.
type ActionSet uint16

// NewActionSet builds a set from the given actions. Invalid actions are
// dropped.
func NewActionSet(actions ...Action) ActionSet {
	var s ActionSet
	for _, a := range actions {
		s = s.With(a)
	}
	return s
}

// With returns a copy of s that also contains a.
func (s ActionSet) With(a Action) ActionSet {
	if !a.Valid() {
		return s
	}
	return s | 1<<a
}

// Union returns the actions present in either set.
func (s ActionSet) Union(o ActionSet) ActionSet {
	return s | o
}

// Has reports whether a is in the set.
func (s ActionSet) Has(a Action) bool {
	return a.Valid() && s&(1<<a) != 0
}

// Empty reports whether the set holds no action.
func (s ActionSet) Empty() bool {
	return s == 0
}

// Len returns the number of actions in the set.
func (s ActionSet) Len() int {
	return bits.OnesCount16(uint16(s))
}

// Actions lists the members of the set in enumeration order.
func (s ActionSet) Actions() []Action {
	out := make([]Action, 0, s.Len())
	for a := Action(0); a < numActions; a++ {
		if s.Has(a) {
			out = append(out, a)
		}
	}
	return out
}

func (s ActionSet) String() string {
	names := make([]string, 0, s.Len())
	for _, a := range s.Actions() {
		names = append(names, a.String())
	}
	return "{" + strings.Join(names, ",") + "}"
}

package arbitration

import "fmt"

type effectKind int

const (
	effectTransition effectKind = iota + 1
	effectTrim
)

// reaction is what one recognized action does to the active mode.
type reaction struct {
	kind   effectKind
	target ModeTag
	delta  float64
}

func transitionTo(target ModeTag) reaction {
	return reaction{kind: effectTransition, target: target}
}

func trimBy(delta float64) reaction {
	return reaction{kind: effectTrim, delta: delta}
}

// reactionTable maps (mode, action) to an effect. Modes with no row, such as
// the scripted ones, never consult their actions.
type reactionTable map[ModeTag]map[Action]reaction

func buildReactions(cfg Config) reactionTable {
	return reactionTable{
		ModeUser: {
			ActionModeToggle:           transitionTo(cfg.AutonomousMode),
			ActionTriggerEmergencyStop: transitionTo(ModeEmergencyStop),
		},
		ModeAISteering: {
			ActionModeToggle:           transitionTo(ModeAI),
			ActionTriggerEmergencyStop: transitionTo(ModeEmergencyStop),
		},
		ModeAI: {
			ActionModeToggle:           transitionTo(ModeUser),
			ActionTriggerEmergencyStop: transitionTo(ModeEmergencyStop),
			ActionIncreaseThrottle:     trimBy(cfg.ThrottleStep),
			ActionDecreaseThrottle:     trimBy(-cfg.ThrottleStep),
			ActionTriggerTakeover:      transitionTo(ModeTakeover),
		},
		ModeReturn: {
			ActionTriggerEmergencyStop: transitionTo(ModeEmergencyStop),
		},
		ModeSafe: {
			ActionTriggerExitSafeMode: transitionTo(ModeUser),
			ActionTriggerReturnMode:   transitionTo(ModeReturn),
		},
	}
}

// validate checks every row against the known mode set and action
// enumeration.
func (t reactionTable) validate() error {
	for mode, row := range t {
		if !mode.Valid() {
			return fmt.Errorf("reaction table: unknown mode %d", int(mode))
		}
		for action, r := range row {
			if !action.Valid() {
				return fmt.Errorf("reaction table: %s reacts to unknown action %d", mode, int(action))
			}
			switch r.kind {
			case effectTransition:
				if !r.target.Valid() {
					return fmt.Errorf("reaction table: %s/%s targets unknown mode %d", mode, action, int(r.target))
				}
			case effectTrim:
				if r.delta == 0 {
					return fmt.Errorf("reaction table: %s/%s has a zero trim", mode, action)
				}
			default:
				return fmt.Errorf("reaction table: %s/%s has no effect", mode, action)
			}
		}
	}
	return nil
}

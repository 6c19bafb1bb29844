package arbitration

// Mode is one control authority. The variant set is closed: only this package
// can implement it.
//
// Tick computes the output for one control period and may record a request
// to leave the mode, which Next reports. The arbiter commits the request only
// after the output has been taken, so the leaving mode still owns the tick in
// which it decided to leave.
type Mode interface {
	Tag() ModeTag
	Tick(in Inputs) (steering, throttle float64)
	Next() (ModeTag, bool)

	sealed()
}

// base carries the state shared by every variant: its reaction row and the
// pending transition request.
type base struct {
	tag       ModeTag
	reactions map[Action]reaction
	log       Logger
	next      ModeTag
}

func newBase(tag ModeTag, env modeEnv) base {
	return base{tag: tag, reactions: env.reactions[tag], log: env.log}
}

func (b *base) Tag() ModeTag { return b.tag }

func (b *base) Next() (ModeTag, bool) { return b.next, b.next != 0 }

func (b *base) sealed() {}

// request records a transition. Later requests replace earlier ones, except
// that a pending emergency stop is never downgraded.
func (b *base) request(target ModeTag) {
	if b.next == ModeEmergencyStop && target != ModeEmergencyStop {
		b.log.Debug("%s: keeping %s over %s", b.tag, ModeEmergencyStop, target)
		return
	}
	b.next = target
}

// consume fires the reaction of every action in the set, in enumeration
// order. trim receives throttle adjustments; modes without a trim pass nil.
func (b *base) consume(actions ActionSet, trim func(delta float64)) {
	if actions.Empty() {
		return
	}
	for a := Action(0); a < numActions; a++ {
		if !actions.Has(a) {
			continue
		}
		r, ok := b.reactions[a]
		if !ok {
			b.log.Warn("%s: action %s does not exist (known: %v)", b.tag, a, b.known())
			continue
		}
		switch r.kind {
		case effectTransition:
			b.request(r.target)
		case effectTrim:
			if trim == nil {
				b.log.Warn("%s: action %s has no throttle to trim", b.tag, a)
				continue
			}
			trim(r.delta)
		}
	}
}

func (b *base) known() ActionSet {
	var s ActionSet
	for a := range b.reactions {
		s = s.With(a)
	}
	return s
}

// modeEnv is what a constructor receives: the shared configuration and the
// host's logger. Nothing else survives a transition.
type modeEnv struct {
	cfg       *Config
	reactions reactionTable
	log       Logger
}

type modeFactory func(env modeEnv) Mode

var factories = [numModes]modeFactory{
	ModeUser:          newUserMode,
	ModeAISteering:    newAISteeringMode,
	ModeAI:            newAIMode,
	ModeReturn:        newReturnMode,
	ModeSafe:          newSafeMode,
	ModeEmergencyStop: newEmergencyStopMode,
	ModeTakeover:      newTakeoverMode,
}

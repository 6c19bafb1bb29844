package main

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"kart-drive-core/drive_loop/arbitration"
)

// Scenario scripts every input of the drive loop over time for replay.
type Scenario struct {
	Meta     ScenarioMeta      `yaml:"meta"`
	Timing   ScenarioTiming    `yaml:"timing"`
	Defaults ScenarioInputs    `yaml:"defaults"`
	Segments []ScenarioSegment `yaml:"segments"`
	Expect   ScenarioExpect    `yaml:"expect"`
}

type ScenarioMeta struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type ScenarioTiming struct {
	DtS       float64 `yaml:"dt_s"`
	DurationS float64 `yaml:"duration_s"`
}

type ScenarioBox struct {
	Valid bool    `yaml:"valid"`
	X     float64 `yaml:"x"`
	Y     float64 `yaml:"y"`
}

// ScenarioRanging synthesises a scan: Size samples of Fill, with an optional
// blocked span.
type ScenarioRanging struct {
	Size    int     `yaml:"size"`
	Fill    float64 `yaml:"fill"`
	Blocked *struct {
		Start    int     `yaml:"start"`
		End      int     `yaml:"end"`
		Distance float64 `yaml:"distance"`
	} `yaml:"blocked,omitempty"`
}

func (r *ScenarioRanging) scan() []float64 {
	if r == nil || r.Size <= 0 {
		return nil
	}
	out := make([]float64, r.Size)
	for i := range out {
		out[i] = r.Fill
	}
	if b := r.Blocked; b != nil {
		for i := max(b.Start, 0); i < min(b.End, r.Size); i++ {
			out[i] = b.Distance
		}
	}
	return out
}

// ScenarioInputs is one sample of every input. Pointer fields left nil in a
// segment inherit the defaults.
type ScenarioInputs struct {
	UserSteering *float64         `yaml:"user_steering,omitempty"`
	UserThrottle *float64         `yaml:"user_throttle,omitempty"`
	AISteering   *float64         `yaml:"ai_steering,omitempty"`
	AISilent     *bool            `yaml:"ai_silent,omitempty"`
	Box          *ScenarioBox     `yaml:"box,omitempty"`
	ExitProb     *float64         `yaml:"exit_prob,omitempty"`
	Brightness   *float64         `yaml:"brightness,omitempty"`
	Ranging      *ScenarioRanging `yaml:"ranging,omitempty"`
}

func (in ScenarioInputs) overlay(top ScenarioInputs) ScenarioInputs {
	if top.UserSteering != nil {
		in.UserSteering = top.UserSteering
	}
	if top.UserThrottle != nil {
		in.UserThrottle = top.UserThrottle
	}
	if top.AISteering != nil {
		in.AISteering = top.AISteering
	}
	if top.AISilent != nil {
		in.AISilent = top.AISilent
	}
	if top.Box != nil {
		in.Box = top.Box
	}
	if top.ExitProb != nil {
		in.ExitProb = top.ExitProb
	}
	if top.Brightness != nil {
		in.Brightness = top.Brightness
	}
	if top.Ranging != nil {
		in.Ranging = top.Ranging
	}
	return in
}

// ScenarioSegment overrides inputs during [t0, t1). A missing or negative t1
// means until the end. Actions fire once, on the tick at t0.
type ScenarioSegment struct {
	T0             float64  `yaml:"t0"`
	T1             *float64 `yaml:"t1,omitempty"`
	ScenarioInputs `yaml:",inline"`
	Actions        []string `yaml:"actions,omitempty"`
	Comment        string   `yaml:"comment,omitempty"`
}

type ScenarioExpect struct {
	FinalMode string   `yaml:"final_mode,omitempty"`
	Visits    []string `yaml:"visits,omitempty"`
}

// ScenarioSample is the resolved input of one replay tick.
type ScenarioSample struct {
	UserSteering float64
	UserThrottle float64
	AISteering   float64
	AIPresent    bool
	Box          arbitration.DetectionBox
	ExitProb     float64
	Brightness   float64
	Ranging      []float64
	Actions      arbitration.ActionSet
}

func LoadScenario(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read file: %w", err)
	}
	return ParseScenario(data)
}

func ParseScenario(data []byte) (Scenario, error) {
	var scen Scenario
	if err := yaml.Unmarshal(data, &scen); err != nil {
		return Scenario{}, fmt.Errorf("unmarshal: %w", err)
	}
	if err := scen.validate(); err != nil {
		return Scenario{}, err
	}
	return scen, nil
}

func (s *Scenario) validate() error {
	if s.Timing.DtS <= 0 {
		return fmt.Errorf("invalid dt_s: %f", s.Timing.DtS)
	}
	if s.Timing.DurationS <= 0 {
		return fmt.Errorf("invalid duration_s: %f", s.Timing.DurationS)
	}
	for i, seg := range s.Segments {
		if seg.T0 < 0 {
			return fmt.Errorf("segment %d: negative t0", i)
		}
		if seg.T1 != nil && *seg.T1 >= 0 && *seg.T1 < seg.T0 {
			return fmt.Errorf("segment %d: t1 %.3f before t0 %.3f", i, *seg.T1, seg.T0)
		}
		for _, name := range seg.Actions {
			if _, err := arbitration.ParseAction(name); err != nil {
				return fmt.Errorf("segment %d: %w", i, err)
			}
		}
	}
	if s.Expect.FinalMode != "" {
		if _, err := arbitration.ParseModeTag(s.Expect.FinalMode); err != nil {
			return fmt.Errorf("expect.final_mode: %w", err)
		}
	}
	for _, v := range s.Expect.Visits {
		if _, err := arbitration.ParseModeTag(v); err != nil {
			return fmt.Errorf("expect.visits: %w", err)
		}
	}
	return nil
}

// Ticks is the number of control ticks the scenario lasts.
func (s *Scenario) Ticks() int {
	return s.tickAt(s.Timing.DurationS)
}

func (s *Scenario) tickAt(t float64) int {
	return int(math.Round(t / s.Timing.DtS))
}

// Sample resolves the inputs of tick i. Later segments override earlier ones.
func (s *Scenario) Sample(tick int) ScenarioSample {
	in := s.Defaults
	var actions arbitration.ActionSet

	for _, seg := range s.Segments {
		first, end := s.tickAt(seg.T0), s.Ticks()
		if seg.T1 != nil && *seg.T1 >= 0 {
			end = s.tickAt(*seg.T1)
		}
		if tick == first {
			for _, name := range seg.Actions {
				a, _ := arbitration.ParseAction(name)
				actions = actions.With(a)
			}
		}
		if tick >= first && tick < end {
			in = in.overlay(seg.ScenarioInputs)
		}
	}

	out := ScenarioSample{
		UserSteering: deref(in.UserSteering, 0),
		UserThrottle: deref(in.UserThrottle, 0),
		AISteering:   deref(in.AISteering, 0),
		AIPresent:    !deref(in.AISilent, false),
		ExitProb:     deref(in.ExitProb, 0),
		Brightness:   deref(in.Brightness, 0),
		Ranging:      in.Ranging.scan(),
		Actions:      actions,
	}
	if in.Box != nil {
		out.Box = arbitration.DetectionBox{Valid: in.Box.Valid, X: in.Box.X, Y: in.Box.Y}
	}
	return out
}

func deref[T any](p *T, fallback T) T {
	if p == nil {
		return fallback
	}
	return *p
}

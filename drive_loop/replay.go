package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"gonum.org/v1/gonum/stat"

	"kart-drive-core/drive_loop/arbitration"
	"kart-drive-core/telemetry"
	"kart-drive-core/utils"
)

var errExpectation = errors.New("scenario expectation not met")

// replayEpoch is tick zero of the simulated clock.
var replayEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// ReplayTick is one replayed control period.
type ReplayTick struct {
	Tick    int
	T       float64
	Actions arbitration.ActionSet
	Command arbitration.Command
}

// ReplaySummary aggregates a replay for the CLI and for expectations.
type ReplaySummary struct {
	Scenario     string
	Ticks        int
	FinalMode    arbitration.ModeTag
	Visits       []arbitration.ModeTag
	ModeTicks    map[arbitration.ModeTag]int
	Transitions  uint64
	MeanThrottle float64
	MeanSteering float64
	StdSteering  float64
}

type ReplayResult struct {
	Trace   []ReplayTick
	Summary ReplaySummary
}

// Replayer feeds a scenario through a Driver on a simulated clock, pushing
// inputs into the store the same way the RX goroutines do.
type Replayer struct {
	cfg AppConfig
	log *utils.Logger
	rec *telemetry.Recorder
}

func NewReplayer(cfg AppConfig, log *utils.Logger) *Replayer {
	return &Replayer{cfg: cfg, log: log}
}

// WithRecorder records every replayed tick.
func (p *Replayer) WithRecorder(rec *telemetry.Recorder) *Replayer {
	p.rec = rec
	return p
}

func (p *Replayer) Replay(scen Scenario) (ReplayResult, error) {
	driver, err := NewDriver(p.cfg, p.log)
	if err != nil {
		return ReplayResult{}, err
	}
	store := driver.Store()

	dt := time.Duration(scen.Timing.DtS * float64(time.Second))
	now := replayEpoch
	store.now = func() time.Time { return now }

	n := scen.Ticks()
	res := ReplayResult{Trace: make([]ReplayTick, 0, n)}
	steering := make([]float64, 0, n)
	throttle := make([]float64, 0, n)

	p.log.Info("Replaying %q: %d ticks of %s, start mode %s", scen.Meta.Name, n, dt, driver.Mode())

	for i := 0; i < n; i++ {
		s := scen.Sample(i)

		store.SetJoystick(s.UserSteering, s.UserThrottle, 0)
		if s.AIPresent {
			store.SetAI(s.AISteering, s.Box)
		}
		store.PushExit(s.ExitProb)
		store.PushBrightness(s.Brightness)
		store.SetRanging(s.Ranging)
		store.AddActions(s.Actions)

		in, cmd := driver.Step(now)
		res.Trace = append(res.Trace, ReplayTick{
			Tick:    i,
			T:       float64(i) * scen.Timing.DtS,
			Actions: in.Actions,
			Command: cmd,
		})
		steering = append(steering, cmd.Steering)
		throttle = append(throttle, cmd.Throttle)

		if p.rec != nil {
			p.rec.Record(sampleOf(uint64(i), now, in, cmd))
		}
		now = now.Add(dt)
	}

	res.Summary = summarize(scen.Meta.Name, res.Trace, driver, steering, throttle)
	return res, nil
}

func summarize(name string, trace []ReplayTick, d *Driver, steering, throttle []float64) ReplaySummary {
	sum := ReplaySummary{
		Scenario:    name,
		Ticks:       len(trace),
		FinalMode:   d.Mode(),
		ModeTicks:   map[arbitration.ModeTag]int{},
		Transitions: d.Arbiter().Transitions(),
	}
	for _, t := range trace {
		sum.ModeTicks[t.Command.Mode]++
		if n := len(sum.Visits); n == 0 || sum.Visits[n-1] != t.Command.Mode {
			sum.Visits = append(sum.Visits, t.Command.Mode)
		}
	}
	if n := len(sum.Visits); n == 0 || sum.Visits[n-1] != sum.FinalMode {
		sum.Visits = append(sum.Visits, sum.FinalMode)
	}
	if len(trace) > 0 {
		sum.MeanThrottle = stat.Mean(throttle, nil)
		sum.MeanSteering, sum.StdSteering = stat.MeanStdDev(steering, nil)
	}
	return sum
}

// Check compares the summary against the scenario's expectations. Visits must
// appear in order, not necessarily adjacent.
func (s ReplaySummary) Check(exp ScenarioExpect) error {
	if exp.FinalMode != "" {
		want, err := arbitration.ParseModeTag(exp.FinalMode)
		if err != nil {
			return err
		}
		if s.FinalMode != want {
			return fmt.Errorf("%w: final mode %s, want %s", errExpectation, s.FinalMode, want)
		}
	}

	rest := s.Visits
	for _, name := range exp.Visits {
		want, err := arbitration.ParseModeTag(name)
		if err != nil {
			return err
		}
		i := slices.Index(rest, want)
		if i < 0 {
			return fmt.Errorf("%w: %s not visited in order (visits %v)", errExpectation, want, s.Visits)
		}
		rest = rest[i+1:]
	}
	return nil
}

// replayIntoStore records a replay as a telemetry run and returns its ID.
func replayIntoStore(ctx context.Context, db *telemetry.Store, p *Replayer, scen Scenario, log *utils.Logger) (ReplayResult, string, error) {
	id, err := db.StartRun(ctx, "replay", scen.Meta.Name, time.Now())
	if err != nil {
		return ReplayResult{}, "", err
	}

	rec := telemetry.NewRecorder(db, id, scen.Ticks()+1, log)
	res, err := p.WithRecorder(rec).Replay(scen)
	if err != nil {
		return ReplayResult{}, id, err
	}

	flushCtx, cancel := context.WithCancel(ctx)
	cancel()
	if err := rec.Run(flushCtx); err != nil {
		return res, id, err
	}

	if err := db.FinishRun(ctx, id, time.Now(), res.Summary.FinalMode.String()); err != nil {
		return res, id, err
	}
	return res, id, nil
}

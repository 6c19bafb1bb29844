package main

import (
	"fmt"
	"time"

	"kart-drive-core/drive_loop/arbitration"
	"kart-drive-core/utils"
)

// Driver couples the arbiter to the input store: one Step per control tick.
// The live runner and the replayer both drive it, so a replayed scenario goes
// through exactly the code the kart runs.
type Driver struct {
	arb       *arbitration.Arbiter
	store     *InputStore
	aiTimeout time.Duration
	log       *utils.Logger
	ticks     uint64
}

func NewDriver(cfg AppConfig, log *utils.Logger) (*Driver, error) {
	buttons, err := cfg.ButtonActions()
	if err != nil {
		return nil, err
	}
	arb, err := arbitration.NewArbiter(cfg.Driver, log)
	if err != nil {
		return nil, fmt.Errorf("arbiter: %w", err)
	}
	return &Driver{
		arb:       arb,
		store:     NewInputStore(cfg.Buffers, buttons),
		aiTimeout: cfg.AITimeout,
		log:       log,
	}, nil
}

func (d *Driver) Store() *InputStore            { return d.store }
func (d *Driver) Mode() arbitration.ModeTag     { return d.arb.Mode() }
func (d *Driver) Ticks() uint64                 { return d.ticks }
func (d *Driver) Arbiter() *arbitration.Arbiter { return d.arb }

// Step runs the AI watchdog, snapshots the inputs and ticks the arbiter.
func (d *Driver) Step(now time.Time) (arbitration.Inputs, arbitration.Command) {
	d.checkAIWatchdog(now)

	in := d.store.Snapshot(d.arb.Mode())
	cmd := d.arb.Tick(in)
	d.ticks++

	d.log.Trace("tick=%d mode=%s steer=%.3f throttle=%.3f actions=%s exit=%.3f bright=%.0f",
		d.ticks, cmd.Mode, cmd.Steering, cmd.Throttle, in.Actions, in.ExitSum, in.BrightnessSum)
	return in, cmd
}

// checkAIWatchdog forces an emergency stop when a mode that steers from the
// model has not heard from it within the timeout.
func (d *Driver) checkAIWatchdog(now time.Time) {
	if d.aiTimeout <= 0 || !d.arb.Mode().Autonomous() {
		return
	}
	last := d.store.LastAI()
	if last.IsZero() {
		d.arb.ForceEmergencyStop("no AI output received yet")
		return
	}
	if age := now.Sub(last); age > d.aiTimeout {
		d.arb.ForceEmergencyStop(fmt.Sprintf("AI output stale for %s (timeout %s)", age, d.aiTimeout))
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"kart-drive-core/drive_loop/arbitration"
	"kart-drive-core/telemetry"
	"kart-drive-core/utils"
)

// Signals the drive loop reads from and writes to the CAN map.
var (
	joystickSignals   = []string{"js_steering", "js_throttle", "js_buttons"}
	aiSignals         = []string{"ai_steering", "box_valid", "box_x", "box_y"}
	exitSignals       = []string{"exit_prob"}
	brightnessSignals = []string{"brightness"}
	commandSignals    = []string{"steering_cmd", "throttle_cmd", "mode_code"}
)

const rxRetryDelay = 10 * time.Millisecond

// RunnerDeps are the collaborators a Runner drives. Nil ranging, remote, db
// and publisher disable that feature.
type RunnerDeps struct {
	CANMap    *utils.CANMap
	Reader    utils.CANReader
	Writer    utils.CANWriter
	Ranging   *utils.RangingReader
	Remote    *RemoteListener
	DB        *telemetry.Store
	Publisher *telemetry.Publisher
}

type Runner struct {
	cfg    AppConfig
	log    *utils.Logger
	deps   RunnerDeps
	driver *Driver
	frames FrameNames
	rec    *telemetry.Recorder
	runID  string

	sent       uint64
	txFailures uint64
	clock      func() time.Time
}

// NewRunner opens the CAN bus and every configured collaborator.
func NewRunner(ctx context.Context, cfg AppConfig, log *utils.Logger) (*Runner, error) {
	cmap, err := utils.LoadCANMap(cfg.CAN.Map)
	if err != nil {
		return nil, fmt.Errorf("load can map: %w", err)
	}

	deps := RunnerDeps{CANMap: cmap}
	fail := func(err error) (*Runner, error) {
		deps.close()
		return nil, err
	}

	if deps.Writer, err = utils.NewSocketCANWriter(ctx, cfg.CAN.Interface); err != nil {
		return fail(err)
	}
	if deps.Reader, err = utils.NewSocketCANReader(ctx, cfg.CAN.Interface); err != nil {
		return fail(err)
	}
	if cfg.Ranging.Enabled {
		if deps.Ranging, err = utils.OpenRangingPort(cfg.Ranging.Port, cfg.Ranging.Baud, log); err != nil {
			return fail(err)
		}
	}
	if cfg.Telemetry.DBPath != "" {
		if deps.DB, err = telemetry.Open(cfg.Telemetry.DBPath); err != nil {
			return fail(err)
		}
	}
	if deps.Publisher, err = telemetry.NewPublisher(cfg.Telemetry.UDPAddr); err != nil {
		return fail(err)
	}

	r, err := newRunner(cfg, log, deps)
	if err != nil {
		return fail(err)
	}
	if cfg.Remote.UDPAddr != "" {
		remote, err := ListenRemote(cfg.Remote.UDPAddr, r.driver.Store(), log)
		if err != nil {
			return fail(err)
		}
		r.deps.Remote = remote
	}
	return r, nil
}

func newRunner(cfg AppConfig, log *utils.Logger, deps RunnerDeps) (*Runner, error) {
	f := cfg.CAN.Frames
	checks := []struct {
		frame, dir string
		signals    []string
	}{
		{f.Joystick, utils.DirectionRX, joystickSignals},
		{f.AIOutput, utils.DirectionRX, aiSignals},
		{f.ExitState, utils.DirectionRX, exitSignals},
		{f.Brightness, utils.DirectionRX, brightnessSignals},
		{f.Command, utils.DirectionTX, commandSignals},
	}
	for _, c := range checks {
		if _, err := deps.CANMap.RequireSignals(c.frame, c.dir, c.signals...); err != nil {
			return nil, err
		}
	}

	driver, err := NewDriver(cfg, log)
	if err != nil {
		return nil, err
	}
	return &Runner{
		cfg:    cfg,
		log:    log,
		deps:   deps,
		driver: driver,
		frames: f,
		clock:  time.Now,
	}, nil
}

func (d *RunnerDeps) close() {
	if d.Remote != nil {
		_ = d.Remote.Close()
	}
	if d.Ranging != nil {
		_ = d.Ranging.Close()
	}
	if d.Reader != nil {
		_ = d.Reader.Close()
	}
	if d.Writer != nil {
		_ = d.Writer.Close()
	}
	if d.Publisher != nil {
		_ = d.Publisher.Close()
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
}

func (r *Runner) Close() {
	r.deps.close()
}

// Run drives the kart until ctx is cancelled. Every collaborator runs in its
// own goroutine; only the control loop touches the arbiter.
func (r *Runner) Run(ctx context.Context) error {
	if r.deps.DB != nil {
		id, err := r.deps.DB.StartRun(ctx, "drive", r.cfg.CAN.Interface, r.clock())
		if err != nil {
			return err
		}
		r.runID = id
		r.rec = telemetry.NewRecorder(r.deps.DB, id, r.cfg.Telemetry.QueueDepth, r.log)
		r.log.Info("Telemetry run %s -> %s", id, r.cfg.Telemetry.DBPath)
	}

	r.log.Info("Starting drive loop: iface=%s hz=%d mode=%s tx=%s",
		r.cfg.CAN.Interface, r.cfg.Hz, r.driver.Mode(), r.frames.Command)

	// Peripheral faults are logged, never returned: only the control loop
	// may end the group, so Tick keeps running without the failed input.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.receiveLoop(gctx) })
	if rng := r.deps.Ranging; rng != nil {
		g.Go(func() error {
			if err := rng.Monitor(gctx); err != nil {
				r.log.Error("Ranging stopped, obstacle check disabled: %v", err)
			}
			return nil
		})
		g.Go(func() error {
			for scan := range rng.Scans() {
				r.driver.Store().SetRanging(scan)
			}
			r.driver.Store().SetRanging(nil)
			return nil
		})
	}
	if remote := r.deps.Remote; remote != nil {
		g.Go(func() error {
			if err := remote.Serve(gctx); err != nil {
				r.log.Error("Remote commands stopped: %v", err)
			}
			return nil
		})
	}
	if r.rec != nil {
		g.Go(func() error { return r.rec.Run(gctx) })
	}
	g.Go(func() error { return r.controlLoop(gctx) })

	err := g.Wait()

	if r.deps.DB != nil {
		if ferr := r.deps.DB.FinishRun(context.Background(), r.runID, r.clock(), r.driver.Mode().String()); ferr != nil {
			r.log.Error("Finish telemetry run: %v", ferr)
		}
	}
	r.log.Info("Completed drive loop. ticks=%d frames_sent=%d tx_failures=%d transitions=%d",
		r.driver.Ticks(), r.sent, r.txFailures, r.driver.Arbiter().Transitions())

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (r *Runner) controlLoop(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Period())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Warn("Context canceled; sending zero command")
			stopCtx, cancel := context.WithTimeout(context.Background(), r.cfg.Period())
			r.transmit(stopCtx, arbitration.Command{Mode: r.driver.Mode()})
			cancel()
			return nil

		case <-ticker.C:
			now := r.clock()
			in, cmd := r.driver.Step(now)
			r.transmit(ctx, cmd)
			r.deps.Publisher.Send(cmd.Steering, cmd.Throttle, cmd.Mode.String())
			if r.rec != nil {
				r.rec.Record(sampleOf(r.driver.Ticks()-1, now, in, cmd))
			}
		}
	}
}

// transmit never fails the loop: a dropped command is logged and the next
// tick sends a fresh one.
func (r *Runner) transmit(ctx context.Context, cmd arbitration.Command) {
	frame, err := r.deps.CANMap.EncodeEinrideFrame(r.frames.Command, map[string]float64{
		"steering_cmd": cmd.Steering,
		"throttle_cmd": cmd.Throttle,
		"mode_code":    cmd.Mode.Code(),
	})
	if err != nil {
		r.txFailures++
		r.log.Critical("Encode %s failed: %v", r.frames.Command, err)
		return
	}
	if err := r.deps.Writer.WriteFrame(ctx, frame); err != nil {
		r.txFailures++
		r.log.Critical("Transmit failed: %v", err)
		return
	}
	r.sent++
	r.log.Trace("TX id=0x%X len=%d data=% X", frame.ID, frame.Length, frame.Data[:frame.Length])
}

func (r *Runner) receiveLoop(ctx context.Context) error {
	r.log.Debug("RX loop started")
	defer r.log.Debug("RX loop stopped")

	for {
		frame, err := r.deps.Reader.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.log.Error("RX error: %v", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(rxRetryDelay):
			}
			continue
		}

		fd, values, err := r.deps.CANMap.DecodeEinrideFrame(frame)
		if err != nil {
			r.log.Trace("RX skip id=0x%X: %v", frame.ID, err)
			continue
		}
		r.apply(fd.Name, values)
	}
}

// apply routes one decoded frame into the input store.
func (r *Runner) apply(frame string, v map[string]float64) {
	store := r.driver.Store()
	switch frame {
	case r.frames.Joystick:
		store.SetJoystick(v["js_steering"], v["js_throttle"], uint64(v["js_buttons"]))
	case r.frames.AIOutput:
		store.SetAI(v["ai_steering"], arbitration.DetectionBox{
			Valid: v["box_valid"] >= 0.5,
			X:     v["box_x"],
			Y:     v["box_y"],
		})
	case r.frames.ExitState:
		store.PushExit(v["exit_prob"])
	case r.frames.Brightness:
		store.PushBrightness(v["brightness"])
	}
}

func sampleOf(tick uint64, at time.Time, in arbitration.Inputs, cmd arbitration.Command) telemetry.Sample {
	s := telemetry.Sample{
		Tick:          tick,
		At:            at,
		Mode:          cmd.Mode.String(),
		Steering:      cmd.Steering,
		Throttle:      cmd.Throttle,
		UserSteering:  in.UserSteering,
		UserThrottle:  in.UserThrottle,
		AISteering:    in.AISteering,
		ExitSum:       in.ExitSum,
		BrightnessSum: in.BrightnessSum,
	}
	if !in.Actions.Empty() {
		s.Actions = in.Actions.String()
	}
	return s
}

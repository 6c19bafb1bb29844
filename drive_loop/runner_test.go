package main

import (
	"context"
	"errors"
	"io"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.einride.tech/can"

	"kart-drive-core/drive_loop/arbitration"
	"kart-drive-core/telemetry"
	"kart-drive-core/utils"
)

func testRunner(t *testing.T, deps RunnerDeps) (*Runner, *utils.MemoryBus) {
	t.Helper()
	cmap, err := utils.LoadCANMap("../config/can/can_map.csv")
	require.NoError(t, err)

	bus := utils.NewMemoryBus(64)
	deps.CANMap = cmap
	deps.Reader = bus
	deps.Writer = bus

	cfg := vehicleConfig(t)
	cfg.Hz = 100
	cfg.AITimeout = 0

	r, err := newRunner(cfg, quietLogger(), deps)
	require.NoError(t, err)
	return r, bus
}

func inject(t *testing.T, r *Runner, bus *utils.MemoryBus, frame string, values map[string]float64) {
	t.Helper()
	f, err := r.deps.CANMap.EncodeEinrideFrame(frame, values)
	require.NoError(t, err)
	require.NoError(t, bus.Inject(context.Background(), f))
}

func decodeCommand(t *testing.T, r *Runner, f can.Frame) map[string]float64 {
	t.Helper()
	fd, values, err := r.deps.CANMap.DecodeEinrideFrame(f)
	require.NoError(t, err)
	require.Equal(t, "KART_CMD", fd.Name)
	return values
}

func TestRunnerEngagesModelFromCAN(t *testing.T) {
	r, bus := testRunner(t, RunnerDeps{})

	for i := 0; i < 10; i++ {
		inject(t, r, bus, "BRIGHTNESS_STATE", map[string]float64{"brightness": 60000})
	}
	inject(t, r, bus, "AI_OUTPUT", map[string]float64{"ai_steering": 0.3})
	inject(t, r, bus, "JS_STATE", map[string]float64{"js_buttons": 1})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	aiCode := arbitration.ModeAI.Code()
	engaged := func() (map[string]float64, bool) {
		for _, f := range bus.Written() {
			if _, v, err := r.deps.CANMap.DecodeEinrideFrame(f); err == nil && v["mode_code"] == aiCode {
				return v, true
			}
		}
		return nil, false
	}
	require.Eventually(t, func() bool {
		_, ok := engaged()
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	first, _ := engaged()
	assert.InDelta(t, 0.3, first["steering_cmd"], 1e-9)
	assert.InDelta(t, 0.22, first["throttle_cmd"], 1e-9)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	written := bus.Written()
	last := decodeCommand(t, r, written[len(written)-1])
	assert.Equal(t, map[string]float64{
		"steering_cmd": 0,
		"throttle_cmd": 0,
		"mode_code":    arbitration.ModeAI.Code(),
	}, last)
	assert.Equal(t, arbitration.ModeAI, r.driver.Mode())
	assert.Equal(t, uint64(len(written)), r.sent)
	assert.Zero(t, r.txFailures)
}

func TestRunnerKeepsTickingWhenTransmitFails(t *testing.T) {
	r, bus := testRunner(t, RunnerDeps{})
	bus.FailWrites(errors.New("bus off"))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, r.Run(ctx))

	assert.Empty(t, bus.Written())
	assert.Zero(t, r.sent)
	assert.Greater(t, r.driver.Ticks(), uint64(1))
	assert.Equal(t, r.driver.Ticks()+1, r.txFailures)
}

func TestRunnerRecordsTelemetry(t *testing.T) {
	db, err := telemetry.Open(filepath.Join(t.TempDir(), "drive.db"))
	require.NoError(t, err)
	defer db.Close()

	r, _ := testRunner(t, RunnerDeps{DB: db})

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	require.NoError(t, r.Run(ctx))

	runs, err := db.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, r.runID, runs[0].ID)
	assert.Equal(t, "drive", runs[0].Source)
	assert.Equal(t, "can0", runs[0].Label)
	assert.Equal(t, "user_mode", runs[0].FinalMode)
	// A tick racing the shutdown may miss the recorder's final drain.
	assert.Positive(t, runs[0].Ticks)
	assert.InDelta(t, float64(r.driver.Ticks()), float64(runs[0].Ticks), 1)
	assert.NotNil(t, runs[0].EndedAt)
}

func TestNewRunnerChecksFrameDirections(t *testing.T) {
	cmap, err := utils.LoadCANMap("../config/can/can_map.csv")
	require.NoError(t, err)
	bus := utils.NewMemoryBus(1)

	cfg := vehicleConfig(t)
	cfg.CAN.Frames.Command = "JS_STATE"

	_, err = newRunner(cfg, quietLogger(), RunnerDeps{CANMap: cmap, Reader: bus, Writer: bus})
	assert.Error(t, err)
}

// faultySource yields its lines, then fails like an unplugged USB adapter.
type faultySource struct {
	io.Reader
}

func newFaultySource(lines string) faultySource {
	return faultySource{io.MultiReader(strings.NewReader(lines), iotest.ErrReader(errors.New("usb unplugged")))}
}

func (faultySource) Close() error { return nil }

// brokenConn fails every read.
type brokenConn struct {
	net.PacketConn
}

func (brokenConn) ReadFrom([]byte) (int, net.Addr, error) {
	return 0, nil, errors.New("socket reset")
}

func (brokenConn) Close() error { return nil }

func TestRunnerSurvivesPeripheralFaults(t *testing.T) {
	ranging := utils.NewRangingReader(newFaultySource("100,100,100,100\n"), quietLogger())
	r, _ := testRunner(t, RunnerDeps{Ranging: ranging})
	r.deps.Remote = &RemoteListener{conn: brokenConn{}, store: r.driver.Store(), log: quietLogger()}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, r.Run(ctx))

	assert.Greater(t, r.driver.Ticks(), uint64(5))
	assert.Equal(t, r.driver.Ticks()+1, r.sent)
	// The last scan must not outlive the reader.
	assert.Nil(t, r.driver.Store().Snapshot(arbitration.ModeUser).Ranging)
}

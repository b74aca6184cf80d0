package sim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetdash/telemetry/internal/config"
	"github.com/fleetdash/telemetry/internal/model"
	"github.com/fleetdash/telemetry/pkg/telemetry"
)

type fakeStore struct {
	mu      sync.Mutex
	robots  []model.Robot
	current map[string]model.Robot
	history []model.TelemetryRecord
	failFor map[string]bool
}

func newFakeStore(robots ...model.Robot) *fakeStore {
	return &fakeStore{
		robots:  robots,
		current: make(map[string]model.Robot),
		failFor: make(map[string]bool),
	}
}

func (f *fakeStore) LoadAll(ctx context.Context) ([]model.Robot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Robot, len(f.robots))
	copy(out, f.robots)
	return out, nil
}

func (f *fakeStore) WriteCurrent(ctx context.Context, robot *model.Robot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[robot.RobotID] {
		return errors.New("write refused")
	}
	f.current[robot.RobotID] = *robot
	return nil
}

func (f *fakeStore) AppendHistory(ctx context.Context, rec *model.TelemetryRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[rec.RobotID] {
		return errors.New("write refused")
	}
	f.history = append(f.history, *rec)
	return nil
}

func (f *fakeStore) ReadHistory(ctx context.Context, robotID string, limit int) ([]model.TelemetryRecord, error) {
	return nil, nil
}

func (f *fakeStore) SeedRobots(ctx context.Context, robots []model.Robot) error {
	return nil
}

func (f *fakeStore) Close() error { return nil }

func testCfg() config.SimConfig {
	return config.SimConfig{
		TickInterval:         500 * time.Millisecond,
		Seed:                 42,
		BatteryLowThreshold:  15,
		BatteryFullThreshold: 95,
		ChargeRate:           0.5,
		MaintenanceCooldown:  5 * time.Minute,
		MaintenanceChance:    0.002,
		MaintenanceRecovery:  0.01,
		OfflineRecovery:      0.001,
		HeadingJitterChance:  0.1,
		AmbientTemperature:   15,
		WriteTimeout:         250 * time.Millisecond,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func activeRobot(id string, battery int) model.Robot {
	return model.Robot{
		RobotID: id,
		X:       50, Y: 50,
		Battery:     battery,
		Mode:        telemetry.ModeActive,
		Speed:       1.0,
		Temperature: 37,
	}
}

func loadedEngine(t *testing.T, cfg config.SimConfig, robots ...model.Robot) (*Engine, *fakeStore) {
	t.Helper()
	st := newFakeStore(robots...)
	e := NewEngine(cfg, st, testLogger())
	require.NoError(t, e.Load(context.Background()))
	return e, st
}

func TestEngine_InvariantsHoldOverManyTicks(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	robots := make([]model.Robot, 0, 20)
	modes := []string{
		telemetry.ModeActive, telemetry.ModeCharging,
		telemetry.ModeMaintenance, telemetry.ModeOffline,
	}
	for i := 0; i < 20; i++ {
		robots = append(robots, model.Robot{
			RobotID:     fmt.Sprintf("R-%02d", i),
			X:           rng.Float64() * 100,
			Y:           rng.Float64() * 100,
			Battery:     rng.Intn(101),
			Mode:        modes[rng.Intn(len(modes))],
			Speed:       rng.Float64() * 3,
			Temperature: 30 + rng.Float64()*10,
		})
	}

	e, _ := loadedEngine(t, testCfg(), robots...)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for tick := 0; tick < 500; tick++ {
		now = now.Add(500 * time.Millisecond)
		batch := e.Tick(now)
		require.Len(t, batch, 20)
		for _, ev := range batch {
			assert.GreaterOrEqual(t, ev.X, 0.0, "tick %d robot %s", tick, ev.RobotID)
			assert.LessOrEqual(t, ev.X, 100.0, "tick %d robot %s", tick, ev.RobotID)
			assert.GreaterOrEqual(t, ev.Y, 0.0, "tick %d robot %s", tick, ev.RobotID)
			assert.LessOrEqual(t, ev.Y, 100.0, "tick %d robot %s", tick, ev.RobotID)
			assert.GreaterOrEqual(t, ev.Battery, 0, "tick %d robot %s", tick, ev.RobotID)
			assert.LessOrEqual(t, ev.Battery, 100, "tick %d robot %s", tick, ev.RobotID)
			assert.True(t, telemetry.ValidMode(ev.Mode))
		}
	}
}

func TestEngine_ModeTransitionLegality(t *testing.T) {
	legal := map[string]map[string]bool{
		telemetry.ModeActive: {
			telemetry.ModeActive:      true,
			telemetry.ModeCharging:    true,
			telemetry.ModeMaintenance: true,
		},
		telemetry.ModeCharging: {
			telemetry.ModeCharging: true,
			telemetry.ModeActive:   true,
		},
		telemetry.ModeMaintenance: {
			telemetry.ModeMaintenance: true,
			telemetry.ModeActive:      true,
		},
		telemetry.ModeOffline: {
			telemetry.ModeOffline: true,
			telemetry.ModeActive:  true,
		},
	}

	cfg := testCfg()
	// Push the probabilities up so every transition path is exercised in a
	// short run.
	cfg.MaintenanceChance = 0.1
	cfg.MaintenanceRecovery = 0.2
	cfg.OfflineRecovery = 0.1
	cfg.MaintenanceCooldown = 2 * time.Second

	robots := []model.Robot{
		activeRobot("R-1", 30),
		{RobotID: "R-2", Battery: 20, Mode: telemetry.ModeCharging},
		{RobotID: "R-3", Battery: 60, Mode: telemetry.ModeMaintenance},
		{RobotID: "R-4", Battery: 10, Mode: telemetry.ModeOffline},
	}
	e, _ := loadedEngine(t, cfg, robots...)

	prev := make(map[string]string)
	for _, r := range robots {
		prev[r.RobotID] = r.Mode
	}

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for tick := 0; tick < 1000; tick++ {
		now = now.Add(500 * time.Millisecond)
		for _, ev := range e.Tick(now) {
			from := prev[ev.RobotID]
			require.True(t, legal[from][ev.Mode],
				"illegal transition %s -> %s for %s", from, ev.Mode, ev.RobotID)
			prev[ev.RobotID] = ev.Mode
		}
	}
}

func TestEngine_Determinism(t *testing.T) {
	robots := []model.Robot{
		activeRobot("R-1", 80),
		activeRobot("R-2", 40),
		{RobotID: "R-3", Battery: 50, Mode: telemetry.ModeCharging},
	}

	run := func() []telemetry.Batch {
		e, _ := loadedEngine(t, testCfg(), robots...)
		out := make([]telemetry.Batch, 0, 200)
		now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		for tick := 0; tick < 200; tick++ {
			now = now.Add(500 * time.Millisecond)
			out = append(out, e.Tick(now))
		}
		return out
	}

	assert.Equal(t, run(), run())
}

func TestEngine_BatchOrderedByRobotID(t *testing.T) {
	e, _ := loadedEngine(t, testCfg(),
		activeRobot("R-3", 80), activeRobot("R-1", 80), activeRobot("R-2", 80))

	// The fake store returns robots unsorted; the engine imposes the order.
	batch := e.Tick(time.Now())
	require.Len(t, batch, 3)
	assert.Equal(t, "R-1", batch[0].RobotID)
	assert.Equal(t, "R-2", batch[1].RobotID)
	assert.Equal(t, "R-3", batch[2].RobotID)
}

func TestEngine_LowBatteryEntersCharging(t *testing.T) {
	cfg := testCfg()
	cfg.MaintenanceChance = 0
	e, _ := loadedEngine(t, cfg, activeRobot("R-1", 16))

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	batch := e.Tick(now)
	require.Len(t, batch, 1)
	// Drain is well under one percent per tick, so the emitted integer
	// stays at 16 and the robot stays active.
	assert.Equal(t, 16, batch[0].Battery)
	assert.Equal(t, telemetry.ModeActive, batch[0].Mode)

	require.True(t, e.SetBattery("R-1", 14))
	batch = e.Tick(now.Add(500 * time.Millisecond))
	require.Len(t, batch, 1)
	assert.Equal(t, telemetry.ModeCharging, batch[0].Mode)
	assert.Equal(t, 0.0, batch[0].Speed)
}

func TestEngine_ChargingToActiveAtFullThreshold(t *testing.T) {
	cfg := testCfg()
	e, _ := loadedEngine(t, cfg, model.Robot{
		RobotID: "R-1", Battery: 94, Mode: telemetry.ModeCharging,
		Temperature: 36,
	})

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// 94 + 0.5 = 94.5, emitted as 94, still charging.
	batch := e.Tick(now)
	assert.Equal(t, 94, batch[0].Battery)
	assert.Equal(t, telemetry.ModeCharging, batch[0].Mode)

	// 94.5 + 0.5 = 95, emitted as 95, transition happens next tick.
	batch = e.Tick(now.Add(500 * time.Millisecond))
	assert.Equal(t, 95, batch[0].Battery)
	assert.Equal(t, telemetry.ModeCharging, batch[0].Mode)

	batch = e.Tick(now.Add(time.Second))
	assert.Equal(t, telemetry.ModeActive, batch[0].Mode)
	assert.Greater(t, batch[0].Speed, 0.0)
}

func TestEngine_PersistenceFailureExcludesRobot(t *testing.T) {
	e, st := loadedEngine(t, testCfg(),
		activeRobot("R-1", 80), activeRobot("R-2", 80), activeRobot("R-3", 80))

	st.mu.Lock()
	st.failFor["R-2"] = true
	st.mu.Unlock()

	batch := e.Tick(time.Now())
	require.Len(t, batch, 2)
	assert.Equal(t, "R-1", batch[0].RobotID)
	assert.Equal(t, "R-3", batch[1].RobotID)

	st.mu.Lock()
	defer st.mu.Unlock()
	assert.NotContains(t, st.current, "R-2")
}

func TestEngine_SnapshotDoesNotAdvance(t *testing.T) {
	e, _ := loadedEngine(t, testCfg(), activeRobot("R-1", 80))
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	first := e.Snapshot(now)
	second := e.Snapshot(now)
	assert.Equal(t, first, second)
	require.Len(t, first, 1)
	assert.Equal(t, 80, first[0].Battery)
}

func TestEngine_TimestampsMonotonicPerRobot(t *testing.T) {
	e, _ := loadedEngine(t, testCfg(), activeRobot("R-1", 80))

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	first := e.Tick(now)

	// A clock step backwards must not produce an earlier timestamp.
	second := e.Tick(now.Add(-time.Second))
	assert.False(t, second[0].Timestamp.Before(first[0].Timestamp))
}

func TestEngine_OfflineRecoveryRaisesBattery(t *testing.T) {
	cfg := testCfg()
	cfg.OfflineRecovery = 1.0
	e, _ := loadedEngine(t, cfg, model.Robot{
		RobotID: "R-1", Battery: 5, Mode: telemetry.ModeOffline,
	})

	batch := e.Tick(time.Now())
	require.Len(t, batch, 1)
	assert.Equal(t, telemetry.ModeActive, batch[0].Mode)
	assert.GreaterOrEqual(t, batch[0].Battery, 50)
}

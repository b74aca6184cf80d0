package sim

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/fleetdash/telemetry/internal/config"
	"github.com/fleetdash/telemetry/internal/model"
	"github.com/fleetdash/telemetry/internal/store"
	"github.com/fleetdash/telemetry/pkg/telemetry"
)

// Distance travelled per tick at speed 1. The grid is abstract, so one tick
// is the unit of time.
const fixedStep = 1.0

// Temperature offset over the resting baseline while a robot is moving, and
// the relaxation factor pulling temperature toward its target each tick.
const (
	activeTempDelta = 2.0
	tempRelaxFactor = 0.1
)

// Engine owns the robot registry and advances every robot by one state
// machine step per tick. All mutation happens under the engine lock; callers
// only ever see completed batches.
type Engine struct {
	mu    sync.Mutex
	cfg   config.SimConfig
	store store.Store
	log   *slog.Logger
	rng   *rand.Rand

	robots map[string]*Robot
	order  []string
}

// NewEngine creates an engine with an empty registry. Call Load before the
// first tick.
func NewEngine(cfg config.SimConfig, st store.Store, log *slog.Logger) *Engine {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Engine{
		cfg:    cfg,
		store:  st,
		log:    log,
		rng:    rand.New(rand.NewSource(seed)),
		robots: make(map[string]*Robot),
	}
}

// Load populates the registry from the store. Hidden simulation state is
// derived from the seeded generator in robot ID order, so a fixed seed and
// fixed fleet always produce the same fleet behaviour.
func (e *Engine) Load(ctx context.Context) error {
	rows, err := e.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load fleet: %w", err)
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].RobotID < rows[j].RobotID })

	e.mu.Lock()
	defer e.mu.Unlock()

	e.robots = make(map[string]*Robot, len(rows))
	e.order = make([]string, 0, len(rows))

	for i := range rows {
		row := &rows[i]
		mode := row.Mode
		if !telemetry.ValidMode(mode) {
			e.log.Warn("Robot has unknown mode, forcing offline",
				"robotId", row.RobotID, "mode", mode)
			mode = telemetry.ModeOffline
		}

		r := &Robot{
			RobotID:     row.RobotID,
			Name:        row.Name,
			X:           clamp(row.X, 0, 100),
			Y:           clamp(row.Y, 0, 100),
			Battery:     clamp(float64(row.Battery), 0, 100),
			Mode:        mode,
			Speed:       row.Speed,
			Temperature: row.Temperature,

			heading:   e.rng.Float64() * 360,
			drainRate: 0.03 + e.rng.Float64()*0.04,
			baseTemp:  35 + e.rng.Float64()*5,
		}
		r.cruiseSpeed = row.Speed
		if r.cruiseSpeed <= 0 {
			r.cruiseSpeed = 0.5 + e.rng.Float64()*1.5
		}
		if r.Temperature == 0 {
			r.Temperature = r.baseTemp
		}
		if mode != telemetry.ModeActive {
			r.Speed = 0
		}
		if mode == telemetry.ModeCharging {
			r.chargingSince = time.Now()
		}

		e.robots[r.RobotID] = r
		e.order = append(e.order, r.RobotID)
	}

	e.log.Info("Fleet loaded", "robots", len(e.order))
	return nil
}

// Size returns the number of robots in the registry.
func (e *Engine) Size() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.order)
}

// Tick advances every robot one step, writes each new state through to the
// store, and returns the batch of updates for the robots whose writes
// succeeded. Robots are processed in ascending robot ID order.
func (e *Engine) Tick(now time.Time) telemetry.Batch {
	e.mu.Lock()
	defer e.mu.Unlock()

	batch := make(telemetry.Batch, 0, len(e.order))
	for _, id := range e.order {
		r := e.robots[id]
		e.transition(r, now)
		e.step(r)

		ev := r.event(now)
		if err := e.persist(r, ev); err != nil {
			e.log.Error("Write-through failed, excluding robot from batch",
				"robotId", r.RobotID, "error", err)
			continue
		}
		batch = append(batch, ev)
	}
	return batch
}

// Snapshot returns the current state of every robot without advancing the
// simulation.
func (e *Engine) Snapshot(now time.Time) telemetry.Batch {
	e.mu.Lock()
	defer e.mu.Unlock()

	batch := make(telemetry.Batch, 0, len(e.order))
	for _, id := range e.order {
		batch = append(batch, e.robots[id].snapshotEvent(now))
	}
	return batch
}

// transition applies at most one mode change, evaluated against the state
// the robot carried into this tick.
func (e *Engine) transition(r *Robot, now time.Time) {
	switch r.Mode {
	case telemetry.ModeActive:
		if r.Battery <= e.cfg.BatteryLowThreshold {
			r.Mode = telemetry.ModeCharging
			r.Speed = 0
			r.chargingSince = now
			return
		}
		cooledDown := r.lastMaintenance.IsZero() ||
			now.Sub(r.lastMaintenance) >= e.cfg.MaintenanceCooldown
		if cooledDown && e.rng.Float64() < e.cfg.MaintenanceChance {
			r.Mode = telemetry.ModeMaintenance
			r.Speed = 0
		}

	case telemetry.ModeCharging:
		if r.Battery >= e.cfg.BatteryFullThreshold {
			r.Mode = telemetry.ModeActive
			r.Speed = r.cruiseSpeed
			r.chargingSince = time.Time{}
		}

	case telemetry.ModeMaintenance:
		if e.rng.Float64() < e.cfg.MaintenanceRecovery {
			r.Mode = telemetry.ModeActive
			r.Speed = r.cruiseSpeed
			r.lastMaintenance = now
		}

	case telemetry.ModeOffline:
		if e.rng.Float64() < e.cfg.OfflineRecovery {
			r.Mode = telemetry.ModeActive
			r.Speed = r.cruiseSpeed
			if r.Battery < 50 {
				r.Battery = 50
			}
		}
	}
}

// step runs one behaviour step in the robot's (possibly just-changed) mode.
func (e *Engine) step(r *Robot) {
	switch r.Mode {
	case telemetry.ModeActive:
		if e.rng.Float64() < e.cfg.HeadingJitterChance {
			r.heading += e.rng.Float64()*30 - 15
		}
		rad := r.heading * math.Pi / 180
		r.X = clamp(r.X+r.Speed*fixedStep*math.Cos(rad), 0, 100)
		r.Y = clamp(r.Y+r.Speed*fixedStep*math.Sin(rad), 0, 100)
		r.Battery = clamp(r.Battery-r.drainRate, 0, 100)
		target := r.baseTemp + activeTempDelta
		r.Temperature += (target-r.Temperature)*tempRelaxFactor +
			(e.rng.Float64()*0.4 - 0.2)

	case telemetry.ModeCharging:
		r.Speed = 0
		r.Battery = clamp(r.Battery+e.cfg.ChargeRate, 0, 100)
		r.Temperature += (r.baseTemp - r.Temperature) * tempRelaxFactor

	case telemetry.ModeMaintenance:
		r.Speed = 0
		r.Temperature = r.baseTemp

	case telemetry.ModeOffline:
		r.Speed = 0
		r.Temperature = e.cfg.AmbientTemperature
	}
}

// persist writes the robot's new current state and appends a history row.
// Either failure excludes the robot from this tick's batch.
func (e *Engine) persist(r *Robot, ev telemetry.UpdateEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.WriteTimeout)
	defer cancel()

	row := &model.Robot{
		RobotID:     r.RobotID,
		Name:        r.Name,
		X:           ev.X,
		Y:           ev.Y,
		Battery:     ev.Battery,
		Mode:        ev.Mode,
		Speed:       ev.Speed,
		Temperature: ev.Temperature,
	}
	if err := e.store.WriteCurrent(ctx, row); err != nil {
		return err
	}

	rec := model.RecordFromEvent(ev)
	return e.store.AppendHistory(ctx, &rec)
}

// SetBattery overrides one robot's internal battery level. Used by tests and
// administrative tooling.
func (e *Engine) SetBattery(robotID string, level float64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.robots[robotID]
	if !ok {
		return false
	}
	r.Battery = clamp(level, 0, 100)
	return true
}

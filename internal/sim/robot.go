package sim

import (
	"math"
	"time"

	"github.com/fleetdash/telemetry/pkg/telemetry"
)

// Robot is the in-memory simulation state of one fleet unit. Battery is kept
// fractional internally so drain and charge rates below one percent per tick
// accumulate; the integer percent is produced only at emission.
type Robot struct {
	RobotID     string
	Name        string
	X           float64
	Y           float64
	Battery     float64
	Mode        string
	Speed       float64
	Temperature float64

	// Hidden state, derived at load time and never persisted as primary
	// fields.
	heading         float64
	drainRate       float64
	baseTemp        float64
	cruiseSpeed     float64
	lastMaintenance time.Time
	chargingSince   time.Time
	lastEmitted     time.Time
}

// event builds the emitted update for the robot's current state, applying
// the rounding policy and the per-robot monotonic timestamp clamp.
func (r *Robot) event(now time.Time) telemetry.UpdateEvent {
	ts := now
	if ts.Before(r.lastEmitted) {
		ts = r.lastEmitted
	}
	r.lastEmitted = ts

	return telemetry.UpdateEvent{
		RobotID:     r.RobotID,
		X:           round6(r.X),
		Y:           round6(r.Y),
		Battery:     batteryPercent(r.Battery),
		Mode:        r.Mode,
		Speed:       round6(r.Speed),
		Temperature: round1(r.Temperature),
		Timestamp:   ts,
	}
}

// snapshotEvent is like event but leaves the monotonic clamp state untouched.
func (r *Robot) snapshotEvent(now time.Time) telemetry.UpdateEvent {
	ts := now
	if !r.lastEmitted.IsZero() {
		ts = r.lastEmitted
	}
	return telemetry.UpdateEvent{
		RobotID:     r.RobotID,
		X:           round6(r.X),
		Y:           round6(r.Y),
		Battery:     batteryPercent(r.Battery),
		Mode:        r.Mode,
		Speed:       round6(r.Speed),
		Temperature: round1(r.Temperature),
		Timestamp:   ts,
	}
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// batteryPercent converts the internal fractional battery level to the
// emitted integer percent. Round-half-to-even keeps 15.95 at 16 while 94.5
// lands on 94.
func batteryPercent(v float64) int {
	return int(math.RoundToEven(clamp(v, 0, 100)))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Package telemetry holds the plain domain types shared between the
// simulation engine, the distribution hub and the wire protocol.
package telemetry

import "time"

// Operating modes of a robot. Transitions between them are owned by the
// simulation engine's state machine; everything else treats the mode as an
// opaque label.
const (
	ModeActive      = "active"
	ModeCharging    = "charging"
	ModeMaintenance = "maintenance"
	ModeOffline     = "offline"
)

// Modes lists every valid operating mode.
var Modes = []string{ModeActive, ModeCharging, ModeMaintenance, ModeOffline}

// ValidMode reports whether s is a known operating mode.
func ValidMode(s string) bool {
	for _, m := range Modes {
		if s == m {
			return true
		}
	}
	return false
}

// UpdateEvent is the per-robot output of one simulation tick.
// Events are immutable once constructed; they are only ever appended to a
// batch, never mutated.
type UpdateEvent struct {
	RobotID     string    `json:"robotId"`
	X           float64   `json:"x"`
	Y           float64   `json:"y"`
	Battery     int       `json:"battery"`
	Mode        string    `json:"mode"`
	Speed       float64   `json:"speed"`
	Temperature float64   `json:"temperature"`
	Timestamp   time.Time `json:"timestamp"`
}

// Batch is the ordered sequence of update events produced by one tick.
// Order follows the engine's fixed robot processing order.
type Batch []UpdateEvent

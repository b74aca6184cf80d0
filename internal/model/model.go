package model

import (
	"time"

	"gorm.io/datatypes"

	"github.com/fleetdash/telemetry/pkg/telemetry"
)

// DatabaseModels is a list of all the structs exported here which represent
// tables in the database schema.
var DatabaseModels = []interface{}{
	&Robot{},
	&TelemetryRecord{},
}

// Robot is the persisted current state of one simulated fleet unit.
// RobotID is the stable external identifier; the numeric primary key is a
// storage concern only.
type Robot struct {
	ID          uint           `json:"-" gorm:"primarykey"`
	RobotID     string         `json:"robotId" gorm:"uniqueIndex;size:64"`
	Name        string         `json:"name" gorm:"size:128"`
	X           float64        `json:"x"`
	Y           float64        `json:"y"`
	Battery     int            `json:"battery"`
	Mode        string         `json:"mode" gorm:"size:16"`
	Speed       float64        `json:"speed"`
	Temperature float64        `json:"temperature"`
	Meta        datatypes.JSON `json:"meta,omitempty"`
	CreatedAt   time.Time      `json:"-"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// TelemetryRecord is one append-only history row, written through on every
// tick alongside the current-state update.
type TelemetryRecord struct {
	ID          uint      `json:"-" gorm:"primarykey"`
	RobotID     string    `json:"robotId" gorm:"index;size:64"`
	X           float64   `json:"x"`
	Y           float64   `json:"y"`
	Battery     int       `json:"battery"`
	Mode        string    `json:"mode" gorm:"size:16"`
	Speed       float64   `json:"speed"`
	Temperature float64   `json:"temperature"`
	Timestamp   time.Time `json:"timestamp" gorm:"index"`
}

// RecordFromEvent converts an update event into a history row.
func RecordFromEvent(ev telemetry.UpdateEvent) TelemetryRecord {
	return TelemetryRecord{
		RobotID:     ev.RobotID,
		X:           ev.X,
		Y:           ev.Y,
		Battery:     ev.Battery,
		Mode:        ev.Mode,
		Speed:       ev.Speed,
		Temperature: ev.Temperature,
		Timestamp:   ev.Timestamp,
	}
}

// Event converts a history row back into an update event.
func (r TelemetryRecord) Event() telemetry.UpdateEvent {
	return telemetry.UpdateEvent{
		RobotID:     r.RobotID,
		X:           r.X,
		Y:           r.Y,
		Battery:     r.Battery,
		Mode:        r.Mode,
		Speed:       r.Speed,
		Temperature: r.Temperature,
		Timestamp:   r.Timestamp,
	}
}

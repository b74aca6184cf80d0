package store

import (
	"context"

	"github.com/fleetdash/telemetry/internal/model"
)

// Store is the persistence surface used by the simulation engine and the
// distribution hub. Implementations must be safe for concurrent use.
type Store interface {
	// LoadAll returns every robot's current state, ordered by robot ID.
	LoadAll(ctx context.Context) ([]model.Robot, error)

	// WriteCurrent upserts the robot's current-state row, keyed on robot ID.
	WriteCurrent(ctx context.Context, robot *model.Robot) error

	// AppendHistory inserts one append-only telemetry history row.
	AppendHistory(ctx context.Context, rec *model.TelemetryRecord) error

	// ReadHistory returns the most recent history rows for one robot,
	// newest first, capped at limit.
	ReadHistory(ctx context.Context, robotID string, limit int) ([]model.TelemetryRecord, error)

	// SeedRobots inserts robots that do not yet exist. Existing robot IDs
	// are left untouched.
	SeedRobots(ctx context.Context, robots []model.Robot) error

	Close() error
}

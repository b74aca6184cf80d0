package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetdash/telemetry/internal/database"
	"github.com/fleetdash/telemetry/internal/model"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	db, err := database.GetSqliteDBStandalone("")
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(model.DatabaseModels...))
	return NewGormStore(db)
}

func TestGormStore_WriteCurrentUpserts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	robot := &model.Robot{
		RobotID: "R-1",
		Name:    "Unit 1",
		X:       10, Y: 20,
		Battery:     80,
		Mode:        "active",
		Speed:       1.2,
		Temperature: 36.5,
	}
	require.NoError(t, s.WriteCurrent(ctx, robot))

	// Second write with the same robot ID must update in place, not insert.
	robot2 := &model.Robot{
		RobotID: "R-1",
		X:       11, Y: 21,
		Battery:     79,
		Mode:        "active",
		Speed:       1.3,
		Temperature: 36.6,
	}
	require.NoError(t, s.WriteCurrent(ctx, robot2))

	robots, err := s.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, robots, 1)
	assert.Equal(t, 11.0, robots[0].X)
	assert.Equal(t, 79, robots[0].Battery)
}

func TestGormStore_LoadAllOrderedByRobotID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"R-3", "R-1", "R-2"} {
		require.NoError(t, s.WriteCurrent(ctx, &model.Robot{RobotID: id, Mode: "active"}))
	}

	robots, err := s.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, robots, 3)
	assert.Equal(t, "R-1", robots[0].RobotID)
	assert.Equal(t, "R-2", robots[1].RobotID)
	assert.Equal(t, "R-3", robots[2].RobotID)
}

func TestGormStore_AppendAndReadHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		rec := &model.TelemetryRecord{
			RobotID:   "R-1",
			Battery:   100 - i,
			Mode:      "active",
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, s.AppendHistory(ctx, rec))
	}
	require.NoError(t, s.AppendHistory(ctx, &model.TelemetryRecord{
		RobotID:   "R-2",
		Mode:      "charging",
		Timestamp: base,
	}))

	recs, err := s.ReadHistory(ctx, "R-1", 3)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	// Newest first.
	assert.Equal(t, 96, recs[0].Battery)
	assert.Equal(t, 97, recs[1].Battery)
	assert.Equal(t, 98, recs[2].Battery)
}

func TestGormStore_ReadHistoryDefaultLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	recs, err := s.ReadHistory(ctx, "missing", 0)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestGormStore_SeedRobotsSkipsExisting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteCurrent(ctx, &model.Robot{RobotID: "R-1", Battery: 42, Mode: "active"}))

	err := s.SeedRobots(ctx, []model.Robot{
		{RobotID: "R-1", Battery: 100, Mode: "active"},
		{RobotID: "R-2", Battery: 100, Mode: "active"},
	})
	require.NoError(t, err)

	robots, err := s.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, robots, 2)
	// Existing robot keeps its state.
	assert.Equal(t, 42, robots[0].Battery)
	assert.Equal(t, 100, robots[1].Battery)
}

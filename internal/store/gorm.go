package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fleetdash/telemetry/internal/model"
)

// GormStore implements Store on top of a gorm connection. It works against
// both the Postgres and SQLite backends provided by the database manager.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an existing gorm connection.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) LoadAll(ctx context.Context) ([]model.Robot, error) {
	var robots []model.Robot
	err := s.db.WithContext(ctx).
		Order("robot_id ASC").
		Find(&robots).Error
	if err != nil {
		return nil, fmt.Errorf("load robots: %w", err)
	}
	return robots, nil
}

func (s *GormStore) WriteCurrent(ctx context.Context, robot *model.Robot) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "robot_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"x", "y", "battery", "mode", "speed", "temperature", "updated_at",
			}),
		}).
		Create(robot).Error
	if err != nil {
		return fmt.Errorf("write current state for %s: %w", robot.RobotID, err)
	}
	return nil
}

func (s *GormStore) AppendHistory(ctx context.Context, rec *model.TelemetryRecord) error {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("append history for %s: %w", rec.RobotID, err)
	}
	return nil
}

func (s *GormStore) ReadHistory(ctx context.Context, robotID string, limit int) ([]model.TelemetryRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var recs []model.TelemetryRecord
	err := s.db.WithContext(ctx).
		Where("robot_id = ?", robotID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("read history for %s: %w", robotID, err)
	}
	return recs, nil
}

func (s *GormStore) SeedRobots(ctx context.Context, robots []model.Robot) error {
	if len(robots) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "robot_id"}},
			DoNothing: true,
		}).
		Create(&robots).Error
	if err != nil {
		return fmt.Errorf("seed robots: %w", err)
	}
	return nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

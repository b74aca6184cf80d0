package database

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetdash/telemetry/internal/model"
)

func TestManager_FallsBackToSQLite(t *testing.T) {
	viper.Reset()
	viper.Set("db.host", "localhost")
	// Port 1 is refused immediately, forcing the SQLite fallback.
	viper.Set("db.port", "1")
	viper.Set("db.username", "postgres")
	viper.Set("db.password", "postgres")
	viper.Set("db.database", "fleetdash")

	m := NewManager(zerolog.Nop())
	require.NoError(t, m.Connect())
	assert.True(t, m.IsValid)
	assert.True(t, m.UsingSQLite)

	require.NoError(t, m.Setup())

	// The migrated schema accepts writes.
	robot := model.Robot{RobotID: "R-1", Mode: "active"}
	require.NoError(t, m.DB.Create(&robot).Error)

	require.NoError(t, m.Close())
}

func TestGetSqliteDBStandalone_IsolatedDatabases(t *testing.T) {
	db1, err := GetSqliteDBStandalone("")
	require.NoError(t, err)
	db2, err := GetSqliteDBStandalone("")
	require.NoError(t, err)

	require.NoError(t, db1.AutoMigrate(&model.Robot{}))
	require.NoError(t, db1.Create(&model.Robot{RobotID: "R-1", Mode: "active"}).Error)

	// The second handle must not see the first handle's schema or rows.
	var count int64
	err = db2.Model(&model.Robot{}).Count(&count).Error
	assert.Error(t, err)
}

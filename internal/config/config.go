package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// SimConfig holds the simulation engine and scheduler settings.
type SimConfig struct {
	TickInterval         time.Duration `json:"tickInterval"`
	Seed                 int64         `json:"seed"`
	BatteryLowThreshold  float64       `json:"batteryLowThreshold"`
	BatteryFullThreshold float64       `json:"batteryFullThreshold"`
	ChargeRate           float64       `json:"chargeRate"`
	MaintenanceCooldown  time.Duration `json:"maintenanceCooldown"`
	MaintenanceChance    float64       `json:"maintenanceChance"`
	MaintenanceRecovery  float64       `json:"maintenanceRecovery"`
	OfflineRecovery      float64       `json:"offlineRecovery"`
	HeadingJitterChance  float64       `json:"headingJitterChance"`
	AmbientTemperature   float64       `json:"ambientTemperature"`
	WriteTimeout         time.Duration `json:"writeTimeout"`
}

// HubConfig holds distribution hub settings.
type HubConfig struct {
	SendBufferSize int `json:"sendBufferSize"`
}

// AuthConfig holds token verification settings.
type AuthConfig struct {
	Secret string `json:"secret"`
}

// Load reads configuration from a JSON file in configDir and sets default
// values. Callers may proceed on error; defaults remain in effect.
func Load(configDir string) error {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")

	viper.SetDefault("server.listenAddr", ":8080")

	viper.SetDefault("auth.secret", "changeme")

	viper.SetDefault("sim.tickIntervalMs", 500)
	viper.SetDefault("sim.seed", 0)
	viper.SetDefault("sim.batteryLowThreshold", 15)
	viper.SetDefault("sim.batteryFullThreshold", 95)
	viper.SetDefault("sim.chargeRate", 0.5)
	viper.SetDefault("sim.maintenanceCooldownSec", 300)
	viper.SetDefault("sim.maintenanceChance", 0.002)
	viper.SetDefault("sim.maintenanceRecovery", 0.01)
	viper.SetDefault("sim.offlineRecovery", 0.001)
	viper.SetDefault("sim.headingJitterChance", 0.1)
	viper.SetDefault("sim.ambientTemperature", 15.0)
	viper.SetDefault("sim.writeTimeoutMs", 250)
	viper.SetDefault("sim.demoFleetSize", 12)

	viper.SetDefault("hub.sendBufferSize", 256)

	viper.SetDefault("monitor.intervalSec", 30)

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "fleetdash")

	viper.SetDefault("influx.enabled", true)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "fleetdash-metrics")
	viper.SetDefault("influx.bucket", "tick_stats")

	viper.SetConfigName("fleetsimd.cfg.json")
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}
	return nil
}

// GetSimConfig returns the typed simulation settings.
func GetSimConfig() SimConfig {
	return SimConfig{
		TickInterval:         time.Duration(viper.GetInt("sim.tickIntervalMs")) * time.Millisecond,
		Seed:                 viper.GetInt64("sim.seed"),
		BatteryLowThreshold:  viper.GetFloat64("sim.batteryLowThreshold"),
		BatteryFullThreshold: viper.GetFloat64("sim.batteryFullThreshold"),
		ChargeRate:           viper.GetFloat64("sim.chargeRate"),
		MaintenanceCooldown:  time.Duration(viper.GetInt("sim.maintenanceCooldownSec")) * time.Second,
		MaintenanceChance:    viper.GetFloat64("sim.maintenanceChance"),
		MaintenanceRecovery:  viper.GetFloat64("sim.maintenanceRecovery"),
		OfflineRecovery:      viper.GetFloat64("sim.offlineRecovery"),
		HeadingJitterChance:  viper.GetFloat64("sim.headingJitterChance"),
		AmbientTemperature:   viper.GetFloat64("sim.ambientTemperature"),
		WriteTimeout:         time.Duration(viper.GetInt("sim.writeTimeoutMs")) * time.Millisecond,
	}
}

// GetHubConfig returns the typed hub settings.
func GetHubConfig() HubConfig {
	return HubConfig{
		SendBufferSize: viper.GetInt("hub.sendBufferSize"),
	}
}

// GetAuthConfig returns the typed auth settings.
func GetAuthConfig() AuthConfig {
	return AuthConfig{
		Secret: viper.GetString("auth.secret"),
	}
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

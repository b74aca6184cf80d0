package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"github.com/fleetdash/telemetry/internal/auth"
	"github.com/fleetdash/telemetry/internal/config"
	"github.com/fleetdash/telemetry/internal/database"
	"github.com/fleetdash/telemetry/internal/hub"
	"github.com/fleetdash/telemetry/internal/logging"
	"github.com/fleetdash/telemetry/internal/metrics"
	"github.com/fleetdash/telemetry/internal/model"
	"github.com/fleetdash/telemetry/internal/monitor"
	"github.com/fleetdash/telemetry/internal/scheduler"
	"github.com/fleetdash/telemetry/internal/sim"
	"github.com/fleetdash/telemetry/internal/store"
	"github.com/fleetdash/telemetry/pkg/telemetry"
)

const serviceName = "fleetsimd"

func main() {
	sessionStart := time.Now()

	if err := config.Load("."); err != nil {
		fmt.Fprintf(os.Stderr, "No config file loaded, using defaults: %v\n", err)
	}

	logsDir := config.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logs dir: %v\n", err)
		os.Exit(1)
	}
	logFile, err := os.Create(logging.LogFilePath(logsDir, serviceName, sessionStart))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create log file: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()

	slogManager := logging.NewSlogManager()
	slogManager.Setup(logFile, config.GetString("logLevel"))
	logger := slogManager.Logger()

	zlog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Str("service", serviceName).Logger()

	// Database and store.
	dbManager := database.NewManager(zlog.With().Str("component", "database").Logger())
	if err := dbManager.Connect(); err != nil {
		logger.Error("Database connection failed", "error", err)
		os.Exit(1)
	}
	if err := dbManager.Setup(); err != nil {
		logger.Error("Database setup failed", "error", err)
		os.Exit(1)
	}
	st := store.NewGormStore(dbManager.DB)

	simCfg := config.GetSimConfig()

	if size := config.GetInt("sim.demoFleetSize"); size > 0 {
		if err := st.SeedRobots(context.Background(), demoFleet(size, simCfg.Seed)); err != nil {
			logger.Warn("Demo fleet seeding failed", "error", err)
		}
	}

	// Simulation engine. Failing to load the fleet is fatal.
	engine := sim.NewEngine(simCfg, st, logger)
	if err := engine.Load(context.Background()); err != nil {
		logger.Error("Fleet load failed", "error", err)
		os.Exit(1)
	}

	// Metrics sink. Optional: tick processing continues without it.
	var metricsManager *metrics.Manager
	if config.GetBool("influx.enabled") {
		backupPath := logging.LogFilePath(logsDir, serviceName+".metrics", sessionStart) + ".gz"
		metricsManager = metrics.NewManager(
			zlog.With().Str("component", "metrics").Logger(), backupPath)
		if err := metricsManager.Connect(); err != nil {
			logger.Warn("Metrics sink unavailable", "error", err)
			metricsManager = nil
		}
	}

	// The scheduler pass closes over the hub; the hub needs the scheduler
	// as its control surface. Declare the hub first, then wire: the first
	// pass cannot run before Start is called below.
	var h *hub.Hub

	pass := func(now time.Time) {
		start := time.Now()
		batch := engine.Tick(now)
		h.Broadcast(batch)
		if metricsManager != nil {
			metricsManager.Record(metrics.TickStats{
				Start:         now,
				Duration:      time.Since(start),
				BatchSize:     len(batch),
				WriteFailures: engine.Size() - len(batch),
				Subscribers:   h.ClientCount(),
			})
		}
	}
	sched := scheduler.New(simCfg.TickInterval, pass, logger)

	verifier := auth.NewVerifier(config.GetAuthConfig().Secret)
	h, err = hub.New(config.GetHubConfig(), verifier, engine, sched, logger)
	if err != nil {
		logger.Error("Hub initialization failed", "error", err)
		os.Exit(1)
	}

	mon := monitor.NewService(monitor.Sources{
		Robots:       engine.Size,
		Observers:    h.ClientCount,
		SchedRunning: sched.Running,
	}, time.Duration(config.GetInt("monitor.intervalSec"))*time.Second, logger)
	mon.Start()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.ServeWS)
	mux.HandleFunc("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(mon.Snapshot())
	})

	srv := &http.Server{
		Addr:    config.GetString("server.listenAddr"),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	sched.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Shutting down", "signal", sig.String())
	case err := <-errCh:
		logger.Error("HTTP server failed", "error", err)
	}

	mon.Stop()
	sched.Stop()
	h.Shutdown("server shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("HTTP shutdown error", "error", err)
	}

	if metricsManager != nil {
		metricsManager.Close()
	}
	if err := dbManager.Close(); err != nil {
		logger.Warn("Database close error", "error", err)
	}
	logger.Info("Shutdown complete")
}

// demoFleet builds an initial fleet for first runs against an empty
// database. Existing robots are never overwritten.
func demoFleet(size int, seed int64) []model.Robot {
	if seed == 0 {
		seed = 1
	}
	rng := rand.New(rand.NewSource(seed))

	robots := make([]model.Robot, 0, size)
	for i := 1; i <= size; i++ {
		meta, _ := json.Marshal(map[string]any{
			"manufacturer": "FleetDash Robotics",
			"model":        fmt.Sprintf("FD-%d00", 1+rng.Intn(3)),
			"commissioned": 2020 + rng.Intn(5),
		})
		robots = append(robots, model.Robot{
			RobotID:     fmt.Sprintf("R-%02d", i),
			Name:        fmt.Sprintf("Unit %02d", i),
			X:           rng.Float64() * 100,
			Y:           rng.Float64() * 100,
			Battery:     40 + rng.Intn(61),
			Mode:        telemetry.ModeActive,
			Speed:       0.5 + rng.Float64()*1.5,
			Temperature: 35 + rng.Float64()*5,
			Meta:        datatypes.JSON(meta),
		})
	}
	return robots
}

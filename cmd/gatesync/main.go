// gatesync - remote door and gate state synchroniser
//
// gatesync polls a cloud-hosted gate controller API, caches door state with
// movement-aware lifetimes, and fans the results out to local consumers:
// a REST/WebSocket API, retained MQTT topics, InfluxDB telemetry and a
// SQLite state-change history.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/halwright/gatesync/migrations"

	"github.com/halwright/gatesync/internal/api"
	"github.com/halwright/gatesync/internal/backend"
	"github.com/halwright/gatesync/internal/bridge"
	"github.com/halwright/gatesync/internal/gate"
	"github.com/halwright/gatesync/internal/infrastructure/config"
	"github.com/halwright/gatesync/internal/infrastructure/database"
	"github.com/halwright/gatesync/internal/infrastructure/httpclient"
	"github.com/halwright/gatesync/internal/infrastructure/influxdb"
	"github.com/halwright/gatesync/internal/infrastructure/logging"
	"github.com/halwright/gatesync/internal/infrastructure/mqtt"
	"github.com/halwright/gatesync/internal/poller"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error { //nolint:gocognit // Linear startup wiring
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting gatesync",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Build the backend adapter over the retrying request executor
	executor := httpclient.New(httpclient.Config{
		Timeout:      cfg.GetBackendTimeout(),
		MaxAttempts:  cfg.Backend.Retry.MaxAttempts,
		BackoffBase:  time.Duration(cfg.Backend.Retry.BackoffBaseMs) * time.Millisecond,
		BackoffCap:   time.Duration(cfg.Backend.Retry.BackoffCapMs) * time.Millisecond,
		LogResponses: cfg.Backend.LogResponses,
	})
	executor.SetLogger(log.With("component", "httpclient"))

	controller := backend.New(backend.Config{
		BaseURL:         cfg.Backend.BaseURL,
		Username:        cfg.Backend.Username,
		Password:        cfg.Backend.Password,
		IncludeShared:   cfg.Backend.IncludeShared,
		HasBatteryLevel: cfg.Backend.HasBatteryLevel,
	}, executor)
	controller.SetLogger(log.With("component", "backend"))

	// Door-state service with history and persisted device cache
	service := gate.NewService(controller, gate.Config{
		StationaryTTL:    cfg.GetStationaryTTL(),
		TransitioningTTL: cfg.GetTransitioningTTL(),
		AccountTTL:       cfg.GetAccountTTL(),
	})
	service.SetLogger(log.With("component", "gate"))

	historyRepo := gate.NewSQLiteStateHistoryRepository(db.DB)
	service.SetHistory(historyRepo)
	service.SetStore(gate.NewSQLiteDeviceRepository(db.DB))

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Poller reads through the service; when telemetry is enabled the reads
	// are instrumented so every tick records a poll metric.
	var reader poller.StateReader = service
	if influxClient != nil {
		reader = &instrumentedReader{inner: service, influx: influxClient}
	}
	watch := poller.New(reader, cfg.GetPollInterval())
	watch.SetLogger(log.With("component", "poller"))
	defer func() {
		log.Info("stopping poller")
		watch.Close()
	}()

	// Connect to MQTT broker (optional) and create the status bridge
	var mqttClient *mqtt.Client
	var statusBridge *bridge.Bridge
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.With("component", "mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		statusBridge = bridge.New(mqttClient, watch, service, cfg.Backend.BatteryLowThreshold)
		statusBridge.SetLogger(log.With("component", "bridge"))
		defer statusBridge.Stop()
	} else {
		log.Info("MQTT disabled")
	}

	// Start the API server (optional)
	if cfg.API.Enabled {
		server, apiErr := api.New(api.Deps{
			Config:              cfg.API,
			WS:                  cfg.WebSocket,
			Logger:              log.With("component", "api"),
			Doors:               service,
			Watcher:             watch,
			History:             historyRepo,
			BatteryLowThreshold: cfg.Backend.BatteryLowThreshold,
			Version:             version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API server disabled")
	}

	// Discover doors. A failed first discovery is not fatal: the backend may
	// be briefly unreachable at boot, so retry in the background and attach
	// the watchers once a listing arrives.
	devices, err := service.ListDevices(ctx)
	if err != nil {
		log.Warn("initial device discovery failed, retrying in background",
			"retry_after", cfg.GetDiscoveryRetry(), "error", err)
		go discoverLoop(ctx, service, cfg.GetDiscoveryRetry(), log, func(devices []gate.Device) {
			attachWatchers(ctx, devices, statusBridge, watch, influxClient, log)
		})
	} else {
		log.Info("devices discovered", "doors", len(devices))
		attachWatchers(ctx, devices, statusBridge, watch, influxClient, log)
	}

	// Verify infrastructure connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// API server, bridge, MQTT, poller, InfluxDB, database.

	log.Info("gatesync stopped")
	return nil
}

// attachWatchers wires the discovered doors into the MQTT bridge and, when
// telemetry is enabled, into per-door InfluxDB writers.
func attachWatchers(ctx context.Context, devices []gate.Device, statusBridge *bridge.Bridge, watch *poller.Poller, influxClient *influxdb.Client, log *logging.Logger) {
	if statusBridge != nil {
		if err := statusBridge.Start(ctx, devices); err != nil {
			log.Error("starting MQTT bridge", "error", err)
		} else {
			log.Info("MQTT bridge started", "doors", len(devices))
		}
	}

	if influxClient != nil {
		for _, device := range devices {
			watch.Subscribe(device, func(d gate.Device, state *gate.DeviceState) {
				if state == nil {
					return
				}
				influxClient.WriteDoorState(d.GatewayID, d.ID,
					string(state.Status), string(state.Desired),
					state.Battery, state.Fault, state.ObservedAt)
			})
		}
		log.Info("telemetry watchers attached", "doors", len(devices))
	}
}

// discoverLoop retries device discovery until it succeeds or the context is
// cancelled, then hands the listing to the callback.
func discoverLoop(ctx context.Context, service *gate.Service, retryAfter time.Duration, log *logging.Logger, attach func([]gate.Device)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(retryAfter):
		}

		devices, err := service.ListDevices(ctx)
		if err != nil {
			log.Warn("device discovery retry failed", "retry_after", retryAfter, "error", err)
			continue
		}

		log.Info("devices discovered", "doors", len(devices))
		attach(devices)
		return
	}
}

// instrumentedReader wraps the door-state service so every poll tick records
// its latency and outcome to InfluxDB.
type instrumentedReader struct {
	inner  poller.StateReader
	influx *influxdb.Client
}

func (r *instrumentedReader) GetState(ctx context.Context, device gate.Device) (*gate.DeviceState, error) {
	start := time.Now()
	state, err := r.inner.GetState(ctx, device)
	elapsed := float64(time.Since(start).Microseconds()) / 1000.0
	r.influx.WritePollMetric(device.Key(), elapsed, err == nil)
	return state, err
}

// getConfigPath returns the configuration file path.
// Uses GATESYNC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GATESYNC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// poolbridge - local bridge for ConnectMyPool pool controllers
//
// This is the main entry point for the poolbridge service. It keeps a
// throttle-aware cache of the cloud pool state and exposes it locally:
//   - REST and WebSocket API for dashboards and scripts
//   - MQTT topics for home automation hubs
//   - Optional action audit log (SQLite) and history (InfluxDB)
//
// Channel mode changes are reconciled: the cloud only offers "cycle to the
// next mode", so the bridge cycles and confirms until the target is reached.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/poolbridge/internal/api"
	"github.com/nerrad567/poolbridge/internal/audit"
	"github.com/nerrad567/poolbridge/internal/bridge"
	"github.com/nerrad567/poolbridge/internal/connectmypool"
	"github.com/nerrad567/poolbridge/internal/coordinator"
	"github.com/nerrad567/poolbridge/internal/infrastructure/config"
	"github.com/nerrad567/poolbridge/internal/infrastructure/database"
	"github.com/nerrad567/poolbridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/poolbridge/internal/infrastructure/logging"
	"github.com/nerrad567/poolbridge/internal/infrastructure/metrics"
	"github.com/nerrad567/poolbridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/poolbridge/internal/observation"
	"github.com/nerrad567/poolbridge/internal/simulator"
	"github.com/nerrad567/poolbridge/migrations"
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

// simulatorLatency makes dev mode feel like the real cloud without slowing tests.
const simulatorLatency = 300 * time.Millisecond

func main() {
	issueFor := flag.String("issue-token", "", "print an API bearer token for `subject` and exit")
	flag.Parse()

	if *issueFor != "" {
		if err := issueToken(os.Stdout, *issueFor); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Cancel on Ctrl+C and SIGTERM for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// issueToken mints a bearer token with the configured JWT settings.
//
// Parameters:
//   - w: Where the token is written, followed by a newline
//   - subject: Who the token identifies (e.g. "dashboard", "node-red")
//
// Returns:
//   - error: If the config cannot be loaded or no secret is configured
func issueToken(w io.Writer, subject string) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Security.JWT.Secret == "" {
		return errors.New("security.jwt.secret is not set; the API is open and needs no token")
	}
	token, err := api.IssueToken(cfg.Security.JWT.Secret, cfg.Security.JWT.Issuer, subject, cfg.Security.JWT.TokenTTL)
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}
	_, err = fmt.Fprintln(w, token)
	return err
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting poolbridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	collector := metrics.New()

	upstream, err := newUpstream(cfg, log)
	if err != nil {
		return fmt.Errorf("creating pool client: %w", err)
	}

	coordOpts := coordinatorOptions(cfg)
	coordOpts.Logger = log.Component("coordinator")
	coordOpts.Metrics = collector

	// Action audit log (optional)
	var (
		db        *database.DB
		auditRepo *audit.SQLiteRepository
	)
	if cfg.Database.Enabled {
		db, err = database.Open(ctx, cfg.Database)
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

		if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database migrations complete")

		auditRepo = audit.NewSQLiteRepository(db.DB)
		coordOpts.Audit = auditRepo
	} else {
		log.Info("action audit log disabled")
	}

	// Pool history (optional)
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
		coordOpts.Telemetry = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	coord, err := coordinator.New(upstream, coordOpts)
	if err != nil {
		return fmt.Errorf("creating coordinator: %w", err)
	}
	if startErr := coord.Start(ctx); startErr != nil {
		return fmt.Errorf("starting coordinator: %w", startErr)
	}
	defer func() {
		log.Info("stopping coordinator")
		coord.Stop()
	}()
	log.Info("coordinator started",
		"base_interval", coordOpts.Policy.Base,
		"active_interval", coordOpts.Policy.Active,
	)

	// MQTT bridge (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("closing MQTT connection")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		)

		mqttBridge, bridgeErr := bridge.New(bridge.Options{
			Coordinator:    coord,
			MQTTClient:     mqttClient,
			Topics:         mqttClient.Topics(),
			QoS:            mqttClient.QoS(),
			Version:        version,
			HealthInterval: time.Duration(cfg.MQTT.HealthInterval) * time.Second,
			Logger:         log.Component("bridge"),
		})
		if bridgeErr != nil {
			return fmt.Errorf("creating MQTT bridge: %w", bridgeErr)
		}
		if startErr := mqttBridge.Start(ctx); startErr != nil {
			return fmt.Errorf("starting MQTT bridge: %w", startErr)
		}
		defer func() {
			log.Info("stopping MQTT bridge")
			mqttBridge.Stop()
		}()

		// Retained state may have been lost while the broker was away
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
			mqttBridge.Republish()
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT bridge started", "prefix", cfg.MQTT.TopicPrefix)
	} else {
		log.Info("MQTT bridge disabled")
	}

	// HTTP API (optional)
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:      cfg.API,
			WS:          cfg.WebSocket,
			Security:    cfg.Security,
			Logger:      log.Component("api"),
			Coordinator: coord,
			Metrics:     collector.Handler(),
			Version:     version,
		}
		// Typed nils must not reach the interface fields
		if auditRepo != nil {
			deps.Audit = auditRepo
			deps.DB = db
		}
		if mqttClient != nil {
			deps.MQTT = mqttClient
		}

		srv, apiErr := api.New(deps)
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := srv.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error stopping API server", "error", closeErr)
			}
		}()
		if cfg.Security.JWT.Secret == "" {
			log.Warn("security.jwt.secret is empty, API authentication disabled")
		}
		log.Info("API server started", "addr", srv.Addr())
	} else {
		log.Info("API server disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("infrastructure health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: API, MQTT bridge, MQTT,
	// coordinator, InfluxDB, database.

	log.Info("poolbridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses POOLBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("POOLBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// newUpstream returns the cloud client, or the simulator in dev mode.
func newUpstream(cfg *config.Config, log *logging.Logger) (coordinator.Upstream, error) {
	if cfg.DevMode {
		log.Warn("dev_mode enabled, using the simulated pool controller")
		return simulator.New(simulator.Options{Latency: simulatorLatency}), nil
	}
	client, err := connectmypool.New(connectmypool.Options{
		BaseURL:          cfg.Pool.BaseURL,
		APICode:          cfg.Pool.APICode,
		TemperatureScale: cfg.Pool.TemperatureScale,
		Timeout:          cfg.GetRequestTimeout(),
	})
	if err != nil {
		return nil, err
	}
	log.Info("using ConnectMyPool cloud API", "base_url", cfg.Pool.BaseURL)
	return client, nil
}

// coordinatorOptions maps configuration onto coordinator tuning.
// Sinks (logger, metrics, audit, telemetry) are left for the caller.
func coordinatorOptions(cfg *config.Config) coordinator.Options {
	return coordinator.Options{
		Policy: observation.ThrottlePolicy{
			Base:   cfg.GetBaseInterval(),
			Active: cfg.GetActiveInterval(),
			Window: cfg.GetActiveWindow(),
		},
		FailureThreshold: cfg.Polling.FailureThreshold,
		ModeOverrides:    cfg.Pool.ChannelModes,
		SettleDelay:      cfg.GetSettleDelay(),
		ObserveTimeout:   cfg.GetObserveTimeout(),
		ConfirmPolls:     cfg.Reconcile.ConfirmPolls,
		MaxAttempts:      cfg.Reconcile.MaxAttempts,
		WaitForExecution: cfg.Reconcile.WaitForExecution,
		TemperatureScale: cfg.Pool.TemperatureScale,
	}
}

// healthCheck verifies the optional infrastructure connections.
// The pool itself is not checked: the first cloud read happens in the
// background and may legitimately take a while.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database to check (nil if disabled)
//   - mqttClient: MQTT client to check (nil if disabled)
//   - influxClient: InfluxDB client to check (nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
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

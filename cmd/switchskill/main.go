// Switch skill - voice-directed device switching for Gray Logic.
//
// The skill listens for resolved voice directives on MQTT, finds the devices
// they refer to in the SQLite device directory, publishes on/off commands to
// each device's topic, and replies with a sentence for the voice satellite
// to speak.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/gray-logic-switch/migrations"

	"github.com/nerrad567/gray-logic-switch/internal/api"
	"github.com/nerrad567/gray-logic-switch/internal/audit"
	"github.com/nerrad567/gray-logic-switch/internal/device"
	"github.com/nerrad567/gray-logic-switch/internal/dispatch"
	"github.com/nerrad567/gray-logic-switch/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-switch/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-switch/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-switch/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-switch/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-switch/internal/response"
	"github.com/nerrad567/gray-logic-switch/internal/skill"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"

	// configPathEnv overrides defaultConfigPath.
	configPathEnv = "SWITCHSKILL_CONFIG"

	// healthCheckTimeout bounds the startup health checks.
	healthCheckTimeout = 5 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the skill together and blocks until ctx is cancelled.
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting switch skill",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

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

	applied, migrateErr := db.Migrate(ctx)
	if migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path, "migrations_applied", len(applied))

	cache := device.NewCache(device.NewSQLiteDirectory(db.DB))
	cache.SetLogger(log.Component("device_cache"))
	cache.SetLoadTimeout(cfg.Skill.LoadTimeout)
	warmCache(ctx, cache, log)

	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT connected")
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
		"status_topic", cfg.MQTT.StatusTopic,
	)

	influxClient, err := connectInflux(cfg.InfluxDB, log)
	if err != nil {
		return err
	}
	defer func() {
		if influxClient != nil {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}
	}()

	dispatcher := dispatch.New(mqttClient, cache, dispatch.Config{
		CommandSuffix:  cfg.Skill.CommandSuffix,
		PublishTimeout: cfg.Skill.PublishTimeout,
	})
	dispatcher.SetLogger(log.Component("dispatch"))

	var recorders []dispatch.Recorder
	if influxClient != nil {
		recorders = append(recorders, influxClient)
	}
	var hub *api.Hub
	if cfg.API.Enabled {
		hub = api.NewHub(cfg.API.WebSocket, log.Component("websocket"))
		go hub.Run(ctx)
		recorders = append(recorders, hub)
	}
	recorder := dispatch.Recorders(recorders...)
	dispatcher.SetRecorder(recorder)

	composer, err := response.New()
	if err != nil {
		return fmt.Errorf("loading response templates: %w", err)
	}

	resolver := device.NewResolver(cache)
	resolver.SetLogger(log.Component("resolver"))

	sk := skill.New(resolver, dispatcher, composer)
	sk.SetLogger(log.Component("skill"))
	auditRepo := audit.NewSQLiteRepository(db.DB)
	sk.SetAuditor(auditRepo)

	listener := skill.NewListener(mqttClient, sk, skill.ListenerConfig{
		RequestTopic:  cfg.Skill.RequestTopic,
		ResponseTopic: cfg.Skill.ResponseTopic,
		MinCertainty:  cfg.Skill.MinCertainty,
		QoS:           byte(cfg.MQTT.QoS),
	})
	listener.SetLogger(log.Component("listener"))

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	if hub != nil {
		apiServer, err := api.New(api.Deps{
			Config:   cfg.API,
			Logger:   log.Component("api"),
			Catalog:  cache,
			Audit:    auditRepo,
			Hub:      hub,
			Recorder: recorder,
			Version:  version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := apiServer.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	if err := listener.Start(ctx); err != nil {
		return fmt.Errorf("starting listener: %w", err)
	}
	defer listener.Stop()

	log.Info("initialisation complete, waiting for directives")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	// Deferred calls run in reverse: listener, API, InfluxDB, MQTT, database.
	return nil
}

// warmCache loads the device list before the first directive arrives.
// A failure is logged only; the first request retries the load.
func warmCache(ctx context.Context, cache *device.Cache, log *logging.Logger) {
	if _, err := cache.Get(ctx); err != nil {
		log.Warn("device directory unavailable at startup, will retry on first request", "error", err)
		return
	}
	log.Info("device cache loaded", "devices", cache.Count())
}

// connectInflux connects to InfluxDB when enabled. It returns a nil client
// and no error when metrics are disabled.
func connectInflux(cfg config.InfluxDBConfig, log *logging.Logger) (*influxdb.Client, error) {
	client, err := influxdb.Connect(cfg)
	if errors.Is(err, influxdb.ErrDisabled) {
		log.Info("InfluxDB disabled")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}

	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.URL,
		"org", cfg.Org,
		"bucket", cfg.Bucket,
	)
	return client, nil
}

// getConfigPath returns the configuration file path.
// Uses SWITCHSKILL_CONFIG if set, otherwise the default.
func getConfigPath() string {
	if path := os.Getenv(configPathEnv); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthChecker is implemented by every infrastructure client.
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// namedCheck labels a health check for error messages.
type namedCheck struct {
	name    string
	checker healthChecker
}

// healthCheck verifies the infrastructure connections.
// A nil influxClient (metrics disabled) is skipped.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	checks := []namedCheck{
		{"database", db},
		{"mqtt", mqttClient},
	}
	if influxClient != nil {
		checks = append(checks, namedCheck{"influxdb", influxClient})
	}
	return runHealthChecks(ctx, checks)
}

// runHealthChecks returns the first failure, bounded by healthCheckTimeout.
func runHealthChecks(ctx context.Context, checks []namedCheck) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	for _, c := range checks {
		if err := c.checker.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", c.name, err)
		}
	}
	return nil
}

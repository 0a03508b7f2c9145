// Package config holds the Config type and its section-level defaults
// for every core component's tunables, plus the YAML-backed fleet seed
// (see fleet.go) used to bootstrap the UAV registry at startup.
package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Logging   LoggingConfig
	Bus       BusConfig
	Store     StoreConfig
	Scheduler SchedulerConfig
	Dispatch  DispatchConfig
	Telemetry TelemetryConfig
	Detection DetectionConfig
	Kalman    KalmanConfig
	Fanout    FanoutConfig
	Fleet     FleetConfig
}

// ServerConfig configures the HTTP surface: the websocket fan-out
// endpoint, the Prometheus scrape endpoint, and CORS for either.
type ServerConfig struct {
	Host        string
	Port        int
	CORSOrigins []string
}

// LoggingConfig selects the zap logger's level and encoding.
type LoggingConfig struct {
	Level  string // "debug", "info", "warn", "error"
	Format string // "json", "text"
}

// BusConfig selects the publish/subscribe transport.
type BusConfig struct {
	Driver             string // "local" or "redis"
	RedisAddr          string
	RedisFallbackQueue int // local buffer size while the breaker is open
}

// StoreConfig points at the persistent store.
type StoreConfig struct {
	SQLitePath string
}

// SchedulerConfig mirrors scheduler.Config; kept as a plain value here
// so the wiring layer is the only place that imports scheduler.
type SchedulerConfig struct {
	TickInterval     time.Duration
	FastPathSeverity string
	PollBatch        int
	MinBattery       float64
	AlertTTL         time.Duration
	QueueCapacity    int
}

// DispatchConfig mirrors dispatch.Config.
type DispatchConfig struct {
	CommandPublishTimeout  time.Duration
	MinWatchdog            time.Duration
	MaxWatchdog            time.Duration
	DefaultEstimate        time.Duration
	MaxDemotions           int
	CoverageRadiusMeters   float64
	CoverageSpacingMeters  float64
	ArrivalToleranceMeters float64
	TurnRadiusMeters       float64
	RouteCellMeters        float64
}

// TelemetryConfig mirrors telemetry.Config.
type TelemetryConfig struct {
	RateLimitHz float64
}

// DetectionConfig mirrors detection.Config.
type DetectionConfig struct {
	BroadcastConfidenceFloor float64
}

// KalmanConfig tunes the per-track constant-velocity filter and its
// lifecycle management.
type KalmanConfig struct {
	ProcessNoiseIntensity float64
	MeasurementVariance   float64
	GateSq                float64 // squared-Mahalanobis association gate
	MaxMisses             int
	PredictInterval       time.Duration
}

// FanoutConfig mirrors fanout.Config.
type FanoutConfig struct {
	MailboxCapacity  int
	MaxBackpressured int
	HeartbeatTimeout time.Duration
}

// FleetConfig points at the YAML fleet seed and tunes the fleet health
// monitor.
type FleetConfig struct {
	SeedPath        string
	TickInterval    time.Duration // simulated/real agent Tick() cadence
	CommTimeout     time.Duration // silence before a UAV is marked unreachable
	MonitorInterval time.Duration // fleet health sweep cadence
	LowBattery      float64       // threshold below which an idle UAV is sent to charge
}

// Default returns a Config with the defaults every section documents.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
			CORSOrigins: []string{
				"http://localhost:5173",
				"http://localhost:3000",
			},
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Bus: BusConfig{
			Driver:             "local",
			RedisAddr:          "localhost:6379",
			RedisFallbackQueue: 1000,
		},
		Store: StoreConfig{SQLitePath: "./data/sentinel.db"},
		Scheduler: SchedulerConfig{
			TickInterval:     60 * time.Second,
			FastPathSeverity: "high",
			PollBatch:        32,
			MinBattery:       30,
			AlertTTL:         30 * time.Minute,
			QueueCapacity:    1000,
		},
		Dispatch: DispatchConfig{
			CommandPublishTimeout:  2 * time.Second,
			MinWatchdog:            60 * time.Second,
			MaxWatchdog:            2 * time.Hour,
			DefaultEstimate:        10 * time.Minute,
			MaxDemotions:           3,
			CoverageRadiusMeters:   300,
			CoverageSpacingMeters:  50,
			ArrivalToleranceMeters: 25,
			TurnRadiusMeters:       60,
			RouteCellMeters:        50,
		},
		Telemetry: TelemetryConfig{RateLimitHz: 10},
		Detection: DetectionConfig{BroadcastConfidenceFloor: 0.5},
		Kalman: KalmanConfig{
			ProcessNoiseIntensity: 1.0,
			MeasurementVariance:   25.0,
			GateSq:                9.21, // chi-square 2-DoF, 99% confidence
			MaxMisses:             5,
			PredictInterval:       time.Second,
		},
		Fanout: FanoutConfig{
			MailboxCapacity:  64,
			MaxBackpressured: 64,
			HeartbeatTimeout: 60 * time.Second,
		},
		Fleet: FleetConfig{
			SeedPath:        "./data/config/fleet.yaml",
			TickInterval:    time.Second,
			CommTimeout:     5 * time.Minute,
			MonitorInterval: 30 * time.Second,
			LowBattery:      20,
		},
	}
}

// Validate checks invariants Load cannot enforce per-field.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Bus.Driver != "local" && c.Bus.Driver != "redis" {
		return fmt.Errorf("invalid bus driver: %s", c.Bus.Driver)
	}
	validSeverity := map[string]bool{"low": true, "medium": true, "high": true, "critical": true}
	if !validSeverity[c.Scheduler.FastPathSeverity] {
		return fmt.Errorf("invalid scheduler fast-path severity: %s", c.Scheduler.FastPathSeverity)
	}
	return nil
}

// ServerAddr returns the HTTP listen address as host:port.
func (c *Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

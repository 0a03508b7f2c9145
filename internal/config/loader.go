package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Load builds a Config from defaults overridden by environment
// variables, then validates it. A validation failure aborts startup
// rather than falling back to a guessed value.
func Load() (*Config, error) {
	cfg := Default()

	stringVar(&cfg.Server.Host, "SENTINEL_HOST")
	intVar(&cfg.Server.Port, "SENTINEL_PORT")
	stringVar(&cfg.Logging.Level, "SENTINEL_LOG_LEVEL")
	stringVar(&cfg.Logging.Format, "SENTINEL_LOG_FORMAT")

	stringVar(&cfg.Bus.Driver, "SENTINEL_BUS_DRIVER")
	stringVar(&cfg.Bus.RedisAddr, "SENTINEL_REDIS_ADDR")

	stringVar(&cfg.Store.SQLitePath, "SENTINEL_DB_PATH")

	durationVar(&cfg.Scheduler.TickInterval, "SENTINEL_SCHEDULER_TICK")
	stringVar(&cfg.Scheduler.FastPathSeverity, "SENTINEL_SCHEDULER_FAST_PATH_SEVERITY")
	intVar(&cfg.Scheduler.PollBatch, "SENTINEL_SCHEDULER_POLL_BATCH")
	floatVar(&cfg.Scheduler.MinBattery, "SENTINEL_SCHEDULER_MIN_BATTERY")
	durationVar(&cfg.Scheduler.AlertTTL, "SENTINEL_SCHEDULER_ALERT_TTL")

	durationVar(&cfg.Dispatch.CommandPublishTimeout, "SENTINEL_DISPATCH_PUBLISH_TIMEOUT")
	intVar(&cfg.Dispatch.MaxDemotions, "SENTINEL_DISPATCH_MAX_DEMOTIONS")

	floatVar(&cfg.Telemetry.RateLimitHz, "SENTINEL_TELEMETRY_RATE_HZ")
	floatVar(&cfg.Detection.BroadcastConfidenceFloor, "SENTINEL_DETECTION_CONFIDENCE_FLOOR")

	stringVar(&cfg.Fleet.SeedPath, "SENTINEL_FLEET_SEED_PATH")
	durationVar(&cfg.Fleet.CommTimeout, "SENTINEL_FLEET_COMM_TIMEOUT")
	durationVar(&cfg.Fleet.MonitorInterval, "SENTINEL_FLEET_MONITOR_INTERVAL")
	floatVar(&cfg.Fleet.LowBattery, "SENTINEL_FLEET_LOW_BATTERY")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func stringVar(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func intVar(dst *int, env string) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func floatVar(dst *float64, env string) {
	if v := os.Getenv(env); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func durationVar(dst *time.Duration, env string) {
	if v := os.Getenv(env); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// Package config loads and validates application configuration from
// environment variables, plus an optional YAML operator file for the
// milestone ladder and opportunity-kind multipliers.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Control server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	AdminAPIKey  string // Bearer key for the control surface; empty disables auth (local mode).

	// Engine timing.
	CycleInterval time.Duration // Sleep between completed cycles.
	PausePoll     time.Duration // Poll interval while paused.
	ErrorCooldown time.Duration // Sleep after an error escapes a cycle.

	// Aggregation and fan-out.
	HistoryCap    int     // Bounded cycle history length.
	ActivityCap   int     // Activity ring buffer length.
	MinConfidence float64 // Fan-out result filter, 0..1.
	MinScore      float64 // Fan-out result filter, 0..100.
	ResultCap     int     // Max ranked results kept per phase.
	FanOutLimit   int     // Max concurrent subsystem calls per phase; 0 = one per subsystem.

	// Supervisor settings.
	SupervisorDelay    time.Duration // Base restart delay.
	SupervisorBackoff  float64       // Delay growth factor per consecutive restart; 1.0 = constant.
	SupervisorMaxDelay time.Duration // Ceiling for the grown delay.

	// Storage settings.
	DatabaseURL string // Postgres URL; empty selects the embedded SQLite store.
	SQLitePath  string

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel   string
	ConfigFile string // Optional YAML file with milestones and kind multipliers.
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:               envInt("MERIDIAN_PORT", 8700),
		ReadTimeout:        envDuration("MERIDIAN_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:       envDuration("MERIDIAN_WRITE_TIMEOUT", 30*time.Second),
		AdminAPIKey:        envStr("MERIDIAN_ADMIN_API_KEY", ""),
		CycleInterval:      envDuration("MERIDIAN_CYCLE_INTERVAL", 1800*time.Second),
		PausePoll:          envDuration("MERIDIAN_PAUSE_POLL", 60*time.Second),
		ErrorCooldown:      envDuration("MERIDIAN_ERROR_COOLDOWN", 300*time.Second),
		HistoryCap:         envInt("MERIDIAN_HISTORY_CAP", 100),
		ActivityCap:        envInt("MERIDIAN_ACTIVITY_CAP", 100),
		MinConfidence:      envFloat("MERIDIAN_MIN_CONFIDENCE", 0.5),
		MinScore:           envFloat("MERIDIAN_MIN_SCORE", 50),
		ResultCap:          envInt("MERIDIAN_RESULT_CAP", 50),
		FanOutLimit:        envInt("MERIDIAN_FANOUT_LIMIT", 0),
		SupervisorDelay:    envDuration("MERIDIAN_SUPERVISOR_DELAY", 3*time.Second),
		SupervisorBackoff:  envFloat("MERIDIAN_SUPERVISOR_BACKOFF_FACTOR", 1.0),
		SupervisorMaxDelay: envDuration("MERIDIAN_SUPERVISOR_MAX_DELAY", 5*time.Minute),
		DatabaseURL:        envStr("DATABASE_URL", ""),
		SQLitePath:         envStr("MERIDIAN_SQLITE_PATH", "meridian.db"),
		OTELEndpoint:       envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:       envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:        envStr("OTEL_SERVICE_NAME", "meridian"),
		LogLevel:           envStr("MERIDIAN_LOG_LEVEL", "info"),
		ConfigFile:         envStr("MERIDIAN_CONFIG_FILE", ""),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that configuration values are usable.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: MERIDIAN_PORT out of range: %d", c.Port)
	}
	if c.CycleInterval <= 0 {
		return fmt.Errorf("config: MERIDIAN_CYCLE_INTERVAL must be positive")
	}
	if c.PausePoll <= 0 {
		return fmt.Errorf("config: MERIDIAN_PAUSE_POLL must be positive")
	}
	if c.ErrorCooldown <= 0 {
		return fmt.Errorf("config: MERIDIAN_ERROR_COOLDOWN must be positive")
	}
	if c.HistoryCap <= 0 {
		return fmt.Errorf("config: MERIDIAN_HISTORY_CAP must be positive")
	}
	if c.ActivityCap <= 0 {
		return fmt.Errorf("config: MERIDIAN_ACTIVITY_CAP must be positive")
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("config: MERIDIAN_MIN_CONFIDENCE must be in [0,1]")
	}
	if c.MinScore < 0 || c.MinScore > 100 {
		return fmt.Errorf("config: MERIDIAN_MIN_SCORE must be in [0,100]")
	}
	if c.ResultCap <= 0 {
		return fmt.Errorf("config: MERIDIAN_RESULT_CAP must be positive")
	}
	if c.FanOutLimit < 0 {
		return fmt.Errorf("config: MERIDIAN_FANOUT_LIMIT must be >= 0")
	}
	if c.SupervisorDelay <= 0 {
		return fmt.Errorf("config: MERIDIAN_SUPERVISOR_DELAY must be positive")
	}
	if c.SupervisorBackoff < 1.0 {
		return fmt.Errorf("config: MERIDIAN_SUPERVISOR_BACKOFF_FACTOR must be >= 1.0")
	}
	if c.SupervisorMaxDelay < c.SupervisorDelay {
		return fmt.Errorf("config: MERIDIAN_SUPERVISOR_MAX_DELAY must be >= MERIDIAN_SUPERVISOR_DELAY")
	}
	if c.DatabaseURL == "" && c.SQLitePath == "" {
		return fmt.Errorf("config: MERIDIAN_SQLITE_PATH is required when DATABASE_URL is unset")
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		// Bare integers are read as seconds, matching the original knobs.
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}

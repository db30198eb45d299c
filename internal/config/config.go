// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration. CLI flags override these
// values; the environment supplies defaults for unattended runs.
type Config struct {
	// Storage settings.
	StorageURL string // postgres://, sqlite:// or memory:// URL.

	// Run settings.
	StudyName    string
	Direction    string // "minimize" or "maximize".
	NTrials      int
	NJobs        int
	Timeout      time.Duration // Bounds trial starts; zero means none.
	Metric       string        // Metric name read from the trainer's metrics.json.
	LoadIfExists bool
	FailFast     bool

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		StorageURL:   envStr("TANSAKU_STORAGE_URL", "sqlite://tansaku.db"),
		StudyName:    envStr("TANSAKU_STUDY", ""),
		Direction:    envStr("TANSAKU_DIRECTION", "minimize"),
		NTrials:      envInt("TANSAKU_N_TRIALS", 50),
		NJobs:        envInt("TANSAKU_N_JOBS", 1),
		Timeout:      envDuration("TANSAKU_TIMEOUT", 0),
		Metric:       envStr("TANSAKU_METRIC", "best_validation_loss"),
		LoadIfExists: envBool("TANSAKU_LOAD_IF_EXISTS", false),
		FailFast:     envBool("TANSAKU_FAIL_FAST", false),
		OTELEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:  envStr("OTEL_SERVICE_NAME", "tansaku"),
		LogLevel:     envStr("TANSAKU_LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present.
func (c Config) Validate() error {
	if c.StorageURL == "" {
		return fmt.Errorf("config: TANSAKU_STORAGE_URL is required")
	}
	if c.Direction != "minimize" && c.Direction != "maximize" {
		return fmt.Errorf("config: TANSAKU_DIRECTION must be minimize or maximize, got %q", c.Direction)
	}
	if c.NJobs < 1 {
		return fmt.Errorf("config: TANSAKU_N_JOBS must be positive")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("config: TANSAKU_TIMEOUT must not be negative")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

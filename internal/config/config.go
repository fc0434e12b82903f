// Package config loads and validates environment variables at startup.
// Fail-fast: if a required variable is missing or malformed, Load returns
// an error and the process exits.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers accepted in STORE_DRIVER.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config holds all runtime configuration for the scrape service.
type Config struct {
	Port     string
	GRPCPort string
	LogLevel string

	StoreDriver string
	DatabaseURL string
	SQLitePath  string
	RedisURL    string // optional; enables Redis event publishing

	ApifyToken        string
	ApifyActorID      string
	ApifyBaseURL      string
	ApifyPollInterval time.Duration
	ApifyRPS          float64

	StageTimeout    time.Duration
	StaleAfter      time.Duration
	SweepSpec       string // cron spec, e.g. "@every 1m"
	MaxJobCount     int
	DefaultJobCount int
	FreeVisibleJobs int

	JWTSecret string // empty: trust the Gateway's x-user-id header
}

// Load reads an optional .env file, then environment variables, and returns
// a validated Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		Port:         getenv("SCRAPE_PORT", "8083"),
		GRPCPort:     getenv("SCRAPE_GRPC_PORT", "9083"),
		LogLevel:     getenv("LOG_LEVEL", "info"),
		StoreDriver:  getenv("STORE_DRIVER", DriverPostgres),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		SQLitePath:   getenv("SQLITE_PATH", "scrape-jobs.db"),
		RedisURL:     os.Getenv("REDIS_URL"),
		ApifyToken:   os.Getenv("APIFY_TOKEN"),
		ApifyActorID: os.Getenv("APIFY_ACTOR_ID"),
		ApifyBaseURL: os.Getenv("APIFY_BASE_URL"),
		SweepSpec:    getenv("SWEEP_SPEC", "@every 1m"),
		JWTSecret:    os.Getenv("JWT_SECRET"),
	}

	if cfg.ApifyToken == "" {
		return nil, fmt.Errorf("APIFY_TOKEN is required")
	}

	switch cfg.StoreDriver {
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=%s", DriverPostgres)
		}
	case DriverSQLite, DriverMemory:
	default:
		return nil, fmt.Errorf("STORE_DRIVER must be one of %s, %s, %s, got %q",
			DriverPostgres, DriverSQLite, DriverMemory, cfg.StoreDriver)
	}

	var err error
	if cfg.ApifyPollInterval, err = durationEnv("APIFY_POLL_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.StageTimeout, err = durationEnv("STAGE_TIMEOUT", 4*time.Minute); err != nil {
		return nil, err
	}
	if cfg.StaleAfter, err = durationEnv("STALE_AFTER", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.StaleAfter <= cfg.StageTimeout {
		return nil, fmt.Errorf("STALE_AFTER (%s) must be longer than STAGE_TIMEOUT (%s)", cfg.StaleAfter, cfg.StageTimeout)
	}
	if cfg.MaxJobCount, err = intEnv("MAX_JOB_COUNT", 500, 1); err != nil {
		return nil, err
	}
	if cfg.DefaultJobCount, err = intEnv("DEFAULT_JOB_COUNT", 100, 1); err != nil {
		return nil, err
	}
	if cfg.DefaultJobCount > cfg.MaxJobCount {
		return nil, fmt.Errorf("DEFAULT_JOB_COUNT (%d) must not exceed MAX_JOB_COUNT (%d)", cfg.DefaultJobCount, cfg.MaxJobCount)
	}
	if cfg.FreeVisibleJobs, err = intEnv("FREE_VISIBLE_JOBS", 0, 0); err != nil {
		return nil, err
	}

	cfg.ApifyRPS = 5
	if s := os.Getenv("APIFY_RPS"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("APIFY_RPS must be a positive number, got %q", s)
		}
		cfg.ApifyRPS = v
	}

	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration, got %q", key, s)
	}
	return d, nil
}

func intEnv(key string, def, min int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < min {
		return 0, fmt.Errorf("%s must be an integer >= %d, got %q", key, min, s)
	}
	return v, nil
}

package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL     string
	HTTPAddr        string // empty disables the operator HTTP surface
	ShutdownTimeout int    // seconds
	Scheduler       SchedulerConfig
}

// Load reads configuration from environment variables plus the optional
// scheduler tuning file pointed at by SCHEDULER_CONFIG. A missing database
// URL or an unusable tuning file is fatal; everything else has defaults.
func Load() (*Config, error) {
	// Load .env file if exists (ignore error in production)
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	sched := DefaultSchedulerConfig()
	if path := os.Getenv("SCHEDULER_CONFIG"); path != "" {
		loaded, err := LoadSchedulerConfig(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load scheduler config %s: %w", path, err)
		}
		sched = loaded
	}
	if err := sched.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scheduler config: %w", err)
	}

	return &Config{
		DatabaseURL:     dbURL,
		HTTPAddr:        os.Getenv("HTTP_ADDR"),
		ShutdownTimeout: 30,
		Scheduler:       sched,
	}, nil
}

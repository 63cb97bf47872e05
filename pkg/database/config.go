package database

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// LoadConfigFromEnv loads PostgreSQL configuration from the standard libpq
// environment variables (PGHOST, PGPORT, ...) plus a small set of pool-tuning
// variables specific to this module, with production-ready defaults.
func LoadConfigFromEnv() (Config, error) {
	port, err := strconv.Atoi(getEnvOrDefault("PGPORT", "5432"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid PGPORT: %w", err)
	}

	maxOpen, _ := strconv.Atoi(getEnvOrDefault("AIDAM_DB_MAX_OPEN_CONNS", "10"))
	maxIdle, _ := strconv.Atoi(getEnvOrDefault("AIDAM_DB_MAX_IDLE_CONNS", "4"))

	maxLifetime, err := time.ParseDuration(getEnvOrDefault("AIDAM_DB_CONN_MAX_LIFETIME", "30m"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid AIDAM_DB_CONN_MAX_LIFETIME: %w", err)
	}
	maxIdleTime, err := time.ParseDuration(getEnvOrDefault("AIDAM_DB_CONN_MAX_IDLE_TIME", "5m"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid AIDAM_DB_CONN_MAX_IDLE_TIME: %w", err)
	}

	cfg := Config{
		Host:            getEnvOrDefault("PGHOST", "localhost"),
		Port:            port,
		User:            getEnvOrDefault("PGUSER", "aidam"),
		Password:        os.Getenv("PGPASSWORD"),
		Database:        getEnvOrDefault("PGDATABASE", "aidam"),
		SSLMode:         getEnvOrDefault("PGSSLMODE", "disable"),
		MaxOpenConns:    maxOpen,
		MaxIdleConns:    maxIdle,
		ConnMaxLifetime: maxLifetime,
		ConnMaxIdleTime: maxIdleTime,
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	if c.Password == "" {
		return fmt.Errorf("PGPASSWORD is required")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("AIDAM_DB_MAX_IDLE_CONNS (%d) cannot exceed AIDAM_DB_MAX_OPEN_CONNS (%d)",
			c.MaxIdleConns, c.MaxOpenConns)
	}
	if c.MaxOpenConns < 1 {
		return fmt.Errorf("AIDAM_DB_MAX_OPEN_CONNS must be at least 1")
	}
	if c.MaxIdleConns < 0 {
		return fmt.Errorf("AIDAM_DB_MAX_IDLE_CONNS cannot be negative")
	}
	return nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

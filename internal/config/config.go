// Package config loads service configuration from the environment, with a
// best-effort .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Store backends selectable via STORE_BACKEND.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Engine kinds selectable via ENGINE.
const (
	EngineLocal  = "local"
	EngineRemote = "remote"
)

// Config carries the settings for both the API server and the worker.
type Config struct {
	HTTPPort     string
	StoreBackend string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDatabase string
	PostgresSSLMode  string

	NATSEnabled bool
	NATSURL     string

	ModelsDir string

	PollInterval  time.Duration
	EngineTimeout time.Duration
	EngineKind    string
	EngineURL     string
}

// Load reads the environment. A .env file in the working directory is
// merged in when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPPort:     envOr("PORT", "8080"),
		StoreBackend: envOr("STORE_BACKEND", BackendMemory),

		RedisAddr:     envOr("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		PostgresHost:     envOr("DB_HOST", "localhost"),
		PostgresPort:     envOr("DB_PORT", "5432"),
		PostgresUser:     envOr("DB_USER", "postgres"),
		PostgresPassword: os.Getenv("DB_PASSWORD"),
		PostgresDatabase: envOr("DB_NAME", "dronesim"),
		PostgresSSLMode:  envOr("DB_SSLMODE", "disable"),

		NATSURL: envOr("NATS_URL", "nats://localhost:4222"),

		ModelsDir: envOr("MODELS_DIR", "3d_models"),

		EngineKind: envOr("ENGINE", EngineLocal),
		EngineURL:  envOr("ENGINE_URL", "http://simulation:8000"),
	}

	switch cfg.StoreBackend {
	case BackendMemory, BackendRedis, BackendPostgres:
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}

	switch cfg.EngineKind {
	case EngineLocal, EngineRemote:
	default:
		return nil, fmt.Errorf("unknown ENGINE %q", cfg.EngineKind)
	}

	var err error
	if cfg.RedisDB, err = envInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.NATSEnabled, err = envBool("USE_NATS", false); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = envDuration("WORKER_POLL_INTERVAL", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.EngineTimeout, err = envDuration("ENGINE_TIMEOUT", 30*time.Minute); err != nil {
		return nil, err
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean: %w", key, err)
	}
	return b, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration like 2s or 1m: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return d, nil
}

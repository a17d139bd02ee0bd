package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads environment variables from a .env file if present.
// Existing environment variables are not overwritten.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

type Config struct {
	Port                       string
	DatabaseURL                string
	DBMaxOpenConns             int
	DBMaxIdleConns             int
	DBConnMaxLifetimeSeconds   int
	DBConnMaxIdleTimeSeconds   int
	LogLevel                   string
	LogFormat                  string
	SweepIntervalSeconds       int
	ProposalTTLSeconds         int
	WorkerLaunchTimeoutSeconds int
	WorkerSubmitTimeoutSeconds int
	WorkerRestartAttempts      int
	WorkersConfigPath          string
}

func Default() Config {
	return Config{
		Port:                       "8080",
		DBMaxOpenConns:             10,
		DBMaxIdleConns:             10,
		DBConnMaxLifetimeSeconds:   300,
		DBConnMaxIdleTimeSeconds:   60,
		LogLevel:                   "info",
		LogFormat:                  "json",
		SweepIntervalSeconds:       5,
		ProposalTTLSeconds:         300,
		WorkerLaunchTimeoutSeconds: 10,
		WorkerSubmitTimeoutSeconds: 10,
		WorkerRestartAttempts:      2,
		WorkersConfigPath:          "workers.yaml",
	}
}

func Load() Config {
	cfg := Default()
	if raw := os.Getenv("PORT"); raw != "" {
		cfg.Port = raw
	}
	if raw := os.Getenv("DATABASE_URL"); raw != "" {
		cfg.DatabaseURL = raw
	}
	positiveInt("DB_MAX_OPEN_CONNS", &cfg.DBMaxOpenConns)
	positiveInt("DB_MAX_IDLE_CONNS", &cfg.DBMaxIdleConns)
	positiveInt("DB_CONN_MAX_LIFETIME_SECONDS", &cfg.DBConnMaxLifetimeSeconds)
	positiveInt("DB_CONN_MAX_IDLE_SECONDS", &cfg.DBConnMaxIdleTimeSeconds)
	if raw := os.Getenv("LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("LOG_FORMAT"); raw != "" {
		cfg.LogFormat = raw
	}
	positiveInt("SWEEP_INTERVAL_SECONDS", &cfg.SweepIntervalSeconds)
	positiveInt("PROPOSAL_TTL_SECONDS", &cfg.ProposalTTLSeconds)
	positiveInt("WORKER_LAUNCH_TIMEOUT_SECONDS", &cfg.WorkerLaunchTimeoutSeconds)
	positiveInt("WORKER_SUBMIT_TIMEOUT_SECONDS", &cfg.WorkerSubmitTimeoutSeconds)
	positiveInt("WORKER_RESTART_ATTEMPTS", &cfg.WorkerRestartAttempts)
	if raw := os.Getenv("WORKERS_CONFIG"); raw != "" {
		cfg.WorkersConfigPath = raw
	}
	return cfg
}

func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

func (c Config) ProposalTTL() time.Duration {
	return time.Duration(c.ProposalTTLSeconds) * time.Second
}

func (c Config) WorkerLaunchTimeout() time.Duration {
	return time.Duration(c.WorkerLaunchTimeoutSeconds) * time.Second
}

func (c Config) WorkerSubmitTimeout() time.Duration {
	return time.Duration(c.WorkerSubmitTimeoutSeconds) * time.Second
}

func positiveInt(key string, dest *int) {
	raw := os.Getenv(key)
	if raw == "" {
		return
	}
	if value, err := strconv.Atoi(raw); err == nil && value > 0 {
		*dest = value
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadReadsOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("DATABASE_URL", "postgres://localhost/gamehub")
	t.Setenv("SWEEP_INTERVAL_SECONDS", "2")
	t.Setenv("WORKER_RESTART_ATTEMPTS", "0")
	t.Setenv("DB_MAX_OPEN_CONNS", "nope")

	cfg := Load()
	require.Equal(t, "9000", cfg.Port)
	require.Equal(t, "postgres://localhost/gamehub", cfg.DatabaseURL)
	require.Equal(t, 2*time.Second, cfg.SweepInterval())
	require.Equal(t, 2, cfg.WorkerRestartAttempts)
	require.Equal(t, Default().DBMaxOpenConns, cfg.DBMaxOpenConns)
}

func TestLoadDotEnvMissingFile(t *testing.T) {
	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), ".env")))
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("LOG_LEVEL=debug\nLOG_FORMAT=console\n"), 0o644))
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("LOG_FORMAT", "")
	require.NoError(t, os.Unsetenv("LOG_FORMAT"))

	require.NoError(t, LoadDotEnv(path))
	require.Equal(t, "warn", os.Getenv("LOG_LEVEL"))
	require.Equal(t, "console", os.Getenv("LOG_FORMAT"))
}

func TestParseWorkers(t *testing.T) {
	catalog, err := ParseWorkers([]byte(`
workers:
  - game_type: rock-paper-scissors
    path: ./bin/rps-worker
  - game_type: chess
    path: /opt/chess
    args: ["--strict"]
`))
	require.NoError(t, err)
	require.Len(t, catalog, 2)
	require.Equal(t, DefaultWorkerArgs, catalog["rock-paper-scissors"].Args)
	require.Equal(t, []string{"--strict"}, catalog["chess"].Args)

	_, err = ParseWorkers([]byte("workers:\n  - game_type: a\n    path: x\n  - game_type: a\n    path: y\n"))
	require.Error(t, err)
}

func TestLoadWorkersMissingFile(t *testing.T) {
	catalog, err := LoadWorkers(filepath.Join(t.TempDir(), "workers.yaml"))
	require.NoError(t, err)
	require.Empty(t, catalog)
}

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"n3n.dev/core/internal/config"
)

func TestNewReturnsDefaults(t *testing.T) {
	cfg := config.New()
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "inmem", cfg.Store)
	require.Equal(t, 24*time.Hour, cfg.Session.TTL)
	require.Equal(t, 1.5, cfg.RateLimit.BurstMultiplier)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	require.Equal(t, config.New(), cfg)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  host: 10.0.0.1
  port: 9090
store: mongo
mongo:
  uri: mongodb://localhost:27017
  database: n3n_test
`), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "10.0.0.1", cfg.Server.Host)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "mongo", cfg.Store)
	require.Equal(t, "mongodb://localhost:27017", cfg.Mongo.URI)
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o600))

	t.Setenv("N3N_SERVER_PORT", "7070")
	t.Setenv("N3N_RATELIMIT_FAIL_OPEN", "true")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)
	require.True(t, cfg.RateLimit.FailOpen)
}

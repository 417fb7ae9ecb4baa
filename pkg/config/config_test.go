package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr)
	assert.Equal(t, time.Minute, cfg.PersistInterval)
	assert.Equal(t, 256, cfg.SubscriberBuffer)
	assert.Equal(t, filepath.Join("data", "database.json"), cfg.Database)
	assert.Equal(t, filepath.Join("data", "journal.sqlite3"), cfg.Journal)
	assert.Equal(t, filepath.Join("data", "saves"), cfg.SavesDir())
	assert.Equal(t, slog.LevelInfo, cfg.Level())
}

func TestEnvironment(t *testing.T) {
	t.Setenv("SCOREBOARD_DATA_DIR", "/srv/board")
	t.Setenv("SCOREBOARD_PERSIST_INTERVAL", "30s")
	t.Setenv("SCOREBOARD_NATS_URL", "nats://localhost:4222")
	t.Setenv("LOG_LEVEL", "debug")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.PersistInterval)
	assert.Equal(t, "/srv/board/database.json", cfg.Database)
	assert.Equal(t, "nats://localhost:4222", cfg.NatsURL)
	assert.Equal(t, slog.LevelDebug, cfg.Level())
}

func TestDotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("SCOREBOARD_ADDR=127.0.0.1:9999\nSCOREBOARD_SUBSCRIBER_BUFFER=4\n"), 0o600))
	t.Setenv("SCOREBOARD_SUBSCRIBER_BUFFER", "8")
	t.Cleanup(func() { _ = os.Unsetenv("SCOREBOARD_ADDR") })

	cfg, err := Load(path, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.Addr)
	assert.Equal(t, 8, cfg.SubscriberBuffer)
}

func TestBadValue(t *testing.T) {
	t.Setenv("SCOREBOARD_PERSIST_INTERVAL", "soon")
	_, err := Load()
	assert.Error(t, err)
}

func TestUnknownLevel(t *testing.T) {
	assert.Equal(t, slog.LevelInfo, Config{LogLevel: "loud"}.Level())
	assert.Equal(t, slog.LevelWarn, Config{LogLevel: "WARN"}.Level())
}

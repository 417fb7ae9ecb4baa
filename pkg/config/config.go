package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the server configuration, read from the environment and an optional .env file.
type Config struct {
	Addr             string        `env:"SCOREBOARD_ADDR"              envDefault:"0.0.0.0:8080"`
	DataDir          string        `env:"SCOREBOARD_DATA_DIR"          envDefault:"data"`
	Database         string        `env:"SCOREBOARD_DATABASE"`
	Journal          string        `env:"SCOREBOARD_JOURNAL"`
	PublicDir        string        `env:"SCOREBOARD_PUBLIC_DIR"`
	PersistInterval  time.Duration `env:"SCOREBOARD_PERSIST_INTERVAL"  envDefault:"1m"`
	SubscriberBuffer int           `env:"SCOREBOARD_SUBSCRIBER_BUFFER" envDefault:"256"`
	NatsURL          string        `env:"SCOREBOARD_NATS_URL"`
	NatsSubject      string        `env:"SCOREBOARD_NATS_SUBJECT"      envDefault:"scoreboard.events"`
	LogLevel         string        `env:"LOG_LEVEL"                    envDefault:"info"`
}

// Load reads the given .env files when they exist, then parses the environment. Variables already set in the
// environment win over the files.
func Load(files ...string) (Config, error) {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Database == "" {
		cfg.Database = filepath.Join(cfg.DataDir, "database.json")
	}
	if cfg.Journal == "" {
		cfg.Journal = filepath.Join(cfg.DataDir, "journal.sqlite3")
	}
	return cfg, nil
}

// SavesDir is where saved games live.
func (c Config) SavesDir() string {
	return filepath.Join(c.DataDir, "saves")
}

// Level maps LOG_LEVEL onto a slog level, defaulting to info.
func (c Config) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// SetupLogging installs the default text logger at the configured level.
func (c Config) SetupLogging() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: c.Level()})))
}

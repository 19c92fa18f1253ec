// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is read once at startup. CLI flags override individual fields.
type Config struct {
	// DatabaseFile is the SQLite ledger path.
	DatabaseFile string `env:"VOICERANK_DATABASE_FILE" envDefault:"voicerank.db"`

	// NotifyMembers sends a congratulation message on promotion.
	NotifyMembers bool `env:"VOICERANK_NOTIFY_MEMBERS" envDefault:"false"`

	// Shards is the number of dispatcher workers.
	Shards int `env:"VOICERANK_SHARDS" envDefault:"8"`

	// ShardBuffer is the per-worker event buffer.
	ShardBuffer int `env:"VOICERANK_SHARD_BUFFER" envDefault:"64"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"VOICERANK_LOG_LEVEL" envDefault:"info"`

	// LogFile additionally writes logs to this file when set.
	LogFile string `env:"VOICERANK_LOG_FILE"`
}

// Load reads an optional .env file (or the given files), then parses the
// environment into a Config.
func Load(dotenvFiles ...string) (Config, error) {
	// Missing .env files are fine; production won't have one.
	_ = godotenv.Load(dotenvFiles...)

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges that env tags cannot express.
func (c Config) Validate() error {
	if c.DatabaseFile == "" {
		return fmt.Errorf("config: VOICERANK_DATABASE_FILE must not be empty")
	}
	if c.Shards <= 0 {
		return fmt.Errorf("config: VOICERANK_SHARDS must be positive, got %d", c.Shards)
	}
	if c.ShardBuffer <= 0 {
		return fmt.Errorf("config: VOICERANK_SHARD_BUFFER must be positive, got %d", c.ShardBuffer)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return slog.LevelInfo, fmt.Errorf("config: invalid VOICERANK_LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	return lvl, nil
}

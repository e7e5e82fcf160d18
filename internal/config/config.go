// Package config loads Overseer's environment-driven configuration, per
// the ambient config stack described in the expanded specification §4.9.
package config

import (
	"fmt"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/odin-platform/overseer/internal/logging"
)

// Config is the full set of environment-overridable settings a running
// overseerd process needs.
type Config struct {
	Addr              string  `env:"OVERSEER_ADDR" envDefault:":7070"`
	StorageDir        string  `env:"OVERSEER_STORAGE_DIR" envDefault:"./data"`
	StorageFile       string  `env:"OVERSEER_STORAGE_FILE" envDefault:"overseer.db"`
	MaxConnections    int     `env:"OVERSEER_MAX_CONNECTIONS" envDefault:"4096"`
	OutboxCapacity    int     `env:"OVERSEER_OUTBOX_CAPACITY" envDefault:"250"`
	MaxRequestsPerSec float64 `env:"OVERSEER_MAX_REQUESTS_PER_SEC" envDefault:"500"`
	SyncEveryWrite    bool    `env:"OVERSEER_SYNC_EVERY_WRITE" envDefault:"true"`
	LogLevel          string  `env:"OVERSEER_LOG_LEVEL" envDefault:"info"`
	LogFormat         string  `env:"OVERSEER_LOG_FORMAT" envDefault:"json"`
	MetricsAddr       string  `env:"OVERSEER_METRICS_ADDR" envDefault:":9070"`
	NATSURL           string  `env:"OVERSEER_NATS_URL" envDefault:""`
	NATSSubjectPrefix string  `env:"OVERSEER_NATS_SUBJECT_PREFIX" envDefault:"overseer"`
	WSGatewayAddr     string  `env:"OVERSEER_WS_GATEWAY_ADDR" envDefault:""`
}

// Load reads a `.env` file if present (ignored if absent), then parses
// the process environment into a Config with defaults applied.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Addr == "" {
		return fmt.Errorf("config: OVERSEER_ADDR must not be empty")
	}
	if c.StorageDir == "" || c.StorageFile == "" {
		return fmt.Errorf("config: storage dir and file must not be empty")
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("config: OVERSEER_MAX_CONNECTIONS must be positive")
	}
	if c.OutboxCapacity <= 0 {
		return fmt.Errorf("config: OVERSEER_OUTBOX_CAPACITY must be positive")
	}
	if c.MaxRequestsPerSec <= 0 {
		return fmt.Errorf("config: OVERSEER_MAX_REQUESTS_PER_SEC must be positive")
	}
	return nil
}

// StoragePath joins the storage dir and file into the path the paged file
// is opened at.
func (c Config) StoragePath() string {
	return filepath.Join(c.StorageDir, c.StorageFile)
}

// LoggingConfig projects the logging-relevant fields out of Config.
func (c Config) LoggingConfig() logging.Config {
	return logging.Config{
		Level:  logging.Level(c.LogLevel),
		Format: logging.Format(c.LogFormat),
	}
}

// Print logs the resolved configuration at startup, mirroring the
// teacher's startup-visibility convention.
func (c Config) Print(logger zerolog.Logger) {
	logger.Info().
		Str("addr", c.Addr).
		Str("storage_path", c.StoragePath()).
		Int("max_connections", c.MaxConnections).
		Int("outbox_capacity", c.OutboxCapacity).
		Float64("max_requests_per_sec", c.MaxRequestsPerSec).
		Bool("sync_every_write", c.SyncEveryWrite).
		Str("metrics_addr", c.MetricsAddr).
		Bool("nats_enabled", c.NATSURL != "").
		Bool("ws_gateway_enabled", c.WSGatewayAddr != "").
		Msg("configuration loaded")
}

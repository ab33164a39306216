package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/aviario/postura/pkg/database"
	"github.com/aviario/postura/pkg/storage"
)

const (
	BaseConfigFile       = "config.toml"
	OverlayConfigPattern = "config.%s.toml"
	DotEnvFile           = ".env"

	EnvPosturaEnv             = "POSTURA_ENV"
	EnvPosturaShutdownTimeout = "POSTURA_SHUTDOWN_TIMEOUT"
	EnvPosturaVersion         = "POSTURA_VERSION"
	EnvPosturaLogLevel        = "POSTURA_LOG_LEVEL"
)

var databaseEnv = &database.Env{
	Enabled:         "POSTURA_DB_ENABLED",
	Host:            "POSTURA_DB_HOST",
	Port:            "POSTURA_DB_PORT",
	Name:            "POSTURA_DB_NAME",
	User:            "POSTURA_DB_USER",
	Password:        "POSTURA_DB_PASSWORD",
	SSLMode:         "POSTURA_DB_SSL_MODE",
	MaxOpenConns:    "POSTURA_DB_MAX_OPEN_CONNS",
	MaxIdleConns:    "POSTURA_DB_MAX_IDLE_CONNS",
	ConnMaxLifetime: "POSTURA_DB_CONN_MAX_LIFETIME",
	ConnTimeout:     "POSTURA_DB_CONN_TIMEOUT",
}

var storageEnv = &storage.Env{
	Enabled:          "POSTURA_STORAGE_ENABLED",
	ContainerName:    "POSTURA_STORAGE_CONTAINER_NAME",
	ConnectionString: "POSTURA_STORAGE_CONNECTION_STRING",
	ServiceURL:       "POSTURA_STORAGE_SERVICE_URL",
	MaxListSize:      "POSTURA_STORAGE_MAX_LIST_SIZE",
}

// Config is the root configuration shared by the server and the trainer.
type Config struct {
	Server          ServerConfig    `toml:"server"`
	Database        database.Config `toml:"database"`
	Storage         storage.Config  `toml:"storage"`
	API             APIConfig       `toml:"api"`
	Model           ModelConfig     `toml:"model"`
	Inference       InferenceConfig `toml:"inference"`
	Training        TrainingConfig  `toml:"training"`
	ShutdownTimeout string          `toml:"shutdown_timeout"`
	Version         string          `toml:"version"`
	LogLevel        string          `toml:"log_level"`
}

// Env returns the POSTURA_ENV value, defaulting to "local".
func (c *Config) Env() string {
	if env := os.Getenv(EnvPosturaEnv); env != "" {
		return env
	}
	return "local"
}

// ShutdownTimeoutDuration returns ShutdownTimeout as a time.Duration.
func (c *Config) ShutdownTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.ShutdownTimeout)
	return d
}

// Level returns LogLevel as a slog.Level.
func (c *Config) Level() slog.Level {
	var level slog.Level
	level.UnmarshalText([]byte(c.LogLevel))
	return level
}

// Load reads a .env file and the base config (if present), applies any
// environment overlay, and finalizes all values. If no config.toml exists,
// defaults and environment variables provide all configuration. Variables
// already set in the process environment take precedence over .env.
func Load() (*Config, error) {
	if err := godotenv.Load(DotEnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", DotEnvFile, err)
	}

	cfg := &Config{}

	if _, err := os.Stat(BaseConfigFile); err == nil {
		loaded, err := load(BaseConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if path := overlayPath(); path != "" {
		overlay, err := load(path)
		if err != nil {
			return nil, fmt.Errorf("load overlay %s: %w", path, err)
		}
		cfg.Merge(overlay)
	}

	if err := cfg.finalize(); err != nil {
		return nil, fmt.Errorf("finalize config: %w", err)
	}

	return cfg, nil
}

// Merge overwrites non-zero fields from overlay across all sub-configs.
func (c *Config) Merge(overlay *Config) {
	if overlay.ShutdownTimeout != "" {
		c.ShutdownTimeout = overlay.ShutdownTimeout
	}
	if overlay.Version != "" {
		c.Version = overlay.Version
	}
	if overlay.LogLevel != "" {
		c.LogLevel = overlay.LogLevel
	}
	c.Server.Merge(&overlay.Server)
	c.Database.Merge(&overlay.Database)
	c.Storage.Merge(&overlay.Storage)
	c.API.Merge(&overlay.API)
	c.Model.Merge(&overlay.Model)
	c.Inference.Merge(&overlay.Inference)
	c.Training.Merge(&overlay.Training)
}

func (c *Config) finalize() error {
	c.loadDefaults()
	c.loadEnv()

	if err := c.validate(); err != nil {
		return err
	}
	if err := c.Server.Finalize(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Database.Finalize(databaseEnv); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Storage.Finalize(storageEnv); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.API.Finalize(); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	if err := c.Model.Finalize(); err != nil {
		return fmt.Errorf("model: %w", err)
	}
	if err := c.Inference.Finalize(); err != nil {
		return fmt.Errorf("inference: %w", err)
	}
	if err := c.Training.Finalize(); err != nil {
		return fmt.Errorf("training: %w", err)
	}
	if c.Model.Source == ModelSourceStorage && !c.Storage.Enabled {
		return fmt.Errorf("model: source %q requires storage.enabled", ModelSourceStorage)
	}
	return nil
}

func (c *Config) loadDefaults() {
	if c.ShutdownTimeout == "" {
		c.ShutdownTimeout = "30s"
	}
	if c.Version == "" {
		c.Version = "0.1.0"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func (c *Config) loadEnv() {
	if v := os.Getenv(EnvPosturaShutdownTimeout); v != "" {
		c.ShutdownTimeout = v
	}
	if v := os.Getenv(EnvPosturaVersion); v != "" {
		c.Version = v
	}
	if v := os.Getenv(EnvPosturaLogLevel); v != "" {
		c.LogLevel = v
	}
}

func (c *Config) validate() error {
	if _, err := time.ParseDuration(c.ShutdownTimeout); err != nil {
		return fmt.Errorf("invalid shutdown_timeout: %w", err)
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	return nil
}

func load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

func overlayPath() string {
	if env := os.Getenv(EnvPosturaEnv); env != "" {
		path := fmt.Sprintf(OverlayConfigPattern, env)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

package config

import (
	"fmt"
	"os"
)

const (
	EnvModelDir           = "POSTURA_MODEL_DIR"
	EnvModelSource        = "POSTURA_MODEL_SOURCE"
	EnvModelStoragePrefix = "POSTURA_MODEL_STORAGE_PREFIX"
)

// Model artifact sources.
const (
	ModelSourceLocal   = "local"
	ModelSourceStorage = "storage"
)

// ModelConfig locates the model artifact.
type ModelConfig struct {
	Dir           string `toml:"dir"`
	Source        string `toml:"source"`
	StoragePrefix string `toml:"storage_prefix"`
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *ModelConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *ModelConfig) Merge(overlay *ModelConfig) {
	if overlay.Dir != "" {
		c.Dir = overlay.Dir
	}
	if overlay.Source != "" {
		c.Source = overlay.Source
	}
	if overlay.StoragePrefix != "" {
		c.StoragePrefix = overlay.StoragePrefix
	}
}

func (c *ModelConfig) loadDefaults() {
	if c.Dir == "" {
		c.Dir = "modelo"
	}
	if c.Source == "" {
		c.Source = ModelSourceLocal
	}
	if c.StoragePrefix == "" {
		c.StoragePrefix = "models/postura"
	}
}

func (c *ModelConfig) loadEnv() {
	if v := os.Getenv(EnvModelDir); v != "" {
		c.Dir = v
	}
	if v := os.Getenv(EnvModelSource); v != "" {
		c.Source = v
	}
	if v := os.Getenv(EnvModelStoragePrefix); v != "" {
		c.StoragePrefix = v
	}
}

func (c *ModelConfig) validate() error {
	if c.Source != ModelSourceLocal && c.Source != ModelSourceStorage {
		return fmt.Errorf("invalid source %q: want %s or %s", c.Source, ModelSourceLocal, ModelSourceStorage)
	}
	return nil
}

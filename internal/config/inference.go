package config

import (
	"fmt"
	"os"
	"strconv"
)

const (
	EnvInferenceThreshold = "POSTURA_INFERENCE_THRESHOLD"
	EnvInferenceField     = "POSTURA_INFERENCE_FIELD"
)

// InferenceConfig holds classification endpoint parameters.
type InferenceConfig struct {
	Threshold float64 `toml:"threshold"`
	Field     string  `toml:"field"`
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *InferenceConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *InferenceConfig) Merge(overlay *InferenceConfig) {
	if overlay.Threshold != 0 {
		c.Threshold = overlay.Threshold
	}
	if overlay.Field != "" {
		c.Field = overlay.Field
	}
}

func (c *InferenceConfig) loadDefaults() {
	if c.Threshold == 0 {
		c.Threshold = 0.8
	}
	if c.Field == "" {
		c.Field = "imagem"
	}
}

func (c *InferenceConfig) loadEnv() {
	if v := os.Getenv(EnvInferenceThreshold); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Threshold = f
		}
	}
	if v := os.Getenv(EnvInferenceField); v != "" {
		c.Field = v
	}
}

func (c *InferenceConfig) validate() error {
	if c.Threshold <= 0 || c.Threshold > 1 {
		return fmt.Errorf("invalid threshold %v: want (0,1]", c.Threshold)
	}
	return nil
}

package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/aviario/postura/internal/network"
)

const (
	EnvTrainingDatasetDir      = "POSTURA_TRAINING_DATASET_DIR"
	EnvTrainingClasses         = "POSTURA_TRAINING_CLASSES"
	EnvTrainingImageSize       = "POSTURA_TRAINING_IMAGE_SIZE"
	EnvTrainingEpochs          = "POSTURA_TRAINING_EPOCHS"
	EnvTrainingBatchSize       = "POSTURA_TRAINING_BATCH_SIZE"
	EnvTrainingValidationSplit = "POSTURA_TRAINING_VALIDATION_SPLIT"
	EnvTrainingLearningRate    = "POSTURA_TRAINING_LEARNING_RATE"
	EnvTrainingShuffle         = "POSTURA_TRAINING_SHUFFLE"
	EnvTrainingSeed            = "POSTURA_TRAINING_SEED"
	EnvTrainingWorkers         = "POSTURA_TRAINING_WORKERS"
	EnvTrainingPublish         = "POSTURA_TRAINING_PUBLISH"
)

// TrainingConfig holds the trainer's tunables. Shuffle is a pointer so a
// config file can turn it off; unset means true.
type TrainingConfig struct {
	DatasetDir      string   `toml:"dataset_dir"`
	Classes         []string `toml:"classes"`
	ImageSize       int      `toml:"image_size"`
	Epochs          int      `toml:"epochs"`
	BatchSize       int      `toml:"batch_size"`
	ValidationSplit float64  `toml:"validation_split"`
	LearningRate    float64  `toml:"learning_rate"`
	Shuffle         *bool    `toml:"shuffle"`
	Seed            int64    `toml:"seed"`
	Workers         int      `toml:"workers"`
	Publish         bool     `toml:"publish"`
}

// ShuffleEnabled reports whether samples are reshuffled every epoch.
func (c *TrainingConfig) ShuffleEnabled() bool {
	return c.Shuffle == nil || *c.Shuffle
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *TrainingConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *TrainingConfig) Merge(overlay *TrainingConfig) {
	if overlay.DatasetDir != "" {
		c.DatasetDir = overlay.DatasetDir
	}
	if overlay.Classes != nil {
		c.Classes = overlay.Classes
	}
	if overlay.ImageSize != 0 {
		c.ImageSize = overlay.ImageSize
	}
	if overlay.Epochs != 0 {
		c.Epochs = overlay.Epochs
	}
	if overlay.BatchSize != 0 {
		c.BatchSize = overlay.BatchSize
	}
	if overlay.ValidationSplit != 0 {
		c.ValidationSplit = overlay.ValidationSplit
	}
	if overlay.LearningRate != 0 {
		c.LearningRate = overlay.LearningRate
	}
	if overlay.Shuffle != nil {
		c.Shuffle = overlay.Shuffle
	}
	if overlay.Seed != 0 {
		c.Seed = overlay.Seed
	}
	if overlay.Workers != 0 {
		c.Workers = overlay.Workers
	}
	if overlay.Publish {
		c.Publish = true
	}
}

func (c *TrainingConfig) loadDefaults() {
	if c.DatasetDir == "" {
		c.DatasetDir = "dataset"
	}
	if len(c.Classes) == 0 {
		c.Classes = []string{"posturando", "nao_posturando"}
	}
	if c.ImageSize == 0 {
		c.ImageSize = 224
	}
	if c.Epochs == 0 {
		c.Epochs = 15
	}
	if c.BatchSize == 0 {
		c.BatchSize = 16
	}
	if c.ValidationSplit == 0 {
		c.ValidationSplit = 0.2
	}
	if c.LearningRate == 0 {
		c.LearningRate = network.DefaultLearningRate
	}
	if c.Workers == 0 {
		c.Workers = runtime.NumCPU()
	}
}

func (c *TrainingConfig) loadEnv() {
	if v := os.Getenv(EnvTrainingDatasetDir); v != "" {
		c.DatasetDir = v
	}
	if v := os.Getenv(EnvTrainingClasses); v != "" {
		parts := strings.Split(v, ",")
		c.Classes = make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				c.Classes = append(c.Classes, trimmed)
			}
		}
	}
	if v := os.Getenv(EnvTrainingImageSize); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.ImageSize = n
		}
	}
	if v := os.Getenv(EnvTrainingEpochs); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Epochs = n
		}
	}
	if v := os.Getenv(EnvTrainingBatchSize); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.BatchSize = n
		}
	}
	if v := os.Getenv(EnvTrainingValidationSplit); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.ValidationSplit = f
		}
	}
	if v := os.Getenv(EnvTrainingLearningRate); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.LearningRate = f
		}
	}
	if v := os.Getenv(EnvTrainingShuffle); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Shuffle = &b
		}
	}
	if v := os.Getenv(EnvTrainingSeed); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Seed = n
		}
	}
	if v := os.Getenv(EnvTrainingWorkers); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Workers = n
		}
	}
	if v := os.Getenv(EnvTrainingPublish); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Publish = b
		}
	}
}

func (c *TrainingConfig) validate() error {
	if len(c.Classes) < 2 {
		return fmt.Errorf("at least two classes required, got %d", len(c.Classes))
	}
	seen := make(map[string]bool, len(c.Classes))
	for _, class := range c.Classes {
		if seen[class] {
			return fmt.Errorf("duplicate class %q", class)
		}
		seen[class] = true
	}
	if c.ImageSize < network.MinImageSize {
		return fmt.Errorf("image_size must be at least %d, got %d", network.MinImageSize, c.ImageSize)
	}
	if c.Epochs < 1 {
		return fmt.Errorf("epochs must be positive, got %d", c.Epochs)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.ValidationSplit < 0 || c.ValidationSplit >= 1 {
		return fmt.Errorf("validation_split must be in [0,1), got %v", c.ValidationSplit)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning_rate must be positive, got %v", c.LearningRate)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	return nil
}

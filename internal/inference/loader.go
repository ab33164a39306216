package inference

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/aviario/postura/internal/artifact"
	"github.com/aviario/postura/internal/config"
	"github.com/aviario/postura/internal/network"
	"github.com/aviario/postura/pkg/storage"
)

// Loader produces the model and its metadata for the Service.
type Loader func(ctx context.Context) (*network.Model, *artifact.Meta, error)

// LocalLoader reads the artifact from dir.
func LocalLoader(dir string) Loader {
	return func(ctx context.Context) (*network.Model, *artifact.Meta, error) {
		return artifact.Load(dir)
	}
}

// StorageLoader downloads the artifact under prefix into dir, then loads it.
func StorageLoader(store storage.System, prefix, dir string) Loader {
	return func(ctx context.Context) (*network.Model, *artifact.Meta, error) {
		if err := artifact.Fetch(ctx, store, prefix, dir); err != nil {
			return nil, nil, err
		}
		return artifact.Load(dir)
	}
}

// NewLoader selects a Loader from the model configuration.
func NewLoader(cfg config.ModelConfig, store storage.System) (Loader, error) {
	switch cfg.Source {
	case config.ModelSourceStorage:
		if store == nil {
			return nil, fmt.Errorf("model source %q requires storage", cfg.Source)
		}
		return StorageLoader(store, cfg.StoragePrefix, cfg.Dir), nil
	default:
		return LocalLoader(cfg.Dir), nil
	}
}

// WarnOnClasses wraps load and logs a warning when the artifact's class
// registry differs from expected. The artifact's classes are used either way.
func WarnOnClasses(load Loader, expected []string, logger *slog.Logger) Loader {
	return func(ctx context.Context) (*network.Model, *artifact.Meta, error) {
		model, meta, err := load(ctx)
		if err == nil && len(expected) > 0 && !slices.Equal(meta.Classes, expected) {
			logger.Warn(
				"configured classes differ from model artifact",
				"configured", expected,
				"artifact", meta.Classes,
			)
		}
		return model, meta, err
	}
}

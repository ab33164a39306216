package api

import (
	"fmt"

	"github.com/aviario/postura/internal/config"
	"github.com/aviario/postura/internal/inference"
	"github.com/aviario/postura/internal/predictions"
	"github.com/aviario/postura/pkg/lifecycle"
)

// Domain holds all domain systems that comprise the API.
// Predictions is nil when the database is disabled.
type Domain struct {
	Inference   *inference.Service
	Predictions predictions.System
}

// NewDomain creates all domain systems from the API runtime.
func NewDomain(cfg *config.Config, runtime *Runtime) (*Domain, error) {
	loader, err := inference.NewLoader(cfg.Model, runtime.Storage)
	if err != nil {
		return nil, fmt.Errorf("model loader: %w", err)
	}
	loader = inference.WarnOnClasses(loader, cfg.Training.Classes, runtime.Logger)

	domain := &Domain{
		Inference: inference.New(cfg.Inference, loader, runtime.Logger),
	}

	if runtime.Database != nil {
		domain.Predictions = predictions.New(
			runtime.Database.Connection(),
			runtime.Storage,
			runtime.Logger,
			runtime.Pagination,
		)
	}

	return domain, nil
}

// Start registers the domain startup and shutdown hooks.
func (d *Domain) Start(lc *lifecycle.Coordinator) error {
	return d.Inference.Start(lc)
}

// Recorder returns the history hook for classifications, or nil when
// prediction history is disabled.
func (d *Domain) Recorder() inference.Recorder {
	if d.Predictions == nil {
		return nil
	}
	return predictions.Recorder(d.Predictions)
}

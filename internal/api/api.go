// Package api assembles the HTTP modules with all domain systems and route registration.
package api

import (
	"fmt"
	"net/http"

	"github.com/aviario/postura/internal/config"
	"github.com/aviario/postura/internal/inference"
	"github.com/aviario/postura/internal/infrastructure"
	"github.com/aviario/postura/pkg/module"
)

// AnalyzePrefix is the mount point of the classification endpoint.
const AnalyzePrefix = "/analisar"

// Modules are the HTTP modules backed by the domain systems.
type Modules struct {
	API     *module.Module
	Analyze *module.Module
	Domain  *Domain
}

// NewModules creates the API module, the classification module and the
// domain systems behind them.
func NewModules(cfg *config.Config, infra *infrastructure.Infrastructure) (*Modules, error) {
	runtime := NewRuntime(cfg, infra)

	domain, err := NewDomain(cfg, runtime)
	if err != nil {
		return nil, err
	}

	analyze := inference.NewHandler(
		domain.Inference,
		runtime.Logger,
		runtime.UploadField,
		runtime.MaxUploadSize,
		domain.Recorder(),
	)

	mux := http.NewServeMux()
	registerRoutes(mux, domain, analyze, cfg, runtime)

	spec, err := newSpec(cfg, domain.Predictions != nil, runtime.Storage != nil).Handler()
	if err != nil {
		return nil, fmt.Errorf("openapi: %w", err)
	}
	mux.HandleFunc("GET /openapi.json", spec)

	apiModule := module.New(cfg.API.BasePath, mux)
	apiModule.Use(runtime.Middleware...)

	analyzeMux := http.NewServeMux()
	analyzeMux.HandleFunc("POST /{$}", analyze.Analyze)

	analyzeModule := module.New(AnalyzePrefix, analyzeMux)
	analyzeModule.Use(runtime.Middleware...)

	return &Modules{
		API:     apiModule,
		Analyze: analyzeModule,
		Domain:  domain,
	}, nil
}

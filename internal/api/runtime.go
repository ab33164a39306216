package api

import (
	"github.com/aviario/postura/internal/config"
	"github.com/aviario/postura/internal/infrastructure"
	"github.com/aviario/postura/pkg/middleware"
	"github.com/aviario/postura/pkg/pagination"
)

// Runtime is the infrastructure as seen by the HTTP layer: an api-scoped
// logger plus the request settings shared by every module.
type Runtime struct {
	*infrastructure.Infrastructure
	Pagination pagination.Config

	// UploadField and MaxUploadSize bound POST /analisar.
	UploadField   string
	MaxUploadSize int64

	// Middleware wraps every module, outermost first.
	Middleware middleware.Chain
}

func NewRuntime(cfg *config.Config, infra *infrastructure.Infrastructure) *Runtime {
	scoped := *infra
	scoped.Logger = infra.Logger.With("module", "api")

	return &Runtime{
		Infrastructure: &scoped,
		Pagination:     cfg.API.Pagination,
		UploadField:    cfg.Inference.Field,
		MaxUploadSize:  cfg.API.MaxUploadSizeBytes(),
		Middleware: middleware.Chain{
			middleware.CORS(&cfg.API.CORS),
			middleware.Logger(scoped.Logger),
			middleware.Recover(scoped.Logger),
		},
	}
}

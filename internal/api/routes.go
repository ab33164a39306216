package api

import (
	"net/http"

	"github.com/aviario/postura/internal/config"
	"github.com/aviario/postura/internal/inference"
	"github.com/aviario/postura/pkg/routes"
)

func registerRoutes(
	mux *http.ServeMux,
	domain *Domain,
	analyze *inference.Handler,
	cfg *config.Config,
	runtime *Runtime,
) {
	groups := []routes.Group{analyze.Routes()}

	if domain.Predictions != nil {
		groups = append(groups, domain.Predictions.Handler().Routes())
	}

	if runtime.Storage != nil {
		groups = append(
			groups,
			newStorageHandler(runtime.Storage, runtime.Logger, cfg.Storage.MaxListSize).routes(),
		)
	}

	for _, pattern := range routes.Register(mux, groups...) {
		runtime.Logger.Debug("route registered", "base", cfg.API.BasePath, "pattern", pattern)
	}
}

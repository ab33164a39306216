package main

import (
	"encoding/json"
	"net/http"

	"github.com/aviario/postura/internal/api"
	"github.com/aviario/postura/internal/config"
	"github.com/aviario/postura/internal/infrastructure"
	"github.com/aviario/postura/pkg/lifecycle"
	"github.com/aviario/postura/pkg/module"
)

type Modules struct {
	API     *module.Module
	Analyze *module.Module
	domain  *api.Domain
}

func NewModules(infra *infrastructure.Infrastructure, cfg *config.Config) (*Modules, error) {
	m, err := api.NewModules(cfg, infra)
	if err != nil {
		return nil, err
	}

	return &Modules{
		API:     m.API,
		Analyze: m.Analyze,
		domain:  m.Domain,
	}, nil
}

func (m *Modules) Mount(router *module.Router) {
	router.Mount(m.API)
	router.Mount(m.Analyze)
}

func (m *Modules) Start(lc *lifecycle.Coordinator) error {
	return m.domain.Start(lc)
}

func buildRouter(infra *infrastructure.Infrastructure) *module.Router {
	router := module.NewRouter()

	router.HandleNative("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, map[string]any{"status": "ok"})
	})

	router.HandleNative("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		lc := infra.Lifecycle
		body := map[string]any{
			"status": "ready",
			"checks": lc.Checks(),
		}
		if !lc.Ready() {
			body["status"] = "not ready"
			writeStatus(w, http.StatusServiceUnavailable, body)
			return
		}
		writeStatus(w, http.StatusOK, body)
	})

	return router
}

func writeStatus(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aviario/postura/internal/artifact"
	"github.com/aviario/postura/internal/config"
	"github.com/aviario/postura/internal/inference"
	"github.com/aviario/postura/internal/infrastructure"
	"github.com/aviario/postura/internal/network"
	"github.com/aviario/postura/pkg/lifecycle"
)

type staticCheck bool

func (c staticCheck) Ready() bool { return bool(c) }

func TestHealthz(t *testing.T) {
	infra := &infrastructure.Infrastructure{Lifecycle: lifecycle.New()}

	rec := httptest.NewRecorder()
	buildRouter(infra).ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name      string
		startup   bool
		model     bool
		want      int
		wantModel bool
	}{
		{"lifecycle pending", false, true, http.StatusServiceUnavailable, true},
		{"model not ready", true, false, http.StatusServiceUnavailable, false},
		{"ready", true, true, http.StatusOK, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lc := lifecycle.New()
			lc.AddCheck("model", staticCheck(tt.model))
			if tt.startup {
				lc.WaitForStartup()
			}

			rec := httptest.NewRecorder()
			buildRouter(&infrastructure.Infrastructure{Lifecycle: lc}).
				ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}

			var body struct {
				Status string          `json:"status"`
				Checks map[string]bool `json:"checks"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Checks["model"] != tt.wantModel {
				t.Errorf("checks[model] = %v, want %v", body.Checks["model"], tt.wantModel)
			}
		})
	}
}

func TestReadyzModelFailed(t *testing.T) {
	failing := func(ctx context.Context) (*network.Model, *artifact.Meta, error) {
		return nil, nil, artifact.ErrNotFound
	}
	svc := inference.New(config.InferenceConfig{Threshold: 0.8}, failing, slog.New(slog.NewTextHandler(io.Discard, nil)))

	lc := lifecycle.New()
	if err := svc.Start(lc); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	lc.WaitForStartup()

	rec := httptest.NewRecorder()
	buildRouter(&infrastructure.Infrastructure{Lifecycle: lc}).
		ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if svc.State() != inference.StateFailed {
		t.Errorf("state = %s, want failed", svc.State())
	}
}

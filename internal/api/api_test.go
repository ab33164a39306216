package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aviario/postura/internal/api"
	"github.com/aviario/postura/internal/artifact"
	"github.com/aviario/postura/internal/config"
	"github.com/aviario/postura/internal/inference"
	"github.com/aviario/postura/internal/infrastructure"
	"github.com/aviario/postura/internal/network"
	"github.com/aviario/postura/pkg/lifecycle"
	"github.com/aviario/postura/pkg/module"
	"github.com/aviario/postura/pkg/pagination"
	"github.com/aviario/postura/pkg/storage"
)

var classes = []string{"posturando", "nao_posturando"}

func testConfig(modelDir string) *config.Config {
	return &config.Config{
		API: config.APIConfig{
			BasePath:      "/api",
			MaxUploadSize: "1MB",
			Pagination: pagination.Config{
				DefaultPageSize: 20,
				MaxPageSize:     100,
			},
		},
		Model:     config.ModelConfig{Dir: modelDir, Source: config.ModelSourceLocal},
		Inference: config.InferenceConfig{Threshold: 0.8, Field: "imagem"},
		Storage:   storage.Config{MaxListSize: 1},
	}
}

func saveModel(t *testing.T) string {
	t.Helper()
	m, err := network.Build(network.NewSpec(16, len(classes)), rand.New(rand.NewSource(3)))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	dir := filepath.Join(t.TempDir(), "modelo")
	if err := artifact.Save(dir, m, artifact.Meta{Classes: classes, ImageSize: 16, TrainedAt: time.Now()}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	return dir
}

func testInfra(store storage.System) *infrastructure.Infrastructure {
	return &infrastructure.Infrastructure{
		Lifecycle: lifecycle.New(),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Storage:   store,
	}
}

func setup(t *testing.T, cfg *config.Config, infra *infrastructure.Infrastructure) (*api.Modules, *module.Router) {
	t.Helper()
	modules, err := api.NewModules(cfg, infra)
	if err != nil {
		t.Fatalf("NewModules() error = %v", err)
	}
	if err := modules.Domain.Start(infra.Lifecycle); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	infra.Lifecycle.WaitForStartup()
	t.Cleanup(func() { infra.Lifecycle.Shutdown(5 * time.Second) })

	router := module.NewRouter()
	router.Mount(modules.API)
	router.Mount(modules.Analyze)
	return modules, router
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := range 32 {
		for x := range 32 {
			img.Set(x, y, color.RGBA{uint8(x * 8), uint8(y * 8), 90, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestNewModules(t *testing.T) {
	modules, _ := setup(t, testConfig(saveModel(t)), testInfra(nil))

	if modules.API.Prefix() != "/api" {
		t.Errorf("api prefix = %s, want /api", modules.API.Prefix())
	}
	if modules.Analyze.Prefix() != api.AnalyzePrefix {
		t.Errorf("analyze prefix = %s, want %s", modules.Analyze.Prefix(), api.AnalyzePrefix)
	}
	if modules.Domain.Predictions != nil {
		t.Error("predictions enabled without a database")
	}
	if modules.Domain.Recorder() != nil {
		t.Error("recorder set without a database")
	}
	if !modules.Domain.Inference.Ready() {
		t.Errorf("inference state = %s, want ready", modules.Domain.Inference.State())
	}
}

func TestNewModulesStorageSourceWithoutStorage(t *testing.T) {
	cfg := testConfig("modelo")
	cfg.Model.Source = config.ModelSourceStorage

	if _, err := api.NewModules(cfg, testInfra(nil)); err == nil {
		t.Fatal("expected error for storage source without storage")
	}
}

func TestAnalyzeRoute(t *testing.T) {
	_, router := setup(t, testConfig(saveModel(t)), testInfra(nil))

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fw, _ := w.CreateFormFile("imagem", "galinha.png")
	fw.Write(pngBytes(t))
	w.Close()

	for _, path := range []string{"/analisar", "/analisar/"} {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest("POST", path, bytes.NewReader(body.Bytes()))
			req.Header.Set("Content-Type", w.FormDataContentType())
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
			}

			var resp inference.Response
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Status != "ok" || len(resp.Resultado.Prob) != len(classes) {
				t.Errorf("response = %+v", resp)
			}
		})
	}

	t.Run("wrong method", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", "/analisar", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("status = %d, want 405", rec.Code)
		}
	})
}

func TestModelRoute(t *testing.T) {
	_, router := setup(t, testConfig(saveModel(t)), testInfra(nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/model", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var info inference.Info
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.State != inference.StateReady || !slices.Equal(info.Classes, classes) {
		t.Errorf("info = %+v", info)
	}
}

func TestOptionalRoutesDisabled(t *testing.T) {
	_, router := setup(t, testConfig(saveModel(t)), testInfra(nil))

	for _, path := range []string{"/api/predictions", "/api/storage"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want 404", path, rec.Code)
		}
	}
}

func TestOpenAPI(t *testing.T) {
	_, router := setup(t, testConfig(saveModel(t)), testInfra(nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/openapi.json", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var doc struct {
		OpenAPI string                     `json:"openapi"`
		Paths   map[string]json.RawMessage `json:"paths"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.OpenAPI != "3.1.0" {
		t.Errorf("openapi = %q", doc.OpenAPI)
	}
	for _, path := range []string{"/analisar", "/api/model"} {
		if _, ok := doc.Paths[path]; !ok {
			t.Errorf("paths missing %s", path)
		}
	}
	if _, ok := doc.Paths["/api/predictions"]; ok {
		t.Error("predictions documented without a database")
	}
}

func TestMissingModel(t *testing.T) {
	modules, router := setup(t, testConfig(filepath.Join(t.TempDir(), "none")), testInfra(nil))

	if modules.Domain.Inference.State() != inference.StateFailed {
		t.Fatalf("state = %s, want failed", modules.Domain.Inference.State())
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/analisar", strings.NewReader(""))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

type memStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func (s *memStore) Start(lc *lifecycle.Coordinator) error { return nil }

func (s *memStore) Upload(ctx context.Context, key string, r io.Reader, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key] = data
	return nil
}

func (s *memStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *memStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, key)
	return nil
}

func (s *memStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blobs[key]
	return ok, nil
}

func (s *memStore) List(ctx context.Context, prefix string) ([]storage.BlobMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.BlobMeta
	for key, data := range s.blobs {
		if strings.HasPrefix(key, prefix) {
			out = append(out, storage.BlobMeta{Key: key, ContentLength: int64(len(data))})
		}
	}
	slices.SortFunc(out, func(a, b storage.BlobMeta) int { return strings.Compare(a.Key, b.Key) })
	return out, nil
}

func TestStorageRoutes(t *testing.T) {
	src := saveModel(t)
	store := &memStore{blobs: make(map[string][]byte)}
	if _, err := artifact.Publish(context.Background(), store, "models/postura", src); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	cfg := testConfig(filepath.Join(t.TempDir(), "modelo"))
	cfg.Model.Source = config.ModelSourceStorage
	cfg.Model.StoragePrefix = "models/postura"

	modules, router := setup(t, cfg, testInfra(store))

	if !modules.Domain.Inference.Ready() {
		t.Fatalf("model fetched from storage: state = %s", modules.Domain.Inference.State())
	}

	t.Run("list truncates to max list size", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/storage?prefix=models/", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var blobs []storage.BlobMeta
		if err := json.NewDecoder(rec.Body).Decode(&blobs); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(blobs) != 1 {
			t.Errorf("listed %d blobs, want 1", len(blobs))
		}
	})

	t.Run("invalid max results", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/storage?max_results=zero", nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("find", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/storage/models/postura/"+artifact.ManifestFile, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}

		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/storage/models/postura/missing.bin", nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("missing status = %d, want 404", rec.Code)
		}
	})

	t.Run("download", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/storage/download/models/postura/"+artifact.ManifestFile, nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if !strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
			t.Errorf("content type = %s", rec.Header().Get("Content-Type"))
		}
		if !json.Valid(rec.Body.Bytes()) {
			t.Error("manifest download is not valid json")
		}
	})
}

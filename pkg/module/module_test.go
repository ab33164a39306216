package module_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aviario/postura/pkg/module"
)

func echoPath(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte(r.URL.Path))
}

func TestNewPrefix(t *testing.T) {
	tests := []struct {
		prefix    string
		wantPanic bool
	}{
		{"/api", false},
		{"/analisar", false},
		{"", true},
		{"/", true},
		{"api", true},
		{"/api/v1", true},
	}

	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			defer func() {
				if panicked := recover() != nil; panicked != tt.wantPanic {
					t.Errorf("panic = %v, want %v", panicked, tt.wantPanic)
				}
			}()
			if m := module.New(tt.prefix, http.NewServeMux()); m.Prefix() != tt.prefix {
				t.Errorf("Prefix() = %s", m.Prefix())
			}
		})
	}
}

func TestRouter(t *testing.T) {
	api := http.NewServeMux()
	api.HandleFunc("GET /model", echoPath)
	api.HandleFunc("GET /predictions/{id}", echoPath)

	analyze := http.NewServeMux()
	analyze.HandleFunc("POST /{$}", echoPath)

	var hits int
	apiModule := module.New("/api", api)
	apiModule.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits++
			next.ServeHTTP(w, r)
		})
	})

	router := module.NewRouter()
	router.Mount(apiModule)
	router.Mount(module.New("/analisar", analyze))
	router.HandleNative("GET /healthz", echoPath)

	tests := []struct {
		method   string
		path     string
		wantCode int
		wantBody string
	}{
		{"GET", "/api/model", http.StatusOK, "/model"},
		{"GET", "/api/model/", http.StatusOK, "/model"},
		{"GET", "/api/predictions/42", http.StatusOK, "/predictions/42"},
		{"POST", "/analisar", http.StatusOK, "/"},
		{"POST", "/analisar/", http.StatusOK, "/"},
		{"GET", "/analisar", http.StatusMethodNotAllowed, ""},
		{"GET", "/healthz", http.StatusOK, "/healthz"},
		{"GET", "/apix/model", http.StatusNotFound, ""},
		{"GET", "/nada", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantBody != "" && rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
		})
	}

	if hits != 3 {
		t.Errorf("api middleware hits = %d, want 3", hits)
	}
}

func TestServeKeepsOriginalRequest(t *testing.T) {
	m := module.New("/api", http.HandlerFunc(echoPath))
	req := httptest.NewRequest("GET", "/api/model", nil)

	m.Serve(httptest.NewRecorder(), req)

	if req.URL.Path != "/api/model" {
		t.Errorf("original path mutated to %s", req.URL.Path)
	}
}

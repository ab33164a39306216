package storage_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/aviario/postura/pkg/lifecycle"
	"github.com/aviario/postura/pkg/storage"
)

// Azurite's published development account; no emulator needs to run for these tests.
const azuriteConnString = "DefaultEndpointsProtocol=http;" +
	"AccountName=devstoreaccount1;" +
	"AccountKey=Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw==;" +
	"BlobEndpoint=http://127.0.0.1:1/devstoreaccount1;"

func newStore(t *testing.T) storage.System {
	t.Helper()
	sys, err := storage.New(&storage.Config{
		ContainerName:    "postura",
		ConnectionString: azuriteConnString,
		MaxListSize:      10,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return sys
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     storage.Config
		wantErr bool
	}{
		{"connection string", storage.Config{ContainerName: "postura", ConnectionString: azuriteConnString}, false},
		{"malformed connection string", storage.Config{ContainerName: "postura", ConnectionString: "not-a-connection-string"}, true},
		{"no credentials", storage.Config{ContainerName: "postura"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := storage.New(&tt.cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestKey(t *testing.T) {
	tests := []struct {
		parts []string
		want  string
	}{
		{[]string{"modelos", "atual", "model.bin"}, "modelos/atual/model.bin"},
		{[]string{"modelos/atual/", "meta.json"}, "modelos/atual/meta.json"},
		{[]string{"", "predictions", "/abc/", "galinha.jpg"}, "predictions/abc/galinha.jpg"},
		{nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := storage.Key(tt.parts...); got != tt.want {
				t.Errorf("Key(%q) = %q, want %q", tt.parts, got, tt.want)
			}
		})
	}
}

func TestKeyValidation(t *testing.T) {
	sys := newStore(t)
	ctx := context.Background()

	tests := []struct {
		key     string
		wantErr error
	}{
		{"", storage.ErrEmptyKey},
		{"modelos/../segredos", storage.ErrInvalidKey},
		{"/modelos/model.bin", storage.ErrInvalidKey},
		{"modelos//model.bin", storage.ErrInvalidKey},
		{"modelos/./model.bin", storage.ErrInvalidKey},
		{`modelos\model.bin`, storage.ErrInvalidKey},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if err := sys.Upload(ctx, tt.key, bytes.NewReader(nil), "application/octet-stream"); !errors.Is(err, tt.wantErr) {
				t.Errorf("Upload() error = %v, want %v", err, tt.wantErr)
			}
			if _, err := sys.Download(ctx, tt.key); !errors.Is(err, tt.wantErr) {
				t.Errorf("Download() error = %v, want %v", err, tt.wantErr)
			}
			if err := sys.Delete(ctx, tt.key); !errors.Is(err, tt.wantErr) {
				t.Errorf("Delete() error = %v, want %v", err, tt.wantErr)
			}
			if _, err := sys.Exists(ctx, tt.key); !errors.Is(err, tt.wantErr) {
				t.Errorf("Exists() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == storage.ErrInvalidKey {
				var keyErr *storage.KeyError
				if err := sys.Delete(ctx, tt.key); !errors.As(err, &keyErr) || keyErr.Key != tt.key {
					t.Errorf("Delete() error = %v, want *KeyError for %q", err, tt.key)
				}
			}
		})
	}
}

func TestStartUnreachable(t *testing.T) {
	sys := newStore(t)
	lc := lifecycle.New()

	if err := sys.Start(lc); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := sys.List(ctx, "modelos/"); err == nil {
		t.Error("List() with cancelled context: expected error")
	}

	lc.Shutdown(0)
	lc.WaitForStartup()

	if lc.Checks()["storage"] {
		t.Error("storage check passed without a reachable container")
	}
}

func TestMapHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{storage.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("download: %w", storage.ErrNotFound), http.StatusNotFound},
		{storage.ErrEmptyKey, http.StatusBadRequest},
		{storage.ErrInvalidKey, http.StatusBadRequest},
		{&storage.KeyError{Key: "a/../b", Segment: ".."}, http.StatusBadRequest},
		{errors.New("network"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if got := storage.MapHTTPStatus(tt.err); got != tt.want {
				t.Errorf("MapHTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParseMaxResults(t *testing.T) {
	tests := []struct {
		in       string
		fallback int32
		want     int32
		wantErr  bool
	}{
		{"", 50, 50, false},
		{"10", 50, 10, false},
		{"999999", 50, storage.MaxListCap, false},
		{"0", 50, 0, true},
		{"muitos", 50, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := storage.ParseMaxResults(tt.in, tt.fallback)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMaxResults(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseMaxResults(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

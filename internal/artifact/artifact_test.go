package artifact_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"gorgonia.org/tensor"

	"github.com/aviario/postura/internal/artifact"
	"github.com/aviario/postura/internal/network"
	"github.com/aviario/postura/pkg/lifecycle"
	"github.com/aviario/postura/pkg/storage"
)

const testSize = 16

var classes = []string{"posturando", "nao_posturando"}

func buildModel(t *testing.T, seed int64) *network.Model {
	t.Helper()
	m, err := network.Build(network.NewSpec(testSize, len(classes)), rand.New(rand.NewSource(seed)))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return m
}

func meta(at time.Time) artifact.Meta {
	return artifact.Meta{
		Classes:   classes,
		ImageSize: testSize,
		TrainedAt: at,
	}
}

func image(v float32) *tensor.Dense {
	data := make([]float32, testSize*testSize*3)
	for i := range data {
		data[i] = v
	}
	return tensor.New(tensor.WithShape(testSize, testSize, 3), tensor.WithBacking(data))
}

func predict(t *testing.T, m *network.Model, img *tensor.Dense) []float32 {
	t.Helper()
	p, err := network.NewPredictor(m)
	if err != nil {
		t.Fatalf("NewPredictor() error = %v", err)
	}
	defer p.Close()

	prob, err := p.Predict(img)
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	return prob
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "modelo")
	m := buildModel(t, 1)
	trainedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	extra := artifact.File{Name: artifact.HistoryFile, Data: []byte(`[]`)}
	if err := artifact.Save(dir, m, meta(trainedAt), extra); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	for _, name := range []string{artifact.ManifestFile, artifact.WeightsFile, artifact.HistoryFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s missing: %v", name, err)
		}
	}

	loaded, got, err := artifact.Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if !slices.Equal(got.Classes, classes) {
		t.Errorf("classes = %v, want %v", got.Classes, classes)
	}
	if got.ImageSize != testSize {
		t.Errorf("image size = %d, want %d", got.ImageSize, testSize)
	}
	if !got.TrainedAt.Equal(trainedAt) {
		t.Errorf("trained_at = %v, want %v", got.TrainedAt, trainedAt)
	}

	img := image(0.4)
	want := predict(t, m, img)
	have := predict(t, loaded, img)
	for i := range want {
		if math.Abs(float64(want[i]-have[i])) > 1e-6 {
			t.Fatalf("loaded prediction = %v, want %v", have, want)
		}
	}
}

func TestLoadNotFound(t *testing.T) {
	_, _, err := artifact.Load(filepath.Join(t.TempDir(), "missing"))
	if !errors.Is(err, artifact.ErrNotFound) {
		t.Errorf("Load() = %v, want ErrNotFound", err)
	}
}

func TestLoadCorrupt(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(t *testing.T, dir string)
	}{
		{
			name: "manifest not json",
			mutate: func(t *testing.T, dir string) {
				os.WriteFile(filepath.Join(dir, artifact.ManifestFile), []byte("{"), 0644)
			},
		},
		{
			name: "unknown format",
			mutate: func(t *testing.T, dir string) {
				rewriteManifest(t, dir, artifact.Format, "other/v9")
			},
		},
		{
			name: "spec disagrees with classes",
			mutate: func(t *testing.T, dir string) {
				rewriteManifest(t, dir, `"num_classes": 2`, `"num_classes": 3`)
			},
		},
		{
			name: "truncated weights",
			mutate: func(t *testing.T, dir string) {
				path := filepath.Join(dir, artifact.WeightsFile)
				raw, _ := os.ReadFile(path)
				os.WriteFile(path, raw[:len(raw)-4], 0644)
			},
		},
		{
			name: "missing weights",
			mutate: func(t *testing.T, dir string) {
				os.Remove(filepath.Join(dir, artifact.WeightsFile))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "modelo")
			if err := artifact.Save(dir, buildModel(t, 1), meta(time.Now())); err != nil {
				t.Fatalf("Save() error = %v", err)
			}

			tt.mutate(t, dir)

			_, _, err := artifact.Load(dir)
			if !errors.Is(err, artifact.ErrCorrupt) {
				t.Errorf("Load() = %v, want ErrCorrupt", err)
			}
		})
	}
}

func rewriteManifest(t *testing.T, dir, from, to string) {
	t.Helper()
	path := filepath.Join(dir, artifact.ManifestFile)
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	if !bytes.Contains(raw, []byte(from)) {
		t.Fatalf("manifest does not contain %q", from)
	}
	os.WriteFile(path, bytes.Replace(raw, []byte(from), []byte(to), 1), 0644)
}

func TestSaveReplacesPrevious(t *testing.T) {
	parent := t.TempDir()
	dir := filepath.Join(parent, "modelo")

	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)

	if err := artifact.Save(dir, buildModel(t, 1), meta(first)); err != nil {
		t.Fatalf("first Save() error = %v", err)
	}
	if err := artifact.Save(dir, buildModel(t, 2), meta(second)); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}

	_, got, err := artifact.Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !got.TrainedAt.Equal(second) {
		t.Errorf("trained_at = %v, want %v", got.TrainedAt, second)
	}

	entries, _ := os.ReadDir(parent)
	if len(entries) != 1 {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		t.Errorf("parent holds %v, want only modelo", names)
	}
}

func TestSaveFailureKeepsPrevious(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "modelo")
	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := artifact.Save(dir, buildModel(t, 1), meta(first)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	tests := []struct {
		name  string
		meta  artifact.Meta
		extra []artifact.File
	}{
		{
			name:  "extra file escapes directory",
			meta:  meta(time.Now()),
			extra: []artifact.File{{Name: "../escape.json", Data: []byte("x")}},
		},
		{
			name: "class count mismatch",
			meta: artifact.Meta{Classes: []string{"only"}, ImageSize: testSize, TrainedAt: time.Now()},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := artifact.Save(dir, buildModel(t, 2), tt.meta, tt.extra...)
			if !errors.Is(err, artifact.ErrInvalid) {
				t.Fatalf("Save() = %v, want ErrInvalid", err)
			}

			_, got, err := artifact.Load(dir)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if !got.TrainedAt.Equal(first) {
				t.Errorf("previous artifact replaced: trained_at = %v", got.TrainedAt)
			}
		})
	}
}

type memStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
	order []string
}

func newMemStore() *memStore {
	return &memStore{blobs: make(map[string][]byte)}
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
	s.order = append(s.order, key)
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
	if _, ok := s.blobs[key]; !ok {
		return storage.ErrNotFound
	}
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

func TestPublishFetch(t *testing.T) {
	src := filepath.Join(t.TempDir(), "modelo")
	m := buildModel(t, 5)
	if err := artifact.Save(src, m, meta(time.Now()), artifact.File{Name: artifact.HistoryFile, Data: []byte(`[]`)}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	store := newMemStore()
	ctx := context.Background()

	keys, err := artifact.Publish(ctx, store, "models/postura", src)
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(keys) != 3 {
		t.Fatalf("published %d files, want 3", len(keys))
	}
	if keys[len(keys)-1] != "models/postura/"+artifact.ManifestFile {
		t.Errorf("last upload = %s, want manifest", keys[len(keys)-1])
	}

	dst := filepath.Join(t.TempDir(), "modelo")
	if err := artifact.Fetch(ctx, store, "models/postura", dst); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	loaded, _, err := artifact.Load(dst)
	if err != nil {
		t.Fatalf("Load() after Fetch error = %v", err)
	}

	img := image(0.7)
	want := predict(t, m, img)
	have := predict(t, loaded, img)
	for i := range want {
		if math.Abs(float64(want[i]-have[i])) > 1e-6 {
			t.Fatalf("fetched prediction = %v, want %v", have, want)
		}
	}
}

func TestFetchMissing(t *testing.T) {
	err := artifact.Fetch(context.Background(), newMemStore(), "models/none", filepath.Join(t.TempDir(), "modelo"))
	if !errors.Is(err, artifact.ErrNotFound) {
		t.Errorf("Fetch() = %v, want ErrNotFound", err)
	}
}

func TestPublishMissing(t *testing.T) {
	_, err := artifact.Publish(context.Background(), newMemStore(), "models/postura", filepath.Join(t.TempDir(), "none"))
	if !errors.Is(err, artifact.ErrNotFound) {
		t.Errorf("Publish() = %v, want ErrNotFound", err)
	}
}

package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aviario/postura/pkg/storage"
)

// Publish uploads every file of the artifact in dir under prefix. The
// manifest is uploaded last so a concurrent Fetch never sees a manifest
// without its weights.
func Publish(ctx context.Context, store storage.System, prefix, dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, dir)
		}
		return nil, fmt.Errorf("read artifact directory: %w", err)
	}

	var names []string
	hasManifest := false
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if e.Name() == ManifestFile {
			hasManifest = true
			continue
		}
		names = append(names, e.Name())
	}
	if !hasManifest {
		return nil, fmt.Errorf("%w: %s has no %s", ErrNotFound, dir, ManifestFile)
	}
	names = append(names, ManifestFile)

	keys := make([]string, 0, len(names))
	for _, name := range names {
		key := storage.Key(prefix, name)
		if err := upload(ctx, store, key, filepath.Join(dir, name)); err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}

	return keys, nil
}

func upload(ctx context.Context, store storage.System, key, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("open %s: %w", file, err)
	}
	defer f.Close()

	if err := store.Upload(ctx, key, f, contentType(file)); err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	return nil
}

// Fetch downloads the artifact stored under prefix and installs it in dir,
// replacing any previous content atomically.
func Fetch(ctx context.Context, store storage.System, prefix, dir string) error {
	blobs, err := store.List(ctx, strings.TrimSuffix(prefix, "/")+"/")
	if err != nil {
		return fmt.Errorf("list artifact: %w", err)
	}

	var names []string
	hasManifest := false
	for _, b := range blobs {
		name := path.Base(b.Key)
		if path.Dir(b.Key) != storage.Key(prefix) {
			continue
		}
		if name == ManifestFile {
			hasManifest = true
		}
		names = append(names, name)
	}
	if !hasManifest {
		return fmt.Errorf("%w: no %s under %s", ErrNotFound, ManifestFile, prefix)
	}

	tmp, err := stage(dir)
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	for _, name := range names {
		if err := download(ctx, store, storage.Key(prefix, name), filepath.Join(tmp, name)); err != nil {
			return err
		}
	}

	return swap(tmp, dir)
}

func download(ctx context.Context, store storage.System, key, file string) error {
	body, err := store.Download(ctx, key)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", key, err)
	}
	defer body.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return fmt.Errorf("fetch %s: %w", key, err)
	}

	if err := os.WriteFile(file, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write %s: %w", file, err)
	}
	return nil
}

func contentType(name string) string {
	switch filepath.Ext(name) {
	case ".json":
		return "application/json"
	case ".svg":
		return "image/svg+xml"
	default:
		return "application/octet-stream"
	}
}

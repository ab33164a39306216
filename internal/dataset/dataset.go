// Package dataset loads a labeled image folder dataset (one subdirectory per
// class) into stacked image and one-hot label tensors.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"golang.org/x/sync/errgroup"
	"gorgonia.org/tensor"

	"github.com/aviario/postura/internal/imaging"
)

// ErrNoImages is returned when no image is found across all class directories.
var ErrNoImages = errors.New("no images found in dataset")

// Dataset pairs stacked image tensors with one-hot encoded labels.
// X has shape (N, H, W, 3) and Y has shape (N, numClasses).
type Dataset struct {
	X       *tensor.Dense
	Y       *tensor.Dense
	Labels  []int
	Files   []string
	Classes []string
}

// Len returns the number of samples, or 0 after Release.
func (d *Dataset) Len() int {
	return len(d.Labels)
}

// ImageSize returns the height (and width) of each sample.
func (d *Dataset) ImageSize() int {
	if d.X == nil {
		return 0
	}
	return d.X.Shape()[1]
}

// Release drops the tensors so their memory can be reclaimed. Safe to call more than once.
func (d *Dataset) Release() {
	d.X = nil
	d.Y = nil
	d.Labels = nil
	d.Files = nil
}

// Loader reads per-class image directories.
type Loader struct {
	Root      string
	Classes   []string
	ImageSize int
	Workers   int
	Logger    *slog.Logger
}

type sample struct {
	path  string
	label int
}

// Load enumerates every class directory under Root in class order, decodes and
// preprocesses each image, and stacks the results. Missing class directories
// are skipped with a warning. A file that fails to decode aborts the load.
func (l *Loader) Load(ctx context.Context) (*Dataset, error) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("system", "dataset")

	samples, err := l.scan(logger)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoImages, l.Root)
	}

	images, err := l.decode(ctx, samples)
	if err != nil {
		return nil, err
	}

	ds := stack(images, samples, l.Classes, l.ImageSize)

	logger.Info(
		"dataset loaded",
		"root", l.Root,
		"samples", ds.Len(),
		"classes", len(l.Classes),
	)

	return ds, nil
}

func (l *Loader) scan(logger *slog.Logger) ([]sample, error) {
	var samples []sample

	for i, class := range l.Classes {
		dir := filepath.Join(l.Root, class)

		entries, err := os.ReadDir(dir)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				logger.Warn("class directory not found", "class", class, "dir", dir)
				continue
			}
			return nil, fmt.Errorf("read class directory %s: %w", dir, err)
		}

		count := 0
		for _, entry := range entries {
			if entry.IsDir() || !imaging.IsImageFile(entry.Name()) {
				continue
			}
			samples = append(samples, sample{
				path:  filepath.Join(dir, entry.Name()),
				label: i,
			})
			count++
		}

		logger.Info("class scanned", "class", class, "label", i, "images", count)
	}

	return samples, nil
}

func (l *Loader) decode(ctx context.Context, samples []sample) ([]*tensor.Dense, error) {
	images := make([]*tensor.Dense, len(samples))

	g, ctx := errgroup.WithContext(ctx)
	if l.Workers > 0 {
		g.SetLimit(l.Workers)
	}

	for i, s := range samples {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			data, err := os.ReadFile(s.path)
			if err != nil {
				return fmt.Errorf("read %s: %w", s.path, err)
			}

			img, err := imaging.PreprocessBytes(data, l.ImageSize)
			if err != nil {
				return fmt.Errorf("preprocess %s: %w", s.path, err)
			}

			images[i] = img
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return images, nil
}

func stack(images []*tensor.Dense, samples []sample, classes []string, size int) *Dataset {
	n := len(images)
	per := size * size * imaging.Channels

	xs := make([]float32, n*per)
	for i, img := range images {
		copy(xs[i*per:(i+1)*per], img.Data().([]float32))
	}

	labels := make([]int, n)
	files := make([]string, n)
	for i, s := range samples {
		labels[i] = s.label
		files[i] = s.path
	}

	return &Dataset{
		X:       tensor.New(tensor.WithShape(n, size, size, imaging.Channels), tensor.WithBacking(xs)),
		Y:       OneHot(labels, len(classes)),
		Labels:  labels,
		Files:   files,
		Classes: slices.Clone(classes),
	}
}

// OneHot encodes labels as a float32 tensor of shape (len(labels), numClasses).
func OneHot(labels []int, numClasses int) *tensor.Dense {
	ys := make([]float32, len(labels)*numClasses)
	for i, label := range labels {
		ys[i*numClasses+label] = 1
	}
	return tensor.New(tensor.WithShape(len(labels), numClasses), tensor.WithBacking(ys))
}

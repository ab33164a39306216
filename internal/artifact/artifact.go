// Package artifact persists a trained classifier as a directory holding a
// JSON manifest and a little-endian float32 weights file.
package artifact

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gorgonia.org/tensor"

	"github.com/aviario/postura/internal/network"
)

// Format tags the manifest layout.
const Format = "postura-cnn/v1"

// File names inside an artifact directory.
const (
	ManifestFile = "model.json"
	WeightsFile  = "weights.bin"
	HistoryFile  = "history.json"
	PlotFile     = "training.svg"
)

var (
	ErrNotFound = errors.New("model artifact not found")
	ErrCorrupt  = errors.New("model artifact corrupt")
	ErrInvalid  = errors.New("invalid model artifact")
)

// Epoch is one row of the training history.
type Epoch struct {
	Epoch     int      `json:"epoch"`
	Loss      float64  `json:"loss"`
	Acc       float64  `json:"acc"`
	ValLoss   *float64 `json:"val_loss,omitempty"`
	ValAcc    *float64 `json:"val_acc,omitempty"`
	ElapsedMs int64    `json:"elapsed_ms"`
}

// Summary records how the weights were produced.
type Summary struct {
	Epochs            int     `json:"epochs"`
	BatchSize         int     `json:"batch_size"`
	Samples           int     `json:"samples"`
	ValidationSamples int     `json:"validation_samples"`
	Final             *Epoch  `json:"final,omitempty"`
	Seed              int64   `json:"seed"`
	ValidationSplit   float64 `json:"validation_split"`
}

// Meta is the non-weight content of an artifact.
type Meta struct {
	Classes   []string  `json:"classes"`
	ImageSize int       `json:"image_size"`
	TrainedAt time.Time `json:"trained_at"`
	Training  *Summary  `json:"training,omitempty"`
}

// File is an extra file stored alongside the model, such as the history.
type File struct {
	Name string
	Data []byte
}

type manifest struct {
	Format    string                `json:"format"`
	Spec      network.Spec          `json:"spec"`
	Classes   []string              `json:"classes"`
	ImageSize int                   `json:"image_size"`
	Topology  []network.Layer       `json:"topology"`
	Weights   []network.WeightShape `json:"weights"`
	TrainedAt time.Time             `json:"trained_at"`
	Training  *Summary              `json:"training,omitempty"`
	Optimizer string                `json:"optimizer"`
	Loss      string                `json:"loss"`
	Metrics   []string              `json:"metrics"`
}

// Save writes the model, its manifest and any extra files into a temporary
// sibling of dir, then swaps it into place. On failure the previous content
// of dir is left untouched.
func Save(dir string, m *network.Model, meta Meta, extra ...File) error {
	if len(meta.Classes) != m.Spec.NumClasses {
		return fmt.Errorf("%w: %d classes for a %d-class model", ErrInvalid, len(meta.Classes), m.Spec.NumClasses)
	}
	for _, f := range extra {
		if err := validateName(f.Name); err != nil {
			return err
		}
	}

	tmp, err := stage(dir)
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	if err := writeManifest(filepath.Join(tmp, ManifestFile), m, meta); err != nil {
		return err
	}
	if err := writeWeights(filepath.Join(tmp, WeightsFile), m.Weights); err != nil {
		return err
	}
	for _, f := range extra {
		if err := os.WriteFile(filepath.Join(tmp, f.Name), f.Data, 0644); err != nil {
			return fmt.Errorf("write %s: %w", f.Name, err)
		}
	}

	return swap(tmp, dir)
}

// Load reads and validates the artifact in dir.
func Load(dir string) (*network.Model, *Meta, error) {
	raw, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, dir)
		}
		return nil, nil, fmt.Errorf("read manifest: %w", err)
	}

	var man manifest
	if err := json.Unmarshal(raw, &man); err != nil {
		return nil, nil, fmt.Errorf("%w: manifest: %v", ErrCorrupt, err)
	}
	if err := man.validate(); err != nil {
		return nil, nil, err
	}

	weights, err := readWeights(filepath.Join(dir, WeightsFile), man.Weights)
	if err != nil {
		return nil, nil, err
	}

	model, err := network.New(man.Spec, weights)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	return model, &Meta{
		Classes:   man.Classes,
		ImageSize: man.ImageSize,
		TrainedAt: man.TrainedAt,
		Training:  man.Training,
	}, nil
}

func (man *manifest) validate() error {
	if man.Format != Format {
		return fmt.Errorf("%w: format %q, want %q", ErrCorrupt, man.Format, Format)
	}
	if err := man.Spec.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if man.ImageSize != man.Spec.ImageSize {
		return fmt.Errorf("%w: image size %d does not match spec %d", ErrCorrupt, man.ImageSize, man.Spec.ImageSize)
	}
	if len(man.Classes) != man.Spec.NumClasses {
		return fmt.Errorf("%w: %d classes for a %d-class model", ErrCorrupt, len(man.Classes), man.Spec.NumClasses)
	}

	want := man.Spec.WeightShapes()
	if len(man.Weights) != len(want) {
		return fmt.Errorf("%w: %d weights listed, want %d", ErrCorrupt, len(man.Weights), len(want))
	}
	for i, ws := range want {
		got := man.Weights[i]
		if got.Name != ws.Name || !slices.Equal(got.Shape, ws.Shape) {
			return fmt.Errorf("%w: weight %s%v, want %s%v", ErrCorrupt, got.Name, got.Shape, ws.Name, ws.Shape)
		}
	}
	return nil
}

func writeManifest(path string, m *network.Model, meta Meta) error {
	man := manifest{
		Format:    Format,
		Spec:      m.Spec,
		Classes:   meta.Classes,
		ImageSize: m.Spec.ImageSize,
		Topology:  m.Topology(),
		Weights:   m.Spec.WeightShapes(),
		TrainedAt: meta.TrainedAt.UTC(),
		Training:  meta.Training,
		Optimizer: network.Optimizer,
		Loss:      network.Loss,
		Metrics:   []string{network.Metric},
	}

	data, err := json.MarshalIndent(man, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

func writeWeights(path string, weights []network.Weight) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create weights: %w", err)
	}

	w := bufio.NewWriter(f)
	for _, wt := range weights {
		data, ok := wt.Value.Data().([]float32)
		if !ok {
			f.Close()
			return fmt.Errorf("%w: %s is not float32", ErrInvalid, wt.Name)
		}
		if err := binary.Write(w, binary.LittleEndian, data); err != nil {
			f.Close()
			return fmt.Errorf("write %s: %w", wt.Name, err)
		}
	}

	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flush weights: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync weights: %w", err)
	}
	return f.Close()
}

func readWeights(path string, shapes []network.WeightShape) ([]network.Weight, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: weights: %v", ErrCorrupt, err)
	}

	total := 0
	for _, ws := range shapes {
		total += ws.Size()
	}
	if len(raw) != total*4 {
		return nil, fmt.Errorf("%w: weights file has %d bytes, want %d", ErrCorrupt, len(raw), total*4)
	}

	weights := make([]network.Weight, len(shapes))
	off := 0
	for i, ws := range shapes {
		data := make([]float32, ws.Size())
		for j := range data {
			data[j] = math.Float32frombits(binary.LittleEndian.Uint32(raw[off:]))
			off += 4
		}
		weights[i] = network.Weight{
			Name:  ws.Name,
			Value: tensor.New(tensor.WithShape(ws.Shape...), tensor.WithBacking(data)),
		}
	}

	return weights, nil
}

func validateName(name string) error {
	if name == "" || name == ManifestFile || name == WeightsFile ||
		strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("%w: file name %q", ErrInvalid, name)
	}
	return nil
}

// stage creates an empty temporary directory next to dir.
func stage(dir string) (string, error) {
	parent := filepath.Dir(filepath.Clean(dir))
	if err := os.MkdirAll(parent, 0755); err != nil {
		return "", fmt.Errorf("create parent directory: %w", err)
	}

	tmp, err := os.MkdirTemp(parent, "."+filepath.Base(dir)+"-*")
	if err != nil {
		return "", fmt.Errorf("create staging directory: %w", err)
	}
	return tmp, nil
}

// swap replaces dir with tmp. An existing dir is moved aside first and
// restored if the final rename fails.
func swap(tmp, dir string) error {
	old := tmp + ".old"

	hadOld := false
	if _, err := os.Stat(dir); err == nil {
		if err := os.Rename(dir, old); err != nil {
			return fmt.Errorf("move previous artifact: %w", err)
		}
		hadOld = true
	}

	if err := os.Rename(tmp, dir); err != nil {
		if hadOld {
			os.Rename(old, dir)
		}
		return fmt.Errorf("install artifact: %w", err)
	}

	if hadOld {
		os.RemoveAll(old)
	}
	return nil
}

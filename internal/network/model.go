package network

import (
	"fmt"
	"math"
	"math/rand"
	"slices"
	"strings"

	"gorgonia.org/tensor"
)

// Weight is a named trainable tensor.
type Weight struct {
	Name  string
	Value *tensor.Dense
}

// Model is a compiled classifier: its spec and current weights.
// Weights are read-only once the model is handed to a Predictor outside training.
type Model struct {
	Spec    Spec
	Weights []Weight
}

// Build validates spec and initializes a fresh model: Glorot-uniform kernels
// and zero biases drawn from rng.
func Build(spec Spec, rng *rand.Rand) (*Model, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	shapes := spec.WeightShapes()
	weights := make([]Weight, len(shapes))
	for i, ws := range shapes {
		data := make([]float32, ws.Size())
		if strings.HasSuffix(ws.Name, "/kernel") {
			glorotUniform(rng, data, ws.Shape)
		}
		weights[i] = Weight{
			Name:  ws.Name,
			Value: tensor.New(tensor.WithShape(ws.Shape...), tensor.WithBacking(data)),
		}
	}

	return &Model{Spec: spec, Weights: weights}, nil
}

// New assembles a model from existing weights, checking every name and shape
// against the spec.
func New(spec Spec, weights []Weight) (*Model, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	shapes := spec.WeightShapes()
	if len(weights) != len(shapes) {
		return nil, fmt.Errorf("%w: got %d weights, want %d", ErrShapeMismatch, len(weights), len(shapes))
	}

	for i, ws := range shapes {
		w := weights[i]
		if w.Name != ws.Name {
			return nil, fmt.Errorf("%w: weight %d is %q, want %q", ErrShapeMismatch, i, w.Name, ws.Name)
		}
		if w.Value == nil || !slices.Equal([]int(w.Value.Shape()), ws.Shape) {
			return nil, fmt.Errorf("%w: %s", ErrShapeMismatch, ws.Name)
		}
		if w.Value.Dtype() != tensor.Float32 {
			return nil, fmt.Errorf("%w: %s dtype %v", ErrShapeMismatch, ws.Name, w.Value.Dtype())
		}
	}

	return &Model{Spec: spec, Weights: weights}, nil
}

// Clone returns a deep copy of the model.
func (m *Model) Clone() *Model {
	weights := make([]Weight, len(m.Weights))
	for i, w := range m.Weights {
		weights[i] = Weight{Name: w.Name, Value: w.Value.Clone().(*tensor.Dense)}
	}
	return &Model{Spec: m.Spec, Weights: weights}
}

// Topology returns the layer list with output shapes.
func (m *Model) Topology() []Layer {
	return m.Spec.Layers()
}

// TotalParams returns the number of trainable scalars.
func (m *Model) TotalParams() int {
	total := 0
	for _, l := range m.Spec.Layers() {
		total += l.Params
	}
	return total
}

func glorotUniform(rng *rand.Rand, data []float32, shape []int) {
	fanIn, fanOut := fans(shape)
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	for i := range data {
		data[i] = float32((rng.Float64()*2 - 1) * limit)
	}
}

// fans follows the convolution kernel layout (out, in, kh, kw) and the dense
// layout (in, out).
func fans(shape []int) (fanIn, fanOut int) {
	if len(shape) == 4 {
		receptive := shape[2] * shape[3]
		return shape[1] * receptive, shape[0] * receptive
	}
	return shape[0], shape[1]
}

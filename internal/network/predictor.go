package network

import (
	"fmt"
	"math"
	"slices"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Predictor runs the inference graph (dropout disabled) one image at a time.
// A Predictor is not safe for concurrent use; callers serialize access.
type Predictor struct {
	spec    Spec
	graph   *graph
	vm      G.VM
	probVal G.Value
}

// NewPredictor compiles the inference graph for m. The model weights are
// copied into the graph.
func NewPredictor(m *Model) (*Predictor, error) {
	gr, err := newGraph(m.Clone(), 1, false)
	if err != nil {
		return nil, err
	}

	p := &Predictor{spec: m.Spec, graph: gr}
	G.Read(gr.prob, &p.probVal)
	p.vm = G.NewTapeMachine(gr.g)

	return p, nil
}

// Spec returns the spec the predictor was compiled for.
func (p *Predictor) Spec() Spec {
	return p.spec
}

// Load replaces the graph weights. The weights must match the compiled spec.
func (p *Predictor) Load(weights []Weight) error {
	m, err := New(p.spec, weights)
	if err != nil {
		return err
	}
	for i, w := range m.Weights {
		if err := G.Let(p.graph.weights[i], w.Value.Clone().(*tensor.Dense)); err != nil {
			return fmt.Errorf("load %s: %w", w.Name, err)
		}
	}
	return nil
}

// Predict returns the class probabilities for one preprocessed image of shape
// (H, W, 3) or (1, H, W, 3).
func (p *Predictor) Predict(img *tensor.Dense) ([]float32, error) {
	s := p.spec.ImageSize
	shape := img.Shape()

	var batch *tensor.Dense
	switch {
	case slices.Equal([]int(shape), []int{s, s, 3}):
		batch = tensor.New(tensor.WithShape(1, s, s, 3), tensor.WithBacking(img.Data()))
	case slices.Equal([]int(shape), []int{1, s, s, 3}):
		batch = img
	default:
		return nil, fmt.Errorf("%w: image %v, want (%d, %d, 3)", ErrShapeMismatch, shape, s, s)
	}

	in, err := toNCHW(batch)
	if err != nil {
		return nil, err
	}

	if err := G.Let(p.graph.x, in); err != nil {
		return nil, fmt.Errorf("bind input: %w", err)
	}

	defer p.vm.Reset()
	if err := p.vm.RunAll(); err != nil {
		return nil, fmt.Errorf("run inference: %w", err)
	}

	return slices.Clone(p.probVal.Data().([]float32)), nil
}

// Evaluate predicts every sample of x (N, H, W, 3) and scores the results
// against the integer labels. It returns the mean cross-entropy and accuracy.
func (p *Predictor) Evaluate(x *tensor.Dense, labels []int) (loss, acc float64, err error) {
	n := len(labels)
	if n == 0 {
		return 0, 0, nil
	}
	if x.Shape()[0] != n {
		return 0, 0, fmt.Errorf("%w: %d samples, %d labels", ErrShapeMismatch, x.Shape()[0], n)
	}

	correct := 0
	for i, label := range labels {
		prob, err := p.Predict(Batch(x, []int{i}))
		if err != nil {
			return 0, 0, err
		}
		loss -= math.Log(float64(prob[label]) + epsilon)
		if argmax(prob) == label {
			correct++
		}
	}

	return loss / float64(n), float64(correct) / float64(n), nil
}

// Close releases the tape machine.
func (p *Predictor) Close() error {
	return p.vm.Close()
}

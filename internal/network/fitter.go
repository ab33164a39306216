package network

import (
	"fmt"
	"math"
	"math/rand"
	"slices"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

const epsilon = 1e-7

// Fitter runs minibatch gradient steps with the Adam optimizer against a
// private copy of a model. Every batch passed to Step must hold exactly
// BatchSize samples. A Fitter is not safe for concurrent use.
type Fitter struct {
	model  *Model
	graph  *graph
	y      *G.Node
	cost   *G.Node
	vm     G.VM
	solver G.Solver

	probVal G.Value

	// inverted dropout: kept units are scaled by 1/(1-rate)
	rng  *rand.Rand
	mask []float32

	batch int
}

// NewFitter compiles the training graph for m. The model passed in is cloned;
// use Model to retrieve the trained weights. rng draws the dropout masks, so
// the same seed reproduces the same run; nil means a fixed seed.
func NewFitter(m *Model, batchSize int, rng *rand.Rand) (*Fitter, error) {
	if batchSize < 1 {
		return nil, fmt.Errorf("%w: batch size must be positive", ErrInvalidSpec)
	}

	own := m.Clone()
	gr, err := newGraph(own, batchSize, true)
	if err != nil {
		return nil, err
	}

	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	f := &Fitter{
		model: own,
		graph: gr,
		rng:   rng,
		batch: batchSize,
	}
	if gr.mask != nil {
		f.mask = make([]float32, batchSize*HiddenUnits)
	}

	f.y = G.NewMatrix(
		gr.g, tensor.Float32,
		G.WithShape(batchSize, own.Spec.NumClasses),
		G.WithName("y"),
	)

	if f.cost, err = crossEntropy(gr.prob, f.y, own.Spec.NumClasses); err != nil {
		return nil, fmt.Errorf("build loss: %w", err)
	}

	if _, err := G.Grad(f.cost, gr.weights...); err != nil {
		return nil, fmt.Errorf("differentiate: %w", err)
	}

	G.Read(gr.prob, &f.probVal)

	f.vm = G.NewTapeMachine(gr.g, G.BindDualValues(gr.weights...))
	f.solver = G.NewAdamSolver(G.WithLearnRate(own.Spec.LearningRate))

	return f, nil
}

// crossEntropy is the categorical cross-entropy averaged over the batch.
func crossEntropy(prob, y *G.Node, classes int) (*G.Node, error) {
	logp, err := G.Log(G.Must(G.Add(prob, G.NewConstant(float32(epsilon)))))
	if err != nil {
		return nil, err
	}

	picked, err := G.HadamardProd(y, logp)
	if err != nil {
		return nil, err
	}

	mean, err := G.Mean(picked)
	if err != nil {
		return nil, err
	}

	// mean runs over batch*classes elements; rescale to a per-sample sum.
	scaled, err := G.Mul(mean, G.NewConstant(float32(classes)))
	if err != nil {
		return nil, err
	}

	return G.Neg(scaled)
}

// BatchSize returns the fixed number of samples per Step.
func (f *Fitter) BatchSize() int {
	return f.batch
}

// Step runs forward and backward passes on one batch and applies one
// optimizer update. x is (B, H, W, 3) and y is one-hot (B, classes).
// It returns the batch loss and accuracy measured before the update.
func (f *Fitter) Step(x, y *tensor.Dense) (loss, acc float64, err error) {
	return f.StepN(x, y, f.batch)
}

// StepN is Step for a batch whose first n rows are real samples and whose
// remaining rows are padding. All rows contribute to the gradient; the
// returned loss and accuracy cover the first n only.
func (f *Fitter) StepN(x, y *tensor.Dense, n int) (loss, acc float64, err error) {
	if x.Shape()[0] != f.batch || !slices.Equal([]int(y.Shape()), []int{f.batch, f.model.Spec.NumClasses}) {
		return 0, 0, fmt.Errorf("%w: batch x=%v y=%v, want %d samples", ErrShapeMismatch, x.Shape(), y.Shape(), f.batch)
	}
	if n < 1 || n > f.batch {
		return 0, 0, fmt.Errorf("%w: %d real samples in a batch of %d", ErrShapeMismatch, n, f.batch)
	}

	in, err := toNCHW(x)
	if err != nil {
		return 0, 0, err
	}

	if err := G.Let(f.graph.x, in); err != nil {
		return 0, 0, fmt.Errorf("bind input: %w", err)
	}
	if err := G.Let(f.y, y); err != nil {
		return 0, 0, fmt.Errorf("bind labels: %w", err)
	}
	if f.mask != nil {
		f.drawMask()
		mask := tensor.New(tensor.WithShape(f.batch, HiddenUnits), tensor.WithBacking(f.mask))
		if err := G.Let(f.graph.mask, mask); err != nil {
			return 0, 0, fmt.Errorf("bind dropout mask: %w", err)
		}
	}

	defer f.vm.Reset()
	if err := f.vm.RunAll(); err != nil {
		return 0, 0, fmt.Errorf("run training step: %w", err)
	}

	if err := f.solver.Step(G.NodesToValueGrads(f.graph.weights)); err != nil {
		return 0, 0, fmt.Errorf("optimizer step: %w", err)
	}

	classes := f.model.Spec.NumClasses
	prob := f.probVal.Data().([]float32)[:n*classes]
	onehot := y.Data().([]float32)[:n*classes]

	return crossEntropyOf(prob, onehot, classes), accuracy(prob, onehot, classes), nil
}

func (f *Fitter) drawMask() {
	rate := f.model.Spec.Dropout
	scale := float32(1 / (1 - rate))
	for i := range f.mask {
		if f.rng.Float64() < rate {
			f.mask[i] = 0
		} else {
			f.mask[i] = scale
		}
	}
}

// crossEntropyOf mirrors the graph loss on host values.
func crossEntropyOf(prob, onehot []float32, classes int) float64 {
	n := len(prob) / classes
	if n == 0 {
		return 0
	}

	var sum float64
	for i, t := range onehot {
		if t != 0 {
			sum -= float64(t) * math.Log(float64(prob[i])+epsilon)
		}
	}
	return sum / float64(n)
}

// Model copies the current graph weights into the fitter's model and returns
// a deep copy of it.
func (f *Fitter) Model() *Model {
	for i, n := range f.graph.weights {
		f.model.Weights[i].Value = n.Value().(*tensor.Dense).Clone().(*tensor.Dense)
	}
	return f.model.Clone()
}

// Close releases the tape machine.
func (f *Fitter) Close() error {
	return f.vm.Close()
}

func accuracy(prob, onehot []float32, classes int) float64 {
	n := len(prob) / classes
	if n == 0 {
		return 0
	}

	correct := 0
	for i := range n {
		row := i * classes
		if argmax(prob[row:row+classes]) == argmax(onehot[row:row+classes]) {
			correct++
		}
	}
	return float64(correct) / float64(n)
}

func argmax(xs []float32) int {
	best := 0
	for i, v := range xs {
		if v > xs[best] {
			best = i
		}
	}
	return best
}

package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/aviario/postura/internal/imaging"
)

// graph is one compiled expression graph over a model's weights. The input
// node takes NCHW batches; callers convert from the NHWC image layout.
// Training graphs with dropout also take a (batch, HiddenUnits) mask that
// the caller fills before every run.
type graph struct {
	g       *G.ExprGraph
	x       *G.Node
	mask    *G.Node
	weights G.Nodes
	prob    *G.Node
	batch   int
}

func newGraph(m *Model, batch int, training bool) (*graph, error) {
	s := m.Spec.ImageSize
	g := G.NewGraph()

	x := G.NewTensor(
		g, tensor.Float32, 4,
		G.WithShape(batch, imaging.Channels, s, s),
		G.WithName("x"),
	)

	weights := make(G.Nodes, len(m.Weights))
	for i, w := range m.Weights {
		weights[i] = G.NewTensor(
			g, tensor.Float32, w.Value.Dims(),
			G.WithShape(w.Value.Shape()...),
			G.WithName(w.Name),
			G.WithValue(w.Value),
		)
	}

	gr := &graph{g: g, x: x, weights: weights, batch: batch}
	if training && m.Spec.Dropout > 0 {
		gr.mask = G.NewMatrix(
			g, tensor.Float32,
			G.WithShape(batch, HiddenUnits),
			G.WithName("dropout_1/mask"),
		)
	}

	prob, err := gr.forward(m.Spec)
	if err != nil {
		return nil, fmt.Errorf("build graph: %w", err)
	}
	gr.prob = prob

	return gr, nil
}

func (gr *graph) forward(spec Spec) (*G.Node, error) {
	w := gr.weights
	_, _, _, _, flat := spec.dims()

	p1, err := convBlock(gr.x, w[0], w[1])
	if err != nil {
		return nil, fmt.Errorf("conv2d_1: %w", err)
	}

	p2, err := convBlock(p1, w[2], w[3])
	if err != nil {
		return nil, fmt.Errorf("conv2d_2: %w", err)
	}

	h, err := G.Reshape(p2, tensor.Shape{gr.batch, flat})
	if err != nil {
		return nil, fmt.Errorf("flatten_1: %w", err)
	}

	if h, err = dense(h, w[4], w[5]); err != nil {
		return nil, fmt.Errorf("dense_1: %w", err)
	}
	if h, err = G.Rectify(h); err != nil {
		return nil, fmt.Errorf("dense_1: %w", err)
	}

	if gr.mask != nil {
		if h, err = G.HadamardProd(h, gr.mask); err != nil {
			return nil, fmt.Errorf("dropout_1: %w", err)
		}
	}

	logits, err := dense(h, w[6], w[7])
	if err != nil {
		return nil, fmt.Errorf("dense_2: %w", err)
	}

	return G.SoftMax(logits)
}

// convBlock is conv(3x3, valid) + bias + relu + maxpool(2x2, stride 2).
func convBlock(in, kernel, bias *G.Node) (*G.Node, error) {
	c, err := G.Conv2d(
		in, kernel,
		tensor.Shape{KernelSize, KernelSize},
		[]int{0, 0}, []int{1, 1}, []int{1, 1},
	)
	if err != nil {
		return nil, err
	}

	if c, err = G.BroadcastAdd(c, bias, nil, []byte{0, 2, 3}); err != nil {
		return nil, err
	}

	if c, err = G.Rectify(c); err != nil {
		return nil, err
	}

	return G.MaxPool2D(
		c,
		tensor.Shape{PoolSize, PoolSize},
		[]int{0, 0}, []int{PoolSize, PoolSize},
	)
}

func dense(in, kernel, bias *G.Node) (*G.Node, error) {
	out, err := G.Mul(in, kernel)
	if err != nil {
		return nil, err
	}
	return G.BroadcastAdd(out, bias, nil, []byte{0})
}

// toNCHW converts a (B, H, W, C) float32 tensor to a new (B, C, H, W) tensor.
func toNCHW(x *tensor.Dense) (*tensor.Dense, error) {
	shape := x.Shape()
	if len(shape) != 4 {
		return nil, fmt.Errorf("%w: want (B, H, W, C), got %v", ErrShapeMismatch, shape)
	}
	b, h, w, c := shape[0], shape[1], shape[2], shape[3]

	src, ok := x.Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("%w: want float32, got %v", ErrShapeMismatch, x.Dtype())
	}

	dst := make([]float32, len(src))
	plane := h * w
	for n := range b {
		base := n * plane * c
		for y := range h {
			for xi := range w {
				pix := y*w + xi
				for ch := range c {
					dst[base+ch*plane+pix] = src[base+pix*c+ch]
				}
			}
		}
	}

	return tensor.New(tensor.WithShape(b, c, h, w), tensor.WithBacking(dst)), nil
}

// Batch gathers the given sample rows of x (N, ...) into a new tensor (len(idx), ...).
func Batch(x *tensor.Dense, idx []int) *tensor.Dense {
	shape := x.Shape()
	per := shape.TotalSize() / shape[0]
	src := x.Data().([]float32)

	dst := make([]float32, len(idx)*per)
	for i, j := range idx {
		copy(dst[i*per:(i+1)*per], src[j*per:(j+1)*per])
	}

	out := append([]int{len(idx)}, shape[1:]...)
	return tensor.New(tensor.WithShape(out...), tensor.WithBacking(dst))
}

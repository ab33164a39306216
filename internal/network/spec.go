// Package network defines the fixed convolutional classifier: its topology,
// parameters, the training graph (Fitter) and the inference graph (Predictor).
// Graph construction and automatic differentiation are delegated to gorgonia.
package network

import (
	"errors"
	"fmt"

	"github.com/aviario/postura/internal/imaging"
)

// Fixed architecture hyperparameters.
const (
	Conv1Filters = 32
	Conv2Filters = 64
	KernelSize   = 3
	PoolSize     = 2
	HiddenUnits  = 128

	DefaultDropout      = 0.3
	DefaultLearningRate = 0.0003

	// MinImageSize keeps the second pooling block non-empty.
	MinImageSize = 10

	Optimizer = "adam"
	Loss      = "categorical_crossentropy"
	Metric    = "accuracy"
)

var (
	ErrImageTooSmall  = fmt.Errorf("image size must be at least %d", MinImageSize)
	ErrInvalidClasses = errors.New("at least two classes required")
	ErrInvalidSpec    = errors.New("invalid network spec")
	ErrShapeMismatch  = errors.New("tensor shape mismatch")
)

// Spec holds the inputs of the model builder.
type Spec struct {
	ImageSize    int     `json:"image_size"`
	NumClasses   int     `json:"num_classes"`
	Dropout      float64 `json:"dropout"`
	LearningRate float64 `json:"learning_rate"`
}

// NewSpec returns a Spec with the default dropout and learning rate.
func NewSpec(imageSize, numClasses int) Spec {
	return Spec{
		ImageSize:    imageSize,
		NumClasses:   numClasses,
		Dropout:      DefaultDropout,
		LearningRate: DefaultLearningRate,
	}
}

// Validate checks the spec describes a buildable network.
func (s Spec) Validate() error {
	if s.ImageSize < MinImageSize {
		return fmt.Errorf("%w: got %d", ErrImageTooSmall, s.ImageSize)
	}
	if s.NumClasses < 2 {
		return fmt.Errorf("%w: got %d", ErrInvalidClasses, s.NumClasses)
	}
	if s.Dropout < 0 || s.Dropout >= 1 {
		return fmt.Errorf("%w: dropout %v outside [0,1)", ErrInvalidSpec, s.Dropout)
	}
	if s.LearningRate <= 0 {
		return fmt.Errorf("%w: learning rate must be positive", ErrInvalidSpec)
	}
	return nil
}

// Layer describes one layer of the topology and its output shape (batch dimension omitted).
type Layer struct {
	Name        string  `json:"name"`
	Type        string  `json:"type"`
	Filters     int     `json:"filters,omitempty"`
	KernelSize  int     `json:"kernel_size,omitempty"`
	PoolSize    int     `json:"pool_size,omitempty"`
	Units       int     `json:"units,omitempty"`
	Rate        float64 `json:"rate,omitempty"`
	Activation  string  `json:"activation,omitempty"`
	OutputShape []int   `json:"output_shape"`
	Params      int     `json:"params"`
}

func (s Spec) dims() (conv1, pool1, conv2, pool2, flat int) {
	conv1 = s.ImageSize - KernelSize + 1
	pool1 = (conv1-PoolSize)/PoolSize + 1
	conv2 = pool1 - KernelSize + 1
	pool2 = (conv2-PoolSize)/PoolSize + 1
	flat = Conv2Filters * pool2 * pool2
	return
}

// Layers returns the topology in forward order.
func (s Spec) Layers() []Layer {
	conv1, pool1, conv2, pool2, flat := s.dims()
	k := KernelSize * KernelSize

	return []Layer{
		{
			Name: "conv2d_1", Type: "conv2d",
			Filters: Conv1Filters, KernelSize: KernelSize, Activation: "relu",
			OutputShape: []int{conv1, conv1, Conv1Filters},
			Params:      k*imaging.Channels*Conv1Filters + Conv1Filters,
		},
		{
			Name: "max_pooling2d_1", Type: "max_pooling2d", PoolSize: PoolSize,
			OutputShape: []int{pool1, pool1, Conv1Filters},
		},
		{
			Name: "conv2d_2", Type: "conv2d",
			Filters: Conv2Filters, KernelSize: KernelSize, Activation: "relu",
			OutputShape: []int{conv2, conv2, Conv2Filters},
			Params:      k*Conv1Filters*Conv2Filters + Conv2Filters,
		},
		{
			Name: "max_pooling2d_2", Type: "max_pooling2d", PoolSize: PoolSize,
			OutputShape: []int{pool2, pool2, Conv2Filters},
		},
		{
			Name: "flatten_1", Type: "flatten",
			OutputShape: []int{flat},
		},
		{
			Name: "dense_1", Type: "dense", Units: HiddenUnits, Activation: "relu",
			OutputShape: []int{HiddenUnits},
			Params:      flat*HiddenUnits + HiddenUnits,
		},
		{
			Name: "dropout_1", Type: "dropout", Rate: s.Dropout,
			OutputShape: []int{HiddenUnits},
		},
		{
			Name: "dense_2", Type: "dense", Units: s.NumClasses, Activation: "softmax",
			OutputShape: []int{s.NumClasses},
			Params:      HiddenUnits*s.NumClasses + s.NumClasses,
		},
	}
}

// WeightShapes returns the name and shape of every trainable tensor in
// serialization order. Convolution kernels are (out, in, kh, kw) and biases
// carry broadcastable leading unit dimensions.
func (s Spec) WeightShapes() []WeightShape {
	_, _, _, _, flat := s.dims()

	return []WeightShape{
		{"conv2d_1/kernel", []int{Conv1Filters, imaging.Channels, KernelSize, KernelSize}},
		{"conv2d_1/bias", []int{1, Conv1Filters, 1, 1}},
		{"conv2d_2/kernel", []int{Conv2Filters, Conv1Filters, KernelSize, KernelSize}},
		{"conv2d_2/bias", []int{1, Conv2Filters, 1, 1}},
		{"dense_1/kernel", []int{flat, HiddenUnits}},
		{"dense_1/bias", []int{1, HiddenUnits}},
		{"dense_2/kernel", []int{HiddenUnits, s.NumClasses}},
		{"dense_2/bias", []int{1, s.NumClasses}},
	}
}

// WeightShape names a trainable tensor and its shape.
type WeightShape struct {
	Name  string `json:"name"`
	Shape []int  `json:"shape"`
}

// Size returns the number of elements of the tensor.
func (w WeightShape) Size() int {
	n := 1
	for _, d := range w.Shape {
		n *= d
	}
	return n
}

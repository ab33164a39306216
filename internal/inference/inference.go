// Package inference serves the trained classifier: it owns the loaded model,
// tracks its load state and turns uploaded images into labelled predictions.
package inference

import (
	"context"
	"time"

	"github.com/aviario/postura/internal/artifact"
)

// Indeterminate is the label returned when no class reaches the threshold.
const Indeterminate = "indeterminado"

// State is the load state of the classifier.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateLoading       State = "loading"
	StateReady         State = "ready"
	StateFailed        State = "failed"
)

// Prediction is the outcome of classifying one image.
type Prediction struct {
	Prob  map[string]float64 `json:"prob"`
	Label string             `json:"label"`
}

// Confidence returns the probability of the winning class, or the highest
// probability when the label is Indeterminate.
func (p Prediction) Confidence() float64 {
	if v, ok := p.Prob[p.Label]; ok {
		return v
	}
	var best float64
	for _, v := range p.Prob {
		best = max(best, v)
	}
	return best
}

// Info describes the classifier for the model endpoint.
type Info struct {
	State     State             `json:"state"`
	Error     string            `json:"error,omitempty"`
	Classes   []string          `json:"classes,omitempty"`
	ImageSize int               `json:"image_size,omitempty"`
	Threshold float64           `json:"threshold"`
	TrainedAt *time.Time        `json:"trained_at,omitempty"`
	Training  *artifact.Summary `json:"training,omitempty"`
}

// System defines the classifier operations used by the HTTP handler.
type System interface {
	State() State
	Info() Info
	Classify(ctx context.Context, data []byte) (*Prediction, error)
}

// Decide maps a probability vector onto classes. The argmax class wins when
// its probability reaches threshold; otherwise the label is Indeterminate.
// Ties resolve to the lowest index.
func Decide(probs []float32, classes []string, threshold float64) Prediction {
	p := Prediction{
		Prob:  make(map[string]float64, len(classes)),
		Label: Indeterminate,
	}

	best := -1
	for i, class := range classes {
		if i >= len(probs) {
			break
		}
		p.Prob[class] = float64(probs[i])
		if best < 0 || probs[i] > probs[best] {
			best = i
		}
	}

	if best >= 0 && float64(probs[best]) >= threshold {
		p.Label = classes[best]
	}
	return p
}

package training

import (
	"bytes"
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/aviario/postura/internal/artifact"
)

// PlotHistory renders the per-epoch loss and accuracy curves as SVG.
func PlotHistory(history []artifact.Epoch) ([]byte, error) {
	p := plot.New()
	p.Title.Text = "training"
	p.X.Label.Text = "epoch"
	p.X.Min = 1
	p.Y.Min = 0
	p.Legend.Top = true
	p.Add(plotter.NewGrid())

	series := []struct {
		name  string
		value func(e artifact.Epoch) (float64, bool)
	}{
		{"loss", func(e artifact.Epoch) (float64, bool) { return e.Loss, true }},
		{"acc", func(e artifact.Epoch) (float64, bool) { return e.Acc, true }},
		{"val_loss", func(e artifact.Epoch) (float64, bool) { return deref(e.ValLoss) }},
		{"val_acc", func(e artifact.Epoch) (float64, bool) { return deref(e.ValAcc) }},
	}

	for i, s := range series {
		var pts plotter.XYs
		for _, e := range history {
			if y, ok := s.value(e); ok {
				pts = append(pts, plotter.XY{X: float64(e.Epoch), Y: y})
			}
		}
		if len(pts) == 0 {
			continue
		}

		l, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("plot %s: %w", s.name, err)
		}
		l.Width = 2
		l.Color = plotutil.Color(i)
		p.Add(l)
		p.Legend.Add(s.name, l)
	}

	w, err := p.WriterTo(8*vg.Inch, 5*vg.Inch, "svg")
	if err != nil {
		return nil, fmt.Errorf("render plot: %w", err)
	}

	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("render plot: %w", err)
	}
	return buf.Bytes(), nil
}

func deref(v *float64) (float64, bool) {
	if v == nil {
		return 0, false
	}
	return *v, true
}

// Package training runs the offline fit loop: load the dataset, build the
// network, fit it for a fixed number of epochs and persist the artifact.
package training

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/aviario/postura/internal/artifact"
	"github.com/aviario/postura/internal/config"
	"github.com/aviario/postura/internal/dataset"
	"github.com/aviario/postura/internal/network"
	"github.com/aviario/postura/pkg/storage"
)

// ErrNoTrainingSamples is returned when the validation split leaves no
// samples to fit on.
var ErrNoTrainingSamples = errors.New("validation split leaves no training samples")

// Trainer fits one model per Run.
type Trainer struct {
	cfg    config.TrainingConfig
	model  config.ModelConfig
	store  storage.System
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Trainer. store may be nil; it is only used when cfg.Publish is set.
func New(cfg config.TrainingConfig, model config.ModelConfig, store storage.System, logger *slog.Logger) *Trainer {
	return &Trainer{
		cfg:    cfg,
		model:  model,
		store:  store,
		logger: logger.With("system", "training"),
		now:    time.Now,
	}
}

// Result summarizes a completed run.
type Result struct {
	Dir string
	// Model holds the trained weights as they were before saving.
	Model     *network.Model
	History   []artifact.Epoch
	Published []string
	Summary   artifact.Summary
}

// Run loads the dataset, fits the network and saves the artifact. The dataset
// is released on every path. Cancelling ctx stops the run between batches
// without touching the artifact directory.
func (t *Trainer) Run(ctx context.Context) (*Result, error) {
	loader := &dataset.Loader{
		Root:      t.cfg.DatasetDir,
		Classes:   t.cfg.Classes,
		ImageSize: t.cfg.ImageSize,
		Workers:   t.cfg.Workers,
		Logger:    t.logger,
	}

	ds, err := loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load dataset: %w", err)
	}
	defer ds.Release()

	n := ds.Len()
	nTrain := int(float64(n) * (1 - t.cfg.ValidationSplit))
	if nTrain < 1 {
		return nil, fmt.Errorf("%w: %d samples, split %v", ErrNoTrainingSamples, n, t.cfg.ValidationSplit)
	}
	nVal := n - nTrain

	seed := t.cfg.Seed
	if seed == 0 {
		seed = t.now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	spec := network.NewSpec(t.cfg.ImageSize, len(t.cfg.Classes))
	spec.LearningRate = t.cfg.LearningRate

	model, err := network.Build(spec, rng)
	if err != nil {
		return nil, fmt.Errorf("build model: %w", err)
	}

	for _, l := range model.Topology() {
		t.logger.Debug("layer", "name", l.Name, "type", l.Type, "output", l.OutputShape, "params", l.Params)
	}
	t.logger.Info(
		"model built",
		"params", model.TotalParams(),
		"optimizer", network.Optimizer,
		"learning_rate", spec.LearningRate,
		"loss", network.Loss,
	)

	batch := min(t.cfg.BatchSize, nTrain)
	fitter, err := network.NewFitter(model, batch, rng)
	if err != nil {
		return nil, fmt.Errorf("compile training graph: %w", err)
	}
	defer fitter.Close()

	var validator *network.Predictor
	if nVal > 0 {
		if validator, err = network.NewPredictor(model); err != nil {
			return nil, fmt.Errorf("compile validation graph: %w", err)
		}
		defer validator.Close()
	}

	t.logger.Info(
		"training started",
		"samples", n,
		"train", nTrain,
		"validation", nVal,
		"epochs", t.cfg.Epochs,
		"batch_size", batch,
		"seed", seed,
	)

	valIdx := make([]int, nVal)
	for i := range valIdx {
		valIdx[i] = nTrain + i
	}

	history := make([]artifact.Epoch, 0, t.cfg.Epochs)
	for epoch := 1; epoch <= t.cfg.Epochs; epoch++ {
		start := time.Now()

		perm := t.order(rng, nTrain)
		loss, acc, err := t.epoch(ctx, fitter, ds, perm, batch)
		if err != nil {
			return nil, fmt.Errorf("epoch %d: %w", epoch, err)
		}

		e := artifact.Epoch{Epoch: epoch, Loss: loss, Acc: acc}
		attrs := []any{"epoch", epoch, "loss", loss, "acc", acc}

		if validator != nil {
			if err := validator.Load(fitter.Model().Weights); err != nil {
				return nil, fmt.Errorf("epoch %d: %w", epoch, err)
			}
			valLoss, valAcc, err := validator.Evaluate(network.Batch(ds.X, valIdx), ds.Labels[nTrain:])
			if err != nil {
				return nil, fmt.Errorf("epoch %d validation: %w", epoch, err)
			}
			e.ValLoss, e.ValAcc = &valLoss, &valAcc
			attrs = append(attrs, "val_loss", valLoss, "val_acc", valAcc)
		}

		e.ElapsedMs = time.Since(start).Milliseconds()
		history = append(history, e)

		t.logger.Info("epoch complete", append(attrs, "elapsed", time.Since(start))...)
	}

	summary := artifact.Summary{
		Epochs:            t.cfg.Epochs,
		BatchSize:         batch,
		Samples:           nTrain,
		ValidationSamples: nVal,
		Seed:              seed,
		ValidationSplit:   t.cfg.ValidationSplit,
	}
	if len(history) > 0 {
		summary.Final = &history[len(history)-1]
	}

	trained := fitter.Model()
	if err := t.save(trained, history, summary); err != nil {
		return nil, err
	}

	result := &Result{Dir: t.model.Dir, Model: trained, History: history, Summary: summary}

	if t.cfg.Publish {
		if t.store == nil {
			return result, fmt.Errorf("publish: storage is not enabled")
		}
		keys, err := artifact.Publish(ctx, t.store, t.model.StoragePrefix, t.model.Dir)
		if err != nil {
			return result, fmt.Errorf("publish: %w", err)
		}
		result.Published = keys
		t.logger.Info("model published", "prefix", t.model.StoragePrefix, "files", len(keys))
	}

	return result, nil
}

// order returns the sample order for one epoch.
func (t *Trainer) order(rng *rand.Rand, n int) []int {
	if t.cfg.ShuffleEnabled() {
		return rng.Perm(n)
	}
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	return perm
}

// epoch runs one pass over perm. A short final batch is filled with samples
// from the start of perm. The padding takes part in the update but not in
// the reported loss and accuracy.
func (t *Trainer) epoch(ctx context.Context, f *network.Fitter, ds *dataset.Dataset, perm []int, batch int) (loss, acc float64, err error) {
	var seen int
	for start := 0; start < len(perm); start += batch {
		if err := ctx.Err(); err != nil {
			return 0, 0, err
		}

		end := min(start+batch, len(perm))
		count := end - start

		idx := make([]int, 0, batch)
		idx = append(idx, perm[start:end]...)
		for i := 0; len(idx) < batch; i++ {
			idx = append(idx, perm[i%len(perm)])
		}

		l, a, err := f.StepN(network.Batch(ds.X, idx), network.Batch(ds.Y, idx), count)
		if err != nil {
			return 0, 0, err
		}

		loss += l * float64(count)
		acc += a * float64(count)
		seen += count
	}

	return loss / float64(seen), acc / float64(seen), nil
}

func (t *Trainer) save(m *network.Model, history []artifact.Epoch, summary artifact.Summary) error {
	hist, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}

	files := []artifact.File{{Name: artifact.HistoryFile, Data: hist}}

	if svg, err := PlotHistory(history); err != nil {
		t.logger.Warn("training plot skipped", "error", err)
	} else {
		files = append(files, artifact.File{Name: artifact.PlotFile, Data: svg})
	}

	meta := artifact.Meta{
		Classes:   t.cfg.Classes,
		ImageSize: t.cfg.ImageSize,
		TrainedAt: t.now(),
		Training:  &summary,
	}

	if err := artifact.Save(t.model.Dir, m, meta, files...); err != nil {
		return fmt.Errorf("save model: %w", err)
	}

	t.logger.Info("model saved", "dir", t.model.Dir, "classes", t.cfg.Classes)
	return nil
}

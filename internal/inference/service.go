package inference

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"gorgonia.org/tensor"

	"github.com/aviario/postura/internal/artifact"
	"github.com/aviario/postura/internal/config"
	"github.com/aviario/postura/internal/imaging"
	"github.com/aviario/postura/internal/network"
	"github.com/aviario/postura/pkg/lifecycle"
)

// Service owns the loaded classifier. The model is loaded once; a failed
// load is final until the process restarts.
type Service struct {
	threshold float64
	load      Loader
	logger    *slog.Logger

	mu        sync.RWMutex
	state     State
	loadErr   error
	meta      *artifact.Meta
	predictor *network.Predictor

	// the predictor's VM runs one forward pass at a time
	predictMu sync.Mutex
}

// New creates a Service in the Uninitialized state.
func New(cfg config.InferenceConfig, load Loader, logger *slog.Logger) *Service {
	return &Service{
		threshold: cfg.Threshold,
		load:      load,
		logger:    logger.With("system", "inference"),
		state:     StateUninitialized,
	}
}

// Start registers the model load as a startup hook, adds the "model"
// readiness check and releases the predictor on shutdown.
func (s *Service) Start(lc *lifecycle.Coordinator) error {
	lc.AddCheck("model", s)

	lc.OnStartup(func() {
		s.Load(lc.Context())
	})

	lc.OnShutdown(func() {
		<-lc.Context().Done()
		s.Close()
	})

	return nil
}

// Load runs the loader and moves the Service to Ready or Failed.
func (s *Service) Load(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateUninitialized {
		s.mu.Unlock()
		return ErrAlreadyLoaded
	}
	s.state = StateLoading
	s.mu.Unlock()

	start := time.Now()
	s.logger.Info("loading model")

	predictor, meta, err := s.open(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.state = StateFailed
		s.loadErr = err
		s.logger.Error("model load failed", "error", err)
		return err
	}

	s.state = StateReady
	s.meta = meta
	s.predictor = predictor

	s.logger.Info(
		"model loaded",
		"classes", meta.Classes,
		"image_size", meta.ImageSize,
		"threshold", s.threshold,
		"duration", time.Since(start),
	)
	return nil
}

func (s *Service) open(ctx context.Context) (*network.Predictor, *artifact.Meta, error) {
	model, meta, err := s.load(ctx)
	if err != nil {
		return nil, nil, err
	}

	predictor, err := network.NewPredictor(model)
	if err != nil {
		return nil, nil, fmt.Errorf("compile inference graph: %w", err)
	}
	return predictor, meta, nil
}

// State returns the current load state.
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Ready reports whether the model is loaded.
func (s *Service) Ready() bool {
	return s.State() == StateReady
}

// Info describes the current model.
func (s *Service) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := Info{State: s.state, Threshold: s.threshold}
	if s.loadErr != nil {
		info.Error = s.loadErr.Error()
	}
	if s.meta != nil {
		trainedAt := s.meta.TrainedAt
		info.Classes = slices.Clone(s.meta.Classes)
		info.ImageSize = s.meta.ImageSize
		info.TrainedAt = &trainedAt
		info.Training = s.meta.Training
	}
	return info
}

// Classify preprocesses an encoded image and runs it through the model.
func (s *Service) Classify(ctx context.Context, data []byte) (*Prediction, error) {
	s.mu.RLock()
	state, meta, predictor := s.state, s.meta, s.predictor
	s.mu.RUnlock()

	switch state {
	case StateReady:
	case StateFailed:
		return nil, ErrUnavailable
	default:
		return nil, ErrNotLoaded
	}
	if predictor == nil {
		return nil, ErrUnavailable
	}

	img, err := imaging.PreprocessBytes(data, meta.ImageSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrClassify, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	probs, err := s.predict(img)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrClassify, err)
	}

	p := Decide(probs, meta.Classes, s.threshold)
	return &p, nil
}

func (s *Service) predict(img *tensor.Dense) ([]float32, error) {
	s.predictMu.Lock()
	defer s.predictMu.Unlock()

	s.mu.RLock()
	predictor := s.predictor
	s.mu.RUnlock()
	if predictor == nil {
		return nil, ErrUnavailable
	}

	return predictor.Predict(img)
}

// Close releases the predictor. Later Classify calls report ErrUnavailable.
func (s *Service) Close() {
	s.predictMu.Lock()
	defer s.predictMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.predictor != nil {
		s.predictor.Close()
		s.predictor = nil
		s.logger.Info("model released")
	}
}

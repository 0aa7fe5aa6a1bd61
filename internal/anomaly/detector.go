package anomaly

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"host-sentinel/internal/metrics"
)

const (
	// MinTrainSamples gates the first training run.
	MinTrainSamples = 50
	// RetrainInterval is the number of ticks between retraining runs.
	RetrainInterval = 10
)

var (
	// ErrNotTrained is returned when scoring before the first successful fit.
	ErrNotTrained = errors.New("anomaly model not trained")
	// ErrInsufficientData is returned when training with too few rows.
	ErrInsufficientData = errors.New("insufficient training data")
	// ErrFitFailure wraps training failures.
	ErrFitFailure = errors.New("fit failure")
)

// ModelState describes the detector's readiness.
type ModelState struct {
	IsTrained                bool      `json:"is_trained"`
	LastTrainedAt            time.Time `json:"last_trained_at"`
	SamplesSeenSinceTraining int       `json:"samples_seen_since_training"`
}

// Verdict classifies the latest sample.
type Verdict struct {
	IsAnomaly  bool      `json:"is_anomaly"`
	Score      float64   `json:"score"`
	CPU        float64   `json:"cpu"`
	Memory     float64   `json:"memory"`
	Disk       float64   `json:"disk"`
	DetectedAt time.Time `json:"detected_at"`
}

// Options configure the detector.
type Options struct {
	MinTrainSamples int
	RetrainInterval int
	Forest          ForestOptions
}

// Detector trains an isolation forest over the joint 3-metric history.
type Detector struct {
	mu     sync.Mutex
	opts   Options
	state  ModelState
	forest *Forest
	now    func() time.Time
	logger zerolog.Logger
}

// NewDetector fills defaults for zero-valued options.
func NewDetector(opts Options, logger zerolog.Logger) *Detector {
	if opts.MinTrainSamples <= 0 {
		opts.MinTrainSamples = MinTrainSamples
	}
	if opts.RetrainInterval <= 0 {
		opts.RetrainInterval = RetrainInterval
	}
	if opts.Forest == (ForestOptions{}) {
		opts.Forest = DefaultForestOptions()
	}
	return &Detector{
		opts:   opts,
		now:    time.Now,
		logger: logger.With().Str("component", "anomaly_detector").Logger(),
	}
}

// Observe counts one more tick since the last successful training.
func (d *Detector) Observe() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state.IsTrained {
		d.state.SamplesSeenSinceTraining++
	}
}

// ShouldTrain is true on the first call with enough samples while untrained,
// and again once RetrainInterval ticks have been observed since training.
func (d *Detector) ShouldTrain(sampleCount int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.state.IsTrained {
		return sampleCount >= d.opts.MinTrainSamples
	}
	return d.state.SamplesSeenSinceTraining >= d.opts.RetrainInterval
}

// Train fits a new forest on aligned series. The previous model stays in
// place unless the new fit completes.
func (d *Detector) Train(ctx context.Context, cpu, memory, disk []float64) error {
	n := min(len(cpu), len(memory), len(disk))
	if n < d.opts.MinTrainSamples {
		return fmt.Errorf("%w: have %d rows, need %d", ErrInsufficientData, n, d.opts.MinTrainSamples)
	}

	// Align on the newest rows if the series lengths differ.
	cpu, memory, disk = cpu[len(cpu)-n:], memory[len(memory)-n:], disk[len(disk)-n:]
	rows := make([][]float64, n)
	for i := 0; i < n; i++ {
		rows[i] = []float64{cpu[i], memory[i], disk[i]}
	}

	started := time.Now()
	forest, err := FitForest(ctx, rows, d.opts.Forest)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", ErrFitFailure, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	d.forest = forest
	d.state = ModelState{IsTrained: true, LastTrainedAt: d.now()}
	d.mu.Unlock()

	d.logger.Info().Int("rows", n).Int("features", forest.Features()).Dur("took", time.Since(started)).Float64("offset", forest.Offset()).Msg("anomaly model trained")
	return nil
}

// Score classifies sample against the trained model. The verdict carries
// the sample's timestamp.
func (d *Detector) Score(sample metrics.Sample) (Verdict, error) {
	d.mu.Lock()
	forest := d.forest
	d.mu.Unlock()
	if forest == nil {
		return Verdict{}, ErrNotTrained
	}

	score, outlier := forest.Classify([]float64{sample.CPU, sample.Memory, sample.Disk})
	return Verdict{
		IsAnomaly:  outlier,
		Score:      score,
		CPU:        sample.CPU,
		Memory:     sample.Memory,
		Disk:       sample.Disk,
		DetectedAt: sample.Timestamp,
	}, nil
}

// State returns a copy of the model state.
func (d *Detector) State() ModelState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

package forecast

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"host-sentinel/internal/metrics"
)

const (
	// MinSamples is the shortest series a forecast is attempted on.
	MinSamples = 30
	// DefaultHorizon is the number of projected points.
	DefaultHorizon = 5
)

// ErrFitFailure wraps every reason an AR fit was rejected.
var ErrFitFailure = errors.New("fit failure")

// Status classifies a forecast result.
type Status string

const (
	StatusOK               Status = "ok"
	StatusDegraded         Status = "degraded"
	StatusInsufficientData Status = "insufficient_data"
)

// Result is the projection for one metric.
type Result struct {
	Metric        metrics.Metric `json:"metric"`
	Status        Status         `json:"status"`
	Points        []float64      `json:"points,omitempty"`
	HorizonLabels []time.Time    `json:"horizon_labels,omitempty"`
	GeneratedAt   time.Time      `json:"generated_at"`
	Intercept     float64        `json:"intercept,omitempty"`
	Phi           float64        `json:"phi,omitempty"`
	Reason        string         `json:"reason,omitempty"`
}

// Ready reports whether the result carries projected points.
func (r Result) Ready() bool { return r.Status != StatusInsufficientData }

// InsufficientData is the result returned before enough history exists.
func InsufficientData(m metrics.Metric, at time.Time) Result {
	return Result{Metric: m, Status: StatusInsufficientData, GeneratedAt: at}
}

// Options configure the engine.
type Options struct {
	MinSamples int
	Horizon    int
	Interval   time.Duration
}

// Engine fits an AR(1) model per metric series.
type Engine struct {
	opts     Options
	interval atomic.Int64
}

// NewEngine fills defaults for zero-valued options.
func NewEngine(opts Options) *Engine {
	if opts.MinSamples <= 0 {
		opts.MinSamples = MinSamples
	}
	if opts.Horizon <= 0 {
		opts.Horizon = DefaultHorizon
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	e := &Engine{opts: opts}
	e.interval.Store(int64(opts.Interval))
	return e
}

// SetInterval changes the spacing of future horizon labels.
func (e *Engine) SetInterval(d time.Duration) {
	if d > 0 {
		e.interval.Store(int64(d))
	}
}

// Forecast projects the next Horizon values of series. last is the timestamp
// of the final observation; labels are spaced by the tick interval from it.
func (e *Engine) Forecast(m metrics.Metric, series []float64, last time.Time) Result {
	now := time.Now()
	if len(series) < e.opts.MinSamples {
		return InsufficientData(m, now)
	}

	step := time.Duration(e.interval.Load())
	labels := make([]time.Time, e.opts.Horizon)
	for i := range labels {
		labels[i] = last.Add(time.Duration(i+1) * step)
	}

	result := Result{Metric: m, Status: StatusOK, HorizonLabels: labels, GeneratedAt: now}
	intercept, phi, err := FitAR1(series)
	if err != nil {
		result.Status = StatusDegraded
		result.Reason = err.Error()
		result.Points = repeat(series[len(series)-1], e.opts.Horizon)
		return result
	}

	result.Intercept = intercept
	result.Phi = phi
	result.Points = project(intercept, phi, series[len(series)-1], e.opts.Horizon)
	return result
}

// FitAR1 estimates x[t] = c + phi*x[t-1] by conditional least squares.
func FitAR1(series []float64) (intercept, phi float64, err error) {
	if len(series) < 3 {
		return 0, 0, fmt.Errorf("%w: series too short", ErrFitFailure)
	}
	if floats.HasNaN(series) {
		return 0, 0, fmt.Errorf("%w: series contains NaN", ErrFitFailure)
	}
	lagged := series[:len(series)-1]
	current := series[1:]
	if stat.Variance(lagged, nil) < 1e-12 {
		return 0, 0, fmt.Errorf("%w: constant series", ErrFitFailure)
	}

	intercept, phi = stat.LinearRegression(lagged, current, nil, false)
	if math.IsNaN(phi) || math.IsInf(phi, 0) || math.IsNaN(intercept) || math.IsInf(intercept, 0) {
		return 0, 0, fmt.Errorf("%w: non-finite coefficients", ErrFitFailure)
	}
	if math.Abs(phi) >= 1 {
		return 0, 0, fmt.Errorf("%w: non-stationary coefficient %.4f", ErrFitFailure, phi)
	}
	return intercept, phi, nil
}

func project(intercept, phi, last float64, horizon int) []float64 {
	out := make([]float64, horizon)
	prev := last
	for i := range out {
		prev = intercept + phi*prev
		out[i] = metrics.Clamp(prev)
	}
	return out
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

package smoother

import (
	"fmt"
	"math"

	"host-sentinel/internal/metrics"
)

// DefaultAlpha weights the newest raw reading.
const DefaultAlpha = 0.3

// EMA keeps one exponential moving average per metric.
type EMA struct {
	alpha  float64
	primed bool
	last   metrics.Sample
}

// New returns an EMA filter. alpha must lie in (0,1].
func New(alpha float64) (*EMA, error) {
	if !(alpha > 0 && alpha <= 1) {
		return nil, fmt.Errorf("smoothing alpha must be in (0,1], got %v", alpha)
	}
	return &EMA{alpha: alpha}, nil
}

// Alpha reports the configured weight.
func (e *EMA) Alpha() float64 { return e.alpha }

// Smooth blends raw into the running average and returns the smoothed sample.
// The first call passes raw through clamped. A NaN reading holds the
// previous average for that metric.
func (e *EMA) Smooth(raw metrics.Sample) metrics.Sample {
	out := metrics.Sample{Timestamp: raw.Timestamp}
	for _, m := range metrics.All() {
		v := raw.Value(m)
		if math.IsNaN(v) && e.primed {
			out = out.WithValue(m, e.last.Value(m))
			continue
		}
		v = metrics.Clamp(v)
		if e.primed {
			v = metrics.Clamp(e.alpha*v + (1-e.alpha)*e.last.Value(m))
		}
		out = out.WithValue(m, v)
	}
	e.last = out
	e.primed = true
	return out
}

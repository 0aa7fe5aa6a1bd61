package sampler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"host-sentinel/internal/metrics"
)

// ErrScriptExhausted is returned once a Scripted source has replayed every step.
var ErrScriptExhausted = errors.New("script exhausted")

// Scripted replays fixed per-metric series, one value per call. A
// series shorter than the others repeats its last value.
type Scripted struct {
	mu     sync.Mutex
	series map[metrics.Metric][]float64
	steps  int
	pos    int
	start  time.Time
	step   time.Duration
}

// NewScripted builds a replay source starting at start and advancing by step per sample.
func NewScripted(cpu, memory, disk []float64, start time.Time, step time.Duration) *Scripted {
	steps := max(len(cpu), len(memory), len(disk))
	return &Scripted{
		series: map[metrics.Metric][]float64{
			metrics.CPU:    cpu,
			metrics.Memory: memory,
			metrics.Disk:   disk,
		},
		steps: steps,
		start: start,
		step:  step,
	}
}

// Len reports how many samples the script yields.
func (s *Scripted) Len() int { return s.steps }

func (s *Scripted) Sample(ctx context.Context) (metrics.Sample, error) {
	if err := ctx.Err(); err != nil {
		return metrics.Sample{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pos >= s.steps {
		return metrics.Sample{}, ErrScriptExhausted
	}
	sample := metrics.Sample{Timestamp: s.start.Add(time.Duration(s.pos) * s.step)}
	var errs []error
	for _, m := range metrics.All() {
		values := s.series[m]
		if len(values) == 0 {
			errs = append(errs, &UnavailableError{Metric: m, Err: errors.New("no scripted values")})
			continue
		}
		v, err := checkFinite(values[min(s.pos, len(values)-1)])
		if err != nil {
			errs = append(errs, &UnavailableError{Metric: m, Err: err})
			continue
		}
		sample = sample.WithValue(m, v)
	}
	s.pos++
	return sample, errors.Join(errs...)
}

// ParseSeries expands a compact series description such as "10x55,95x5" or
// "40,41,42" into values.
func ParseSeries(desc string) ([]float64, error) {
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return nil, nil
	}
	var out []float64
	for _, part := range strings.Split(desc, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		valuePart, countPart, repeated := strings.Cut(part, "x")
		value, err := strconv.ParseFloat(strings.TrimSpace(valuePart), 64)
		if err != nil {
			return nil, fmt.Errorf("parse value %q: %w", part, err)
		}
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return nil, fmt.Errorf("parse value %q: %w", part, ErrNonFinite)
		}
		count := 1
		if repeated {
			count, err = strconv.Atoi(strings.TrimSpace(countPart))
			if err != nil || count <= 0 {
				return nil, fmt.Errorf("parse repeat count %q: invalid", part)
			}
		}
		for i := 0; i < count; i++ {
			out = append(out, value)
		}
	}
	return out, nil
}

var _ Source = (*Scripted)(nil)

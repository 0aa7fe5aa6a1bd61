package sampler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"host-sentinel/internal/metrics"
)

// ErrSampleUnavailable marks a metric the OS could not report this tick.
var ErrSampleUnavailable = errors.New("sample unavailable")

// UnavailableError carries the metric that failed and the underlying cause.
type UnavailableError struct {
	Metric metrics.Metric
	Err    error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s sample unavailable: %v", e.Metric, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func (e *UnavailableError) Is(target error) bool { return target == ErrSampleUnavailable }

// ErrNonFinite reports a NaN or infinite reading.
var ErrNonFinite = errors.New("non-finite reading")

// checkFinite clamps v, rejecting NaN and infinities.
func checkFinite(v float64) (float64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %v", ErrNonFinite, v)
	}
	return metrics.Clamp(v), nil
}

// UnavailableMetrics lists the metrics reported as unavailable inside err.
func UnavailableMetrics(err error) []metrics.Metric {
	var out []metrics.Metric
	var walk func(error)
	walk = func(e error) {
		if e == nil {
			return
		}
		if ue, ok := e.(*UnavailableError); ok {
			out = append(out, ue.Metric)
			return
		}
		switch x := e.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range x.Unwrap() {
				walk(inner)
			}
		case interface{ Unwrap() error }:
			walk(x.Unwrap())
		}
	}
	walk(err)
	return out
}

// Source produces one raw sample per tick.
type Source interface {
	Sample(ctx context.Context) (metrics.Sample, error)
}

// Options tune the OS sampler.
type Options struct {
	CPUReads        int
	CPUReadInterval time.Duration
	DefaultVolume   string
	AlternateVolume []string
	Noise           bool
}

// Sampler reads CPU, memory and disk occupancy for one tick.
type Sampler struct {
	opts     Options
	provider Provider
	rng      *rand.Rand
	now      func() time.Time
	logger   zerolog.Logger
}

// New constructs a Sampler. A nil provider selects gopsutil.
func New(opts Options, provider Provider, logger zerolog.Logger) *Sampler {
	if provider == nil {
		provider = GopsutilProvider{}
	}
	if opts.CPUReads <= 0 {
		opts.CPUReads = 3
	}
	if len(opts.AlternateVolume) == 0 {
		opts.AlternateVolume = DefaultAlternateVolumes()
	}
	return &Sampler{
		opts:     opts,
		provider: provider,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      time.Now,
		logger:   logger.With().Str("component", "sampler").Logger(),
	}
}

// Sample reads all three metrics. Metrics that could not be read are left at
// zero and reported through a joined *UnavailableError.
func (s *Sampler) Sample(ctx context.Context) (metrics.Sample, error) {
	sample := metrics.Sample{Timestamp: s.now()}
	var errs []error

	if v, err := s.readCPU(ctx); err != nil {
		errs = append(errs, &UnavailableError{Metric: metrics.CPU, Err: err})
	} else {
		sample.CPU = v
	}

	if v, err := s.readMemory(ctx); err != nil {
		errs = append(errs, &UnavailableError{Metric: metrics.Memory, Err: err})
	} else {
		sample.Memory = v
	}

	if v, err := s.readDisk(ctx); err != nil {
		errs = append(errs, &UnavailableError{Metric: metrics.Disk, Err: err})
	} else {
		sample.Disk = v
	}

	if s.opts.Noise {
		sample = s.addNoise(sample, errs)
	}

	return sample, errors.Join(errs...)
}

func (s *Sampler) readCPU(ctx context.Context) (float64, error) {
	window := s.opts.CPUReadInterval
	total := 0.0
	for i := 0; i < s.opts.CPUReads; i++ {
		v, err := s.provider.CPUPercent(ctx, window)
		if err != nil {
			return 0, err
		}
		total += v
	}
	return checkFinite(total / float64(s.opts.CPUReads))
}

func (s *Sampler) readMemory(ctx context.Context) (float64, error) {
	v, err := s.provider.MemoryPercent(ctx)
	if err != nil {
		return 0, err
	}
	return checkFinite(v)
}

// readDisk walks the volume resolution chain and returns the first readable volume.
func (s *Sampler) readDisk(ctx context.Context) (float64, error) {
	var lastErr error
	for _, path := range s.volumeChain() {
		v, err := s.provider.DiskPercent(ctx, path)
		if err == nil {
			v, err = checkFinite(v)
		}
		if err == nil {
			return v, nil
		}
		s.logger.Debug().Err(err).Str("volume", path).Msg("volume not readable, trying next")
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("no volume candidates")
	}
	return 0, fmt.Errorf("all volumes failed: %w", lastErr)
}

func (s *Sampler) volumeChain() []string {
	candidates := make([]string, 0, len(s.opts.AlternateVolume)+2)
	if s.opts.DefaultVolume != "" {
		candidates = append(candidates, s.opts.DefaultVolume)
	}
	candidates = append(candidates, SystemVolume())
	candidates = append(candidates, s.opts.AlternateVolume...)

	seen := make(map[string]bool, len(candidates))
	chain := candidates[:0]
	for _, c := range candidates {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		chain = append(chain, c)
	}
	return chain
}

func (s *Sampler) addNoise(sample metrics.Sample, errs []error) metrics.Sample {
	failed := UnavailableMetrics(errors.Join(errs...))
	skip := func(m metrics.Metric) bool {
		for _, f := range failed {
			if f == m {
				return true
			}
		}
		return false
	}
	amplitude := map[metrics.Metric]float64{metrics.CPU: 0.5, metrics.Memory: 0.3, metrics.Disk: 0.2}
	for _, m := range metrics.All() {
		if skip(m) {
			continue
		}
		delta := (s.rng.Float64()*2 - 1) * amplitude[m]
		sample = sample.WithValue(m, metrics.Clamp(sample.Value(m)+delta))
	}
	return sample
}

// SystemVolume returns the OS-reported system volume.
func SystemVolume() string {
	if runtime.GOOS == "windows" {
		drive := os.Getenv("SystemDrive")
		if drive == "" {
			drive = "C:"
		}
		return strings.TrimRight(drive, `\`) + `\`
	}
	return "/"
}

// DefaultAlternateVolumes lists common volume identifiers tried after the system volume.
func DefaultAlternateVolumes() []string {
	if runtime.GOOS == "windows" {
		return []string{`C:\`, `D:\`, `E:\`}
	}
	return []string{"/", "/home", "/var"}
}

var _ Source = (*Sampler)(nil)

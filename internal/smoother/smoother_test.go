package smoother

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"host-sentinel/internal/metrics"
)

func TestFirstSamplePassesThrough(t *testing.T) {
	ema, err := New(DefaultAlpha)
	require.NoError(t, err)

	raw := metrics.Sample{Timestamp: time.Unix(10, 0), CPU: 12, Memory: 34, Disk: 56}
	assert.Equal(t, raw, ema.Smooth(raw))
}

func TestBlendsWithPrevious(t *testing.T) {
	ema, err := New(0.3)
	require.NoError(t, err)

	ema.Smooth(metrics.Sample{CPU: 10, Memory: 10, Disk: 10})
	out := ema.Smooth(metrics.Sample{CPU: 95, Memory: 10, Disk: 0})
	assert.InDelta(t, 35.5, out.CPU, 1e-9)
	assert.InDelta(t, 10.0, out.Memory, 1e-9)
	assert.InDelta(t, 7.0, out.Disk, 1e-9)
}

func TestConvergesUnderConstantInput(t *testing.T) {
	for _, alpha := range []float64{0.05, 0.3, 0.5, 0.9} {
		ema, err := New(alpha)
		require.NoError(t, err)
		ema.Smooth(metrics.Sample{CPU: 0, Memory: 100, Disk: 50})

		var out metrics.Sample
		for i := 0; i < 2000; i++ {
			out = ema.Smooth(metrics.Sample{CPU: 73, Memory: 73, Disk: 73})
		}
		assert.InDelta(t, 73.0, out.CPU, 1e-6, "alpha %v", alpha)
		assert.InDelta(t, 73.0, out.Memory, 1e-6, "alpha %v", alpha)
		assert.InDelta(t, 73.0, out.Disk, 1e-6, "alpha %v", alpha)
	}
}

func TestClampsOutOfRangeInput(t *testing.T) {
	ema, err := New(0.5)
	require.NoError(t, err)

	out := ema.Smooth(metrics.Sample{CPU: 140, Memory: -3, Disk: 50})
	assert.Equal(t, 100.0, out.CPU)
	assert.Equal(t, 0.0, out.Memory)
}

func TestInvalidAlpha(t *testing.T) {
	_, err := New(0)
	assert.Error(t, err)
	_, err = New(1.5)
	assert.Error(t, err)

	ema, err := New(0.3)
	require.NoError(t, err)
	assert.Equal(t, 0.3, ema.Alpha())
}

func TestNaNReadingDoesNotPoisonAverage(t *testing.T) {
	ema, err := New(0.3)
	require.NoError(t, err)

	ema.Smooth(metrics.Sample{CPU: 10, Memory: 10, Disk: 10})
	held := ema.Smooth(metrics.Sample{CPU: math.NaN(), Memory: math.Inf(1), Disk: math.Inf(-1)})
	assert.Equal(t, 10.0, held.CPU)
	assert.InDelta(t, 37.0, held.Memory, 1e-9)
	assert.InDelta(t, 7.0, held.Disk, 1e-9)

	var out metrics.Sample
	for i := 0; i < 50; i++ {
		out = ema.Smooth(metrics.Sample{CPU: 50, Memory: 50, Disk: 50})
	}
	assert.InDelta(t, 50.0, out.CPU, 1e-6)
	assert.False(t, math.IsNaN(out.CPU))
}

func TestFirstNaNReadingClampsToZero(t *testing.T) {
	ema, err := New(0.3)
	require.NoError(t, err)

	out := ema.Smooth(metrics.Sample{CPU: math.NaN(), Memory: 20, Disk: 30})
	assert.Equal(t, 0.0, out.CPU)
	assert.InDelta(t, 30.0, ema.Smooth(metrics.Sample{CPU: 100, Memory: 20, Disk: 30}).CPU, 1e-9)
}

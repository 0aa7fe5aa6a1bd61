package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"host-sentinel/internal/metrics"
)

func sampleAt(i int) metrics.Sample {
	return metrics.Sample{
		Timestamp: time.Unix(int64(1000+i), 0),
		CPU:       float64(i),
		Memory:    float64(i) / 2,
		Disk:      float64(i) / 4,
	}
}

func TestLengthNeverExceedsCapacity(t *testing.T) {
	b := New(5)
	for i := 0; i < 23; i++ {
		require.NoError(t, b.Append(sampleAt(i)))
		assert.LessOrEqual(t, b.Len(), b.Cap())
		assert.Equal(t, min(i+1, 5), b.Len())
	}
}

func TestEvictsOldestFirst(t *testing.T) {
	b := New(3)
	for i := 0; i < 3; i++ {
		require.NoError(t, b.Append(sampleAt(i)))
	}
	assert.Equal(t, []float64{0, 1, 2}, b.Snapshot(metrics.CPU))

	require.NoError(t, b.Append(sampleAt(3)))
	assert.Equal(t, []float64{1, 2, 3}, b.Snapshot(metrics.CPU))

	require.NoError(t, b.Append(sampleAt(4)))
	assert.Equal(t, []float64{2, 3, 4}, b.Snapshot(metrics.CPU))
	assert.Equal(t, []float64{1, 1.5, 2}, b.Snapshot(metrics.Memory))

	latest, ok := b.Latest()
	require.True(t, ok)
	assert.Equal(t, sampleAt(4), latest)

	ts := b.Timestamps()
	assert.Equal(t, sampleAt(2).Timestamp, ts[0])
	assert.Len(t, ts, 3)
}

func TestSnapshotIsACopy(t *testing.T) {
	b := New(4)
	require.NoError(t, b.Append(sampleAt(1)))
	snap := b.Snapshot(metrics.CPU)
	snap[0] = 99
	assert.Equal(t, []float64{1}, b.Snapshot(metrics.CPU))
}

func TestRejectsOutOfOrder(t *testing.T) {
	b := New(4)
	require.NoError(t, b.Append(sampleAt(5)))
	require.NoError(t, b.Append(sampleAt(5)))
	assert.ErrorIs(t, b.Append(sampleAt(4)), ErrOutOfOrder)
	assert.Equal(t, 2, b.Len())
}

func TestDefaultCapacityAndEmpty(t *testing.T) {
	b := New(0)
	assert.Equal(t, MaxPoints, b.Cap())
	_, ok := b.Latest()
	assert.False(t, ok)
	assert.Empty(t, b.Snapshot(metrics.Disk))
}

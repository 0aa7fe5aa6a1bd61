package anomaly

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"host-sentinel/internal/metrics"
)

func columns(rows [][]float64) (cpu, memory, disk []float64) {
	for _, r := range rows {
		cpu = append(cpu, r[0])
		memory = append(memory, r[1])
		disk = append(disk, r[2])
	}
	return cpu, memory, disk
}

func TestTrainNeedsFiftyRows(t *testing.T) {
	d := NewDetector(Options{}, zerolog.Nop())
	cpu, memory, disk := columns(clusterRows(49))

	assert.False(t, d.ShouldTrain(49))
	err := d.Train(context.Background(), cpu, memory, disk)
	assert.ErrorIs(t, err, ErrInsufficientData)
	assert.False(t, d.State().IsTrained)

	_, err = d.Score(metrics.Sample{CPU: 20, Memory: 40, Disk: 50})
	assert.ErrorIs(t, err, ErrNotTrained)
}

func TestTrainWithFiftyRows(t *testing.T) {
	d := NewDetector(Options{}, zerolog.Nop())
	fixed := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return fixed }

	require.True(t, d.ShouldTrain(50))
	cpu, memory, disk := columns(clusterRows(50))
	require.NoError(t, d.Train(context.Background(), cpu, memory, disk))

	state := d.State()
	assert.True(t, state.IsTrained)
	assert.Equal(t, fixed, state.LastTrainedAt)
	assert.Zero(t, state.SamplesSeenSinceTraining)
}

func TestRetrainCadence(t *testing.T) {
	d := NewDetector(Options{}, zerolog.Nop())
	d.Observe()
	assert.Zero(t, d.State().SamplesSeenSinceTraining, "untrained detector does not count")

	cpu, memory, disk := columns(clusterRows(60))
	require.NoError(t, d.Train(context.Background(), cpu, memory, disk))

	for i := 0; i < RetrainInterval-1; i++ {
		d.Observe()
		assert.False(t, d.ShouldTrain(61+i))
	}
	d.Observe()
	assert.True(t, d.ShouldTrain(70))

	require.NoError(t, d.Train(context.Background(), cpu, memory, disk))
	assert.False(t, d.ShouldTrain(70))
	assert.Zero(t, d.State().SamplesSeenSinceTraining)
}

func TestCancelledTrainingKeepsPreviousModel(t *testing.T) {
	d := NewDetector(Options{}, zerolog.Nop())
	cpu, memory, disk := columns(clusterRows(80))
	require.NoError(t, d.Train(context.Background(), cpu, memory, disk))
	for i := 0; i < 4; i++ {
		d.Observe()
	}
	before := d.State()
	sample := metrics.Sample{CPU: 25, Memory: 41, Disk: 50}
	verdictBefore, err := d.Score(sample)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = d.Train(ctx, []float64{99, 98, 97}, []float64{1, 2, 3}, []float64{5, 6, 7})
	require.Error(t, err)

	err = d.Train(ctx, cpu, memory, disk)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, before, d.State())

	verdictAfter, err := d.Score(sample)
	require.NoError(t, err)
	assert.Equal(t, verdictBefore.Score, verdictAfter.Score)
}

func TestScoreFlagsSpike(t *testing.T) {
	d := NewDetector(Options{}, zerolog.Nop())
	cpu, memory, disk := columns(clusterRows(200))
	require.NoError(t, d.Train(context.Background(), cpu, memory, disk))

	at := time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC)
	v, err := d.Score(metrics.Sample{Timestamp: at, CPU: 95, Memory: 92, Disk: 97})
	require.NoError(t, err)
	assert.True(t, v.IsAnomaly)
	assert.Equal(t, 95.0, v.CPU)
	assert.Equal(t, at, v.DetectedAt)

	v, err = d.Score(metrics.Sample{CPU: 20, Memory: 40, Disk: 50})
	require.NoError(t, err)
	assert.False(t, v.IsAnomaly)
}

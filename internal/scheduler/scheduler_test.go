package scheduler

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntervalIsClampedToMinimum(t *testing.T) {
	s := New(Options{Interval: 100 * time.Millisecond}, zerolog.Nop())
	assert.Equal(t, MinInterval, s.Interval())

	assert.Equal(t, 2*time.Second, s.SetInterval(2*time.Second))
	assert.Equal(t, 2*time.Second, s.Interval())

	assert.Equal(t, MinInterval, s.SetInterval(0))
}

func TestNextDelayStaysWithinJitter(t *testing.T) {
	s := New(Options{
		Interval: time.Second,
		Jitter:   DefaultJitter,
		Rand:     rand.New(rand.NewSource(7)),
	}, zerolog.Nop())

	seenLow, seenHigh := false, false
	for i := 0; i < 500; i++ {
		d := s.NextDelay()
		require.GreaterOrEqual(t, d, 900*time.Millisecond)
		require.LessOrEqual(t, d, 1100*time.Millisecond)
		if d < time.Second {
			seenLow = true
		}
		if d > time.Second {
			seenHigh = true
		}
	}
	assert.True(t, seenLow)
	assert.True(t, seenHigh)
}

func TestNextDelayWithoutJitter(t *testing.T) {
	s := New(Options{Interval: 750 * time.Millisecond}, zerolog.Nop())
	assert.Equal(t, 750*time.Millisecond, s.NextDelay())
}

func TestRunSurvivesErrorsAndPanics(t *testing.T) {
	s := New(Options{Interval: MinInterval}, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var calls atomic.Int32
	err := s.Run(ctx, func(ctx context.Context, at time.Time) error {
		switch calls.Add(1) {
		case 1:
			return errors.New("boom")
		case 2:
			panic("kaboom")
		default:
			cancel()
			return nil
		}
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRunHonoursStartupDelayCancellation(t *testing.T) {
	s := New(Options{Interval: time.Second, StartupDelay: time.Hour}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.Run(ctx, func(context.Context, time.Time) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	// MinInterval is the shortest nominal interval accepted.
	MinInterval = 500 * time.Millisecond
	// DefaultJitter is the maximum deviation added to each delay.
	DefaultJitter = 100 * time.Millisecond
	// MinDelay floors the jittered delay.
	MinDelay = 100 * time.Millisecond
)

// TickFunc is invoked once per interval with the wake-up time.
type TickFunc func(ctx context.Context, at time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	Jitter       time.Duration
	StartupDelay time.Duration
	// Rand overrides the jitter source; nil seeds from the clock.
	Rand *rand.Rand
}

// Scheduler drives jittered execution of pipeline ticks.
type Scheduler struct {
	opts     Options
	interval atomic.Int64

	randMu sync.Mutex
	rng    *rand.Rand

	logger zerolog.Logger
}

// New constructs a Scheduler. Intervals below MinInterval are raised to it.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Jitter < 0 {
		opts.Jitter = 0
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	s := &Scheduler{
		opts:   opts,
		rng:    rng,
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
	s.interval.Store(int64(clampInterval(opts.Interval)))
	return s
}

func clampInterval(d time.Duration) time.Duration {
	if d < MinInterval {
		return MinInterval
	}
	return d
}

// Interval returns the current nominal interval.
func (s *Scheduler) Interval() time.Duration {
	return time.Duration(s.interval.Load())
}

// SetInterval changes the nominal interval, effective from the next wait.
// It returns the interval actually applied.
func (s *Scheduler) SetInterval(d time.Duration) time.Duration {
	applied := clampInterval(d)
	prev := time.Duration(s.interval.Swap(int64(applied)))
	if prev != applied {
		s.logger.Info().Dur("from", prev).Dur("to", applied).Msg("tick interval changed")
	}
	return applied
}

// NextDelay returns the nominal interval with uniform jitter applied.
func (s *Scheduler) NextDelay() time.Duration {
	delay := s.Interval()
	if j := s.opts.Jitter; j > 0 {
		s.randMu.Lock()
		offset := time.Duration(s.rng.Int63n(int64(2*j)+1)) - j
		s.randMu.Unlock()
		delay += offset
	}
	if delay < MinDelay {
		delay = MinDelay
	}
	return delay
}

// Run blocks, invoking tick after each delay until ctx is cancelled. A failing
// or panicking tick is logged and never stops the loop.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := sleep(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	for {
		at := time.Now()
		if err := s.safeTick(ctx, tick, at); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error().Err(err).Time("at", at).Msg("tick execution failed")
		}

		delay := s.NextDelay()
		s.logger.Debug().Dur("delay", delay).Msg("waiting for next tick")
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (s *Scheduler) safeTick(ctx context.Context, tick TickFunc, at time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("stack", string(debug.Stack())).Msg("tick panicked")
			err = fmt.Errorf("tick panic: %v", r)
		}
	}()
	return tick(ctx, at)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"host-sentinel/internal/anomaly"
	"host-sentinel/internal/forecast"
	"host-sentinel/internal/metrics"
)

type modelJob struct {
	latest            metrics.Sample
	train             bool
	cpu, memory, disk []float64
}

type modelResult struct {
	at             time.Time
	attemptedTrain bool
	trainErr       error
	verdict        *anomaly.Verdict
	forecasts      map[metrics.Metric]forecast.Result
}

func (o *Orchestrator) worker(ctx context.Context) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-o.jobs:
			res := o.runJob(ctx, job)
			select {
			case o.results <- res:
			case <-ctx.Done():
				return
			}
		}
	}
}

// runJob trains when asked, then scores and forecasts the latest sample.
func (o *Orchestrator) runJob(ctx context.Context, job modelJob) (res modelResult) {
	res = modelResult{at: job.latest.Timestamp, attemptedTrain: job.train}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().Str("stack", string(debug.Stack())).Msg("model job panicked")
			res.trainErr = errors.Join(res.trainErr, fmt.Errorf("%w: model job panic: %v", anomaly.ErrFitFailure, r))
		}
	}()

	if job.train {
		fitCtx := ctx
		if o.opts.FitTimeout > 0 {
			var cancel context.CancelFunc
			fitCtx, cancel = context.WithTimeout(ctx, o.opts.FitTimeout)
			defer cancel()
		}
		res.trainErr = o.deps.Detector.Train(fitCtx, job.cpu, job.memory, job.disk)
	}

	if verdict, err := o.deps.Detector.Score(job.latest); err == nil {
		res.verdict = &verdict
	} else if !errors.Is(err, anomaly.ErrNotTrained) {
		o.logger.Error().Err(err).Msg("anomaly scoring failed")
	}

	res.forecasts = make(map[metrics.Metric]forecast.Result, 3)
	for m, series := range map[metrics.Metric][]float64{
		metrics.CPU:    job.cpu,
		metrics.Memory: job.memory,
		metrics.Disk:   job.disk,
	} {
		f := o.deps.Forecaster.Forecast(m, series, job.latest.Timestamp)
		if f.Status == forecast.StatusDegraded {
			o.logger.Debug().Str("metric", m.String()).Str("reason", f.Reason).Msg("forecast degraded")
		}
		res.forecasts[m] = f
	}
	return res
}

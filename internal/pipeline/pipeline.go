package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"host-sentinel/internal/alerting"
	"host-sentinel/internal/anomaly"
	"host-sentinel/internal/forecast"
	"host-sentinel/internal/history"
	"host-sentinel/internal/metrics"
	"host-sentinel/internal/sampler"
	"host-sentinel/internal/scheduler"
	"host-sentinel/internal/smoother"
)

// DefaultRecentAnomalies caps the recent-anomalies list.
const DefaultRecentAnomalies = 20

// ErrTickFailure wraps any error that aborted a tick.
var ErrTickFailure = errors.New("tick failure")

// Recorder receives alert events and anomalous verdicts for persistence.
// Implementations must not block the caller.
type Recorder interface {
	RecordEvent(event alerting.Event)
	RecordVerdict(verdict anomaly.Verdict)
}

// Options tune the orchestrator.
type Options struct {
	// Nominal fills a metric that was never readable.
	Nominal metrics.Sample
	// Async runs model work on a background worker.
	Async           bool
	FitTimeout      time.Duration
	NotifyTimeout   time.Duration
	RecentAnomalies int
}

// Deps are the collaborating components. Source, Smoother, History,
// Evaluator, Forecaster and Detector are required.
type Deps struct {
	Source     sampler.Source
	Smoother   *smoother.EMA
	History    *history.Buffer
	Evaluator  *alerting.Evaluator
	Notifier   alerting.Notifier
	Forecaster *forecast.Engine
	Detector   *anomaly.Detector
	Recorder   Recorder
}

// Orchestrator runs the per-tick pipeline and publishes its state.
type Orchestrator struct {
	opts Options
	deps Deps

	// tick goroutine only
	lastRaw      metrics.Sample
	known        map[metrics.Metric]bool
	stages       stageTracker
	trainPending bool

	mu        sync.RWMutex
	stage     Stage
	forecasts map[metrics.Metric]forecast.Result
	verdict   *anomaly.Verdict
	recent    []anomaly.Verdict
	ticks     int

	schedMu sync.Mutex
	sched   *scheduler.Scheduler

	jobs    chan modelJob
	results chan modelResult
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closed  sync.Once

	logger zerolog.Logger
}

// New wires the orchestrator. In async mode the model worker starts
// immediately and runs until Close.
func New(opts Options, deps Deps, logger zerolog.Logger) (*Orchestrator, error) {
	switch {
	case deps.Source == nil:
		return nil, errors.New("pipeline: sample source is required")
	case deps.Smoother == nil, deps.History == nil, deps.Evaluator == nil:
		return nil, errors.New("pipeline: smoother, history and evaluator are required")
	case deps.Forecaster == nil, deps.Detector == nil:
		return nil, errors.New("pipeline: forecaster and detector are required")
	}
	if opts.RecentAnomalies <= 0 {
		opts.RecentAnomalies = DefaultRecentAnomalies
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = 15 * time.Second
	}

	o := &Orchestrator{
		opts:      opts,
		deps:      deps,
		known:     make(map[metrics.Metric]bool, 3),
		stage:     StageInit,
		forecasts: make(map[metrics.Metric]forecast.Result, 3),
		logger:    logger.With().Str("component", "pipeline").Logger(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	if opts.Async {
		o.jobs = make(chan modelJob, 1)
		o.results = make(chan modelResult, 1)
		o.wg.Add(1)
		go o.worker(ctx)
	}
	return o, nil
}

// Run drives Tick from sched until ctx is cancelled, then closes the orchestrator.
func (o *Orchestrator) Run(ctx context.Context, sched *scheduler.Scheduler) error {
	o.schedMu.Lock()
	o.sched = sched
	o.schedMu.Unlock()
	defer o.Close()

	// Stages count from here so a startup delay is part of the warm-up.
	o.stages.start(time.Now())
	o.logger.Info().Dur("interval", sched.Interval()).Bool("async_models", o.opts.Async).Msg("pipeline started")
	err := sched.Run(ctx, o.Tick)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close stops the model worker, cancelling any in-flight fit, and waits for
// pending notifications.
func (o *Orchestrator) Close() {
	o.closed.Do(func() {
		o.cancel()
		o.wg.Wait()
		o.logger.Info().Msg("pipeline stopped")
	})
}

// SetInterval changes the tick interval of the running scheduler and the
// forecast label spacing. It returns the interval actually applied.
func (o *Orchestrator) SetInterval(d time.Duration) time.Duration {
	o.schedMu.Lock()
	sched := o.sched
	o.schedMu.Unlock()

	applied := d
	if sched != nil {
		applied = sched.SetInterval(d)
	} else if applied < scheduler.MinInterval {
		applied = scheduler.MinInterval
	}
	o.deps.Forecaster.SetInterval(applied)
	return applied
}

// Tick runs one sampling cycle. Unavailable metrics are substituted and do
// not fail the tick.
func (o *Orchestrator) Tick(ctx context.Context, at time.Time) error {
	o.drainResults()

	raw, err := o.deps.Source.Sample(ctx)
	if err != nil {
		missing := sampler.UnavailableMetrics(err)
		if len(missing) == 0 {
			return fmt.Errorf("%w: sample: %w", ErrTickFailure, err)
		}
		raw = o.substitute(raw, missing, err)
	}
	o.remember(raw, err)

	smoothed := o.deps.Smoother.Smooth(raw)
	if err := o.deps.History.Append(smoothed); err != nil {
		return fmt.Errorf("%w: history: %w", ErrTickFailure, err)
	}

	outcome := o.deps.Evaluator.Evaluate(smoothed)
	for _, event := range outcome.Events {
		o.record(event)
	}
	if outcome.Interrupt != nil {
		o.notify(ctx, *outcome.Interrupt)
	}

	stage := o.stages.update(at)
	o.mu.Lock()
	if o.stage != stage {
		o.logger.Info().Str("from", string(o.stage)).Str("to", string(stage)).Msg("stage changed")
	}
	o.stage = stage
	o.ticks++
	o.mu.Unlock()

	o.scheduleModels(ctx, smoothed)
	return nil
}

func (o *Orchestrator) substitute(raw metrics.Sample, missing []metrics.Metric, cause error) metrics.Sample {
	for _, m := range missing {
		placeholder := o.opts.Nominal.Value(m)
		source := "nominal"
		if o.known[m] {
			placeholder = o.lastRaw.Value(m)
			source = "last_known"
		}
		raw = raw.WithValue(m, placeholder)
		o.logger.Warn().Err(cause).Str("metric", m.String()).Str("placeholder", source).Float64("value", placeholder).Msg("metric unavailable")
	}
	return raw
}

func (o *Orchestrator) remember(raw metrics.Sample, err error) {
	missing := make(map[metrics.Metric]bool)
	for _, m := range sampler.UnavailableMetrics(err) {
		missing[m] = true
	}
	for _, m := range metrics.All() {
		if !missing[m] {
			o.known[m] = true
		}
	}
	o.lastRaw = raw
}

func (o *Orchestrator) record(event alerting.Event) {
	if o.deps.Recorder != nil {
		o.deps.Recorder.RecordEvent(event)
	}
}

func (o *Orchestrator) notify(ctx context.Context, note alerting.Notification) {
	if o.deps.Notifier == nil {
		return
	}
	if !o.opts.Async {
		if err := o.deps.Notifier.Notify(ctx, note); err != nil {
			o.logger.Error().Err(err).Msg("failed to dispatch alert")
		}
		return
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.NotifyTimeout)
		defer cancel()
		if err := o.deps.Notifier.Notify(nctx, note); err != nil {
			o.logger.Error().Err(err).Msg("failed to dispatch alert")
		}
	}()
}

func (o *Orchestrator) scheduleModels(ctx context.Context, latest metrics.Sample) {
	detector := o.deps.Detector
	detector.Observe()

	n := o.deps.History.Len()
	job := modelJob{
		latest: latest,
		train:  !o.trainPending && detector.ShouldTrain(n),
		cpu:    o.deps.History.Snapshot(metrics.CPU),
		memory: o.deps.History.Snapshot(metrics.Memory),
		disk:   o.deps.History.Snapshot(metrics.Disk),
	}

	if !o.opts.Async {
		o.apply(o.runJob(ctx, job))
		return
	}

	select {
	case o.jobs <- job:
		if job.train {
			o.trainPending = true
		}
	default:
		o.logger.Debug().Msg("model worker busy, skipping model update")
	}
}

func (o *Orchestrator) drainResults() {
	if o.results == nil {
		return
	}
	for {
		select {
		case res := <-o.results:
			o.apply(res)
		default:
			return
		}
	}
}

func (o *Orchestrator) apply(res modelResult) {
	if res.attemptedTrain {
		o.trainPending = false
	}
	switch {
	case res.trainErr == nil:
	case errors.Is(res.trainErr, context.Canceled):
		o.logger.Info().Msg("model training cancelled")
	default:
		o.logger.Error().Err(res.trainErr).Msg("model training failed")
	}

	o.mu.Lock()
	for m, f := range res.forecasts {
		o.forecasts[m] = f
	}
	if res.verdict != nil {
		v := *res.verdict
		o.verdict = &v
		if v.IsAnomaly {
			o.recent = append(o.recent, v)
			if extra := len(o.recent) - o.opts.RecentAnomalies; extra > 0 {
				o.recent = append([]anomaly.Verdict(nil), o.recent[extra:]...)
			}
		}
	}
	o.mu.Unlock()

	if res.verdict != nil && res.verdict.IsAnomaly {
		v := *res.verdict
		event := alerting.Event{
			Timestamp: res.at,
			Kind:      alerting.KindAnomaly,
			Value:     v.Score,
			Message: fmt.Sprintf("[%s] ANOMALY: unusual resource pattern (CPU %.1f%%, Memory %.1f%%, Disk %.1f%%, score %.3f)",
				res.at.Format("15:04:05"), v.CPU, v.Memory, v.Disk, v.Score),
		}
		o.deps.Evaluator.Record(event)
		o.record(event)
		if o.deps.Recorder != nil {
			o.deps.Recorder.RecordVerdict(v)
		}
		o.logger.Warn().Float64("score", v.Score).Float64("cpu", v.CPU).Float64("memory", v.Memory).Float64("disk", v.Disk).Msg("anomaly detected")
	}
}

// SetThresholds validates and applies new alert thresholds.
func (o *Orchestrator) SetThresholds(t alerting.Thresholds) error {
	return o.deps.Evaluator.SetThresholds(t)
}

// Thresholds returns the active alert thresholds.
func (o *Orchestrator) Thresholds() alerting.Thresholds {
	return o.deps.Evaluator.Thresholds()
}

// LatestSample returns the newest smoothed sample.
func (o *Orchestrator) LatestSample() (metrics.Sample, bool) {
	return o.deps.History.Latest()
}

// History returns the buffered smoothed series for m, oldest first.
func (o *Orchestrator) History(m metrics.Metric) []float64 {
	return o.deps.History.Snapshot(m)
}

// Timestamps returns the timestamps aligned with History.
func (o *Orchestrator) Timestamps() []time.Time {
	return o.deps.History.Timestamps()
}

// AlertEvents returns the capped alert log, oldest first.
func (o *Orchestrator) AlertEvents() []alerting.Event {
	return o.deps.Evaluator.Events()
}

// Forecast returns the latest projection for m.
func (o *Orchestrator) Forecast(m metrics.Metric) forecast.Result {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if f, ok := o.forecasts[m]; ok {
		return f
	}
	return forecast.InsufficientData(m, time.Time{})
}

// AnomalyVerdict returns the latest verdict; false until the model has scored a sample.
func (o *Orchestrator) AnomalyVerdict() (anomaly.Verdict, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.verdict == nil {
		return anomaly.Verdict{}, false
	}
	return *o.verdict, true
}

// RecentAnomalies returns the most recent anomalous verdicts, oldest first.
func (o *Orchestrator) RecentAnomalies() []anomaly.Verdict {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]anomaly.Verdict(nil), o.recent...)
}

// Stage returns the current warm-up stage.
func (o *Orchestrator) Stage() Stage {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.stage
}

// ModelState returns the anomaly detector's readiness.
func (o *Orchestrator) ModelState() anomaly.ModelState {
	return o.deps.Detector.State()
}

// Status aggregates everything observers consume in one snapshot.
type Status struct {
	Stage           Stage                              `json:"stage"`
	StageDetail     string                             `json:"stage_detail"`
	Ticks           int                                `json:"ticks"`
	Samples         int                                `json:"samples"`
	HistoryCapacity int                                `json:"history_capacity"`
	SmoothingAlpha  float64                            `json:"smoothing_alpha"`
	Latest          *metrics.Sample                    `json:"latest,omitempty"`
	Thresholds      alerting.Thresholds                `json:"thresholds"`
	Suppression     alerting.SuppressionState          `json:"suppression"`
	Model           anomaly.ModelState                 `json:"model"`
	Anomaly         *anomaly.Verdict                   `json:"anomaly,omitempty"`
	Forecasts       map[metrics.Metric]forecast.Result `json:"forecasts"`
	RecentAnomalies []anomaly.Verdict                  `json:"recent_anomalies"`
}

// Status returns an aggregate snapshot.
func (o *Orchestrator) Status() Status {
	st := Status{
		Samples:         o.deps.History.Len(),
		HistoryCapacity: o.deps.History.Cap(),
		SmoothingAlpha:  o.deps.Smoother.Alpha(),
		Thresholds:      o.deps.Evaluator.Thresholds(),
		Suppression:     o.deps.Evaluator.Suppression(),
		Model:           o.deps.Detector.State(),
		Forecasts:       make(map[metrics.Metric]forecast.Result, 3),
	}
	if latest, ok := o.deps.History.Latest(); ok {
		st.Latest = &latest
	}

	o.mu.RLock()
	st.Stage = o.stage
	st.Ticks = o.ticks
	for _, m := range metrics.All() {
		if f, ok := o.forecasts[m]; ok {
			st.Forecasts[m] = f
		} else {
			st.Forecasts[m] = forecast.InsufficientData(m, time.Time{})
		}
	}
	if o.verdict != nil {
		v := *o.verdict
		st.Anomaly = &v
	}
	st.RecentAnomalies = append([]anomaly.Verdict(nil), o.recent...)
	o.mu.RUnlock()

	st.StageDetail = st.Stage.Detail()
	return st
}
